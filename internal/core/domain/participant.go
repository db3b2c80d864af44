package domain

import "time"

type ParticipantID string

type Role string

const (
	RolePatient  Role = "patient"
	RoleProvider Role = "provider"
	RoleObserver Role = "observer"
)

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleProvider, RoleObserver:
		return true
	}
	return false
}

type Permissions struct {
	CanRecord      bool
	CanScreenShare bool
	CanInvite      bool
}

// PermissionsForRole derives the permission set from the participant role.
// Roles come from the identity provider and are never re-derived from payloads.
func PermissionsForRole(role Role) Permissions {
	switch role {
	case RoleProvider:
		return Permissions{CanRecord: true, CanScreenShare: true, CanInvite: true}
	case RolePatient:
		return Permissions{CanScreenShare: true}
	default:
		return Permissions{}
	}
}

type MediaState struct {
	Video       bool
	Audio       bool
	ScreenShare bool
}

type Participant struct {
	ID          ParticipantID
	Role        Role
	Permissions Permissions
	MediaState  MediaState
	LinkState   LinkState
	JoinedAt    time.Time
}

func NewParticipant(id ParticipantID, role Role) *Participant {
	return &Participant{
		ID:          id,
		Role:        role,
		Permissions: PermissionsForRole(role),
		MediaState:  MediaState{Video: true, Audio: true},
		LinkState:   LinkStateNew,
		JoinedAt:    time.Now(),
	}
}
