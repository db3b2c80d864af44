package domain

import "errors"

var (
	// Media acquisition errors, recoverable by corrective user action.
	ErrPermissionDenied         = errors.New("media permission denied")
	ErrDeviceNotFound           = errors.New("capture device not found")
	ErrDeviceBusy               = errors.New("capture device busy")
	ErrConstraintsUnsatisfiable = errors.New("media constraints unsatisfiable")

	// Negotiation protocol errors.
	ErrOfferInFlight        = errors.New("offer already in flight")
	ErrNoRemoteDescription  = errors.New("no remote description applied")
	ErrInvalidTransition    = errors.New("invalid link state transition")
	ErrMalformedDescription = errors.New("malformed session description")
	ErrLinkClosed           = errors.New("peer link closed")
	ErrLinkFailed           = errors.New("peer link failed")

	ErrChannelNotOpen = errors.New("data channel not open")

	ErrDuplicateLink        = errors.New("peer link already exists for participant")
	ErrLinkNotFound         = errors.New("peer link not found")
	ErrParticipantNotFound  = errors.New("participant not found")
	ErrSessionEnded         = errors.New("session already ended")
	ErrSessionNotJoined     = errors.New("session not joined")
	ErrNotAuthorized        = errors.New("not authorized")
	ErrRecordingActive      = errors.New("recording already active")
	ErrRecordingNotActive   = errors.New("recording not active")
	ErrBridgeDisconnected   = errors.New("signaling bridge disconnected")
	ErrInvalidEnvelope      = errors.New("invalid signaling envelope")
	ErrReplaceUnsupported   = errors.New("in-place track replacement unsupported")
	ErrConsultationNotFound = errors.New("consultation not found")
)
