package utils

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateID generates a unique ID with prefix.
func GenerateID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.NewString())
}

// GenerateConsultationID generates a unique consultation ID
func GenerateConsultationID() string {
	return GenerateID("consult")
}

// GenerateParticipantID generates a unique participant ID
func GenerateParticipantID() string {
	return GenerateID("participant")
}

// GenerateSessionID generates a unique session ID
func GenerateSessionID() string {
	return GenerateID("session")
}

// GenerateTrackID generates a unique media track ID
func GenerateTrackID() string {
	return GenerateID("track")
}

// GenerateRequestID generates a unique request ID
func GenerateRequestID() string {
	return GenerateID("req")
}
