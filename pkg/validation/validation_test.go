package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateParticipantID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"valid id", "participant-1", false},
		{"valid with underscore", "dr_house", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 101), true},
		{"invalid characters", "participant one", true},
		{"path traversal", "../etc/passwd", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateParticipantID(tt.id)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateConsultationID(t *testing.T) {
	assert.NoError(t, ValidateConsultationID("cons-2024-0042"))
	assert.Error(t, ValidateConsultationID(""))
	assert.Error(t, ValidateConsultationID("cons/0042"))
	assert.Error(t, ValidateConsultationID(strings.Repeat("c", 101)))
}

func TestValidateReason(t *testing.T) {
	assert.NoError(t, ValidateReason("follow-up on blood pressure medication"))
	assert.NoError(t, ValidateReason(""))
	assert.Error(t, ValidateReason(strings.Repeat("x", 501)))
	assert.Error(t, ValidateReason(string([]byte{0xff, 0xfe})))
}

func TestValidateDeviceID(t *testing.T) {
	assert.NoError(t, ValidateDeviceID("camera:front.0"))
	assert.Error(t, ValidateDeviceID(""))
	assert.Error(t, ValidateDeviceID("camera front"))
}

func TestValidateRelayURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"ws", "ws://localhost:8090/ws", false},
		{"wss", "wss://relay.example.com/ws", false},
		{"http scheme", "http://relay.example.com/ws", true},
		{"empty", "", true},
		{"no host", "ws://", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRelayURL(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateStringLength(t *testing.T) {
	assert.NoError(t, ValidateStringLength("hello", 1, 10, "name"))
	assert.Error(t, ValidateStringLength("", 1, 10, "name"))
	assert.Error(t, ValidateStringLength("hello world!", 1, 10, "name"))
}
