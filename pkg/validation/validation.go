package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// IDRegex constrains participant and consultation ids to URL- and
	// envelope-safe characters.
	IDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// DeviceIDRegex matches platform capture device identifiers.
	DeviceIDRegex = regexp.MustCompile(`^[a-zA-Z0-9:._-]+$`)
)

func ValidateParticipantID(id string) error {
	if id == "" {
		return fmt.Errorf("participant ID is required")
	}
	if len(id) > 100 {
		return fmt.Errorf("participant ID is too long (max 100 characters)")
	}
	if !IDRegex.MatchString(id) {
		return fmt.Errorf("invalid participant ID format")
	}
	return nil
}

func ValidateConsultationID(id string) error {
	if id == "" {
		return fmt.Errorf("consultation ID is required")
	}
	if len(id) > 100 {
		return fmt.Errorf("consultation ID is too long (max 100 characters)")
	}
	if !IDRegex.MatchString(id) {
		return fmt.Errorf("invalid consultation ID format")
	}
	return nil
}

// ValidateReason checks the free-text consultation reason.
func ValidateReason(reason string) error {
	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) > 500 {
		return fmt.Errorf("reason is too long (max 500 characters)")
	}
	if !utf8.ValidString(reason) {
		return fmt.Errorf("reason contains invalid characters")
	}
	return nil
}

func ValidateDeviceID(deviceID string) error {
	if deviceID == "" {
		return fmt.Errorf("device ID is required")
	}
	if len(deviceID) > 200 {
		return fmt.Errorf("device ID is too long (max 200 characters)")
	}
	if !DeviceIDRegex.MatchString(deviceID) {
		return fmt.Errorf("invalid device ID format")
	}
	return nil
}

// ValidateRelayURL checks a signaling relay endpoint.
func ValidateRelayURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("relay URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid relay URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid relay URL scheme (must be ws or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("relay URL must have a host")
	}
	return nil
}

// ValidateNonEmptyString validates that a string is not empty after trimming.
func ValidateNonEmptyString(s, fieldName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateStringLength validates string length in runes.
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
