// Package util provides utility functions shared across SmileFlow components.
package util

import (
	"math/rand"
	"strings"
)

// GenerateRandomID generates a random ID with the specified prefix and hex length.
// The returned ID will be in the format: "{prefix}{hex_string}".
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random hexadecimal string of the specified length.
// Uses math/rand/v2; IDs are identifiers, not secrets.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.Intn(16)])
	}

	return builder.String()
}

// GenerateConversationID generates a unique conversation ID with "conv_" prefix.
func GenerateConversationID() string {
	return GenerateRandomID("conv_", 32)
}

// GenerateMessageID generates a unique message log ID with "msg_" prefix.
func GenerateMessageID() string {
	return GenerateRandomID("msg_", 32)
}

// GeneratePatientID generates a unique patient ID with "pat_" prefix.
func GeneratePatientID() string {
	return GenerateRandomID("pat_", 32)
}

// GenerateSimulationID generates a unique simulation ID with "sim_" prefix.
func GenerateSimulationID() string {
	return GenerateRandomID("sim_", 32)
}

// GenerateBudgetID generates a unique budget ID with "bud_" prefix.
func GenerateBudgetID() string {
	return GenerateRandomID("bud_", 32)
}

// GenerateRunID generates a request correlation ID with "run_" prefix.
func GenerateRunID() string {
	return GenerateRandomID("run_", 16)
}
