package util

import "github.com/google/uuid"

// GenerateID returns a random identifier used to tag relocation attempts.
func GenerateID() string {
	return uuid.New().String()
}
