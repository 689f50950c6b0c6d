package app

import (
	"crypto/rand"

	"github.com/google/uuid"
)

// generateID produces a session/merchant identifier.
// Isolated here so the ID strategy can evolve independently.
func generateID() string {
	return uuid.NewString()
}

// generateAPIKey produces a random hex credential for a merchant.
func generateAPIKey() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	const hex = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hex[v>>4]
		out[i*2+1] = hex[v&0x0f]
	}
	return "pk_" + string(out), nil
}
