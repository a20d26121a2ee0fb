package pkg

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/google/uuid"
)

// GenerateGameID - generates a unique identifier for a game session.
func GenerateGameID() string {
	return uuid.NewString()
}

// GenerateConnID - generates an identifier for a live connection.
func GenerateConnID() string {
	return uuid.NewString()
}

// GeneratePlayerToken - generates the secret a player presents to reclaim a reserved seat.
func GeneratePlayerToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return uuid.NewString()
	}

	return base64.RawURLEncoding.EncodeToString(b)
}
