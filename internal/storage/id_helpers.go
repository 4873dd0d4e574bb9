package storage

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

func randomBytes(n int) ([]byte, error) {
	bytes := make([]byte, n)
	if _, err := rand.Read(bytes); err != nil {
		return nil, err
	}
	return bytes, nil
}

func generateID() (string, error) {
	bytes, err := randomBytes(16)
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}
