// Package token generates confirmation tokens embedded in invitation links.
package token

import (
	"fmt"

	"github.com/google/uuid"
)

type Generator interface {
	New() (string, error)
}

// UUID issues random (version 4) UUIDs. 122 bits of entropy from crypto/rand,
// so tokens are unguessable and collisions are not a practical concern.
type UUID struct{}

func (UUID) New() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return id.String(), nil
}

// Func adapts a plain function, mostly for tests.
type Func func() (string, error)

func (f Func) New() (string, error) { return f() }
