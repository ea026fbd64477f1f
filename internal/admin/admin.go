// Package admin seeds the development administrator account.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

type Repository interface {
	AdminExists(ctx context.Context) (bool, error)
	CreateAdmin(ctx context.Context, email string, passwordHash []byte) (int64, error)
}

type Params struct {
	// Development must be set for anything to be created.
	Development bool
	Email       string
	Password    string

	Logf func(format string, args ...any)
}

// Result says what Bootstrap did.
type Result int

const (
	Created Result = iota
	SkippedNotDevelopment
	SkippedExists
)

func (r Result) String() string {
	switch r {
	case Created:
		return "created"
	case SkippedNotDevelopment:
		return "skipped (not development)"
	case SkippedExists:
		return "skipped (admin exists)"
	}
	return fmt.Sprintf("Result(%d)", int(r))
}

// Bootstrap creates the default admin in development when no admin exists yet.
// Every other environment, production or not, is left alone.
func Bootstrap(ctx context.Context, repo Repository, p Params) (Result, error) {
	logf := p.Logf
	if logf == nil {
		logf = log.Printf
	}
	if !p.Development {
		return SkippedNotDevelopment, nil
	}

	exists, err := repo.AdminExists(ctx)
	if err != nil {
		return 0, err
	}
	if exists {
		logf("admin: admin user already exists, skipping admin user creation")
		return SkippedExists, nil
	}

	email := strings.ToLower(strings.TrimSpace(p.Email))
	if email == "" || p.Password == "" {
		return 0, errors.New("admin: email and password are required")
	}
	hash, err := HashPassword(p.Password)
	if err != nil {
		return 0, fmt.Errorf("admin: hash password: %w", err)
	}
	if _, err := repo.CreateAdmin(ctx, email, hash); err != nil {
		return 0, err
	}
	logf("admin: created admin user %s", email)
	return Created, nil
}

func HashPassword(pw string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
}

func CheckPassword(hash []byte, pw string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(pw)) == nil
}
