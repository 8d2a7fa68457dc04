package models

import (
	"time"
)

type User struct {
	ID           string
	Email        string
	PasswordHash string // empty for SSO-only users
	Name         string
	MFAEnabled   bool
	Status       string // "active", "suspended", "disabled"
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ClientContext carries the request attributes that identify where an
// authentication attempt or session activity originated.
type ClientContext struct {
	IPAddress      string
	UserAgent      string
	AcceptHeaders  string
	AcceptLanguage string
}
