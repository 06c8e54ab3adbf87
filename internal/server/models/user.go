package models

import "time"

// User is read-only from the hierarchy's point of view. SessionSecret is the
// stored (encrypted) session blob that seeds the name keys; it must never be
// logged.
type User struct {
	ID            string
	UserName      string
	SessionSecret string
	CreatedAt     time.Time
}
