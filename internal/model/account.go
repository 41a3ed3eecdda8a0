package model

import "time"

// Account represents a registered user as stored under the users:<email>
// and users_by_id:<id> keys.  Accounts are immutable after registration.
//
// Fields:
//  ID           – opaque unique identifier (UUID) used as the token subject.
//  Email        – unique, case-sensitive login name.
//  PasswordHash – bcrypt digest produced by utils.PasswordHasher.
//  CreatedAt    – registration timestamp (UTC).
type Account struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Validate reports whether a decoded account record is structurally sound.
func (a Account) Validate() error {
	switch {
	case a.ID == "":
		return errField("account", "id")
	case a.Email == "":
		return errField("account", "email")
	case a.PasswordHash == "":
		return errField("account", "passwordHash")
	}
	return nil
}
