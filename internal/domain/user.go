// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strconv"
)

const MaxUsernameLen = 36

var ErrUsernameTooLong = errors.New("username too long")

// UserID is the externally assigned identity of a participant.
type UserID int64

func (id UserID) String() string { return strconv.FormatInt(int64(id), 10) }

type User struct {
	ID       UserID `json:"user_id"`
	Username string `json:"username,omitempty"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
// An empty username is allowed: clients are not required to announce one.
func NewUser(id UserID, username string) (*User, error) {
	u := &User{ID: id}
	if err := u.SetUsername(username); err != nil {
		return nil, err
	}
	return u, nil
}

func (u *User) SetUsername(username string) error {
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	u.Username = username
	return nil
}
