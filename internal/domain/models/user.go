package models

import "time"

type User struct {
	ID           int       `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Nickname     string    `json:"nickname"`
	Address      string    `json:"address,omitempty"`
	SealedSecret string    `json:"-"`
	BalanceDrops int64     `json:"balance_drops"`
	CreatedAt    time.Time `json:"created_at"`
}

// HasAccount reports whether a ledger account was created for the user.
func (u *User) HasAccount() bool {
	return u.Address != ""
}
