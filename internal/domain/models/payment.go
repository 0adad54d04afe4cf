package models

import "time"

type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
	DirectionOther    Direction = "other"
)

// Payment is a ledger transaction as shown in a user's history.
type Payment struct {
	Hash         string    `json:"hash"`
	UserID       int       `json:"-"`
	Type         string    `json:"type"`
	Counterparty string    `json:"counterparty"`
	AmountDrops  int64     `json:"amount_drops"`
	Direction    Direction `json:"direction"`
	Validated    bool      `json:"validated"`
	Result       string    `json:"result,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
