package models

import "time"

type TicketStatus string

const (
	TicketActive TicketStatus = "active"
	TicketUsed   TicketStatus = "used"
)

type Ticket struct {
	ID          string       `json:"id"`
	UserID      int          `json:"-"`
	EventSymbol string       `json:"event_symbol"`
	Owner       string       `json:"owner"`
	Status      TicketStatus `json:"status"`
	MintedAt    time.Time    `json:"minted_at"`
	UsedAt      *time.Time   `json:"used_at,omitempty"`
	// QR is the signed payload a scanner hands back to verify.
	QR string `json:"qr,omitempty"`
}
