package wallet

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"

	"github.com/IlyasAtabaev731/voice-wallet/internal/domain/models"
	"github.com/IlyasAtabaev731/voice-wallet/internal/lib/jwt"
	"github.com/IlyasAtabaev731/voice-wallet/internal/messaging/nats"
	"github.com/IlyasAtabaev731/voice-wallet/internal/storage"
	"github.com/google/uuid"
)

var eventSymbolRe = regexp.MustCompile(`^[A-Z0-9]{3,12}$`)

type TicketEvent struct {
	TicketID    string `json:"ticket_id"`
	EventSymbol string `json:"event_symbol"`
	Owner       string `json:"owner"`
	Status      string `json:"status"`
}

// MintTicket issues a ticket for eventSymbol owned by the user's ledger
// address. An empty symbol reuses the last one the user minted for.
func (s *Service) MintTicket(ctx context.Context, username, eventSymbol string) (*models.Ticket, error) {
	const op = "wallet.MintTicket"

	user, err := s.accountUser(ctx, username)
	if err != nil {
		return nil, err
	}

	symbol := strings.ToUpper(strings.TrimSpace(eventSymbol))
	if symbol == "" {
		symbol, err = s.LastEventSymbol(ctx, username)
		if err != nil {
			return nil, err
		}
	}
	if !eventSymbolRe.MatchString(symbol) {
		return nil, ErrInvalidEvent
	}

	ticket := &models.Ticket{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		EventSymbol: symbol,
		Owner:       user.Address,
		Status:      models.TicketActive,
		MintedAt:    s.now().UTC(),
	}

	ticket.QR, err = jwt.NewTicketToken(ticket, s.ticketSecret)
	if err != nil {
		return nil, wrapOp(op, err)
	}

	if err := s.storage.SaveTicket(ctx, ticket); err != nil {
		return nil, wrapOp(op, err)
	}

	if err := s.storage.SetEventSymbol(ctx, user.ID, symbol); err != nil {
		s.log.Warn("Failed to remember event symbol", slog.Int("user_id", user.ID), "error", err)
	}

	s.log.Info("Ticket minted",
		slog.String("ticket_id", ticket.ID),
		slog.String("event", symbol),
		slog.String("owner", ticket.Owner),
	)
	s.publish(nats.SubjectTicketMinted, ticketEvent(ticket))

	return ticket, nil
}

func (s *Service) Tickets(ctx context.Context, username string) ([]models.Ticket, error) {
	const op = "wallet.Tickets"

	user, err := s.User(ctx, username)
	if err != nil {
		return nil, err
	}

	tickets, err := s.storage.ListTickets(ctx, user.ID)
	if err != nil {
		return nil, wrapOp(op, err)
	}

	for i := range tickets {
		if tickets[i].Status != models.TicketActive {
			continue
		}
		if tickets[i].QR, err = jwt.NewTicketToken(&tickets[i], s.ticketSecret); err != nil {
			return nil, wrapOp(op, err)
		}
	}

	return tickets, nil
}

// VerifyTicket redeems the ticket behind a QR payload. The payload must be
// signed by this service and name the ticket's owner; when owner is not
// empty it must match as well. A ticket can be redeemed once.
func (s *Service) VerifyTicket(ctx context.Context, qr, owner string) (*models.Ticket, error) {
	const op = "wallet.VerifyTicket"

	claims, err := jwt.ParseTicketToken(strings.TrimSpace(qr), s.ticketSecret)
	if err != nil {
		return nil, ErrInvalidTicket
	}

	ticket, err := s.storage.GetTicket(ctx, claims.TicketID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrTicketNotFound
		}
		return nil, wrapOp(op, err)
	}

	if ticket.Owner != claims.Owner || ticket.EventSymbol != claims.EventSymbol {
		return nil, ErrInvalidTicket
	}
	if owner != "" && owner != ticket.Owner {
		return nil, ErrInvalidTicket
	}
	if ticket.Status == models.TicketUsed {
		return nil, ErrTicketUsed
	}

	usedAt := s.now().UTC()
	if err := s.storage.MarkTicketUsed(ctx, ticket.ID, usedAt); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, ErrTicketUsed
		}
		return nil, wrapOp(op, err)
	}

	ticket.Status = models.TicketUsed
	ticket.UsedAt = &usedAt

	s.log.Info("Ticket verified", slog.String("ticket_id", ticket.ID))
	s.publish(nats.SubjectTicketVerified, ticketEvent(ticket))

	return ticket, nil
}

// LastEventSymbol returns the event symbol the user last minted a ticket for.
func (s *Service) LastEventSymbol(ctx context.Context, username string) (string, error) {
	user, err := s.User(ctx, username)
	if err != nil {
		return "", err
	}

	symbol, err := s.storage.GetEventSymbol(ctx, user.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", ErrNoEventSymbol
		}
		return "", wrapOp("wallet.LastEventSymbol", err)
	}
	return symbol, nil
}

func ticketEvent(t *models.Ticket) TicketEvent {
	return TicketEvent{
		TicketID:    t.ID,
		EventSymbol: t.EventSymbol,
		Owner:       t.Owner,
		Status:      string(t.Status),
	}
}
