package nats

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

const (
	SubjectPaymentValidated = "wallet.payment.validated"
	SubjectOfferValidated   = "wallet.offer.validated"
	SubjectTicketMinted     = "wallet.ticket.minted"
	SubjectTicketVerified   = "wallet.ticket.verified"
)

// Publisher sends wallet events as JSON. Without a connection every publish
// is a no-op.
type Publisher struct {
	nc     *nats.Conn
	logger *slog.Logger
}

func Connect(url string, logger *slog.Logger) (*Publisher, error) {
	if url == "" {
		logger.Info("NATS url is empty, event publishing disabled")
		return &Publisher{logger: logger}, nil
	}

	nc, err := nats.Connect(url, nats.Name("voice-wallet"))
	if err != nil {
		return nil, fmt.Errorf("nats: connect %s: %w", url, err)
	}

	logger.Info("Connected to NATS", slog.String("url", url))
	return &Publisher{nc: nc, logger: logger}, nil
}

func (p *Publisher) Publish(subject string, event any) error {
	if p.nc == nil {
		return nil
	}

	if !p.nc.IsConnected() {
		return nats.ErrConnectionClosed
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("nats: encode %s: %w", subject, err)
	}

	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("nats: publish %s: %w", subject, err)
	}

	p.logger.Debug("Published event", slog.String("subject", subject))
	return nil
}

func (p *Publisher) Close() {
	if p.nc == nil {
		return
	}
	if err := p.nc.Drain(); err != nil {
		p.logger.Warn("Failed to drain NATS connection", "error", err)
	}
}
