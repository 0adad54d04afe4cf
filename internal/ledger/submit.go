package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// lastLedgerOffset bounds how many ledgers a submitted transaction may wait
// before it can no longer be included.
const lastLedgerOffset = 20

// Transaction is a transaction the wallet can sign and submit.
type Transaction interface {
	Type() string
	fields() map[string]any
}

type Payment struct {
	Account        string
	Destination    string
	Amount         Amount
	DestinationTag *uint32
}

func (p Payment) Type() string { return "Payment" }

func (p Payment) fields() map[string]any {
	f := map[string]any{
		"TransactionType": "Payment",
		"Account":         p.Account,
		"Destination":     p.Destination,
		"Amount":          p.Amount,
	}
	if p.DestinationTag != nil {
		f["DestinationTag"] = *p.DestinationTag
	}
	return f
}

// OfferCreate places an order on the decentralized exchange: the account
// gives TakerGets in return for TakerPays.
type OfferCreate struct {
	Account   string
	TakerGets Amount
	TakerPays Amount
}

func (o OfferCreate) Type() string { return "OfferCreate" }

func (o OfferCreate) fields() map[string]any {
	return map[string]any{
		"TransactionType": "OfferCreate",
		"Account":         o.Account,
		"TakerGets":       o.TakerGets,
		"TakerPays":       o.TakerPays,
	}
}

type submitResult struct {
	EngineResult        string `json:"engine_result"`
	EngineResultMessage string `json:"engine_result_message"`
	TxJSON              TxJSON `json:"tx_json"`
}

// SubmitAndWait signs tx on the node with secret, submits it and polls until
// the transaction is in a validated ledger. A validated transaction with a
// failure code is returned together with a *SubmitError.
func (c *Client) SubmitAndWait(ctx context.Context, tx Transaction, secret string) (*TxResult, error) {
	fee, err := c.Fee(ctx)
	if err != nil {
		return nil, err
	}

	txJSON := tx.fields()
	lastLedger := fee.LedgerCurrentIndex + lastLedgerOffset
	txJSON["LastLedgerSequence"] = lastLedger

	var sub submitResult
	err = c.request(ctx, "submit", map[string]any{
		"tx_json":      txJSON,
		"secret":       secret,
		"fee_mult_max": 1000,
	}, &sub)
	if err != nil {
		return nil, err
	}

	hash := sub.TxJSON.Hash
	c.logger.Info("Submitted transaction",
		slog.String("type", tx.Type()),
		slog.String("hash", hash),
		slog.String("engine_result", sub.EngineResult),
	)

	if !isProvisional(sub.EngineResult) {
		return nil, &SubmitError{Result: sub.EngineResult, Message: sub.EngineResultMessage, Hash: hash}
	}

	return c.waitValidated(ctx, hash, lastLedger)
}

// isProvisional reports whether a preliminary engine result can still end up
// in a validated ledger (tes, ter and tec classes).
func isProvisional(result string) bool {
	return strings.HasPrefix(result, "tes") ||
		strings.HasPrefix(result, "ter") ||
		strings.HasPrefix(result, "tec")
}

func (c *Client) waitValidated(ctx context.Context, hash string, lastLedger uint32) (*TxResult, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		res, err := c.Tx(ctx, hash)
		switch {
		case err == nil && res.Validated:
			if res.Meta.TransactionResult != "tesSUCCESS" {
				return res, &SubmitError{Result: res.Meta.TransactionResult, Hash: hash}
			}
			return res, nil
		case err != nil && !errors.Is(err, ErrTxNotFound):
			return nil, err
		}

		fee, err := c.Fee(ctx)
		if err != nil {
			return nil, err
		}
		if fee.LedgerCurrentIndex > lastLedger {
			return nil, fmt.Errorf("%w: %s", ErrTxExpired, hash)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("ledger: waiting for %s: %w", hash, ctx.Err())
		case <-ticker.C:
		}
	}
}
