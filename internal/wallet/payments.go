package wallet

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/IlyasAtabaev731/voice-wallet/internal/domain/models"
	"github.com/IlyasAtabaev731/voice-wallet/internal/ledger"
	"github.com/IlyasAtabaev731/voice-wallet/internal/messaging/nats"
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 200
)

// PaymentEvent is published once a payment or offer reaches a validated ledger.
type PaymentEvent struct {
	Hash        string `json:"hash"`
	Type        string `json:"type"`
	From        string `json:"from"`
	To          string `json:"to,omitempty"`
	AmountDrops int64  `json:"amount_drops"`
	Result      string `json:"result"`
}

// Recipient resolves to as a friend nickname of the user or a classic address.
func (s *Service) Recipient(ctx context.Context, user *models.User, to string) (string, error) {
	to = strings.TrimSpace(to)
	if IsAddress(to) {
		return to, nil
	}

	friends, err := s.storage.ListFriends(ctx, user.ID)
	if err != nil {
		return "", wrapOp("wallet.Recipient", err)
	}

	nick := normalizeNickname(to)
	for _, f := range friends {
		if strings.EqualFold(f.Nickname, nick) {
			return f.Address, nil
		}
	}

	return "", ErrUnknownRecipient
}

// SendPayment pays amountXRP to a friend nickname or an address and waits
// for the payment to be validated.
func (s *Service) SendPayment(ctx context.Context, username, to, amountXRP string) (*models.Payment, error) {
	drops, err := ledger.XRPToDrops(strings.TrimSpace(amountXRP))
	if err != nil || drops <= 0 {
		return nil, ErrInvalidAmount
	}
	return s.SendDrops(ctx, username, to, drops)
}

func (s *Service) SendDrops(ctx context.Context, username, to string, drops int64) (*models.Payment, error) {
	const op = "wallet.SendDrops"

	if drops <= 0 {
		return nil, ErrInvalidAmount
	}

	user, err := s.accountUser(ctx, username)
	if err != nil {
		return nil, err
	}

	destination, err := s.Recipient(ctx, user, to)
	if err != nil {
		return nil, err
	}
	if destination == user.Address {
		return nil, ErrSelfPayment
	}

	if err := s.checkFunds(ctx, user, drops); err != nil {
		return nil, err
	}

	secret, err := s.sealer.Open(user.SealedSecret)
	if err != nil {
		return nil, wrapOp(op, err)
	}

	log := s.log.With(
		slog.String("from", user.Address),
		slog.String("to", destination),
		slog.Int64("drops", drops),
	)
	log.Info("Sending payment")

	res, err := s.ledger.SubmitAndWait(ctx, ledger.Payment{
		Account:     user.Address,
		Destination: destination,
		Amount:      ledger.XRP(drops),
	}, secret)
	s.invalidate(ctx, user.Address, destination)

	payment, err := s.recordSubmission(ctx, user, res, err, models.Payment{
		Type:         "Payment",
		Counterparty: destination,
		AmountDrops:  drops,
		Direction:    models.DirectionSent,
	})
	if err != nil {
		log.Error("Payment failed", "error", err)
		return payment, err
	}

	log.Info("Payment validated", slog.String("hash", payment.Hash))
	s.publish(nats.SubjectPaymentValidated, PaymentEvent{
		Hash:        payment.Hash,
		Type:        payment.Type,
		From:        user.Address,
		To:          destination,
		AmountDrops: drops,
		Result:      payment.Result,
	})

	return payment, nil
}

// checkFunds fails when drops plus the network fee exceed the balance above
// the reserve.
func (s *Service) checkFunds(ctx context.Context, user *models.User, drops int64) error {
	const op = "wallet.checkFunds"

	info, err := s.refreshAccount(ctx, user)
	if err != nil {
		return err
	}

	fee, err := s.ledger.Fee(ctx)
	if err != nil {
		return wrapOp(op, err)
	}

	feeDrops := max(fee.OpenLedgerDrops, fee.BaseDrops)
	if drops+feeDrops > info.SpendableDrops() {
		return ErrInsufficientFunds
	}

	return nil
}

// recordSubmission stores the outcome of a submitted transaction. A
// transaction validated with a failure code is stored too, and its error is
// returned.
func (s *Service) recordSubmission(
	ctx context.Context,
	user *models.User,
	res *ledger.TxResult,
	submitErr error,
	p models.Payment,
) (*models.Payment, error) {
	if res == nil {
		if submitErr == nil {
			submitErr = errors.New("empty submit result")
		}
		return nil, wrapOp("wallet.submit", submitErr)
	}

	p.Hash = res.Hash
	p.UserID = user.ID
	p.Validated = res.Validated
	p.Result = res.Meta.TransactionResult
	p.CreatedAt = ledger.RippleTime(res.Date)
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}

	if err := s.storage.SavePayment(ctx, p); err != nil {
		s.log.Error("Failed to record payment", slog.String("hash", p.Hash), "error", err)
	}

	if submitErr != nil {
		return &p, wrapOp("wallet.submit", submitErr)
	}
	return &p, nil
}

type OfferRequest struct {
	GiveXRP  string `json:"give_xrp"`
	Currency string `json:"currency"`
	Issuer   string `json:"issuer"`
	Value    string `json:"value"`
}

// PlaceOffer creates an offer that gives XRP for an issued currency.
func (s *Service) PlaceOffer(ctx context.Context, username string, req OfferRequest) (*models.Payment, error) {
	const op = "wallet.PlaceOffer"

	drops, err := ledger.XRPToDrops(strings.TrimSpace(req.GiveXRP))
	if err != nil || drops <= 0 {
		return nil, ErrInvalidAmount
	}
	if strings.TrimSpace(req.Currency) == "" || strings.TrimSpace(req.Value) == "" {
		return nil, ErrInvalidOffer
	}
	if !IsAddress(req.Issuer) {
		return nil, ErrInvalidAddress
	}

	user, err := s.accountUser(ctx, username)
	if err != nil {
		return nil, err
	}

	if err := s.checkFunds(ctx, user, drops); err != nil {
		return nil, err
	}

	secret, err := s.sealer.Open(user.SealedSecret)
	if err != nil {
		return nil, wrapOp(op, err)
	}

	res, err := s.ledger.SubmitAndWait(ctx, ledger.OfferCreate{
		Account:   user.Address,
		TakerGets: ledger.XRP(drops),
		TakerPays: ledger.Issued(strings.ToUpper(req.Currency), req.Issuer, req.Value),
	}, secret)
	s.invalidate(ctx, user.Address)

	offer, err := s.recordSubmission(ctx, user, res, err, models.Payment{
		Type:         "OfferCreate",
		Counterparty: req.Issuer,
		AmountDrops:  drops,
		Direction:    models.DirectionSent,
	})
	if err != nil {
		s.log.Error("Offer failed", slog.String("address", user.Address), "error", err)
		return offer, err
	}

	s.publish(nats.SubjectOfferValidated, PaymentEvent{
		Hash:        offer.Hash,
		Type:        offer.Type,
		From:        user.Address,
		AmountDrops: drops,
		Result:      offer.Result,
	})

	return offer, nil
}

// History returns the latest transactions of the user's account. When the
// ledger cannot be reached the locally recorded payments are returned.
func (s *Service) History(ctx context.Context, username string, limit int) ([]models.Payment, error) {
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}

	user, err := s.accountUser(ctx, username)
	if err != nil {
		return nil, err
	}

	txs, err := s.ledger.AccountTx(ctx, user.Address, limit)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return []models.Payment{}, nil
		}

		s.log.Warn("Ledger history unavailable, using local records",
			slog.String("address", user.Address),
			"error", err,
		)
		local, lerr := s.storage.ListPayments(ctx, user.ID, limit)
		if lerr != nil {
			return nil, wrapOp("wallet.History", errors.Join(err, lerr))
		}
		return local, nil
	}

	history := make([]models.Payment, 0, len(txs))
	for _, tx := range txs {
		history = append(history, toPayment(user, tx))
	}
	return history, nil
}

func toPayment(user *models.User, at ledger.AccountTransaction) models.Payment {
	p := models.Payment{
		Hash:      at.Tx.Hash,
		UserID:    user.ID,
		Type:      at.Tx.TransactionType,
		Validated: at.Validated,
		Result:    at.Meta.TransactionResult,
		CreatedAt: ledger.RippleTime(at.Tx.Date),
		Direction: models.DirectionOther,
	}

	switch {
	case at.Tx.Account == user.Address:
		p.Direction = models.DirectionSent
		p.Counterparty = at.Tx.Destination
	case at.Tx.Destination == user.Address:
		p.Direction = models.DirectionReceived
		p.Counterparty = at.Tx.Account
	default:
		p.Counterparty = at.Tx.Account
	}

	switch {
	case at.Meta.DeliveredAmount != nil && at.Meta.DeliveredAmount.IsNative():
		p.AmountDrops = at.Meta.DeliveredAmount.Drops
	case at.Tx.Amount != nil && at.Tx.Amount.IsNative():
		p.AmountDrops = at.Tx.Amount.Drops
	case at.Tx.TakerGets != nil && at.Tx.TakerGets.IsNative():
		p.AmountDrops = at.Tx.TakerGets.Drops
	}

	return p
}
