package command

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/IlyasAtabaev731/voice-wallet/internal/domain/models"
	"github.com/IlyasAtabaev731/voice-wallet/internal/ledger"
)

// historyLimit is how many transactions a spoken history reply lists.
const historyLimit = 3

type Wallet interface {
	Balance(ctx context.Context, username string) (*ledger.AccountInfo, error)
	SendDrops(ctx context.Context, username, to string, drops int64) (*models.Payment, error)
	History(ctx context.Context, username string, limit int) ([]models.Payment, error)
	Friends(ctx context.Context, username string) ([]models.Friend, error)
	Tickets(ctx context.Context, username string) ([]models.Ticket, error)
}

type Interpreter struct {
	log    *slog.Logger
	wallet Wallet
}

func NewInterpreter(wallet Wallet, log *slog.Logger) *Interpreter {
	return &Interpreter{log: log, wallet: wallet}
}

// Execute runs the command spoken in transcript on behalf of username and
// returns a one-line reply.
func (i *Interpreter) Execute(ctx context.Context, username, transcript string) (string, error) {
	cmd, err := Parse(transcript)
	if err != nil {
		i.log.Debug("Unrecognized voice command", slog.String("transcript", transcript))
		return "Sorry, I did not understand. Try \"what's my balance\" or \"send 5 XRP to Alice\".", err
	}

	i.log.Info("Voice command",
		slog.String("username", username),
		slog.String("kind", string(cmd.Kind)),
	)

	switch cmd.Kind {
	case KindBalance:
		return i.balance(ctx, username)
	case KindSend:
		return i.send(ctx, username, cmd)
	case KindHistory:
		return i.history(ctx, username)
	case KindFriends:
		return i.friends(ctx, username)
	case KindTickets:
		return i.tickets(ctx, username)
	}

	return "", ErrUnrecognized
}

func (i *Interpreter) balance(ctx context.Context, username string) (string, error) {
	info, err := i.wallet.Balance(ctx, username)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Your balance is %s XRP, %s XRP available to spend.",
		ledger.DropsToXRP(info.BalanceDrops), ledger.DropsToXRP(info.SpendableDrops())), nil
}

func (i *Interpreter) send(ctx context.Context, username string, cmd Command) (string, error) {
	payment, err := i.wallet.SendDrops(ctx, username, cmd.Recipient, cmd.AmountDrops)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Sent %s XRP to %s.", ledger.DropsToXRP(payment.AmountDrops), cmd.Recipient), nil
}

func (i *Interpreter) history(ctx context.Context, username string) (string, error) {
	payments, err := i.wallet.History(ctx, username, historyLimit)
	if err != nil {
		return "", err
	}
	if len(payments) == 0 {
		return "You have no transactions yet.", nil
	}

	parts := make([]string, 0, len(payments))
	for _, p := range payments {
		parts = append(parts, describe(p))
	}
	return fmt.Sprintf("Your last %d transactions: %s.", len(parts), strings.Join(parts, "; ")), nil
}

func describe(p models.Payment) string {
	amount := ledger.DropsToXRP(p.AmountDrops) + " XRP"
	switch {
	case p.Type != "Payment":
		return p.Type
	case p.Direction == models.DirectionSent:
		return "sent " + amount + " to " + short(p.Counterparty)
	case p.Direction == models.DirectionReceived:
		return "received " + amount + " from " + short(p.Counterparty)
	}
	return amount
}

func short(address string) string {
	if len(address) <= 10 {
		return address
	}
	return address[:6] + "…" + address[len(address)-4:]
}

func (i *Interpreter) friends(ctx context.Context, username string) (string, error) {
	friends, err := i.wallet.Friends(ctx, username)
	if err != nil {
		return "", err
	}
	if len(friends) == 0 {
		return "You have no friends saved yet.", nil
	}

	names := make([]string, 0, len(friends))
	for _, f := range friends {
		names = append(names, f.Nickname)
	}
	return "Your friends: " + strings.Join(names, ", ") + ".", nil
}

func (i *Interpreter) tickets(ctx context.Context, username string) (string, error) {
	tickets, err := i.wallet.Tickets(ctx, username)
	if err != nil {
		return "", err
	}
	if len(tickets) == 0 {
		return "You have no tickets.", nil
	}

	active := 0
	for _, t := range tickets {
		if t.Status == models.TicketActive {
			active++
		}
	}
	return fmt.Sprintf("You have %d tickets, %d active.", len(tickets), active), nil
}
