package wallet

import (
	"context"
	"errors"
	"log/slog"

	"github.com/IlyasAtabaev731/voice-wallet/internal/domain/models"
	"github.com/IlyasAtabaev731/voice-wallet/internal/ledger"
	"github.com/IlyasAtabaev731/voice-wallet/internal/storage"
)

// CreateAccount funds a new ledger account through the faucet and attaches
// it to the user. The secret is stored sealed.
func (s *Service) CreateAccount(ctx context.Context, username string) (*models.User, error) {
	const op = "wallet.CreateAccount"

	user, err := s.User(ctx, username)
	if err != nil {
		return nil, err
	}
	if user.HasAccount() {
		return nil, ErrAccountExists
	}

	funded, err := s.faucet.Fund(ctx)
	if err != nil {
		s.log.Error("Faucet failed", slog.String("username", username), "error", err)
		return nil, wrapOp(op, err)
	}

	sealed, err := s.sealer.Seal(funded.Secret)
	if err != nil {
		return nil, wrapOp(op, err)
	}

	balance, err := ledger.XRPToDrops(funded.BalanceXRP)
	if err != nil {
		s.log.Warn("Faucet returned an invalid balance, it is refreshed on the next lookup",
			slog.String("address", funded.Address),
			slog.String("balance", funded.BalanceXRP),
			"error", err,
		)
		balance = 0
	}

	user.Address = funded.Address
	user.SealedSecret = sealed
	user.BalanceDrops = balance
	if err := s.storage.AttachAccount(ctx, user); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// another request attached an account first
			s.users.Delete(username)
			s.log.Warn("Ledger account already attached, dropping funded account",
				slog.String("username", username),
				slog.String("address", funded.Address),
			)
			return nil, ErrAccountExists
		}
		return nil, wrapOp(op, err)
	}
	s.users.Store(username, *user)

	s.log.Info("Ledger account created",
		slog.String("username", username),
		slog.String("address", user.Address),
	)

	return user, nil
}

// Balance returns the account state of the user's ledger account. Results
// are served from the account cache when it has them; fresh results refresh
// the stored balance.
func (s *Service) Balance(ctx context.Context, username string) (*ledger.AccountInfo, error) {
	user, err := s.accountUser(ctx, username)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if info, err := s.cache.GetAccount(ctx, user.Address); err == nil {
			return info, nil
		}
	}

	return s.refreshAccount(ctx, user)
}

func (s *Service) refreshAccount(ctx context.Context, user *models.User) (*ledger.AccountInfo, error) {
	const op = "wallet.refreshAccount"

	info, err := s.ledger.AccountInfo(ctx, user.Address)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return nil, ErrNoAccount
		}
		return nil, wrapOp(op, err)
	}

	if s.cache != nil {
		if err := s.cache.SetAccount(ctx, info, s.cacheTTL); err != nil {
			s.log.Warn("Failed to cache account", slog.String("address", info.Address), "error", err)
		}
	}

	if info.BalanceDrops != user.BalanceDrops {
		if err := s.storage.UpdateBalance(ctx, user.ID, info.BalanceDrops); err != nil {
			s.log.Warn("Failed to store balance", slog.Int("user_id", user.ID), "error", err)
		} else {
			user.BalanceDrops = info.BalanceDrops
			s.users.Store(user.Username, *user)
		}
	}

	return info, nil
}

func (s *Service) TrustLines(ctx context.Context, username string) ([]ledger.TrustLine, error) {
	user, err := s.accountUser(ctx, username)
	if err != nil {
		return nil, err
	}

	lines, err := s.ledger.AccountLines(ctx, user.Address)
	if err != nil {
		return nil, wrapOp("wallet.TrustLines", err)
	}
	if lines == nil {
		lines = []ledger.TrustLine{}
	}
	return lines, nil
}

func (s *Service) invalidate(ctx context.Context, addresses ...string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateAccount(ctx, addresses...); err != nil {
		s.log.Warn("Failed to invalidate account cache", "error", err)
	}
}
