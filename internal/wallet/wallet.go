// Package wallet implements the wallet operations shared by the HTTP API and
// voice commands: accounts, payments, history, friends, favorites and tickets.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/IlyasAtabaev731/voice-wallet/internal/domain/models"
	"github.com/IlyasAtabaev731/voice-wallet/internal/ledger"
	"github.com/IlyasAtabaev731/voice-wallet/internal/storage"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
	ErrNoAccount          = errors.New("no ledger account yet, create one first")
	ErrAccountExists      = errors.New("ledger account already created")
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrUnknownRecipient   = errors.New("unknown recipient")
	ErrSelfPayment        = errors.New("cannot pay yourself")
	ErrInvalidAddress     = errors.New("invalid ledger address")
	ErrInvalidOffer       = errors.New("offer needs a currency and a value")
	ErrInvalidNickname    = errors.New("nickname is required")
	ErrFriendExists       = errors.New("friend with this nickname already exists")
	ErrFriendNotFound     = errors.New("friend not found")
	ErrFavoriteExists     = errors.New("address is already a favorite")
	ErrFavoriteNotFound   = errors.New("favorite not found")
	ErrInvalidEvent       = errors.New("event symbol must be 3 to 12 letters or digits")
	ErrInvalidTicket      = errors.New("invalid ticket")
	ErrTicketNotFound     = errors.New("ticket not found")
	ErrTicketUsed         = errors.New("ticket already used")
	ErrNoEventSymbol      = errors.New("no event symbol used yet")
)

type Storage interface {
	SaveUser(ctx context.Context, username string, passHash []byte) (int, error)
	GetUser(ctx context.Context, username string) (*models.User, error)
	AttachAccount(ctx context.Context, user *models.User) error
	UpdateBalance(ctx context.Context, userID int, balanceDrops int64) error

	ListFriends(ctx context.Context, userID int) ([]models.Friend, error)
	SaveFriend(ctx context.Context, friend *models.Friend) error
	DeleteFriend(ctx context.Context, userID int, nickname string) error

	ListFavorites(ctx context.Context, userID int) ([]models.Favorite, error)
	SaveFavorite(ctx context.Context, fav models.Favorite) error
	DeleteFavorite(ctx context.Context, userID int, address string) error

	SaveTicket(ctx context.Context, ticket *models.Ticket) error
	GetTicket(ctx context.Context, id string) (*models.Ticket, error)
	ListTickets(ctx context.Context, userID int) ([]models.Ticket, error)
	MarkTicketUsed(ctx context.Context, id string, at time.Time) error
	SetEventSymbol(ctx context.Context, userID int, symbol string) error
	GetEventSymbol(ctx context.Context, userID int) (string, error)

	SavePayment(ctx context.Context, p models.Payment) error
	ListPayments(ctx context.Context, userID int, limit int) ([]models.Payment, error)
}

type Ledger interface {
	AccountInfo(ctx context.Context, address string) (*ledger.AccountInfo, error)
	AccountTx(ctx context.Context, address string, limit int) ([]ledger.AccountTransaction, error)
	AccountLines(ctx context.Context, address string) ([]ledger.TrustLine, error)
	Fee(ctx context.Context) (*ledger.Fee, error)
	SubmitAndWait(ctx context.Context, tx ledger.Transaction, secret string) (*ledger.TxResult, error)
}

type Faucet interface {
	Fund(ctx context.Context) (*ledger.FundedAccount, error)
}

// AccountCache holds recent account_info results. Misses are reported as
// errors and are never fatal.
type AccountCache interface {
	GetAccount(ctx context.Context, address string) (*ledger.AccountInfo, error)
	SetAccount(ctx context.Context, info *ledger.AccountInfo, ttl time.Duration) error
	InvalidateAccount(ctx context.Context, addresses ...string) error
}

type Publisher interface {
	Publish(subject string, event any) error
}

type Sealer interface {
	Seal(plain string) (string, error)
	Open(sealed string) (string, error)
}

type Service struct {
	log          *slog.Logger
	storage      Storage
	users        *sync.Map
	ledger       Ledger
	faucet       Faucet
	sealer       Sealer
	ticketSecret string

	cache    AccountCache
	cacheTTL time.Duration
	events   Publisher
	now      func() time.Time
}

type Option func(*Service)

func WithAccountCache(cache AccountCache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = cache
		s.cacheTTL = ttl
	}
}

func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.events = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates the service. users is the in-memory user cache keyed by
// username; it is filled from storage at startup.
func New(
	log *slog.Logger,
	storage Storage,
	users *sync.Map,
	ledger Ledger,
	faucet Faucet,
	sealer Sealer,
	ticketSecret string,
	opts ...Option,
) *Service {
	s := &Service{
		log:          log,
		storage:      storage,
		users:        users,
		ledger:       ledger,
		faucet:       faucet,
		sealer:       sealer,
		ticketSecret: ticketSecret,
		events:       noopPublisher{},
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type noopPublisher struct{}

func (noopPublisher) Publish(string, any) error { return nil }

func (s *Service) publish(subject string, event any) {
	if err := s.events.Publish(subject, event); err != nil {
		s.log.Warn("Failed to publish event", slog.String("subject", subject), "error", err)
	}
}

var addressRe = regexp.MustCompile(`^r[1-9A-HJ-NP-Za-km-z]{24,34}$`)

// IsAddress reports whether s looks like a classic ledger address.
func IsAddress(s string) bool {
	return addressRe.MatchString(s)
}

// User returns the cached user, falling back to storage.
func (s *Service) User(ctx context.Context, username string) (*models.User, error) {
	if cached, ok := s.users.Load(username); ok {
		if user, ok := cached.(models.User); ok {
			return &user, nil
		}
	}

	user, err := s.storage.GetUser(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	s.users.Store(username, *user)
	return user, nil
}

func (s *Service) Register(ctx context.Context, username, password string) (*models.User, error) {
	s.log.Info("Register new user", slog.String("username", username))

	passHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		s.log.Error("Failed to hash password", "error", err)
		return nil, err
	}

	id, err := s.storage.SaveUser(ctx, username, passHash)
	if err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			return nil, ErrUserExists
		}
		s.log.Error("Failed to save user", "error", err)
		return nil, err
	}

	user := models.User{
		ID:           id,
		Username:     username,
		PasswordHash: string(passHash),
		Nickname:     username,
		CreatedAt:    s.now(),
	}
	s.users.Store(username, user)

	return &user, nil
}

func (s *Service) Login(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.User(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return user, nil
}

// Authenticate logs an existing user in or registers a new one.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.User(ctx, username)
	switch {
	case errors.Is(err, ErrUserNotFound):
		return s.Register(ctx, username, password)
	case err != nil:
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// accountUser returns the user and fails when no ledger account exists yet.
func (s *Service) accountUser(ctx context.Context, username string) (*models.User, error) {
	user, err := s.User(ctx, username)
	if err != nil {
		return nil, err
	}
	if !user.HasAccount() {
		return nil, ErrNoAccount
	}
	return user, nil
}

func normalizeNickname(n string) string {
	return strings.Join(strings.Fields(n), " ")
}

func wrapOp(op string, err error) error {
	return fmt.Errorf("%s: %w", op, err)
}
