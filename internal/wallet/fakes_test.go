package wallet

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/IlyasAtabaev731/voice-wallet/internal/domain/models"
	"github.com/IlyasAtabaev731/voice-wallet/internal/ledger"
	"github.com/IlyasAtabaev731/voice-wallet/internal/storage"
	"github.com/stretchr/testify/require"
)

const (
	aliceAddr = "rPT1Sjq2YGrBMTttX4GZHjKu9dyfzbpAYe"
	bobAddr   = "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"
	issuer    = "rvYAfWj5gh67oV6fW32ZzP3Aw4Eubs59B"
)

type fakeStorage struct {
	mu        sync.Mutex
	users     map[string]*models.User
	friends   []models.Friend
	favorites []models.Favorite
	tickets   map[string]*models.Ticket
	payments  []models.Payment
	symbols   map[int]string
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		users:   make(map[string]*models.User),
		tickets: make(map[string]*models.Ticket),
		symbols: make(map[int]string),
	}
}

func (f *fakeStorage) SaveUser(_ context.Context, username string, passHash []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[username]; ok {
		return 0, storage.ErrUserExists
	}
	id := len(f.users) + 1
	f.users[username] = &models.User{ID: id, Username: username, PasswordHash: string(passHash), Nickname: username}
	return id, nil
}

func (f *fakeStorage) GetUser(_ context.Context, username string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[username]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	c := *u
	return &c, nil
}

func (f *fakeStorage) AttachAccount(_ context.Context, user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[user.Username]
	if !ok || u.Address != "" {
		return storage.ErrConflict
	}
	u.Address, u.SealedSecret, u.BalanceDrops = user.Address, user.SealedSecret, user.BalanceDrops
	return nil
}

func (f *fakeStorage) UpdateBalance(_ context.Context, userID int, drops int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.ID == userID {
			u.BalanceDrops = drops
			return nil
		}
	}
	return storage.ErrUserNotFound
}

func (f *fakeStorage) ListFriends(_ context.Context, userID int) ([]models.Friend, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Friend, 0)
	for _, fr := range f.friends {
		if fr.UserID == userID {
			out = append(out, fr)
		}
	}
	return out, nil
}

func (f *fakeStorage) SaveFriend(_ context.Context, friend *models.Friend) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fr := range f.friends {
		if fr.UserID == friend.UserID && strings.EqualFold(fr.Nickname, friend.Nickname) {
			return storage.ErrConflict
		}
	}
	friend.ID = len(f.friends) + 1
	f.friends = append(f.friends, *friend)
	return nil
}

func (f *fakeStorage) DeleteFriend(_ context.Context, userID int, nickname string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, fr := range f.friends {
		if fr.UserID == userID && strings.EqualFold(fr.Nickname, nickname) {
			f.friends = append(f.friends[:i], f.friends[i+1:]...)
			return nil
		}
	}
	return storage.ErrNotFound
}

func (f *fakeStorage) ListFavorites(_ context.Context, userID int) ([]models.Favorite, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Favorite, 0)
	for _, fav := range f.favorites {
		if fav.UserID == userID {
			out = append(out, fav)
		}
	}
	return out, nil
}

func (f *fakeStorage) SaveFavorite(_ context.Context, fav models.Favorite) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.favorites {
		if existing.UserID == fav.UserID && existing.Address == fav.Address {
			return storage.ErrConflict
		}
	}
	f.favorites = append(f.favorites, fav)
	return nil
}

func (f *fakeStorage) DeleteFavorite(_ context.Context, userID int, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, fav := range f.favorites {
		if fav.UserID == userID && fav.Address == address {
			f.favorites = append(f.favorites[:i], f.favorites[i+1:]...)
			return nil
		}
	}
	return storage.ErrNotFound
}

func (f *fakeStorage) SaveTicket(_ context.Context, t *models.Ticket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *t
	c.QR = ""
	f.tickets[t.ID] = &c
	return nil
}

func (f *fakeStorage) GetTicket(_ context.Context, id string) (*models.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickets[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (f *fakeStorage) ListTickets(_ context.Context, userID int) ([]models.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Ticket, 0)
	for _, t := range f.tickets {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeStorage) MarkTicketUsed(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickets[id]
	if !ok || t.Status != models.TicketActive {
		return storage.ErrConflict
	}
	t.Status = models.TicketUsed
	t.UsedAt = &at
	return nil
}

func (f *fakeStorage) SetEventSymbol(_ context.Context, userID int, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.symbols[userID] = symbol
	return nil
}

func (f *fakeStorage) GetEventSymbol(_ context.Context, userID int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.symbols[userID]
	if !ok {
		return "", storage.ErrNotFound
	}
	return s, nil
}

func (f *fakeStorage) SavePayment(_ context.Context, p models.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payments = append(f.payments, p)
	return nil
}

func (f *fakeStorage) ListPayments(_ context.Context, userID int, limit int) ([]models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Payment, 0)
	for _, p := range f.payments {
		if p.UserID == userID && len(out) < limit {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeLedger struct {
	mu        sync.Mutex
	accounts  map[string]*ledger.AccountInfo
	txs       []ledger.AccountTransaction
	txErr     error
	lines     []ledger.TrustLine
	submitted []ledger.Transaction
	secrets   []string
	result    string
	infoCalls int
	txLimit   int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{accounts: make(map[string]*ledger.AccountInfo), result: "tesSUCCESS"}
}

func (l *fakeLedger) AccountInfo(_ context.Context, address string) (*ledger.AccountInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infoCalls++
	info, ok := l.accounts[address]
	if !ok {
		return nil, &ledger.RPCError{Code: "actNotFound"}
	}
	c := *info
	return &c, nil
}

func (l *fakeLedger) AccountTx(_ context.Context, _ string, limit int) ([]ledger.AccountTransaction, error) {
	l.mu.Lock()
	l.txLimit = limit
	l.mu.Unlock()
	return l.txs, l.txErr
}

func (l *fakeLedger) AccountLines(context.Context, string) ([]ledger.TrustLine, error) {
	return l.lines, nil
}

func (l *fakeLedger) Fee(context.Context) (*ledger.Fee, error) {
	return &ledger.Fee{BaseDrops: 10, OpenLedgerDrops: 12, LedgerCurrentIndex: 100}, nil
}

func (l *fakeLedger) SubmitAndWait(_ context.Context, tx ledger.Transaction, secret string) (*ledger.TxResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.submitted = append(l.submitted, tx)
	l.secrets = append(l.secrets, secret)

	res := &ledger.TxResult{Validated: true, LedgerIndex: 101}
	res.Hash = "HASH" + strings.Repeat("0", len(l.submitted))
	res.TransactionType = tx.Type()
	res.Meta.TransactionResult = l.result
	if l.result != "tesSUCCESS" {
		return res, &ledger.SubmitError{Result: l.result, Hash: res.Hash}
	}
	return res, nil
}

type fakeFaucet struct {
	account ledger.FundedAccount
	calls   int
}

func (f *fakeFaucet) Fund(context.Context) (*ledger.FundedAccount, error) {
	f.calls++
	a := f.account
	return &a, nil
}

// plainSealer tags the secret so tests can tell sealed from plain.
type plainSealer struct{}

func (plainSealer) Seal(s string) (string, error) { return "sealed:" + s, nil }

func (plainSealer) Open(s string) (string, error) { return strings.TrimPrefix(s, "sealed:"), nil }

type fakeCache struct {
	mu          sync.Mutex
	accounts    map[string]ledger.AccountInfo
	invalidated []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{accounts: make(map[string]ledger.AccountInfo)}
}

func (c *fakeCache) GetAccount(_ context.Context, address string) (*ledger.AccountInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.accounts[address]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &info, nil
}

func (c *fakeCache) SetAccount(_ context.Context, info *ledger.AccountInfo, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accounts[info.Address] = *info
	return nil
}

func (c *fakeCache) InvalidateAccount(_ context.Context, addresses ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range addresses {
		delete(c.accounts, a)
	}
	c.invalidated = append(c.invalidated, addresses...)
	return nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (p *recordingPublisher) Publish(subject string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	return nil
}

type env struct {
	svc       *Service
	storage   *fakeStorage
	ledger    *fakeLedger
	faucet    *fakeFaucet
	cache     *fakeCache
	publisher *recordingPublisher
}

func newEnv() *env {
	e := &env{
		storage:   newFakeStorage(),
		ledger:    newFakeLedger(),
		faucet:    &fakeFaucet{account: ledger.FundedAccount{Address: aliceAddr, Secret: "sAliceSecret", BalanceXRP: "100"}},
		cache:     newFakeCache(),
		publisher: &recordingPublisher{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e.svc = New(logger, e.storage, &sync.Map{}, e.ledger, e.faucet, plainSealer{}, "ticket-secret",
		WithAccountCache(e.cache, time.Minute),
		WithPublisher(e.publisher),
	)
	return e
}

// withAccount registers alice with a funded ledger account.
func (e *env) withAccount(t *testing.T, balanceDrops int64) *models.User {
	t.Helper()
	ctx := context.Background()
	_, err := e.svc.Register(ctx, "alice", "password")
	require.NoError(t, err)
	user, err := e.svc.CreateAccount(ctx, "alice")
	require.NoError(t, err)
	e.ledger.accounts[aliceAddr] = &ledger.AccountInfo{Address: aliceAddr, BalanceDrops: balanceDrops, Sequence: 1}
	return user
}
