package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IlyasAtabaev731/voice-wallet/internal/domain/models"
	"github.com/IlyasAtabaev731/voice-wallet/internal/storage"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

type Storage struct {
	db *sql.DB
}

func New(dbUrl string) (*Storage, error) {
	db, err := sql.Open("postgres", dbUrl)
	if err != nil {
		return nil, fmt.Errorf("database connection error %s", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect database error %s", err)
	}

	return &Storage{db: db}, nil
}

func (s *Storage) Stop() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func (s *Storage) SaveUser(ctx context.Context, username string, passHash []byte) (int, error) {
	const op = "storage.postgres.SaveUser"

	var id int
	err := s.db.QueryRowContext(ctx,
		"INSERT INTO users (username, password_hash) VALUES($1, $2) RETURNING id",
		username, passHash,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%s: %w", op, storage.ErrUserExists)
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

const userColumns = "id, username, password_hash, nickname, address, sealed_secret, balance_drops, created_at"

func scanUser(row interface{ Scan(...any) error }) (models.User, error) {
	var (
		user     models.User
		passHash []byte
	)
	err := row.Scan(&user.ID, &user.Username, &passHash, &user.Nickname, &user.Address,
		&user.SealedSecret, &user.BalanceDrops, &user.CreatedAt)
	user.PasswordHash = string(passHash)
	return user, err
}

func (s *Storage) GetUser(ctx context.Context, username string) (*models.User, error) {
	const op = "storage.postgres.GetUser"

	row := s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE username = $1", username)

	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &user, nil
}

// AttachAccount stores the ledger account of a user that has none yet. A user
// that already has an address yields storage.ErrConflict.
func (s *Storage) AttachAccount(ctx context.Context, user *models.User) error {
	const op = "storage.postgres.AttachAccount"

	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET address = $1, sealed_secret = $2, balance_drops = $3 WHERE id = $4 AND address = ''",
		user.Address, user.SealedSecret, user.BalanceDrops, user.ID,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return expectOne(op, res, storage.ErrConflict)
}

func (s *Storage) UpdateBalance(ctx context.Context, userID int, balanceDrops int64) error {
	const op = "storage.postgres.UpdateBalance"

	_, err := s.db.ExecContext(ctx, "UPDATE users SET balance_drops = $1 WHERE id = $2", balanceDrops, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func expectOne(op string, res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, notFound)
	}
	return nil
}

func (s *Storage) ListFriends(ctx context.Context, userID int) ([]models.Friend, error) {
	const op = "storage.postgres.ListFriends"

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, nickname, address, emoji FROM friends WHERE user_id = $1 ORDER BY lower(nickname)", userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	friends := make([]models.Friend, 0)
	for rows.Next() {
		var f models.Friend
		if err := rows.Scan(&f.ID, &f.UserID, &f.Nickname, &f.Address, &f.Emoji); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		friends = append(friends, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return friends, nil
}

func (s *Storage) SaveFriend(ctx context.Context, friend *models.Friend) error {
	const op = "storage.postgres.SaveFriend"

	err := s.db.QueryRowContext(ctx,
		"INSERT INTO friends (user_id, nickname, address, emoji) VALUES ($1, $2, $3, $4) RETURNING id",
		friend.UserID, friend.Nickname, friend.Address, friend.Emoji,
	).Scan(&friend.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrConflict)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) DeleteFriend(ctx context.Context, userID int, nickname string) error {
	const op = "storage.postgres.DeleteFriend"

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM friends WHERE user_id = $1 AND lower(nickname) = lower($2)", userID, nickname)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return expectOne(op, res, storage.ErrNotFound)
}

func (s *Storage) ListFavorites(ctx context.Context, userID int) ([]models.Favorite, error) {
	const op = "storage.postgres.ListFavorites"

	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id, address, label FROM favorites WHERE user_id = $1 ORDER BY address", userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	favorites := make([]models.Favorite, 0)
	for rows.Next() {
		var f models.Favorite
		if err := rows.Scan(&f.UserID, &f.Address, &f.Label); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		favorites = append(favorites, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return favorites, nil
}

func (s *Storage) SaveFavorite(ctx context.Context, fav models.Favorite) error {
	const op = "storage.postgres.SaveFavorite"

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO favorites (user_id, address, label) VALUES ($1, $2, $3)", fav.UserID, fav.Address, fav.Label)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrConflict)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) DeleteFavorite(ctx context.Context, userID int, address string) error {
	const op = "storage.postgres.DeleteFavorite"

	res, err := s.db.ExecContext(ctx, "DELETE FROM favorites WHERE user_id = $1 AND address = $2", userID, address)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return expectOne(op, res, storage.ErrNotFound)
}

func (s *Storage) SaveTicket(ctx context.Context, ticket *models.Ticket) error {
	const op = "storage.postgres.SaveTicket"

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO tickets (id, user_id, event_symbol, owner, status, minted_at) VALUES ($1, $2, $3, $4, $5, $6)",
		ticket.ID, ticket.UserID, ticket.EventSymbol, ticket.Owner, ticket.Status, ticket.MintedAt,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

const ticketColumns = "id, user_id, event_symbol, owner, status, minted_at, used_at"

func scanTicket(row interface{ Scan(...any) error }) (models.Ticket, error) {
	var (
		t      models.Ticket
		usedAt sql.NullTime
	)
	err := row.Scan(&t.ID, &t.UserID, &t.EventSymbol, &t.Owner, &t.Status, &t.MintedAt, &usedAt)
	if usedAt.Valid {
		t.UsedAt = &usedAt.Time
	}
	return t, err
}

func (s *Storage) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	const op = "storage.postgres.GetTicket"

	t, err := scanTicket(s.db.QueryRowContext(ctx, "SELECT "+ticketColumns+" FROM tickets WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &t, nil
}

func (s *Storage) ListTickets(ctx context.Context, userID int) ([]models.Ticket, error) {
	const op = "storage.postgres.ListTickets"

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+ticketColumns+" FROM tickets WHERE user_id = $1 ORDER BY minted_at DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	tickets := make([]models.Ticket, 0)
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		tickets = append(tickets, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return tickets, nil
}

// MarkTicketUsed flips an active ticket to used. A ticket that is already
// used yields storage.ErrConflict, so a ticket can only be redeemed once.
func (s *Storage) MarkTicketUsed(ctx context.Context, id string, at time.Time) error {
	const op = "storage.postgres.MarkTicketUsed"

	res, err := s.db.ExecContext(ctx,
		"UPDATE tickets SET status = $1, used_at = $2 WHERE id = $3 AND status = $4",
		models.TicketUsed, at, id, models.TicketActive,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return expectOne(op, res, storage.ErrConflict)
}

func (s *Storage) SavePayment(ctx context.Context, p models.Payment) error {
	const op = "storage.postgres.SavePayment"

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (hash, user_id, type, counterparty, amount_drops, direction, validated, result, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (hash) DO UPDATE SET validated = EXCLUDED.validated, result = EXCLUDED.result`,
		p.Hash, p.UserID, p.Type, p.Counterparty, p.AmountDrops, p.Direction, p.Validated, p.Result, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) ListPayments(ctx context.Context, userID int, limit int) ([]models.Payment, error) {
	const op = "storage.postgres.ListPayments"

	rows, err := s.db.QueryContext(ctx, `
		SELECT hash, user_id, type, counterparty, amount_drops, direction, validated, result, created_at
		FROM payments WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	payments := make([]models.Payment, 0)
	for rows.Next() {
		var p models.Payment
		if err := rows.Scan(&p.Hash, &p.UserID, &p.Type, &p.Counterparty, &p.AmountDrops,
			&p.Direction, &p.Validated, &p.Result, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		payments = append(payments, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return payments, nil
}

func (s *Storage) SetEventSymbol(ctx context.Context, userID int, symbol string) error {
	const op = "storage.postgres.SetEventSymbol"

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO event_symbols (user_id, symbol, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE SET symbol = EXCLUDED.symbol, updated_at = now()`,
		userID, symbol,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) GetEventSymbol(ctx context.Context, userID int) (string, error) {
	const op = "storage.postgres.GetEventSymbol"

	var symbol string
	err := s.db.QueryRowContext(ctx, "SELECT symbol FROM event_symbols WHERE user_id = $1", userID).Scan(&symbol)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return symbol, nil
}

// LoadCacheFromDB loads cache that contains users by their username from database
func (s *Storage) LoadCacheFromDB(cache *sync.Map, log *slog.Logger) error {
	rows, err := s.db.Query("SELECT " + userColumns + " FROM users")
	if err != nil {
		return err
	}
	defer func(rows *sql.Rows) {
		err := rows.Close()
		if err != nil {
			log.Error("Failed to close users rows", "error", err)
		}
	}(rows)

	count := 0
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return err
		}
		cache.Store(user.Username, user)
		count++
	}

	if err := rows.Err(); err != nil {
		return err
	}

	log.Info("Loaded users cache", slog.Int("users", count))
	return nil
}
