package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/IlyasAtabaev731/voice-wallet/internal/config"
	"github.com/IlyasAtabaev731/voice-wallet/internal/domain/models"
	"github.com/IlyasAtabaev731/voice-wallet/internal/ledger"
	"github.com/IlyasAtabaev731/voice-wallet/internal/lib/jwt"
	"github.com/IlyasAtabaev731/voice-wallet/internal/wallet"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

type Wallet interface {
	Authenticate(ctx context.Context, username, password string) (*models.User, error)
	User(ctx context.Context, username string) (*models.User, error)
	CreateAccount(ctx context.Context, username string) (*models.User, error)
	Balance(ctx context.Context, username string) (*ledger.AccountInfo, error)
	TrustLines(ctx context.Context, username string) ([]ledger.TrustLine, error)

	SendPayment(ctx context.Context, username, to, amountXRP string) (*models.Payment, error)
	PlaceOffer(ctx context.Context, username string, req wallet.OfferRequest) (*models.Payment, error)
	History(ctx context.Context, username string, limit int) ([]models.Payment, error)

	Friends(ctx context.Context, username string) ([]models.Friend, error)
	AddFriend(ctx context.Context, username string, friend models.Friend) (*models.Friend, error)
	DeleteFriend(ctx context.Context, username, nickname string) error
	Favorites(ctx context.Context, username string) ([]models.Favorite, error)
	AddFavorite(ctx context.Context, username string, fav models.Favorite) (*models.Favorite, error)
	DeleteFavorite(ctx context.Context, username, address string) error

	MintTicket(ctx context.Context, username, eventSymbol string) (*models.Ticket, error)
	Tickets(ctx context.Context, username string) ([]models.Ticket, error)
	VerifyTicket(ctx context.Context, qr, owner string) (*models.Ticket, error)
	LastEventSymbol(ctx context.Context, username string) (string, error)
}

// Commands executes spoken commands for a user.
type Commands interface {
	Execute(ctx context.Context, username, transcript string) (string, error)
}

// Revoker keeps the ids of sessions that logged out.
type Revoker interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

type ctxKey string

const sessionKey ctxKey = "session"

type APIServer struct {
	config    *config.Config
	logger    *slog.Logger
	server    *http.Server
	wallet    Wallet
	commands  Commands
	revoker   Revoker
	limiter   *userLimiter
	upgrader  websocket.Upgrader
	jwtSecret []byte
}

func New(
	config *config.Config,
	logger *slog.Logger,
	wallet Wallet,
	commands Commands,
	revoker Revoker,
	jwtSecret []byte,
) *APIServer {
	return &APIServer{
		config: config,
		logger: logger,
		server: &http.Server{
			Addr: config.ApiHost + ":" + strconv.Itoa(config.ApiPort),
		},
		wallet:   wallet,
		commands: commands,
		revoker:  revoker,
		limiter:  newUserLimiter(config.RateLimit.PerSecond, config.RateLimit.Burst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		jwtSecret: jwtSecret,
	}
}

func (s *APIServer) Start() error {
	s.logger.Info("Starting server", slog.String("port", strconv.Itoa(s.config.ApiPort)))

	s.configureRouter()

	return s.server.ListenAndServe()
}

func (s *APIServer) MustStart() {
	err := s.Start()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		panic("Failed to start server: " + err.Error())
	}
}

func (s *APIServer) Stop(ctx context.Context) error {
	defer s.logger.Info("Server successfully stopped")
	return s.server.Shutdown(ctx)
}

func (s *APIServer) configureRouter() {
	router := mux.NewRouter()
	router.HandleFunc("/api/auth", s.authHandler()).Methods("POST")
	router.HandleFunc("/api/logout", s.authenticate(s.logoutHandler())).Methods("POST")

	router.HandleFunc("/api/account", s.authenticate(s.createAccountHandler())).Methods("POST")
	router.HandleFunc("/api/account", s.authenticate(s.accountHandler())).Methods("GET")
	router.HandleFunc("/api/account/lines", s.authenticate(s.trustLinesHandler())).Methods("GET")

	router.HandleFunc("/api/payments", s.authenticate(s.rateLimited(s.sendPaymentHandler()))).Methods("POST")
	router.HandleFunc("/api/offers", s.authenticate(s.rateLimited(s.placeOfferHandler()))).Methods("POST")
	router.HandleFunc("/api/history", s.authenticate(s.historyHandler())).Methods("GET")

	router.HandleFunc("/api/friends", s.authenticate(s.friendsHandler())).Methods("GET")
	router.HandleFunc("/api/friends", s.authenticate(s.addFriendHandler())).Methods("POST")
	router.HandleFunc("/api/friends/{nickname}", s.authenticate(s.deleteFriendHandler())).Methods("DELETE")

	router.HandleFunc("/api/favorites", s.authenticate(s.favoritesHandler())).Methods("GET")
	router.HandleFunc("/api/favorites", s.authenticate(s.addFavoriteHandler())).Methods("POST")
	router.HandleFunc("/api/favorites/{address}", s.authenticate(s.deleteFavoriteHandler())).Methods("DELETE")

	router.HandleFunc("/api/tickets", s.authenticate(s.mintTicketHandler())).Methods("POST")
	router.HandleFunc("/api/tickets", s.authenticate(s.ticketsHandler())).Methods("GET")
	router.HandleFunc("/api/tickets/verify", s.authenticate(s.verifyTicketHandler())).Methods("POST")
	router.HandleFunc("/api/tickets/event", s.authenticate(s.lastEventHandler())).Methods("GET")

	router.HandleFunc("/api/voice", s.authenticate(s.rateLimited(s.voiceHandler()))).Methods("GET")
	s.server.Handler = router
}

type AuthRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token string `json:"token"`
}

// authHandler logs a user in, registering the username on first use.
func (s *APIServer) authHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AuthRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request format", http.StatusBadRequest)
			return
		}
		req.Username = strings.TrimSpace(req.Username)
		if req.Username == "" || req.Password == "" {
			http.Error(w, "Username and password are required", http.StatusBadRequest)
			return
		}

		user, err := s.wallet.Authenticate(r.Context(), req.Username, req.Password)
		if err != nil {
			s.writeError(w, err)
			return
		}

		token, err := jwt.NewToken(user, string(s.jwtSecret), s.tokenTTL())
		if err != nil {
			s.logger.Error("Failed to issue token", "error", err)
			http.Error(w, "Failed to issue token", http.StatusInternalServerError)
			return
		}

		s.writeJSON(w, http.StatusOK, AuthResponse{Token: token})
	}
}

func (s *APIServer) tokenTTL() time.Duration {
	if s.config.TokenTTL > 0 {
		return s.config.TokenTTL
	}
	return 24 * time.Hour
}

func (s *APIServer) logoutHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		session := sessionFrom(r.Context())

		if err := s.revoker.Revoke(r.Context(), session.TokenID, session.ExpiresAt); err != nil {
			s.logger.Error("Failed to revoke token", "error", err)
			http.Error(w, "Failed to log out", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// authenticate accepts a Bearer token, or a token query parameter for
// websocket clients that cannot set headers.
func (s *APIServer) authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenStr := r.URL.Query().Get("token")

		if tokenHeader := r.Header.Get("Authorization"); tokenHeader != "" {
			parts := strings.Split(tokenHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "Invalid token format", http.StatusUnauthorized)
				return
			}
			tokenStr = parts[1]
		}

		if tokenStr == "" {
			http.Error(w, "Token is missing", http.StatusUnauthorized)
			return
		}

		session, err := jwt.ParseSession(tokenStr, string(s.jwtSecret))
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		revoked, err := s.revoker.IsRevoked(r.Context(), session.TokenID)
		if err != nil {
			s.logger.Error("Failed to check token revocation", "error", err)
			http.Error(w, "Session check unavailable", http.StatusServiceUnavailable)
			return
		}
		if revoked {
			http.Error(w, "Token was revoked", http.StatusUnauthorized)
			return
		}

		r = r.WithContext(context.WithValue(r.Context(), sessionKey, session))
		next(w, r)
	}
}

func sessionFrom(ctx context.Context) *jwt.Session {
	session, _ := ctx.Value(sessionKey).(*jwt.Session)
	if session == nil {
		return &jwt.Session{}
	}
	return session
}

func usernameFrom(r *http.Request) string {
	return sessionFrom(r.Context()).Username
}

func (s *APIServer) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(usernameFrom(r)) {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

func (s *APIServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to write response", "error", err)
	}
}

// writeError maps a wallet error to its HTTP status. Unknown errors are
// logged and hidden behind a generic message.
func (s *APIServer) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status != http.StatusInternalServerError {
		http.Error(w, errorText(err), status)
		return
	}

	s.logger.Error("Request failed", "error", err)
	http.Error(w, "Internal error", status)
}

func statusFor(err error) int {
	var submitErr *ledger.SubmitError

	switch {
	case errors.Is(err, wallet.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, wallet.ErrInvalidAmount),
		errors.Is(err, wallet.ErrInvalidAddress),
		errors.Is(err, wallet.ErrInvalidOffer),
		errors.Is(err, wallet.ErrInvalidNickname),
		errors.Is(err, wallet.ErrInvalidEvent),
		errors.Is(err, wallet.ErrSelfPayment):
		return http.StatusBadRequest
	case errors.Is(err, wallet.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, wallet.ErrInvalidTicket):
		return http.StatusForbidden
	case errors.Is(err, wallet.ErrUserNotFound),
		errors.Is(err, wallet.ErrNoAccount),
		errors.Is(err, wallet.ErrUnknownRecipient),
		errors.Is(err, wallet.ErrFriendNotFound),
		errors.Is(err, wallet.ErrFavoriteNotFound),
		errors.Is(err, wallet.ErrTicketNotFound),
		errors.Is(err, wallet.ErrNoEventSymbol):
		return http.StatusNotFound
	case errors.Is(err, wallet.ErrUserExists),
		errors.Is(err, wallet.ErrAccountExists),
		errors.Is(err, wallet.ErrFriendExists),
		errors.Is(err, wallet.ErrFavoriteExists),
		errors.Is(err, wallet.ErrTicketUsed):
		return http.StatusConflict
	case errors.As(err, &submitErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrTxExpired), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// errorText is the user-facing text of a mapped error.
func errorText(err error) string {
	var submitErr *ledger.SubmitError
	if errors.As(err, &submitErr) {
		return submitErr.Error()
	}
	for _, target := range []error{
		wallet.ErrInvalidCredentials, wallet.ErrInvalidAmount, wallet.ErrInvalidAddress,
		wallet.ErrInvalidNickname, wallet.ErrInvalidEvent, wallet.ErrSelfPayment, wallet.ErrInvalidOffer,
		wallet.ErrInsufficientFunds, wallet.ErrInvalidTicket, wallet.ErrUserNotFound,
		wallet.ErrNoAccount, wallet.ErrUnknownRecipient, wallet.ErrFriendNotFound,
		wallet.ErrFavoriteNotFound, wallet.ErrTicketNotFound, wallet.ErrNoEventSymbol,
		wallet.ErrUserExists, wallet.ErrAccountExists, wallet.ErrFriendExists,
		wallet.ErrFavoriteExists, wallet.ErrTicketUsed, ledger.ErrTxExpired,
	} {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return "Request timed out"
}
