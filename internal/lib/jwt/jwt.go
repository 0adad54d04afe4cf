package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/IlyasAtabaev731/voice-wallet/internal/domain/models"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

// Session is what a session token proves about its bearer.
type Session struct {
	TokenID   string
	UserID    int
	Username  string
	ExpiresAt time.Time
}

func NewToken(user *models.User, jwtSecret string, duration time.Duration) (string, error) {
	token := jwt.New(jwt.SigningMethodHS256)

	claims := token.Claims.(jwt.MapClaims)
	claims["jti"] = uuid.NewString()
	claims["uid"] = user.ID
	claims["username"] = user.Username
	claims["exp"] = time.Now().Add(duration).Unix()

	tokenString, err := token.SignedString([]byte(jwtSecret))
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

func ParseToken(tokenString string, secret string) (map[string]interface{}, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}

// ParseSession parses a session token issued by NewToken.
func ParseSession(tokenString string, secret string) (*Session, error) {
	claims, err := ParseToken(tokenString, secret)
	if err != nil {
		return nil, err
	}

	username, _ := claims["username"].(string)
	jti, _ := claims["jti"].(string)
	uid, _ := claims["uid"].(float64)
	exp, _ := claims["exp"].(float64)
	if username == "" {
		return nil, ErrInvalidToken
	}

	return &Session{
		TokenID:   jti,
		UserID:    int(uid),
		Username:  username,
		ExpiresAt: time.Unix(int64(exp), 0),
	}, nil
}

// TicketClaims is the content of a ticket QR payload.
type TicketClaims struct {
	TicketID    string
	EventSymbol string
	Owner       string
}

// NewTicketToken signs the QR payload of a ticket. Ticket tokens do not
// expire; a ticket is invalidated by being used.
func NewTicketToken(ticket *models.Ticket, secret string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"typ": "ticket",
		"tid": ticket.ID,
		"evt": ticket.EventSymbol,
		"own": ticket.Owner,
		"iat": ticket.MintedAt.Unix(),
	})

	return token.SignedString([]byte(secret))
}

func ParseTicketToken(tokenString string, secret string) (*TicketClaims, error) {
	claims, err := ParseToken(tokenString, secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if typ, _ := claims["typ"].(string); typ != "ticket" {
		return nil, ErrInvalidToken
	}

	tc := &TicketClaims{}
	tc.TicketID, _ = claims["tid"].(string)
	tc.EventSymbol, _ = claims["evt"].(string)
	tc.Owner, _ = claims["own"].(string)
	if tc.TicketID == "" {
		return nil, ErrInvalidToken
	}

	return tc, nil
}
