package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/IlyasAtabaev731/voice-wallet/internal/domain/models"
	"github.com/IlyasAtabaev731/voice-wallet/internal/ledger"
	"github.com/IlyasAtabaev731/voice-wallet/internal/wallet"
	"github.com/gorilla/mux"
)

type AccountResponse struct {
	Address      string `json:"address"`
	BalanceXRP   string `json:"balance_xrp"`
	AvailableXRP string `json:"available_xrp"`
	BalanceDrops int64  `json:"balance_drops"`
	Sequence     uint32 `json:"sequence"`
	OwnerCount   uint32 `json:"owner_count"`
}

func (s *APIServer) createAccountHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := s.wallet.CreateAccount(r.Context(), usernameFrom(r))
		if err != nil {
			s.writeError(w, err)
			return
		}

		s.writeJSON(w, http.StatusCreated, user)
	}
}

func (s *APIServer) accountHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		info, err := s.wallet.Balance(r.Context(), usernameFrom(r))
		if err != nil {
			s.writeError(w, err)
			return
		}

		s.writeJSON(w, http.StatusOK, AccountResponse{
			Address:      info.Address,
			BalanceXRP:   ledger.DropsToXRP(info.BalanceDrops),
			AvailableXRP: ledger.DropsToXRP(info.SpendableDrops()),
			BalanceDrops: info.BalanceDrops,
			Sequence:     info.Sequence,
			OwnerCount:   info.OwnerCount,
		})
	}
}

func (s *APIServer) trustLinesHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		lines, err := s.wallet.TrustLines(r.Context(), usernameFrom(r))
		if err != nil {
			s.writeError(w, err)
			return
		}

		s.writeJSON(w, http.StatusOK, lines)
	}
}

type SendPaymentRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

func (s *APIServer) sendPaymentHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SendPaymentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request format", http.StatusBadRequest)
			return
		}

		payment, err := s.wallet.SendPayment(r.Context(), usernameFrom(r), req.To, req.Amount)
		if err != nil {
			s.writeError(w, err)
			return
		}

		s.writeJSON(w, http.StatusOK, payment)
	}
}

func (s *APIServer) placeOfferHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var req wallet.OfferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request format", http.StatusBadRequest)
			return
		}

		offer, err := s.wallet.PlaceOffer(r.Context(), usernameFrom(r), req)
		if err != nil {
			s.writeError(w, err)
			return
		}

		s.writeJSON(w, http.StatusOK, offer)
	}
}

func (s *APIServer) historyHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				http.Error(w, "Invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}

		history, err := s.wallet.History(r.Context(), usernameFrom(r), limit)
		if err != nil {
			s.writeError(w, err)
			return
		}

		s.writeJSON(w, http.StatusOK, history)
	}
}

func (s *APIServer) friendsHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		friends, err := s.wallet.Friends(r.Context(), usernameFrom(r))
		if err != nil {
			s.writeError(w, err)
			return
		}

		s.writeJSON(w, http.StatusOK, friends)
	}
}

func (s *APIServer) addFriendHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.Friend
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request format", http.StatusBadRequest)
			return
		}

		friend, err := s.wallet.AddFriend(r.Context(), usernameFrom(r), req)
		if err != nil {
			s.writeError(w, err)
			return
		}

		s.writeJSON(w, http.StatusCreated, friend)
	}
}

func (s *APIServer) deleteFriendHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		nickname := mux.Vars(r)["nickname"]

		if err := s.wallet.DeleteFriend(r.Context(), usernameFrom(r), nickname); err != nil {
			s.writeError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *APIServer) favoritesHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		favorites, err := s.wallet.Favorites(r.Context(), usernameFrom(r))
		if err != nil {
			s.writeError(w, err)
			return
		}

		s.writeJSON(w, http.StatusOK, favorites)
	}
}

func (s *APIServer) addFavoriteHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.Favorite
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request format", http.StatusBadRequest)
			return
		}

		fav, err := s.wallet.AddFavorite(r.Context(), usernameFrom(r), req)
		if err != nil {
			s.writeError(w, err)
			return
		}

		s.writeJSON(w, http.StatusCreated, fav)
	}
}

func (s *APIServer) deleteFavoriteHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		address := mux.Vars(r)["address"]

		if err := s.wallet.DeleteFavorite(r.Context(), usernameFrom(r), address); err != nil {
			s.writeError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

type MintTicketRequest struct {
	EventSymbol string `json:"event_symbol"`
}

func (s *APIServer) mintTicketHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MintTicketRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request format", http.StatusBadRequest)
			return
		}

		ticket, err := s.wallet.MintTicket(r.Context(), usernameFrom(r), req.EventSymbol)
		if err != nil {
			s.writeError(w, err)
			return
		}

		s.writeJSON(w, http.StatusCreated, ticket)
	}
}

func (s *APIServer) ticketsHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		tickets, err := s.wallet.Tickets(r.Context(), usernameFrom(r))
		if err != nil {
			s.writeError(w, err)
			return
		}

		s.writeJSON(w, http.StatusOK, tickets)
	}
}

type VerifyTicketRequest struct {
	QR    string `json:"qr"`
	Owner string `json:"owner,omitempty"`
}

func (s *APIServer) verifyTicketHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var req VerifyTicketRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.QR == "" {
			http.Error(w, "Invalid request format", http.StatusBadRequest)
			return
		}

		ticket, err := s.wallet.VerifyTicket(r.Context(), req.QR, req.Owner)
		if err != nil {
			s.writeError(w, err)
			return
		}

		s.writeJSON(w, http.StatusOK, ticket)
	}
}

type EventResponse struct {
	EventSymbol string `json:"event_symbol"`
}

func (s *APIServer) lastEventHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		symbol, err := s.wallet.LastEventSymbol(r.Context(), usernameFrom(r))
		if err != nil {
			s.writeError(w, err)
			return
		}

		s.writeJSON(w, http.StatusOK, EventResponse{EventSymbol: symbol})
	}
}
