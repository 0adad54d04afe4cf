package wallet

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"

	"github.com/IlyasAtabaev731/voice-wallet/internal/domain/models"
	"github.com/IlyasAtabaev731/voice-wallet/internal/storage"
)

var friendEmojis = []string{"🦊", "🐼", "🐨", "🐯", "🦁", "🐸", "🐙", "🦉", "🐳", "🦄"}

func defaultEmoji(nickname string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(nickname)))
	return friendEmojis[h.Sum32()%uint32(len(friendEmojis))]
}

func (s *Service) Friends(ctx context.Context, username string) ([]models.Friend, error) {
	user, err := s.User(ctx, username)
	if err != nil {
		return nil, err
	}

	friends, err := s.storage.ListFriends(ctx, user.ID)
	if err != nil {
		return nil, wrapOp("wallet.Friends", err)
	}
	return friends, nil
}

// AddFriend saves a friend. Nicknames are unique per user regardless of case.
func (s *Service) AddFriend(ctx context.Context, username string, friend models.Friend) (*models.Friend, error) {
	friend.Nickname = normalizeNickname(friend.Nickname)
	friend.Address = strings.TrimSpace(friend.Address)
	if friend.Nickname == "" {
		return nil, ErrInvalidNickname
	}
	if !IsAddress(friend.Address) {
		return nil, ErrInvalidAddress
	}
	if friend.Emoji == "" {
		friend.Emoji = defaultEmoji(friend.Nickname)
	}

	user, err := s.User(ctx, username)
	if err != nil {
		return nil, err
	}
	friend.UserID = user.ID

	if err := s.storage.SaveFriend(ctx, &friend); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, ErrFriendExists
		}
		return nil, wrapOp("wallet.AddFriend", err)
	}

	return &friend, nil
}

func (s *Service) DeleteFriend(ctx context.Context, username, nickname string) error {
	user, err := s.User(ctx, username)
	if err != nil {
		return err
	}

	if err := s.storage.DeleteFriend(ctx, user.ID, normalizeNickname(nickname)); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrFriendNotFound
		}
		return wrapOp("wallet.DeleteFriend", err)
	}
	return nil
}

func (s *Service) Favorites(ctx context.Context, username string) ([]models.Favorite, error) {
	user, err := s.User(ctx, username)
	if err != nil {
		return nil, err
	}

	favorites, err := s.storage.ListFavorites(ctx, user.ID)
	if err != nil {
		return nil, wrapOp("wallet.Favorites", err)
	}
	return favorites, nil
}

func (s *Service) AddFavorite(ctx context.Context, username string, fav models.Favorite) (*models.Favorite, error) {
	fav.Address = strings.TrimSpace(fav.Address)
	fav.Label = strings.TrimSpace(fav.Label)
	if !IsAddress(fav.Address) {
		return nil, ErrInvalidAddress
	}

	user, err := s.User(ctx, username)
	if err != nil {
		return nil, err
	}
	fav.UserID = user.ID

	if err := s.storage.SaveFavorite(ctx, fav); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, ErrFavoriteExists
		}
		return nil, wrapOp("wallet.AddFavorite", err)
	}

	return &fav, nil
}

func (s *Service) DeleteFavorite(ctx context.Context, username, address string) error {
	user, err := s.User(ctx, username)
	if err != nil {
		return err
	}

	if err := s.storage.DeleteFavorite(ctx, user.ID, address); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrFavoriteNotFound
		}
		return wrapOp("wallet.DeleteFavorite", err)
	}
	return nil
}
