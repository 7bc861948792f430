// Package repo is the gorm-backed storage layer. The core components
// (access guard, reconciler, hub) consume it through the narrow
// interfaces they each declare; *Store satisfies all of them.
package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/vkotelev/nearchat/internal/models"
)

var ErrNotFound = errors.New("repo: not found")

// ChatInfo is the snapshot of one chat session used by the access
// guard and the reconciler.
type ChatInfo struct {
	ID             uint
	ExpiresAt      *time.Time
	ParticipantIDs []uint
}

type LocationSample struct {
	Lat       float64
	Lon       float64
	SampledAt time.Time
}

type Store struct {
	DB *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{DB: db}
}

func (s *Store) FindUserTokenVersion(ctx context.Context, userID uint) (int, error) {
	var user models.User
	err := s.DB.WithContext(ctx).Select("token_version").First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("find token version: %w", err)
	}
	return user.TokenVersion, nil
}

func (s *Store) BumpTokenVersion(ctx context.Context, userID uint) error {
	res := s.DB.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumn("token_version", gorm.Expr("token_version + 1"))
	if res.Error != nil {
		return fmt.Errorf("bump token version: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) FindChat(ctx context.Context, chatID uint) (ChatInfo, error) {
	var chat models.Chat
	err := s.DB.WithContext(ctx).First(&chat, chatID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ChatInfo{}, ErrNotFound
	}
	if err != nil {
		return ChatInfo{}, fmt.Errorf("find chat: %w", err)
	}

	participants, err := s.participantIDs(ctx, chat.ID)
	if err != nil {
		return ChatInfo{}, err
	}
	return ChatInfo{ID: chat.ID, ExpiresAt: chat.ExpiresAt, ParticipantIDs: participants}, nil
}

func (s *Store) ListActiveChats(ctx context.Context) ([]ChatInfo, error) {
	var chats []models.Chat
	if err := s.DB.WithContext(ctx).Order("id").Find(&chats).Error; err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}

	infos := make([]ChatInfo, 0, len(chats))
	for _, chat := range chats {
		participants, err := s.participantIDs(ctx, chat.ID)
		if err != nil {
			return nil, err
		}
		infos = append(infos, ChatInfo{ID: chat.ID, ExpiresAt: chat.ExpiresAt, ParticipantIDs: participants})
	}
	return infos, nil
}

// DeleteChatCascade removes the chat row, its messages and its
// participant links in one transaction. Deleting a chat that is
// already gone is a no-op.
func (s *Store) DeleteChatCascade(ctx context.Context, chatID uint) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", chatID).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("chat_id = ?", chatID).Delete(&models.ChatParticipant{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Chat{}, chatID).Error
	})
	if err != nil {
		return fmt.Errorf("delete chat %d: %w", chatID, err)
	}
	return nil
}

// UpdateChatExpiry writes the expiry unconditionally; pass nil to
// reset the chat to indefinite.
func (s *Store) UpdateChatExpiry(ctx context.Context, chatID uint, expiresAt *time.Time) error {
	res := s.DB.WithContext(ctx).
		Model(&models.Chat{}).
		Where("id = ?", chatID).
		Update("expires_at", expiresAt)
	if res.Error != nil {
		return fmt.Errorf("update chat expiry: %w", res.Error)
	}
	return nil
}

// TightenChatExpiry writes the candidate only when the chat has no
// expiry yet or the candidate is strictly earlier. Concurrent writers
// converge on the strictest value.
func (s *Store) TightenChatExpiry(ctx context.Context, chatID uint, candidate time.Time) error {
	res := s.DB.WithContext(ctx).
		Model(&models.Chat{}).
		Where("id = ? AND (expires_at IS NULL OR expires_at > ?)", chatID, candidate).
		Update("expires_at", candidate)
	if res.Error != nil {
		return fmt.Errorf("tighten chat expiry: %w", res.Error)
	}
	return nil
}

func (s *Store) LatestLocation(ctx context.Context, userID uint) (*LocationSample, error) {
	var loc models.Location
	err := s.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("sampled_at DESC").
		First(&loc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest location: %w", err)
	}
	return &LocationSample{Lat: loc.Latitude, Lon: loc.Longitude, SampledAt: loc.SampledAt}, nil
}

func (s *Store) SaveLocation(ctx context.Context, userID uint, lat, lon float64, sampledAt time.Time) error {
	loc := models.Location{UserID: userID, Latitude: lat, Longitude: lon, SampledAt: sampledAt}
	if err := s.DB.WithContext(ctx).Create(&loc).Error; err != nil {
		return fmt.Errorf("save location: %w", err)
	}
	return nil
}

func (s *Store) IsBlockedEitherDirection(ctx context.Context, a, b uint) (bool, error) {
	var count int64
	err := s.DB.WithContext(ctx).
		Model(&models.Block{}).
		Where("(blocker_id = ? AND blocked_id = ?) OR (blocker_id = ? AND blocked_id = ?)", a, b, b, a).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("block lookup: %w", err)
	}
	return count > 0, nil
}

func (s *Store) participantIDs(ctx context.Context, chatID uint) ([]uint, error) {
	var ids []uint
	err := s.DB.WithContext(ctx).
		Model(&models.ChatParticipant{}).
		Where("chat_id = ?", chatID).
		Order("user_id").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("chat participants: %w", err)
	}
	return ids, nil
}
