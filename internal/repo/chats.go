package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/vkotelev/nearchat/internal/models"
)

// FindOrCreateChat returns the existing pairwise chat between the two
// users, creating it when none exists. The caller is responsible for
// the block check.
func (s *Store) FindOrCreateChat(ctx context.Context, userA, userB uint) (models.Chat, bool, error) {
	var chat models.Chat
	created := false

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existingID uint
		row := tx.Model(&models.ChatParticipant{}).
			Select("chat_id").
			Where("user_id IN ?", []uint{userA, userB}).
			Group("chat_id").
			Having("COUNT(DISTINCT user_id) = 2").
			Limit(1).
			Scan(&existingID)
		if row.Error != nil {
			return row.Error
		}
		if existingID != 0 {
			return tx.First(&chat, existingID).Error
		}

		chat = models.Chat{CreatedAt: time.Now().UTC()}
		if err := tx.Create(&chat).Error; err != nil {
			return err
		}
		links := []models.ChatParticipant{
			{ChatID: chat.ID, UserID: userA},
			{ChatID: chat.ID, UserID: userB},
		}
		if err := tx.Create(&links).Error; err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return models.Chat{}, false, fmt.Errorf("find or create chat: %w", err)
	}
	return chat, created, nil
}

func (s *Store) CreateMessage(ctx context.Context, chatID, userID uint, content string) (models.Message, error) {
	msg := models.Message{
		ChatID:    chatID,
		UserID:    userID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.DB.WithContext(ctx).Create(&msg).Error; err != nil {
		return models.Message{}, fmt.Errorf("create message: %w", err)
	}
	return msg, nil
}

func (s *Store) ListMessages(ctx context.Context, chatID uint, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var msgs []models.Message
	err := s.DB.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("id").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

func (s *Store) ChatIDsForUser(ctx context.Context, userID uint) ([]uint, error) {
	var ids []uint
	err := s.DB.WithContext(ctx).
		Model(&models.ChatParticipant{}).
		Where("user_id = ?", userID).
		Pluck("chat_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("chats for user: %w", err)
	}
	return ids, nil
}

// DeleteUserCascade removes the account together with every chat it
// participates in, its location samples and its block edges. Chats go
// through the same cascade path expiry deletion uses.
func (s *Store) DeleteUserCascade(ctx context.Context, userID uint) error {
	chatIDs, err := s.ChatIDsForUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, chatID := range chatIDs {
		if err := s.DeleteChatCascade(ctx, chatID); err != nil {
			return err
		}
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&models.Location{}).Error; err != nil {
			return err
		}
		if err := tx.Where("blocker_id = ? OR blocked_id = ?", userID, userID).Delete(&models.Block{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.User{}, userID).Error
	})
	if err != nil {
		return fmt.Errorf("delete user %d: %w", userID, err)
	}
	return nil
}

func (s *Store) CreateUser(ctx context.Context, username, passwordHash string) (models.User, error) {
	user := models.User{Username: username, PasswordHash: passwordHash}
	if err := s.DB.WithContext(ctx).Create(&user).Error; err != nil {
		return models.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (s *Store) FindUserByUsername(ctx context.Context, username string) (models.User, error) {
	var user models.User
	err := s.DB.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("find user: %w", err)
	}
	return user, nil
}
