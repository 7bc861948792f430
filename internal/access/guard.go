// Package access decides, fresh on every attempt, whether a user may
// touch a chat session.
package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vkotelev/nearchat/internal/repo"
)

type Reason string

const (
	ReasonNotFound  Reason = "not_found"
	ReasonForbidden Reason = "forbidden"
	ReasonBlocked   Reason = "blocked"
)

// Result is the guard verdict. PeerID is set only when Allowed.
type Result struct {
	Allowed bool
	Reason  Reason
	PeerID  uint
}

type Store interface {
	FindChat(ctx context.Context, chatID uint) (repo.ChatInfo, error)
	DeleteChatCascade(ctx context.Context, chatID uint) error
	IsBlockedEitherDirection(ctx context.Context, a, b uint) (bool, error)
}

type Guard struct {
	Store Store

	now func() time.Time
}

func NewGuard(store Store) *Guard {
	return &Guard{Store: store, now: time.Now}
}

// Check looks the chat up and applies, in order: existence, elapsed
// expiry (with lazy delete), membership, block relation. An elapsed
// chat is reported not_found even when the reconciler has not swept
// it yet.
func (g *Guard) Check(ctx context.Context, chatID, userID uint) (Result, error) {
	chat, err := g.Store.FindChat(ctx, chatID)
	if errors.Is(err, repo.ErrNotFound) {
		return Result{Reason: ReasonNotFound}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("access check: %w", err)
	}

	if chat.ExpiresAt != nil && !chat.ExpiresAt.After(g.now()) {
		// Lazy cleanup; the reconciler's sweep may race us here and
		// a double delete is a no-op.
		if err := g.Store.DeleteChatCascade(ctx, chatID); err != nil {
			return Result{}, fmt.Errorf("access check: lazy delete: %w", err)
		}
		return Result{Reason: ReasonNotFound}, nil
	}

	var peerID uint
	member := false
	for _, id := range chat.ParticipantIDs {
		if id == userID {
			member = true
		} else {
			peerID = id
		}
	}
	if !member {
		return Result{Reason: ReasonForbidden}, nil
	}

	if peerID != 0 {
		blocked, err := g.Store.IsBlockedEitherDirection(ctx, userID, peerID)
		if err != nil {
			return Result{}, fmt.Errorf("access check: %w", err)
		}
		if blocked {
			return Result{Reason: ReasonBlocked}, nil
		}
	}

	return Result{Allowed: true, PeerID: peerID}, nil
}
