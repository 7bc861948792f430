// Package reconciler runs the periodic proximity pass: it re-measures
// the distance between every chat's participants, drives the expiry
// state (indefinite, countdown, deleted) and purges chats whose
// countdown has elapsed.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vkotelev/nearchat/internal/geo"
	"github.com/vkotelev/nearchat/internal/repo"
)

type Store interface {
	ListActiveChats(ctx context.Context) ([]repo.ChatInfo, error)
	DeleteChatCascade(ctx context.Context, chatID uint) error
	UpdateChatExpiry(ctx context.Context, chatID uint, expiresAt *time.Time) error
	TightenChatExpiry(ctx context.Context, chatID uint, candidate time.Time) error
	LatestLocation(ctx context.Context, userID uint) (*repo.LocationSample, error)
}

type Reconciler struct {
	Store Store
	// RadiusMeters is the proximity window; Grace is the countdown
	// started once a pair is measured outside of it.
	RadiusMeters float64
	Grace        time.Duration
	Log          *slog.Logger

	now func() time.Time
}

func New(store Store, radiusMeters float64, grace time.Duration, log *slog.Logger) *Reconciler {
	return &Reconciler{
		Store:        store,
		RadiusMeters: radiusMeters,
		Grace:        grace,
		Log:          log,
		now:          time.Now,
	}
}

// Run executes Tick on the given interval until the context is
// canceled. A slow tick delays the next one, it is never aborted.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick is one reconciliation pass: evaluate every chat, then sweep
// whatever has an elapsed countdown. A storage failure on one chat
// skips that chat only.
func (r *Reconciler) Tick(ctx context.Context) {
	chats, err := r.Store.ListActiveChats(ctx)
	if err != nil {
		r.Log.Error("reconcile_list_failed", "error", err)
		return
	}
	for _, chat := range chats {
		if err := r.evaluate(ctx, chat); err != nil {
			r.Log.Error("reconcile_chat_failed", "chat_id", chat.ID, "error", err)
		}
	}

	r.sweepElapsed(ctx)
}

func (r *Reconciler) evaluate(ctx context.Context, chat repo.ChatInfo) error {
	now := r.now()

	if elapsed(chat.ExpiresAt, now) {
		return r.Store.DeleteChatCascade(ctx, chat.ID)
	}

	samples := make([]*repo.LocationSample, 0, len(chat.ParticipantIDs))
	for _, userID := range chat.ParticipantIDs {
		sample, err := r.Store.LatestLocation(ctx, userID)
		if err != nil {
			return fmt.Errorf("location for user %d: %w", userID, err)
		}
		if sample != nil {
			samples = append(samples, sample)
		}
	}

	// Insufficient location data must never start a countdown.
	if len(chat.ParticipantIDs) < 2 || len(samples) < 2 {
		if chat.ExpiresAt != nil {
			return r.Store.UpdateChatExpiry(ctx, chat.ID, nil)
		}
		return nil
	}

	distance := geo.Distance(
		geo.Point{Lat: samples[0].Lat, Lon: samples[0].Lon},
		geo.Point{Lat: samples[1].Lat, Lon: samples[1].Lon},
	)

	d := decide(chat.ExpiresAt, distance, r.RadiusMeters, now, r.Grace)
	switch {
	case d.tighten:
		r.Log.Info("chat_out_of_range", "chat_id", chat.ID, "distance_m", distance, "expires_at", d.candidate)
		return r.Store.TightenChatExpiry(ctx, chat.ID, d.candidate)
	case d.clear:
		r.Log.Info("chat_back_in_range", "chat_id", chat.ID, "distance_m", distance)
		return r.Store.UpdateChatExpiry(ctx, chat.ID, nil)
	default:
		return nil
	}
}

// sweepElapsed is the second pass: it catches chats whose countdown
// elapsed before this tick's per-chat loop reached them or that were
// set by an earlier tick.
func (r *Reconciler) sweepElapsed(ctx context.Context) {
	chats, err := r.Store.ListActiveChats(ctx)
	if err != nil {
		r.Log.Error("reconcile_sweep_list_failed", "error", err)
		return
	}
	now := r.now()
	for _, chat := range chats {
		if !elapsed(chat.ExpiresAt, now) {
			continue
		}
		r.Log.Info("chat_expired", "chat_id", chat.ID, "expired_at", *chat.ExpiresAt)
		if err := r.Store.DeleteChatCascade(ctx, chat.ID); err != nil {
			r.Log.Error("reconcile_sweep_delete_failed", "chat_id", chat.ID, "error", err)
		}
	}
}

type expiryDecision struct {
	tighten   bool
	candidate time.Time
	clear     bool
}

// decide is the pure proximity state transition for one chat. A
// countdown only ever starts fresh or moves earlier; returning to
// range is the only way it resets.
func decide(current *time.Time, distance, radius float64, now time.Time, grace time.Duration) expiryDecision {
	if distance > radius {
		candidate := now.Add(grace)
		if current == nil || candidate.Before(*current) {
			return expiryDecision{tighten: true, candidate: candidate}
		}
		return expiryDecision{}
	}
	if current != nil {
		return expiryDecision{clear: true}
	}
	return expiryDecision{}
}

func elapsed(expiresAt *time.Time, now time.Time) bool {
	return expiresAt != nil && !expiresAt.After(now)
}
