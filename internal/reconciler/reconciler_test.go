package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkotelev/nearchat/internal/geo"
	"github.com/vkotelev/nearchat/internal/repo"
)

type memStore struct {
	chats     map[uint]*repo.ChatInfo
	locations map[uint]*repo.LocationSample

	locationErr map[uint]error
	deleted     []uint
}

func newMemStore() *memStore {
	return &memStore{
		chats:       make(map[uint]*repo.ChatInfo),
		locations:   make(map[uint]*repo.LocationSample),
		locationErr: make(map[uint]error),
	}
}

func (m *memStore) ListActiveChats(context.Context) ([]repo.ChatInfo, error) {
	chats := make([]repo.ChatInfo, 0, len(m.chats))
	for _, chat := range m.chats {
		chats = append(chats, *chat)
	}
	return chats, nil
}

func (m *memStore) DeleteChatCascade(_ context.Context, chatID uint) error {
	m.deleted = append(m.deleted, chatID)
	delete(m.chats, chatID)
	return nil
}

func (m *memStore) UpdateChatExpiry(_ context.Context, chatID uint, expiresAt *time.Time) error {
	if chat, ok := m.chats[chatID]; ok {
		chat.ExpiresAt = expiresAt
	}
	return nil
}

func (m *memStore) TightenChatExpiry(_ context.Context, chatID uint, candidate time.Time) error {
	chat, ok := m.chats[chatID]
	if !ok {
		return nil
	}
	if chat.ExpiresAt == nil || chat.ExpiresAt.After(candidate) {
		t := candidate
		chat.ExpiresAt = &t
	}
	return nil
}

func (m *memStore) LatestLocation(_ context.Context, userID uint) (*repo.LocationSample, error) {
	if err := m.locationErr[userID]; err != nil {
		return nil, err
	}
	return m.locations[userID], nil
}

func (m *memStore) placeAt(userID uint, p geo.Point) {
	m.locations[userID] = &repo.LocationSample{Lat: p.Lat, Lon: p.Lon, SampledAt: time.Now()}
}

func newTestReconciler(store *memStore, at time.Time) *Reconciler {
	r := New(store, 1000, 24*time.Hour, slog.New(slog.DiscardHandler))
	r.now = func() time.Time { return at }
	return r
}

func TestTick_ProximityStateMachine(t *testing.T) {
	store := newMemStore()
	store.chats[1] = &repo.ChatInfo{ID: 1, ParticipantIDs: []uint{10, 20}}

	base := geo.Point{Lat: 55.7558, Lon: 37.6173}
	now := time.Unix(1_700_000_000, 0)
	r := newTestReconciler(store, now)

	// 50 m apart, well inside the 1000 m radius: stays indefinite
	store.placeAt(10, base)
	store.placeAt(20, geo.Destination(base, 90, 50))
	for range 3 {
		r.Tick(context.Background())
		require.Nil(t, store.chats[1].ExpiresAt)
	}

	// drifts to 1600 m: countdown starts at now + grace
	store.placeAt(20, geo.Destination(base, 90, 1600))
	r.Tick(context.Background())
	require.NotNil(t, store.chats[1].ExpiresAt)
	firstDeadline := *store.chats[1].ExpiresAt
	assert.Equal(t, now.Add(24*time.Hour), firstDeadline)

	// still out of range on a later tick: deadline must not move later
	later := now.Add(time.Hour)
	r.now = func() time.Time { return later }
	r.Tick(context.Background())
	require.NotNil(t, store.chats[1].ExpiresAt)
	assert.Equal(t, firstDeadline, *store.chats[1].ExpiresAt)

	// back inside the radius: countdown resets to indefinite
	store.placeAt(20, geo.Destination(base, 90, 400))
	r.Tick(context.Background())
	assert.Nil(t, store.chats[1].ExpiresAt)
	assert.Empty(t, store.deleted)
}

func TestTick_DeletesElapsedChat(t *testing.T) {
	store := newMemStore()
	now := time.Unix(1_700_000_000, 0)
	past := now.Add(-time.Minute)
	store.chats[1] = &repo.ChatInfo{ID: 1, ExpiresAt: &past, ParticipantIDs: []uint{10, 20}}

	r := newTestReconciler(store, now)
	r.Tick(context.Background())

	assert.Equal(t, []uint{1}, store.deleted)
	assert.Empty(t, store.chats)
}

func TestSweep_CatchesCountdownSetByEarlierTick(t *testing.T) {
	store := newMemStore()
	store.chats[1] = &repo.ChatInfo{ID: 1, ParticipantIDs: []uint{10, 20}}

	base := geo.Point{Lat: 48.8566, Lon: 2.3522}
	store.placeAt(10, base)
	store.placeAt(20, geo.Destination(base, 0, 5000))

	now := time.Unix(1_700_000_000, 0)
	r := newTestReconciler(store, now)
	r.Grace = time.Minute

	r.Tick(context.Background())
	require.NotNil(t, store.chats[1].ExpiresAt)

	// two minutes on: the evaluate pass deletes it; a second tick on
	// the already-gone chat stays a no-op
	r.now = func() time.Time { return now.Add(2 * time.Minute) }
	r.Tick(context.Background())
	assert.Equal(t, []uint{1}, store.deleted)

	r.Tick(context.Background())
	assert.Equal(t, []uint{1}, store.deleted)
}

func TestTick_MissingSamplesClearExpiry(t *testing.T) {
	store := newMemStore()
	now := time.Unix(1_700_000_000, 0)
	future := now.Add(time.Hour)
	store.chats[1] = &repo.ChatInfo{ID: 1, ExpiresAt: &future, ParticipantIDs: []uint{10, 20}}

	// only one participant ever reported a location
	store.placeAt(10, geo.Point{Lat: 1, Lon: 1})

	r := newTestReconciler(store, now)
	r.Tick(context.Background())

	assert.Nil(t, store.chats[1].ExpiresAt)
	assert.Empty(t, store.deleted)
}

func TestTick_StorageErrorSkipsChatNotTick(t *testing.T) {
	store := newMemStore()
	now := time.Unix(1_700_000_000, 0)
	store.chats[1] = &repo.ChatInfo{ID: 1, ParticipantIDs: []uint{10, 20}}
	store.chats[2] = &repo.ChatInfo{ID: 2, ParticipantIDs: []uint{30, 40}}

	store.locationErr[10] = errors.New("db down")

	base := geo.Point{Lat: 48.8566, Lon: 2.3522}
	store.placeAt(30, base)
	store.placeAt(40, geo.Destination(base, 90, 3000))

	r := newTestReconciler(store, now)
	r.Tick(context.Background())

	// chat 1 failed and was skipped; chat 2 still got its countdown
	assert.Nil(t, store.chats[1].ExpiresAt)
	require.NotNil(t, store.chats[2].ExpiresAt)
	assert.Equal(t, now.Add(24*time.Hour), *store.chats[2].ExpiresAt)
}

func TestDecide(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	grace := time.Hour
	soon := now.Add(30 * time.Minute)
	late := now.Add(2 * time.Hour)

	tests := []struct {
		name     string
		current  *time.Time
		distance float64
		tighten  bool
		clear    bool
	}{
		{name: "in range no countdown", distance: 500},
		{name: "in range clears countdown", current: &soon, distance: 500, clear: true},
		{name: "out of range starts countdown", distance: 1500, tighten: true},
		{name: "out of range keeps earlier deadline", current: &soon, distance: 1500},
		{name: "out of range tightens later deadline", current: &late, distance: 1500, tighten: true},
		{name: "boundary distance is in range", distance: 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := decide(tt.current, tt.distance, 1000, now, grace)
			assert.Equal(t, tt.tighten, d.tighten)
			assert.Equal(t, tt.clear, d.clear)
			if tt.tighten {
				assert.Equal(t, now.Add(grace), d.candidate)
			}
		})
	}
}
