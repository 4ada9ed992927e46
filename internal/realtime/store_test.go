package realtime

import (
	"context"
	"testing"
	"time"

	"HibiscusSOS/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSaveAndGetState(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewStore(rdb, 24*time.Hour, time.Hour)
	ctx := context.Background()

	lat, lon := 14.5995, 120.9842
	st := &State{
		CaseID:    "case-1",
		Status:    models.StatusActive,
		Latitude:  &lat,
		Longitude: &lon,
	}
	require.NoError(t, store.SaveState(ctx, st))
	assert.False(t, st.LastUpdated.IsZero())

	got, err := store.GetState(ctx, "case-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.StatusActive, got.Status)
	assert.Equal(t, lat, *got.Latitude)

	// 存活 TTL 为 24 小时
	ttl := mr.TTL(stateKey("case-1"))
	assert.Equal(t, 24*time.Hour, ttl)
}

func TestStoreMissReturnsNil(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewStore(rdb, 24*time.Hour, time.Hour)

	got, err := store.GetState(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStoreMarkClosedShortensTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewStore(rdb, 24*time.Hour, time.Hour)
	ctx := context.Background()

	st := &State{CaseID: "case-1", Status: models.StatusActive}
	require.NoError(t, store.SaveState(ctx, st))

	st.Status = models.StatusResolved
	require.NoError(t, store.MarkClosed(ctx, st))

	ttl := mr.TTL(stateKey("case-1"))
	assert.Equal(t, time.Hour, ttl)

	got, err := store.GetState(ctx, "case-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, got.Status)
}

func TestStoreExpiredEntryIsMiss(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewStore(rdb, 24*time.Hour, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.SaveState(ctx, &State{CaseID: "case-1", Status: models.StatusActive}))

	mr.FastForward(25 * time.Hour)

	got, err := store.GetState(ctx, "case-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStoreRescuerSample(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewStore(rdb, 24*time.Hour, time.Hour)
	ctx := context.Background()

	sample := &RescuerSample{
		RescuerID: "rescuer-1",
		CaseID:    "case-1",
		Latitude:  14.5995,
		Longitude: 120.9842,
		Accuracy:  5,
		Arrived:   false,
	}
	require.NoError(t, store.SaveRescuerSample(ctx, sample))

	got, err := store.GetRescuerSample(ctx, "rescuer-1", "case-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 14.5995, got.Latitude)
	assert.False(t, got.Arrived)

	// 其他救援者没有样本
	none, err := store.GetRescuerSample(ctx, "rescuer-2", "case-1")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestStorePresence(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewStore(rdb, 24*time.Hour, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.SetPresence(ctx, &Presence{
		UserID:      "user-1",
		Role:        "rescuer",
		ConnectedAt: time.Now(),
	}, time.Minute))
	assert.True(t, mr.Exists(presenceKey("user-1")))

	require.NoError(t, store.ClearPresence(ctx, "user-1"))
	assert.False(t, mr.Exists(presenceKey("user-1")))
}
