package riskstate_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	json "github.com/bytedance/sonic"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/niftyrun/internal/domain"
	"github.com/sawpanic/niftyrun/internal/riskstate"
)

func startPublisher(t *testing.T, store *riskstate.Store, mirror riskstate.Mirror) (*riskstate.Publisher, context.CancelFunc) {
	t.Helper()
	pub := riskstate.NewPublisher(store, mirror)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = pub.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return pub, cancel
}

func TestStore_InitialVersion(t *testing.T) {
	store := riskstate.NewStore(domain.RiskState{OpenPositions: 2})
	cur := store.Current()

	assert.Equal(t, uint64(1), cur.Version)
	assert.Equal(t, 2, cur.OpenPositions)
	assert.False(t, cur.UpdatedAt.IsZero())
}

func TestPublisher_SerializesUpdates(t *testing.T) {
	store := riskstate.NewStore(domain.RiskState{})
	pub, _ := startPublisher(t, store, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := pub.Submit(context.Background(), riskstate.AddPositions(1))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	cur := store.Current()
	assert.Equal(t, 50, cur.OpenPositions)
	assert.Equal(t, uint64(51), cur.Version)
}

func TestPublisher_ReadersSeeImmutableSnapshots(t *testing.T) {
	store := riskstate.NewStore(domain.RiskState{})
	pub, _ := startPublisher(t, store, nil)

	before := store.Current()
	next, err := pub.Submit(context.Background(), func(s domain.RiskState) domain.RiskState {
		s.VolSpikeHalt = true
		s.CooldownActive = true
		s.DayPnLPct = -0.012
		return s
	})
	require.NoError(t, err)

	assert.False(t, before.VolSpikeHalt, "a held snapshot must not change")
	assert.True(t, next.VolSpikeHalt)
	assert.Equal(t, next, store.Current())
	assert.Greater(t, next.Version, before.Version)
}

func TestPublisher_Updates(t *testing.T) {
	store := riskstate.NewStore(domain.RiskState{OpenPositions: 1})
	pub, _ := startPublisher(t, store, nil)
	ctx := context.Background()

	s, err := pub.Submit(ctx, riskstate.AddPositions(-3))
	require.NoError(t, err)
	assert.Equal(t, 0, s.OpenPositions)

	s, err = pub.Submit(ctx, riskstate.SetDayPnLPct(-0.02))
	require.NoError(t, err)
	assert.Equal(t, -0.02, s.DayPnLPct)

	s, err = pub.Submit(ctx, riskstate.SetVolSpikeHalt(true))
	require.NoError(t, err)
	assert.True(t, s.VolSpikeHalt)

	s, err = pub.Submit(ctx, riskstate.SetCooldown(true))
	require.NoError(t, err)
	assert.True(t, s.CooldownActive)
}

func TestPublisher_StoppedRejectsSubmit(t *testing.T) {
	store := riskstate.NewStore(domain.RiskState{})
	pub := riskstate.NewPublisher(store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = pub.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	_, err := pub.Submit(context.Background(), riskstate.AddPositions(1))
	assert.ErrorIs(t, err, riskstate.ErrPublisherStopped)
	assert.Equal(t, 0, store.Current().OpenPositions)
}

func TestPublisher_Listener(t *testing.T) {
	store := riskstate.NewStore(domain.RiskState{})
	pub := riskstate.NewPublisher(store, nil)

	var seen []uint64
	pub.OnPublish(func(s domain.RiskState) { seen = append(seen, s.Version) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = pub.Run(ctx) }()

	_, err := pub.Submit(ctx, riskstate.AddPositions(1))
	require.NoError(t, err)
	_, err = pub.Submit(ctx, riskstate.AddPositions(1))
	require.NoError(t, err)

	assert.Equal(t, []uint64{2, 3}, seen)
}

type memMirror struct {
	mu    sync.Mutex
	state *domain.RiskState
	err   error
}

func (m *memMirror) Save(_ context.Context, s domain.RiskState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.state = &s
	return nil
}

func (m *memMirror) Load(context.Context) (domain.RiskState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return domain.RiskState{}, false, m.err
	}
	return *m.state, true, nil
}

func TestPublisher_MirrorAndRestore(t *testing.T) {
	mirror := &memMirror{}

	store := riskstate.NewStore(domain.RiskState{})
	pub, _ := startPublisher(t, store, mirror)
	_, err := pub.Submit(context.Background(), riskstate.AddPositions(1))
	require.NoError(t, err)

	restarted := riskstate.NewStore(domain.RiskState{})
	ok, err := riskstate.NewPublisher(restarted, mirror).Restore(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, restarted.Current().OpenPositions)
}

func TestPublisher_MirrorFailureDoesNotBlockPublish(t *testing.T) {
	mirror := &memMirror{err: errors.New("redis down")}

	store := riskstate.NewStore(domain.RiskState{})
	pub, _ := startPublisher(t, store, mirror)

	s, err := pub.Submit(context.Background(), riskstate.SetCooldown(true))
	require.NoError(t, err)
	assert.True(t, s.CooldownActive)
}

func TestRedisMirror_Save(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mirror := riskstate.NewRedisMirrorWithClient(db, "")

	state := domain.RiskState{OpenPositions: 1, Version: 4, UpdatedAt: time.Date(2025, 9, 22, 4, 0, 0, 0, time.UTC)}
	payload, err := json.Marshal(state)
	require.NoError(t, err)

	mock.ExpectSet(riskstate.DefaultRedisKey, payload, 0).SetVal("OK")
	require.NoError(t, mirror.Save(context.Background(), state))

	mock.ExpectSet(riskstate.DefaultRedisKey, payload, 0).SetErr(redis.TxFailedErr)
	assert.Error(t, mirror.Save(context.Background(), state))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisMirror_Load(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mirror := riskstate.NewRedisMirrorWithClient(db, "custom:key")
	ctx := context.Background()

	t.Run("hit", func(t *testing.T) {
		mock.ExpectGet("custom:key").SetVal(`{"open_positions":2,"day_pnl_pct":-0.01,"vol_spike_halt":true,"cooldown_active":false,"version":9,"updated_at":"2025-09-22T04:00:00Z"}`)

		state, ok, err := mirror.Load(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 2, state.OpenPositions)
		assert.True(t, state.VolSpikeHalt)
		assert.Equal(t, uint64(9), state.Version)
	})

	t.Run("miss", func(t *testing.T) {
		mock.ExpectGet("custom:key").RedisNil()

		_, ok, err := mirror.Load(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("corrupt payload", func(t *testing.T) {
		mock.ExpectGet("custom:key").SetVal("{not json")

		_, _, err := mirror.Load(ctx)
		assert.Error(t, err)
	})

	t.Run("redis error", func(t *testing.T) {
		mock.ExpectGet("custom:key").SetErr(redis.TxFailedErr)

		_, _, err := mirror.Load(ctx)
		assert.Error(t, err)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
