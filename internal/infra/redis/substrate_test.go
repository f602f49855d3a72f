package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-session-engine/internal/app"
	"quiz-session-engine/internal/domain"
)

func newTestSubstrate(t *testing.T) *Substrate {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSubstrate(client, time.Hour)
}

func TestRedisSetGetRoundTrip(t *testing.T) {
	s := newTestSubstrate(t)
	ctx := context.Background()

	rec, err := s.Set(ctx, "session:abc", []byte(`{"id":"abc"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Version)

	got, err := s.Get(ctx, "session:abc")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.JSONEq(t, `{"id":"abc"}`, string(got.Data))
}

func TestRedisGetMissingKey(t *testing.T) {
	s := newTestSubstrate(t)
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestRedisVersionsAreMonotonic(t *testing.T) {
	s := newTestSubstrate(t)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		rec, err := s.Set(ctx, "k", []byte(`{}`))
		require.NoError(t, err)
		assert.Equal(t, int64(i), rec.Version)
	}
}

func TestRedisUpdateMergesFields(t *testing.T) {
	s := newTestSubstrate(t)
	ctx := context.Background()

	_, err := s.Set(ctx, "session:abc", []byte(`{"id":"abc","participantCount":0}`))
	require.NoError(t, err)

	rec, err := s.Update(ctx, "session:abc", map[string]any{"participantCount": 2})
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Version)
	assert.Contains(t, string(rec.Data), `"participantCount":2`)

	_, err = s.Update(ctx, "missing", map[string]any{"x": 1})
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestRedisDeleteRemovesRecordAndVersion(t *testing.T) {
	s := newTestSubstrate(t)
	ctx := context.Background()

	_, err := s.Set(ctx, "k", []byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "k"))

	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestRedisSubscribeReceivesPublishedRecords(t *testing.T) {
	s := newTestSubstrate(t)
	ctx := context.Background()

	records := make(chan app.Record, 8)
	cancel, err := s.Subscribe("session:abc:snapshot", func(rec app.Record) { records <- rec })
	require.NoError(t, err)
	defer cancel()

	want, err := s.Set(ctx, "session:abc:snapshot", []byte(`{"state":"active"}`))
	require.NoError(t, err)

	select {
	case rec := <-records:
		assert.Equal(t, want.Key, rec.Key)
		assert.Equal(t, want.Version, rec.Version)
		assert.JSONEq(t, `{"state":"active"}`, string(rec.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never received the published record")
	}
}
