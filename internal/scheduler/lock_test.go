package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLocker_AcquireAndRelease(t *testing.T) {
	mr, client := newMiniredis(t)
	locker := NewRedisLocker(client, "", time.Minute)
	ctx := context.Background()

	release, ok, err := locker.Acquire(ctx, "reconcile-journal")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists(defaultLockPrefix+"reconcile-journal"))
	assert.Equal(t, time.Minute, mr.TTL(defaultLockPrefix+"reconcile-journal"))

	_, ok, err = locker.Acquire(ctx, "reconcile-journal")
	require.NoError(t, err)
	assert.False(t, ok)

	// Other jobs are independent.
	releaseOther, ok, err := locker.Acquire(ctx, "sweep-attachments")
	require.NoError(t, err)
	assert.True(t, ok)
	releaseOther()

	release()
	assert.False(t, mr.Exists(defaultLockPrefix+"reconcile-journal"))

	_, ok, err = locker.Acquire(ctx, "reconcile-journal")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLocker_ExpiredLockIsNotReleasedByOldHolder(t *testing.T) {
	mr, client := newMiniredis(t)
	locker := NewRedisLocker(client, "test:", time.Second)
	ctx := context.Background()

	staleRelease, ok, err := locker.Acquire(ctx, "job")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok, err = locker.Acquire(ctx, "job")
	require.NoError(t, err)
	require.True(t, ok)

	staleRelease()
	assert.True(t, mr.Exists("test:job"), "new holder's lock must survive")
}

func TestRedisLocker_SetNXError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	locker := NewRedisLocker(client, "test:", time.Minute)
	locker.newToken = func() string { return "tok" }

	mock.ExpectSetNX("test:job", "tok", time.Minute).SetErr(errors.New("connection refused"))

	_, ok, err := locker.Acquire(context.Background(), "job")
	require.Error(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLocker_Contended(t *testing.T) {
	client, mock := redismock.NewClientMock()
	locker := NewRedisLocker(client, "test:", time.Minute)
	locker.newToken = func() string { return "tok" }

	mock.ExpectSetNX("test:job", "tok", time.Minute).SetVal(false)

	release, ok, err := locker.Acquire(context.Background(), "job")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, release)
	assert.NoError(t, mock.ExpectationsWereMet())
}
