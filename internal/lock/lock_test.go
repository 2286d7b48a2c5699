/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package redlock

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

func TestLocker_Lock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "upload-engine", "gw-1")

	mock.ExpectSetNX("upload-engine", "gw-1", 30*time.Second).SetVal(true)
	assert.NoError(t, locker.Lock(context.Background(), 30*time.Second))

	mock.ExpectSetNX("upload-engine", "gw-1", 30*time.Second).SetVal(false)
	err := locker.Lock(context.Background(), 30*time.Second)
	assert.ErrorIs(t, err, ErrLockHeld)
	assert.EqualError(t, err, "lock is already held: upload-engine")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_LockRedisError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "upload-engine", "gw-1")

	mock.ExpectSetNX("upload-engine", "gw-1", time.Second).SetErr(errors.New("connection refused"))
	err := locker.Lock(context.Background(), time.Second)
	assert.EqualError(t, err, "connection refused")
	assert.False(t, errors.Is(err, ErrLockHeld))
}

func TestLocker_Unlock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "upload-engine", "gw-1")

	mock.ExpectEval(unlockScript, []string{"upload-engine"}, "gw-1").SetVal(int64(1))
	assert.NoError(t, locker.Unlock(context.Background()))

	mock.ExpectEval(unlockScript, []string{"upload-engine"}, "gw-1").SetVal(int64(0))
	assert.EqualError(t, locker.Unlock(context.Background()),
		"unlock failed, lock for upload-engine expired or is held by another process")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_ExtendLock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "upload-engine", "gw-1")

	mock.ExpectEval(extendScript, []string{"upload-engine"}, "gw-1", "5000").SetVal(int64(1))
	assert.NoError(t, locker.ExtendLock(context.Background(), 5*time.Second))

	mock.ExpectEval(extendScript, []string{"upload-engine"}, "gw-1", "5000").SetVal(int64(0))
	assert.EqualError(t, locker.ExtendLock(context.Background(), 5*time.Second),
		"extending lock upload-engine failed, lease lost")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_SingleHolder(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	first := NewLocker(client, "upload-engine", "gw-1")
	second := NewLocker(client, "upload-engine", "gw-2")

	require.NoError(t, first.Lock(ctx, time.Minute))
	assert.ErrorIs(t, second.Lock(ctx, time.Minute), ErrLockHeld)
	assert.Error(t, second.Unlock(ctx), "only the holder may release")
	assert.Error(t, second.ExtendLock(ctx, time.Minute))

	require.NoError(t, first.ExtendLock(ctx, time.Minute))
	require.NoError(t, first.Unlock(ctx))
	assert.NoError(t, second.Lock(ctx, time.Minute))
}

func TestLocker_WaitLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	holder := NewLocker(client, "upload-engine", "gw-1")
	waiter := NewLocker(client, "upload-engine", "gw-2")
	require.NoError(t, holder.Lock(ctx, time.Minute))

	err := waiter.WaitLock(ctx, time.Minute, 300*time.Millisecond)
	assert.EqualError(t, err, "failed to acquire lock upload-engine within 300ms")

	require.NoError(t, holder.Unlock(ctx))
	assert.NoError(t, waiter.WaitLock(ctx, time.Minute, time.Second))
}

func TestLocker_WaitLockContextCancelled(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	holder := NewLocker(client, "upload-engine", "gw-1")
	require.NoError(t, holder.Lock(context.Background(), time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewLocker(client, "upload-engine", "gw-2").WaitLock(ctx, time.Minute, time.Second)
	assert.Error(t, err)
}
