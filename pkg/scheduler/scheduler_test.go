// Copyright 2025 Ceramic Network

package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsNilTask(t *testing.T) {
	_, err := New(Config{Interval: time.Millisecond})
	assert.ErrorIs(t, err, ErrNilTask)
}

func TestStartRunsTaskImmediatelyThenOnInterval(t *testing.T) {
	var calls int32
	s, err := New(Config{
		Interval: 10 * time.Millisecond,
		Task: func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		},
	})
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestStopWaitsForInFlightTick(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	s, err := New(Config{
		Interval: time.Hour,
		Task: func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		},
	})
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	<-started

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Stop returned before in-flight tick finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	<-done
	assert.Equal(t, StateStopped, s.State())
}

func TestTaskErrorDoesNotStopLoop(t *testing.T) {
	var calls int32
	s, err := New(Config{
		Interval: 10 * time.Millisecond,
		Task: func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			return assert.AnError
		},
	})
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) >= 2
	}, time.Second, 5*time.Millisecond)
}
