// Copyright 2025 Ceramic Network

package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemQueuePushThenReceive(t *testing.T) {
	q := NewMemQueue(1)
	q.Push(BatchDescriptor{BatchID: "b1", RequestIDs: []string{"r1", "r2"}})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "b1", msg.Data.BatchID)
	assert.NoError(t, msg.Ack(ctx))
}

func TestMemQueueReceiveTimesOutWithNilMessage(t *testing.T) {
	q := NewMemQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	msg, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestMemQueueNackRedeliversMessage(t *testing.T) {
	q := NewMemQueue(1)
	q.Push(BatchDescriptor{BatchID: "b1"})

	ctx := context.Background()
	msg, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, msg.Nack(ctx))

	redelivered, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b1", redelivered.Data.BatchID)
}
