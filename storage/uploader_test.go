// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soothill/currentcost-logger/monitoring"
)

// recordingSink records delivered readings. failOn lists 1-based attempt
// numbers that fail.
type recordingSink struct {
	delivered []monitoring.Reading
	attempts  int
	failOn    map[int]bool
	onDeliver func()
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Deliver(_ context.Context, r monitoring.Reading) error {
	s.attempts++
	if s.onDeliver != nil {
		s.onDeliver()
	}
	if s.failOn[s.attempts] {
		return fmt.Errorf("attempt %d failed", s.attempts)
	}
	s.delivered = append(s.delivered, r)
	return nil
}

func (s *recordingSink) Close() error { return nil }

type recordingNotifier struct {
	failures   int
	recoveries int
}

func (n *recordingNotifier) SendDeliveryFailure(context.Context, string, error) error {
	n.failures++
	return nil
}

func (n *recordingNotifier) SendDeliveryRecovery(context.Context, string, int) error {
	n.recoveries++
	return nil
}

func (n *recordingNotifier) IsEnabled() bool { return true }

// fakeClock advances by step every time it is read
type fakeClock struct {
	t    time.Time
	step time.Duration
}

func (c *fakeClock) Now() time.Time {
	now := c.t
	c.t = c.t.Add(c.step)
	return now
}

func fill(b *ReadingBuffer, n int) {
	for i := 1; i <= n; i++ {
		b.PushBack(nthReading(i))
	}
}

func TestUploader_EmptyBufferDoesNotCallSink(t *testing.T) {
	sink := &recordingSink{}
	u := NewUploader(NewReadingBuffer(10), sink, time.Second, nil)

	delivered, err := u.Drain(context.Background())

	require.NoError(t, err)
	assert.Zero(t, delivered)
	assert.Zero(t, sink.attempts)
}

func TestUploader_DeliversInPushOrder(t *testing.T) {
	buffer := NewReadingBuffer(100)
	fill(buffer, 50)
	sink := &recordingSink{}
	u := NewUploader(buffer, sink, time.Minute, nil)

	delivered, err := u.Drain(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 50, delivered)
	assert.Zero(t, buffer.Len())
	require.Len(t, sink.delivered, 50)
	for i, r := range sink.delivered {
		assert.Equal(t, i+1, r.Watts, "delivery %d out of order", i)
	}
}

func TestUploader_FailureKeepsReadingAtHead(t *testing.T) {
	buffer := NewReadingBuffer(10)
	fill(buffer, 5)
	sink := &recordingSink{failOn: map[int]bool{3: true}}
	u := NewUploader(buffer, sink, time.Minute, nil)

	delivered, err := u.Drain(context.Background())

	require.Error(t, err)
	assert.Equal(t, 2, delivered)
	assert.Equal(t, 3, sink.attempts, "no further attempts after the first failure")
	assert.Equal(t, 3, buffer.Len())
	head, _ := buffer.PeekFront()
	assert.Equal(t, 3, head.Watts)
	assert.True(t, u.Failing())

	// Next cycle retries the failed reading first
	delivered, err = u.Drain(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, delivered)
	assert.False(t, u.Failing())
	require.Len(t, sink.delivered, 5)
	for i, r := range sink.delivered {
		assert.Equal(t, i+1, r.Watts)
	}
}

func TestUploader_RetryDeliversExactlyOnce(t *testing.T) {
	buffer := NewReadingBuffer(10)
	sink := &recordingSink{failOn: map[int]bool{1: true}}
	u := NewUploader(buffer, sink, time.Minute, nil)

	// Interleave pushes and drains the way the read loop does
	buffer.PushBack(nthReading(1))
	_, err := u.Drain(context.Background())
	require.Error(t, err)

	buffer.PushBack(nthReading(2))
	_, err = u.Drain(context.Background())
	require.NoError(t, err)

	require.Len(t, sink.delivered, 2)
	assert.Equal(t, 1, sink.delivered[0].Watts)
	assert.Equal(t, 2, sink.delivered[1].Watts)
	assert.Equal(t, 3, sink.attempts)
}

func TestUploader_BudgetBoundsCycle(t *testing.T) {
	buffer := NewReadingBuffer(100)
	fill(buffer, 20)
	sink := &recordingSink{}
	u := NewUploader(buffer, sink, 5*time.Second, nil)
	clock := &fakeClock{t: epoch, step: time.Second}
	u.now = clock.Now

	delivered, err := u.Drain(context.Background())

	require.NoError(t, err)
	assert.Positive(t, delivered)
	assert.Less(t, delivered, 20)
	assert.Equal(t, 20-delivered, buffer.Len())
	head, _ := buffer.PeekFront()
	assert.Equal(t, delivered+1, head.Watts, "remaining readings stay queued in order")
}

func TestUploader_ZeroTimeLeftDeliversNothing(t *testing.T) {
	buffer := NewReadingBuffer(10)
	fill(buffer, 3)
	sink := &recordingSink{}
	u := NewUploader(buffer, sink, time.Second, nil)
	clock := &fakeClock{t: epoch, step: time.Hour}
	u.now = clock.Now

	delivered, err := u.Drain(context.Background())

	require.NoError(t, err)
	assert.Zero(t, delivered)
	assert.Zero(t, sink.attempts)
	assert.Equal(t, 3, buffer.Len())
}

func TestUploader_CancelStopsBetweenDeliveries(t *testing.T) {
	buffer := NewReadingBuffer(10)
	fill(buffer, 5)
	ctx, cancel := context.WithCancel(context.Background())
	sink := &recordingSink{}
	sink.onDeliver = func() {
		if sink.attempts == 2 {
			cancel()
		}
	}
	u := NewUploader(buffer, sink, time.Minute, nil)

	delivered, err := u.Drain(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, delivered, "the in-flight delivery completes")
	assert.Equal(t, 3, buffer.Len())
}

func TestUploader_NotifiesOnTransitionsOnly(t *testing.T) {
	buffer := NewReadingBuffer(10)
	fill(buffer, 1)
	sink := &recordingSink{failOn: map[int]bool{1: true, 2: true, 3: true}}
	notifier := &recordingNotifier{}
	u := NewUploader(buffer, sink, time.Minute, notifier)

	for i := 0; i < 3; i++ {
		_, err := u.Drain(context.Background())
		require.Error(t, err)
	}
	_, err := u.Drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, notifier.failures)
	assert.Equal(t, 1, notifier.recoveries)
	assert.Len(t, sink.delivered, 1)
}
