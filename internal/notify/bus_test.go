package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/tradedash/internal/domain"
)

func TestBus_DefaultExpiry(t *testing.T) {
	b := NewBus(0)
	fixed := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return fixed }

	n := b.Publish("Login successful", domain.NotificationInfo)
	assert.Equal(t, fixed.Add(3000*time.Millisecond), n.ExpiresAt)
	assert.NotEmpty(t, n.ID)
	b.Dismiss()
}

func TestBus_AutoClear(t *testing.T) {
	b := NewBus(40 * time.Millisecond)
	b.Publish("hello", domain.NotificationInfo)

	cur, ok := b.Current()
	require.True(t, ok)
	assert.Equal(t, "hello", cur.Message)

	assert.Eventually(t, func() bool {
		_, ok := b.Current()
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestBus_NewerReplacesOlder(t *testing.T) {
	b := NewBus(80 * time.Millisecond)
	a := b.Publish("A", domain.NotificationInfo)
	time.Sleep(50 * time.Millisecond)
	bn := b.Publish("B", domain.NotificationError)
	assert.NotEqual(t, a.ID, bn.ID)

	// A 的定时器到点时不能清掉 B
	time.Sleep(45 * time.Millisecond)
	cur, ok := b.Current()
	require.True(t, ok)
	assert.Equal(t, "B", cur.Message)
	assert.Equal(t, domain.NotificationError, cur.Kind)

	assert.Eventually(t, func() bool {
		_, ok := b.Current()
		return !ok
	}, time.Second, 5*time.Millisecond)
}
