package shutdown

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestManager_ReverseOrderOnce(t *testing.T) {
	m := NewManager()
	var order []string
	m.OnShutdown("store", func(ctx context.Context) error { order = append(order, "store"); return nil })
	m.OnShutdown("stream", func(ctx context.Context) error { order = append(order, "stream"); return errors.New("boom") })
	m.OnShutdown("api", func(ctx context.Context) error { order = append(order, "api"); return nil })

	m.Shutdown(context.Background())
	m.Shutdown(context.Background())

	assert.Equal(t, []string{"api", "stream", "store"}, order)
}

func TestManager_StopsWhenContextDone(t *testing.T) {
	m := NewManager()
	called := false
	m.OnShutdown("late", func(ctx context.Context) error { called = true; return nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.Shutdown(ctx)
	assert.False(t, called)
}
