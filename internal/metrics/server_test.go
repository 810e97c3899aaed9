package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartAsync_ServesExpvar(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := StartAsync(ctx, "127.0.0.1:0")
	require.NoError(t, err)

	FramesApplied.Add(1)

	resp, err := http.Get("http://" + srv.Addr + "/debug/vars")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var vars map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&vars))
	assert.Contains(t, vars, "frames_applied")
	assert.Contains(t, vars, "orders_submitted")
}

func TestSnapshotEndpoint(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := StartAsync(ctx, "127.0.0.1:0")
	require.NoError(t, err)

	before := TapeDrops.Value()
	TapeDrops.Add(2)

	resp, err := http.Get("http://" + srv.Addr + "/debug/tradedash")
	require.NoError(t, err)
	defer resp.Body.Close()

	var snap map[string]map[string]int64
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, before+2, snap["tape"]["drops"])
	assert.Contains(t, snap["stream"], "frames")
	assert.Contains(t, snap["orders"], "submitted")
}
