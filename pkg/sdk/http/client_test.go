package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func TestDoRequest_HeadersAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer t1", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		b, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"symbol":"AAPL"}`, string(b))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"message":"ok"}`))
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL + "/"})
	var out envelope
	resp, err := c.DoRequest(context.Background(), http.MethodPost, "/orders",
		&RequestOptions{Token: "t1", Data: map[string]string{"symbol": "AAPL"}}, &out)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.True(t, out.Success)
	assert.Equal(t, "ok", out.Message)
	assert.True(t, resp.IsSuccess())
}

func TestDoRequest_DecodesNon2xxBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"success":false,"message":"Insufficient holdings"}`))
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL})
	var out envelope
	resp, err := c.DoRequest(context.Background(), http.MethodPost, "/orders", nil, &out)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode())
	assert.False(t, out.Success)
	assert.Equal(t, "Insufficient holdings", out.Message)
	assert.False(t, resp.IsSuccess())
}

func TestDoRequest_RetriesOnlyGet(t *testing.T) {
	var gets, posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			if gets.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(`{"success":true}`))
		case http.MethodPost:
			posts.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL, RetryCount: 2})

	resp, err := c.DoRequest(context.Background(), http.MethodGet, "/orders", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, int32(2), gets.Load())

	resp, err = c.DoRequest(context.Background(), http.MethodPost, "/orders", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode())
	assert.Equal(t, int32(1), posts.Load())
}

func TestDoRequest_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(Options{BaseURL: url, Timeout: time.Second})
	_, err := c.DoRequest(context.Background(), http.MethodPost, "/auth/login", nil, nil)
	assert.Error(t, err)
}

func TestDoRequest_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL})
	var out envelope
	_, err := c.DoRequest(context.Background(), http.MethodGet, "/orders", nil, &out)
	var de *DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, http.StatusOK, de.Status)
}
