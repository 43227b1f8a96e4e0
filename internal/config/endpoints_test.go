package config

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProvider struct {
	url   string
	err   error
	calls int
}

func (p *countingProvider) BaseURL(ctx context.Context) (string, error) {
	p.calls++
	return p.url, p.err
}

func TestEndpoints_StreamURLDerivation(t *testing.T) {
	tests := []struct {
		name       string
		base       string
		streamBase string
		want       string
	}{
		{"http becomes ws", "http://localhost:8081", "", "ws://localhost:8081/api/tasks/stream/ws?include_snapshot=false&project_id=p1"},
		{"https becomes wss", "https://board.example.com/", "", "wss://board.example.com/api/tasks/stream/ws?include_snapshot=false&project_id=p1"},
		{"explicit stream root", "http://api:80", "wss://push.example.com/", "wss://push.example.com/api/tasks/stream/ws?include_snapshot=false&project_id=p1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEndpoints(StaticBaseURL(tt.base), tt.streamBase)
			require.NoError(t, e.Init(context.Background()))
			got, err := e.StreamURL("/api/tasks/stream/ws", "project_id", "p1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEndpoints_InitOnceUntilReset(t *testing.T) {
	p := &countingProvider{url: "http://a:1"}
	e := NewEndpoints(p, "")

	_, err := e.API()
	require.ErrorIs(t, err, ErrEndpointsNotInitialized)

	for range 3 {
		require.NoError(t, e.Init(context.Background()))
	}
	assert.Equal(t, 1, p.calls, "provider consulted once")

	p.url = "http://b:2"
	e.Reset()
	_, err = e.StreamURL("/x", "project_id", "p")
	require.ErrorIs(t, err, ErrEndpointsNotInitialized)

	require.NoError(t, e.Init(context.Background()))
	api, err := e.API()
	require.NoError(t, err)
	assert.Equal(t, "http://b:2", api)
	assert.Equal(t, 2, p.calls)
}

func TestEndpoints_InitErrors(t *testing.T) {
	tests := []struct {
		name string
		p    *countingProvider
	}{
		{"provider error", &countingProvider{err: errors.New("agent offline")}},
		{"empty url", &countingProvider{}},
		{"unsupported scheme", &countingProvider{url: "ftp://files"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEndpoints(tt.p, "")
			require.Error(t, e.Init(context.Background()))
			_, err := e.API()
			assert.ErrorIs(t, err, ErrEndpointsNotInitialized, "failed Init leaves endpoints unresolved")
		})
	}
}

func TestFromConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.APIBaseURL = "https://board.test"
	e := FromConfig(cfg)
	require.NoError(t, e.Init(context.Background()))
	api, err := e.API()
	require.NoError(t, err)
	assert.Equal(t, "https://board.test", api)
}
