// ABOUTME: Tests for snapshots and the status feed
// ABOUTME: Uses a live listener and a websocket client
package status

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sendspin/sendspin-caster/pkg/audio/encode"
	"github.com/Sendspin/sendspin-caster/pkg/connector"
)

func sampleReport() connector.Report {
	return connector.Report{
		TotalBytes: 4096,
		Cycles:     4,
		Outputs: []connector.OutputReport{
			{Name: "main", Codec: "opus", State: connector.StateStreaming, BytesIn: 4096, Stats: encode.Stats{Units: 10, Bytes: 900}},
			{Name: "backup", Codec: "flac", State: connector.StateFailed, Err: errors.New("broken pipe"), Dropped: 2},
		},
	}
}

func TestFromReport(t *testing.T) {
	started := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	meta := Meta{
		RunID:   "run-1",
		Input:   "44100Hz/16bit/2ch/le",
		Started: started,
		Budget:  8192,
		Targets: map[string]string{"main": "icecast2://localhost:8000/live"},
	}
	s := FromReport(meta, sampleReport(), started.Add(90*time.Second))

	assert.Equal(t, "run-1", s.RunID)
	assert.Equal(t, 90.0, s.Uptime)
	assert.Equal(t, uint64(4096), s.Transferred)
	assert.Equal(t, 1, s.Live)
	require.Len(t, s.Outputs, 2)
	assert.Equal(t, "streaming", s.Outputs[0].State)
	assert.Equal(t, "icecast2://localhost:8000/live", s.Outputs[0].Target)
	assert.Equal(t, uint64(900), s.Outputs[0].BytesOut)
	assert.Equal(t, "broken pipe", s.Outputs[1].Error)
	assert.Equal(t, uint64(2), s.Outputs[1].Dropped)
	assert.Equal(t, 0.5, s.Progress())
}

func TestProgressUnlimited(t *testing.T) {
	assert.Equal(t, -1.0, Snapshot{Transferred: 10}.Progress())
	assert.Equal(t, 1.0, Snapshot{Transferred: 20, Budget: 10}.Progress())
}

func startServer(t *testing.T) *Server {
	t.Helper()
	s := NewServer(Config{Port: 0})
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)
	return s
}

func TestStatusEndpoint(t *testing.T) {
	s := startServer(t)
	s.Publish(Snapshot{RunID: "abc", Transferred: 42})

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/status", s.Port()))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var got Snapshot
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "abc", got.RunID)
	assert.Equal(t, uint64(42), got.Transferred)
}

func TestWebSocketFeed(t *testing.T) {
	s := startServer(t)
	s.Publish(Snapshot{RunID: "first"})

	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://127.0.0.1:%d/ws", s.Port()), nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() Snapshot {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var snap Snapshot
		require.NoError(t, json.Unmarshal(data, &snap))
		return snap
	}

	// The latest snapshot arrives on connect
	assert.Equal(t, "first", read().RunID)

	require.Eventually(t, func() bool { return s.Subscribers() == 1 }, time.Second, 10*time.Millisecond)
	s.Publish(Snapshot{RunID: "second", Done: true})
	got := read()
	assert.Equal(t, "second", got.RunID)
	assert.True(t, got.Done)
}

func TestStopDisconnectsSubscribers(t *testing.T) {
	s := NewServer(Config{Port: 0})
	require.NoError(t, s.Start())

	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://127.0.0.1:%d/ws", s.Port()), nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.NoError(t, err)

	s.Stop()
	s.Stop()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, s.Subscribers())
}

func TestPublishWhileClientsComeAndGo(t *testing.T) {
	s := startServer(t)
	url := fmt.Sprintf("ws://127.0.0.1:%d/ws", s.Port())

	stop := make(chan struct{})
	published := make(chan struct{})
	go func() {
		defer close(published)
		for {
			select {
			case <-stop:
				return
			default:
				s.Publish(Snapshot{RunID: "busy"})
			}
		}
	}()

	for i := 0; i < 20; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err = conn.ReadMessage()
		require.NoError(t, err)
		conn.Close()
	}
	require.Eventually(t, func() bool { return s.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)

	s.Stop()
	close(stop)
	<-published
	s.Publish(Snapshot{RunID: "after stop"})
}
