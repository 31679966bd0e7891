// ABOUTME: Tests for pipeline building and caster runs
// ABOUTME: Runs unpaced tone input into file outputs and a loopback icecast2 server
package app

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sendspin/sendspin-caster/internal/config"
	"github.com/Sendspin/sendspin-caster/pkg/audio"
	"github.com/Sendspin/sendspin-caster/pkg/connector"
	"github.com/Sendspin/sendspin-caster/pkg/sink"
)

func baseConfig() *config.Config {
	return &config.Config{
		General: config.General{Duration: 1, ChunkSize: 4096, MinOutputs: 1},
		Input:   config.Input{Backend: "tone", SampleRate: 44100, BitsPerSample: 16, Channels: 2},
	}
}

func TestBudgetBytes(t *testing.T) {
	f := audio.Format{SampleRate: 44100, BitDepth: 16, Channels: 2}
	assert.Equal(t, uint64(176400*10), BudgetBytes(f, 10))
	assert.Equal(t, uint64(0), BudgetBytes(f, 0))
	assert.Equal(t, uint64(8000), BudgetBytes(audio.Format{SampleRate: 8000, BitDepth: 8, Channels: 1}, 1))
}

func TestServerInfo(t *testing.T) {
	o := config.Output{
		Name: "main", Codec: "opus", Host: "radio", Port: 8000, Mount: "live",
		Password: "pw", StreamName: "My Radio", Genre: "jazz", Public: true, Bitrate: 96, DumpFile: "dump.ogg",
	}
	enc, err := EncoderConfig(o, audio.Format{SampleRate: 44100, BitDepth: 16, Channels: 2})
	require.NoError(t, err)

	info := ServerInfo(o, enc, "audio/ogg")
	assert.Equal(t, "My Radio", info.Name)
	assert.Equal(t, "audio/ogg", info.ContentType)
	assert.Equal(t, 44100, info.SampleRate)
	assert.Equal(t, 2, info.Channels)
	assert.Equal(t, "dump.ogg", info.DumpFile)
	assert.True(t, strings.HasPrefix(info.UserAgent, "sendspin-caster/"))
}

func TestEncoderConfigBadMode(t *testing.T) {
	_, err := EncoderConfig(config.Output{BitrateMode: "fast"}, audio.Format{})
	assert.Error(t, err)
}

func TestTarget(t *testing.T) {
	assert.Equal(t, "icecast2://h:8000/live", Target(config.Output{ServerType: "icecast2", Host: "h", Port: 8000, Mount: "live"}))
	assert.Equal(t, "shoutcast://h:8000", Target(config.Output{ServerType: "shoutcast", Host: "h", Port: 8000}))
	assert.Equal(t, "file:///tmp/a.flac", Target(config.Output{ServerType: "file", File: "/tmp/a.flac"}))
	assert.Equal(t, "monitor", Target(config.Output{ServerType: "monitor"}))
}

func TestBuildRejectsBadOutput(t *testing.T) {
	cfg := baseConfig()
	cfg.Outputs = []config.Output{{Name: "x", Codec: "opus", ServerType: "file", File: "/dev/null", Channels: 1}}
	_, err := Build(cfg)
	assert.Error(t, err, "channel count change is unsupported")

	cfg.Outputs = []config.Output{{Name: "x", Codec: "pcm", ServerType: "ftp"}}
	_, err = Build(cfg)
	assert.Error(t, err)
}

func TestBuildUnknownBackend(t *testing.T) {
	cfg := baseConfig()
	cfg.Input.Backend = "cassette"
	_, err := Build(cfg)
	assert.Error(t, err)
}

func fileOutputs(dir string) []config.Output {
	return []config.Output{
		{Name: "raw", Codec: "pcm", ServerType: config.TypeFile, File: filepath.Join(dir, "raw.pcm")},
		{Name: "lossless", Codec: "flac", ServerType: config.TypeFile, File: filepath.Join(dir, "out.flac")},
		{Name: "opus", Codec: "opus", ServerType: config.TypeFile, File: filepath.Join(dir, "out.opus"), SampleRate: 48000, Bitrate: 64, Quality: 0.5},
	}
}

func checkFiles(t *testing.T, dir string) {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(dir, "raw.pcm"))
	require.NoError(t, err)
	assert.Len(t, raw, 176400, "pcm output carries exactly the budget")

	fl, err := os.ReadFile(filepath.Join(dir, "out.flac"))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(fl, []byte("fLaC")))

	op, err := os.ReadFile(filepath.Join(dir, "out.opus"))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(op, []byte("OggS")))
}

func TestRunToFiles(t *testing.T) {
	dir := t.TempDir()
	cfg := baseConfig()
	cfg.Outputs = fileOutputs(dir)

	c, err := New(cfg, Options{})
	require.NoError(t, err)
	assert.Equal(t, uint64(176400), c.Budget())
	assert.NotEmpty(t, c.RunID())

	report, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint64(176400), report.TotalBytes)
	require.Len(t, report.Outputs, 3)
	for _, o := range report.Outputs {
		assert.Equal(t, connector.StateClosed, o.State, o.Name)
		assert.Equal(t, uint64(176400), o.BytesIn, o.Name)
	}
	checkFiles(t, dir)
}

func TestRunQueued(t *testing.T) {
	dir := t.TempDir()
	cfg := baseConfig()
	cfg.General.QueueDepth = 256
	cfg.Outputs = fileOutputs(dir)

	c, err := New(cfg, Options{})
	require.NoError(t, err)
	report, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(176400), report.TotalBytes)
	checkFiles(t, dir)
}

func TestRunMaxOutputsLeavesExtrasUnopened(t *testing.T) {
	dir := t.TempDir()
	cfg := baseConfig()
	cfg.General.MaxOutputs = 2
	cfg.Outputs = fileOutputs(dir)

	c, err := New(cfg, Options{})
	require.NoError(t, err)
	report, err := c.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Outputs, 3)
	assert.Equal(t, connector.StateClosed, report.Outputs[0].State)
	assert.Equal(t, connector.StateClosed, report.Outputs[1].State)
	assert.Equal(t, connector.StateSkipped, report.Outputs[2].State)
	assert.ErrorIs(t, report.Outputs[2].Err, connector.ErrOutputLimit)
	assert.Zero(t, report.Outputs[2].BytesIn)

	_, err = os.Stat(filepath.Join(dir, "out.opus"))
	assert.True(t, os.IsNotExist(err), "an output past the cap is never opened")
}

func TestWriteTimeout(t *testing.T) {
	assert.Equal(t, sink.DefaultWriteTimeout, WriteTimeout(config.General{}))
	assert.Equal(t, 250*time.Millisecond, WriteTimeout(config.General{WriteTimeoutMs: 250}))
}

func TestRunCancelled(t *testing.T) {
	cfg := baseConfig()
	cfg.General.Duration = 0
	cfg.Input.Paced = true
	cfg.Outputs = []config.Output{{Name: "raw", Codec: "pcm", ServerType: config.TypeFile, File: filepath.Join(t.TempDir(), "raw.pcm")}}

	c, err := New(cfg, Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	report, err := c.Run(ctx)
	require.NoError(t, err, "cancellation is a normal stop")
	assert.Greater(t, report.TotalBytes, uint64(0))
}

func TestRunNoLiveOutputs(t *testing.T) {
	cfg := baseConfig()
	cfg.Outputs = []config.Output{{Name: "bad", Codec: "pcm", ServerType: config.TypeFile, File: filepath.Join(t.TempDir(), "missing", "dir", "x.pcm")}}

	c, err := New(cfg, Options{})
	require.NoError(t, err)
	report, err := c.Run(context.Background())
	assert.ErrorIs(t, err, connector.ErrTooFewOutputs)
	require.Len(t, report.Outputs, 1)
	assert.Equal(t, connector.StateSkipped, report.Outputs[0].State)
}

// icecastServer accepts one source client and records what it streams
type icecastServer struct {
	ln      net.Listener
	mu      sync.Mutex
	request string
	body    bytes.Buffer
	done    chan struct{}
}

func newIcecastServer(t *testing.T) *icecastServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &icecastServer{ln: ln, done: make(chan struct{})}
	t.Cleanup(func() { ln.Close() })

	go func() {
		defer close(s.done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		r := bufio.NewReader(conn)
		var req strings.Builder
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			req.WriteString(line)
			if line == "\r\n" {
				break
			}
		}
		s.mu.Lock()
		s.request = req.String()
		s.mu.Unlock()

		io.WriteString(conn, "HTTP/1.0 200 OK\r\n\r\n")

		buf := make([]byte, 4096)
		for {
			n, err := r.Read(buf)
			s.mu.Lock()
			s.body.Write(buf[:n])
			s.mu.Unlock()
			if err != nil {
				return
			}
		}
	}()
	return s
}

func (s *icecastServer) port() int { return s.ln.Addr().(*net.TCPAddr).Port }

func TestRunToIcecast2WithStatus(t *testing.T) {
	srv := newIcecastServer(t)

	refused, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	refusedPort := refused.Addr().(*net.TCPAddr).Port
	refused.Close()

	cfg := baseConfig()
	cfg.Status = config.Status{Enabled: true, Port: 0}
	cfg.Outputs = []config.Output{
		{Name: "live", Codec: "pcm", ServerType: config.TypeIcecast2, Host: "127.0.0.1", Port: srv.port(), Mount: "live", Password: "hackme", StreamName: "Test Stream", Bitrate: 1411},
		{Name: "down", Codec: "pcm", ServerType: config.TypeIcecast2, Host: "127.0.0.1", Port: refusedPort, Mount: "down", Password: "hackme"},
	}

	c, err := New(cfg, Options{PublishInterval: 10 * time.Millisecond})
	require.NoError(t, err)
	report, err := c.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Outputs, 2)
	assert.Equal(t, connector.StateClosed, report.Outputs[0].State)
	assert.Equal(t, connector.StateSkipped, report.Outputs[1].State)

	select {
	case <-srv.done:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not see the stream end")
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.True(t, strings.HasPrefix(srv.request, "SOURCE /live HTTP/1.0\r\n"))
	assert.Contains(t, srv.request, "Content-Type: audio/L16;rate=44100;channels=2\r\n")
	assert.Contains(t, srv.request, "ice-name: Test Stream\r\n")
	assert.Equal(t, 176400, srv.body.Len())

	// Status feed is stopped after the run
	_, err = http.Get(fmt.Sprintf("http://127.0.0.1:%d/status", c.StatusServer().Port()))
	assert.Error(t, err)
}

func TestSnapshotDuringRun(t *testing.T) {
	cfg := baseConfig()
	cfg.Outputs = []config.Output{{Name: "raw", Codec: "pcm", ServerType: config.TypeFile, File: filepath.Join(t.TempDir(), "raw.pcm")}}

	c, err := New(cfg, Options{})
	require.NoError(t, err)
	_, err = c.Run(context.Background())
	require.NoError(t, err)

	snap := c.Snapshot()
	assert.Equal(t, c.RunID(), snap.RunID)
	assert.Equal(t, "44100Hz/16bit/2ch/le", snap.Input)
	assert.Equal(t, 1.0, snap.Progress())
	require.Len(t, snap.Outputs, 1)
	assert.Equal(t, "file://"+cfg.Outputs[0].File, snap.Outputs[0].Target)

	data, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"closed"`)
}
