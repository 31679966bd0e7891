// ABOUTME: Tests for the capture fan-out connector
// ABOUTME: Fake sources and encoders exercise read counts and failure isolation
package connector

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sendspin/sendspin-caster/pkg/audio"
	"github.com/Sendspin/sendspin-caster/pkg/streamerr"
)

var stereo16 = audio.Format{SampleRate: 44100, BitDepth: 16, Channels: 2}

// fakeSource returns buffers stamped with the read number
type fakeSource struct {
	mu      sync.Mutex
	format  audio.Format
	reads   int
	opened  int
	closed  int
	openErr error
	// script overrides the byte count of read i (0-based); -1 means io.EOF
	script map[int]int
	// limit returns io.EOF after this many reads when > 0
	limit int
	// short returns this many bytes per read when > 0
	short int
	// delay paces reads like a live device
	delay time.Duration
}

func newFakeSource() *fakeSource { return &fakeSource{format: stereo16} }

func (s *fakeSource) Open() error {
	if s.openErr != nil {
		return s.openErr
	}
	s.opened++
	return nil
}

func (s *fakeSource) Read(buf []byte) (int, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.reads
	s.reads++

	if s.limit > 0 && i >= s.limit {
		return 0, io.EOF
	}
	n := len(buf)
	if s.short > 0 && s.short < n {
		n = s.short
	}
	if v, ok := s.script[i]; ok {
		if v < 0 {
			return 0, io.EOF
		}
		n = v
	}
	for j := 0; j < n; j++ {
		buf[j] = byte(i)
	}
	return n, nil
}

func (s *fakeSource) Format() audio.Format { return s.format }
func (s *fakeSource) Close() error         { s.closed++; return nil }

func (s *fakeSource) readCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// fakeEncoder records every buffer; it can fail at open or on a given write
type fakeEncoder struct {
	mu      sync.Mutex
	open    bool
	opened  int
	closed  int
	writes  [][]byte
	openErr error
	// failOn makes write number failOn (1-based) return an error
	failOn int
	delay  time.Duration
	// stallOn makes write number stallOn (1-based) wait for release
	stallOn int
	release chan struct{}
}

func (e *fakeEncoder) Open() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.openErr != nil {
		return e.openErr
	}
	e.open = true
	e.opened++
	return nil
}

func (e *fakeEncoder) Write(buf []byte) (int, error) {
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	e.mu.Lock()
	stall := e.release != nil && len(e.writes)+1 == e.stallOn
	e.mu.Unlock()
	if stall {
		<-e.release
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.writes = append(e.writes, append([]byte(nil), buf...))
	if e.failOn > 0 && len(e.writes) == e.failOn {
		return 0, &streamerr.IOError{Op: "write", Err: errors.New("connection reset")}
	}
	return len(buf), nil
}

func (e *fakeEncoder) Flush() error { return nil }

func (e *fakeEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.open = false
	e.closed++
	return nil
}

func (e *fakeEncoder) IsOpen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.open
}

func (e *fakeEncoder) writeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.writes)
}

func openConnector(t *testing.T, src *fakeSource, encs map[string]*fakeEncoder, order []string, opts ...Option) *Connector {
	t.Helper()
	c := New(src, opts...)
	for _, name := range order {
		require.NoError(t, c.Attach(name, encs[name]))
	}
	require.NoError(t, c.Open())
	t.Cleanup(func() { c.Close() })
	return c
}

func TestTransferExactReadCount(t *testing.T) {
	src := newFakeSource()
	a := &fakeEncoder{}
	c := openConnector(t, src, map[string]*fakeEncoder{"a": a}, []string{"a"})

	n, err := c.Transfer(context.Background(), 40960, 4096, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(40960), n)
	assert.Equal(t, 10, src.readCount())
	assert.Equal(t, 10, a.writeCount())
}

func TestTransferRoundsChunkToFrames(t *testing.T) {
	src := newFakeSource()
	a := &fakeEncoder{}
	c := openConnector(t, src, map[string]*fakeEncoder{"a": a}, []string{"a"})

	// 4099 rounds down to 4096
	n, err := c.Transfer(context.Background(), 8192, 4099, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(8192), n)
	for _, w := range a.writes {
		assert.Equal(t, 4096, len(w))
	}
}

func TestTransferLastChunkIsShort(t *testing.T) {
	src := newFakeSource()
	a := &fakeEncoder{}
	c := openConnector(t, src, map[string]*fakeEncoder{"a": a}, []string{"a"})

	n, err := c.Transfer(context.Background(), 5000, 4096, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), n)
	require.Len(t, a.writes, 2)
	assert.Len(t, a.writes[1], 904)
}

func TestEveryEncoderGetsTheSameBuffer(t *testing.T) {
	src := newFakeSource()
	encs := map[string]*fakeEncoder{"a": {}, "b": {}, "c": {}}
	c := openConnector(t, src, encs, []string{"a", "b", "c"})

	_, err := c.Transfer(context.Background(), 4096*5, 4096, 0, 0)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		assert.True(t, bytes.Equal(encs["a"].writes[i], encs["b"].writes[i]))
		assert.True(t, bytes.Equal(encs["a"].writes[i], encs["c"].writes[i]))
		assert.Equal(t, byte(i), encs["a"].writes[i][0])
	}
}

func TestFailureIsolatedOnThirdCycle(t *testing.T) {
	src := newFakeSource()
	encs := map[string]*fakeEncoder{"a": {}, "b": {failOn: 3}, "c": {}}
	c := openConnector(t, src, encs, []string{"a", "b", "c"})

	n, err := c.Transfer(context.Background(), 40960, 4096, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(40960), n, "count is source bytes regardless of failures")

	assert.Equal(t, 10, encs["a"].writeCount())
	assert.Equal(t, 3, encs["b"].writeCount())
	assert.Equal(t, 10, encs["c"].writeCount())
	assert.Equal(t, 1, encs["b"].closed)
	assert.Equal(t, 2, c.Live())

	r := c.Report()
	require.Len(t, r.Outputs, 3)
	assert.Equal(t, StateFailed, r.Outputs[1].State)
	assert.Equal(t, "io", streamerr.Kind(r.Outputs[1].Err))
	assert.Equal(t, uint64(2), r.Outputs[1].Cycles)
	assert.Equal(t, uint64(10), r.Outputs[0].Cycles)
	assert.Equal(t, uint64(40960), r.TotalBytes)
	assert.Equal(t, uint64(10), r.Cycles)
}

func TestOpenSkipsFailingEncoder(t *testing.T) {
	src := newFakeSource()
	encs := map[string]*fakeEncoder{
		"a": {openErr: &streamerr.ConnectError{Host: "down.example", Port: 8000, Err: errors.New("refused")}},
		"b": {},
	}
	c := openConnector(t, src, encs, []string{"a", "b"})

	_, err := c.Transfer(context.Background(), 8192, 4096, 0, 0)
	require.NoError(t, err)

	assert.Equal(t, 0, encs["a"].writeCount())
	assert.Equal(t, 2, encs["b"].writeCount())

	r := c.Report()
	assert.Equal(t, StateSkipped, r.Outputs[0].State)
	assert.Equal(t, "connect", streamerr.Kind(r.Outputs[0].Err))
}

func TestOpenSourceFailureAborts(t *testing.T) {
	src := newFakeSource()
	src.openErr = errors.New("no such device")
	a := &fakeEncoder{}

	c := New(src)
	require.NoError(t, c.Attach("a", a))
	err := c.Open()
	require.Error(t, err)
	assert.Equal(t, "source", streamerr.Kind(err))
	assert.Equal(t, 0, a.opened, "encoders are not opened when the source fails")

	_, err = c.Transfer(context.Background(), 4096, 4096, 0, 0)
	assert.Error(t, err)
}

func TestAttachRules(t *testing.T) {
	c := New(newFakeSource())
	require.NoError(t, c.Attach("a", &fakeEncoder{}))
	assert.Error(t, c.Attach("a", &fakeEncoder{}), "duplicate name")

	require.NoError(t, c.Open())
	defer c.Close()
	assert.Error(t, c.Attach("b", &fakeEncoder{}), "attach after open")
}

func TestZeroReadsEndRun(t *testing.T) {
	src := newFakeSource()
	src.short = 3 // less than one frame
	a := &fakeEncoder{}
	c := openConnector(t, src, map[string]*fakeEncoder{"a": a}, []string{"a"},
		WithMaxZeroReads(5), WithZeroReadBackoff(time.Millisecond))

	n, err := c.Transfer(context.Background(), 0, 4096, 0, 0)
	require.Error(t, err)
	assert.Equal(t, "source", streamerr.Kind(err))
	assert.Equal(t, uint64(0), n)
	assert.Equal(t, 6, src.readCount())
	assert.Equal(t, 0, a.writeCount())
}

func TestZeroReadsAreRetried(t *testing.T) {
	src := newFakeSource()
	src.script = map[int]int{0: 0, 1: 0, 3: 0}
	a := &fakeEncoder{}
	c := openConnector(t, src, map[string]*fakeEncoder{"a": a}, []string{"a"},
		WithZeroReadBackoff(time.Millisecond))

	n, err := c.Transfer(context.Background(), 8192, 4096, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(8192), n)
	assert.Equal(t, 5, src.readCount())
	assert.Equal(t, 2, a.writeCount())
}

func TestSourceEOFEndsRun(t *testing.T) {
	src := newFakeSource()
	src.limit = 3
	a := &fakeEncoder{}
	c := openConnector(t, src, map[string]*fakeEncoder{"a": a}, []string{"a"})

	n, err := c.Transfer(context.Background(), 0, 4096, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(3*4096), n)
}

func TestMaxOutputsCapsFanOut(t *testing.T) {
	src := newFakeSource()
	encs := map[string]*fakeEncoder{"a": {}, "b": {}, "c": {}}
	c := openConnector(t, src, encs, []string{"a", "b", "c"})

	_, err := c.Transfer(context.Background(), 4096*4, 4096, 0, 2)
	require.NoError(t, err)

	assert.Equal(t, 4, encs["a"].writeCount())
	assert.Equal(t, 4, encs["b"].writeCount())
	assert.Equal(t, 0, encs["c"].writeCount())

	r := c.Report()
	assert.Equal(t, StateStreaming, r.Outputs[0].State)
	assert.Equal(t, StateStreaming, r.Outputs[1].State)
	assert.Equal(t, StateSkipped, r.Outputs[2].State)
	assert.True(t, errors.Is(r.Outputs[2].Err, ErrOutputLimit))
	assert.Equal(t, 2, c.Live())
	assert.Equal(t, 1, encs["c"].closed, "an output past the cap is closed")

	require.NoError(t, c.Close())
	assert.Equal(t, 1, encs["c"].closed, "Close does not close it again")
}

func TestMaxOutputsOptionOpensOnlyTheCap(t *testing.T) {
	src := newFakeSource()
	encs := map[string]*fakeEncoder{
		"a": {openErr: errors.New("down")},
		"b": {},
		"c": {},
		"d": {},
	}
	c := openConnector(t, src, encs, []string{"a", "b", "c", "d"}, WithMaxOutputs(2))

	_, err := c.Transfer(context.Background(), 4096*3, 4096, 0, 2)
	require.NoError(t, err)

	assert.Equal(t, 1, encs["b"].opened)
	assert.Equal(t, 1, encs["c"].opened, "a failed slot goes to the next output")
	assert.Equal(t, 0, encs["d"].opened, "outputs past the cap are never opened")
	assert.Equal(t, 3, encs["c"].writeCount())

	r := c.Report()
	assert.Equal(t, StateSkipped, r.Outputs[0].State)
	assert.Equal(t, StateStreaming, r.Outputs[2].State)
	assert.Equal(t, StateSkipped, r.Outputs[3].State)
	assert.True(t, errors.Is(r.Outputs[3].Err, ErrOutputLimit))
}

func TestMinOutputsEndsRunEarly(t *testing.T) {
	src := newFakeSource()
	encs := map[string]*fakeEncoder{"a": {}, "b": {failOn: 2}}
	c := openConnector(t, src, encs, []string{"a", "b"})

	n, err := c.Transfer(context.Background(), 4096*10, 4096, 2, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTooFewOutputs))
	assert.Equal(t, uint64(2*4096), n)
}

func TestMinOutputsCheckedBeforeRun(t *testing.T) {
	src := newFakeSource()
	encs := map[string]*fakeEncoder{"a": {openErr: errors.New("down")}}
	c := openConnector(t, src, encs, []string{"a"})

	n, err := c.Transfer(context.Background(), 4096, 4096, 1, 0)
	assert.True(t, errors.Is(err, ErrTooFewOutputs))
	assert.Equal(t, uint64(0), n)
	assert.Equal(t, 0, src.readCount())
}

func TestContextCancelStopsTransfer(t *testing.T) {
	src := newFakeSource()
	a := &fakeEncoder{delay: time.Millisecond}
	c := openConnector(t, src, map[string]*fakeEncoder{"a": a}, []string{"a"})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := c.Transfer(ctx, 0, 4096, 0, 0)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("transfer did not stop after cancellation")
	}
}

func TestChunkSmallerThanFrame(t *testing.T) {
	src := newFakeSource()
	c := openConnector(t, src, map[string]*fakeEncoder{"a": {}}, []string{"a"})

	_, err := c.Transfer(context.Background(), 4096, 3, 0, 0)
	require.Error(t, err)
	assert.Equal(t, "format", streamerr.Kind(err))
}

func TestCloseTwice(t *testing.T) {
	src := newFakeSource()
	encs := map[string]*fakeEncoder{"a": {}, "b": {failOn: 1}}
	c := New(src)
	require.NoError(t, c.Attach("a", encs["a"]))
	require.NoError(t, c.Attach("b", encs["b"]))
	require.NoError(t, c.Open())

	_, err := c.Transfer(context.Background(), 4096, 4096, 0, 0)
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.Equal(t, 1, encs["a"].closed)
	assert.Equal(t, 1, encs["b"].closed, "failed encoder is closed once")
	assert.Equal(t, 1, src.closed)

	r := c.Report()
	assert.Equal(t, StateClosed, r.Outputs[0].State)
	assert.Equal(t, StateFailed, r.Outputs[1].State)

	_, err = c.Transfer(context.Background(), 4096, 4096, 0, 0)
	assert.Error(t, err, "transfer after close")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "streaming", StateStreaming.String())
	assert.Equal(t, "skipped", StateSkipped.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "pending", StatePending.String())
}
