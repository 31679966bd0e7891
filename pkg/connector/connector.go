// ABOUTME: Capture fan-out connector
// ABOUTME: Reads the source once per cycle and feeds every live encoder the same buffer
package connector

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Sendspin/sendspin-caster/pkg/audio/capture"
	"github.com/Sendspin/sendspin-caster/pkg/audio/encode"
	"github.com/Sendspin/sendspin-caster/pkg/streamerr"
)

const (
	// DefaultMaxZeroReads is how many consecutive empty reads end a run
	DefaultMaxZeroReads = 100
	// DefaultZeroReadBackoff is the pause after an empty read
	DefaultZeroReadBackoff = 10 * time.Millisecond
)

// ErrTooFewOutputs ends a run when fewer than minOutputs encoders remain live
var ErrTooFewOutputs = errors.New("too few live outputs")

// ErrQueueOverflow closes an encoder that kept falling behind
var ErrQueueOverflow = errors.New("encoder queue overflow")

// ErrOutputLimit marks encoders left out by the output cap
var ErrOutputLimit = errors.New("beyond max outputs")

// State is the lifecycle of one output
type State int

const (
	StatePending State = iota
	StateStreaming
	StateSkipped
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateStreaming:
		return "streaming"
	case StateSkipped:
		return "skipped"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "pending"
	}
}

type output struct {
	name  string
	enc   encode.Encoder
	state State
	err   error

	bytesIn uint64
	cycles  uint64
	dropped uint64

	queue       chan []byte
	queueClosed bool
	// backlog holds buffers, in order, that did not fit the full queue
	backlog [][]byte
	// closeOnExit makes the worker close the encoder once its queue drains
	closeOnExit bool
}

// Connector owns one Source and the encoders attached to it
type Connector struct {
	source          capture.Source
	maxZeroReads    int
	zeroReadBackoff time.Duration
	queueDepth      int
	maxOverflows    int
	maxOutputs      int

	mu      sync.Mutex
	outputs []*output
	opened  bool
	closed  bool
	total   uint64
	cycles  uint64
	wg      sync.WaitGroup
}

// Option configures a Connector
type Option func(*Connector)

// WithMaxZeroReads sets how many consecutive empty reads are tolerated
func WithMaxZeroReads(n int) Option {
	return func(c *Connector) { c.maxZeroReads = n }
}

// WithZeroReadBackoff sets the pause after an empty read
func WithZeroReadBackoff(d time.Duration) Option {
	return func(c *Connector) { c.zeroReadBackoff = d }
}

// WithQueueDepth runs each encoder on its own goroutine fed by a queue
// of n buffers. Zero keeps the sequential fan-out.
func WithQueueDepth(n int) Option {
	return func(c *Connector) { c.queueDepth = n }
}

// WithMaxOverflows lets up to k buffers wait behind a full queue. One
// more closes that encoder's session. Zero closes it on the first full queue.
func WithMaxOverflows(k int) Option {
	return func(c *Connector) {
		if k < 0 {
			k = 0
		}
		c.maxOverflows = k
	}
}

// WithMaxOutputs opens at most n encoders, in attach order. Encoders that
// fail to open free their slot for the next one. Zero opens all.
func WithMaxOutputs(n int) Option {
	return func(c *Connector) { c.maxOutputs = n }
}

// New creates a connector reading from source
func New(source capture.Source, opts ...Option) *Connector {
	c := &Connector{
		source:          source,
		maxZeroReads:    DefaultMaxZeroReads,
		zeroReadBackoff: DefaultZeroReadBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Attach adds an encoder. Attach order is fan-out order.
func (c *Connector) Attach(name string, enc encode.Encoder) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.opened {
		return errors.Errorf("attach %s: connector already open", name)
	}
	for _, o := range c.outputs {
		if o.name == name {
			return errors.Errorf("attach %s: duplicate output name", name)
		}
	}
	c.outputs = append(c.outputs, &output{name: name, enc: enc})
	return nil
}

// Queued reports whether encoders run on their own goroutines
func (c *Connector) Queued() bool { return c.queueDepth > 0 }

// Open opens the source, then every encoder. A source failure aborts;
// an encoder failure only skips that encoder.
func (c *Connector) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.opened {
		return nil
	}

	if err := c.source.Open(); err != nil {
		var se *streamerr.SourceError
		if !errors.As(err, &se) {
			err = &streamerr.SourceError{Err: err}
		}
		return err
	}

	live := 0
	for _, o := range c.outputs {
		if c.maxOutputs > 0 && live >= c.maxOutputs {
			o.state = StateSkipped
			o.err = ErrOutputLimit
			log.WithField("output", o.name).Infof("output %s not opened: %d outputs already streaming", o.name, live)
			continue
		}
		if err := o.enc.Open(); err != nil {
			o.state = StateSkipped
			o.err = err
			log.WithFields(log.Fields{"output": o.name, "kind": streamerr.Kind(err)}).
				Errorf("output %s failed to open, skipping: %v", o.name, err)
			continue
		}
		o.state = StateStreaming
		live++
		log.Printf("Output %s streaming", o.name)

		if c.queueDepth > 0 {
			o.queue = make(chan []byte, c.queueDepth)
			c.wg.Add(1)
			go c.worker(o)
		}
	}

	c.opened = true
	return nil
}

// Live returns how many encoders are still streaming
func (c *Connector) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked()
}

func (c *Connector) liveLocked() int {
	n := 0
	for _, o := range c.outputs {
		if o.state == StateStreaming {
			n++
		}
	}
	return n
}

// Transfer runs the capture loop until totalBytes have been read from the
// source (0 means until ctx is cancelled). Each cycle reads up to chunkSize
// bytes, rounded down to whole frames. maxOutputs > 0 keeps only the first
// maxOutputs live encoders and closes the rest as skipped; minOutputs > 0
// stops once fewer remain live.
// Returns the number of bytes read from the source.
func (c *Connector) Transfer(ctx context.Context, totalBytes uint64, chunkSize, minOutputs, maxOutputs int) (uint64, error) {
	c.mu.Lock()
	if !c.opened || c.closed {
		c.mu.Unlock()
		return 0, errors.New("connector not open")
	}
	c.mu.Unlock()

	format := c.source.Format()
	chunk := format.Whole(chunkSize)
	if chunk <= 0 {
		return 0, &streamerr.UnsupportedFormatError{Field: "chunk_size", Value: chunkSize, Msg: "chunk smaller than one frame"}
	}

	c.limit(maxOutputs)

	if minOutputs > 0 && c.Live() < minOutputs {
		return 0, errors.Wrapf(ErrTooFewOutputs, "%d live, need %d", c.Live(), minOutputs)
	}

	buf := make([]byte, chunk)
	var transferred uint64
	zeroReads := 0

	log.Debugf("connector: transfer %d bytes in %d byte chunks (%s)", totalBytes, chunk, format)

	for totalBytes == 0 || transferred < totalBytes {
		if err := ctx.Err(); err != nil {
			return transferred, err
		}

		want := chunk
		if totalBytes > 0 {
			if remaining := totalBytes - transferred; remaining < uint64(chunk) {
				want = format.Whole(int(remaining))
			}
		}
		if want == 0 {
			break
		}

		n, err := c.source.Read(buf[:want])
		if err == io.EOF {
			log.Printf("Source ended after %d bytes", transferred)
			break
		}
		if err != nil {
			var se *streamerr.SourceError
			if !errors.As(err, &se) {
				err = &streamerr.SourceError{Err: err}
			}
			return transferred, err
		}

		n = format.Whole(n)
		if n == 0 {
			zeroReads++
			if zeroReads > c.maxZeroReads {
				return transferred, &streamerr.SourceError{Err: errors.Errorf("%d consecutive empty reads", zeroReads)}
			}
			select {
			case <-ctx.Done():
				return transferred, ctx.Err()
			case <-time.After(c.zeroReadBackoff):
			}
			continue
		}
		zeroReads = 0
		transferred += uint64(n)

		live := c.dispatch(buf[:n])

		if minOutputs > 0 && live < minOutputs {
			return transferred, errors.Wrapf(ErrTooFewOutputs, "%d live, need %d", live, minOutputs)
		}
	}

	return transferred, nil
}

// limit closes every live encoder past the first n as skipped
func (c *Connector) limit(n int) {
	if n <= 0 {
		return
	}

	var excess []*output
	c.mu.Lock()
	live := 0
	for _, o := range c.outputs {
		if o.state != StateStreaming {
			continue
		}
		live++
		if live <= n {
			continue
		}
		o.state = StateSkipped
		o.err = ErrOutputLimit
		if o.queue != nil {
			o.closeOnExit = true
			o.queueClosed = true
			close(o.queue)
		} else {
			excess = append(excess, o)
		}
		log.WithField("output", o.name).Infof("output %s closed: over the limit of %d outputs", o.name, n)
	}
	c.mu.Unlock()

	for _, o := range excess {
		if err := o.enc.Close(); err != nil {
			log.Warnf("output %s: close: %v", o.name, err)
		}
	}
}

// dispatch hands one captured buffer to every live encoder and returns
// how many are still live afterwards
func (c *Connector) dispatch(data []byte) int {
	c.mu.Lock()
	c.total += uint64(len(data))
	c.cycles++
	targets := make([]*output, 0, len(c.outputs))
	for _, o := range c.outputs {
		if o.state == StateStreaming {
			targets = append(targets, o)
		}
	}
	c.mu.Unlock()

	if c.queueDepth > 0 {
		c.enqueue(data, targets)
	} else {
		for _, o := range targets {
			c.writeTo(o, data)
		}
	}

	return c.Live()
}

// writeTo feeds one encoder; a failure closes it without touching the others
func (c *Connector) writeTo(o *output, data []byte) {
	if _, err := o.enc.Write(data); err != nil {
		c.fail(o, err)
		return
	}
	c.mu.Lock()
	o.bytesIn += uint64(len(data))
	o.cycles++
	c.mu.Unlock()
}

// fail marks o failed and closes its encoder
func (c *Connector) fail(o *output, err error) {
	c.mu.Lock()
	if o.state != StateStreaming {
		c.mu.Unlock()
		return
	}
	o.state = StateFailed
	o.err = err
	c.mu.Unlock()

	log.WithFields(log.Fields{"output": o.name, "kind": streamerr.Kind(err)}).
		Errorf("output %s failed: %v", o.name, err)

	if cerr := o.enc.Close(); cerr != nil {
		log.Warnf("output %s: close after failure: %v", o.name, cerr)
	}
}

// Close closes every open encoder, then the source. Errors are logged.
// Safe to call more than once.
func (c *Connector) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	type drain struct {
		o       *output
		backlog [][]byte
	}
	var drains []drain
	for _, o := range c.outputs {
		if o.queue != nil && !o.queueClosed {
			o.queueClosed = true
			drains = append(drains, drain{o: o, backlog: o.backlog})
			o.backlog = nil
		}
	}
	c.mu.Unlock()

	// enqueue ignores a closed connector, so nothing else sends on these queues
	for _, d := range drains {
		for _, data := range d.backlog {
			d.o.queue <- data
		}
		close(d.o.queue)
	}

	c.wg.Wait()

	c.mu.Lock()
	outputs := append([]*output(nil), c.outputs...)
	opened := c.opened
	c.mu.Unlock()

	for _, o := range outputs {
		c.mu.Lock()
		streaming := o.state == StateStreaming
		if streaming {
			o.state = StateClosed
		}
		c.mu.Unlock()

		if !streaming {
			continue
		}
		if err := o.enc.Close(); err != nil {
			log.Warnf("output %s: close: %v", o.name, err)
			c.mu.Lock()
			o.err = err
			c.mu.Unlock()
		}
	}

	if opened {
		if err := c.source.Close(); err != nil {
			log.Warnf("source close: %v", err)
		}
	}
	return nil
}
