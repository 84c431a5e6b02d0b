package timeseries

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/danielorbach/go-component"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// A Backend stores batches of points.
//
// WritePoints either stores the whole batch or fails; a batch it failed to
// store is offered again by a later flush, so a Backend that partially applied
// it before failing will receive some points twice.
type Backend interface {
	WritePoints(ctx context.Context, points []Point) error
}

// Overflow selects what a Writer does with a point arriving at a full buffer.
type Overflow int

const (
	// DropOldest discards the oldest buffered point to make room for the new one.
	DropOldest Overflow = iota
	// DropNewest rejects the new point with ErrBufferFull.
	DropNewest
)

func (o Overflow) String() string {
	switch o {
	case DropOldest:
		return "drop-oldest"
	case DropNewest:
		return "drop-newest"
	}
	return fmt.Sprintf("Overflow(%d)", int(o))
}

func (o Overflow) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *Overflow) UnmarshalText(text []byte) error {
	switch string(text) {
	case "drop-oldest", "":
		*o = DropOldest
	case "drop-newest":
		*o = DropNewest
	default:
		return fmt.Errorf("unknown overflow policy %q", text)
	}
	return nil
}

// Config tunes a Writer. Zero fields select the defaults of DefaultConfig.
type Config struct {
	// BatchSize is the number of buffered points that triggers a flush.
	BatchSize int `yaml:"batchSize" validate:"gte=0"`
	// FlushInterval is the period of the background flush.
	FlushInterval time.Duration `yaml:"flushInterval" validate:"gte=0"`
	// FlushTimeout bounds every write to the backend.
	FlushTimeout time.Duration `yaml:"flushTimeout" validate:"gte=0"`
	// MaxBuffered caps the buffer, failed batches included. It is raised to
	// BatchSize when smaller.
	MaxBuffered int `yaml:"maxBuffered" validate:"gte=0"`
	// Overflow applies when the buffer holds MaxBuffered points.
	Overflow Overflow `yaml:"overflow"`
}

// DefaultConfig returns the configuration used for zero fields of a Config.
func DefaultConfig() Config {
	return Config{
		BatchSize:     1000,
		FlushInterval: time.Second,
		FlushTimeout:  10 * time.Second,
		MaxBuffered:   100_000,
		Overflow:      DropOldest,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = d.FlushInterval
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = d.FlushTimeout
	}
	if c.MaxBuffered <= 0 {
		c.MaxBuffered = d.MaxBuffered
	}
	c.MaxBuffered = max(c.MaxBuffered, c.BatchSize)
	return c
}

// A Writer buffers points and writes them to a Backend in batches.
//
// A Writer is safe for concurrent use. Flushes never overlap: a flush
// triggered while another is in progress waits for it and then writes
// whatever was buffered in the meantime.
type Writer struct {
	backend Backend
	cfg     Config
	logger  *slog.Logger

	mu     sync.Mutex // guards buf and closed
	buf    []Point
	closed bool

	flushMu sync.Mutex // held for the duration of a flush

	kick chan struct{} // schedules a flush of the background loop
	stop chan struct{} // closed by Close
	done chan struct{} // closed when the background loop returns
}

// NewWriter returns a Writer flushing to backend and starts its background
// loop. The loop logs with the logger of ctx and runs until Close is called;
// cancelling ctx does not stop it.
func NewWriter(ctx context.Context, backend Backend, cfg Config) *Writer {
	cfg = cfg.withDefaults()
	w := &Writer{
		backend: backend,
		cfg:     cfg,
		logger:  component.Logger(ctx).With("timeseries.batch_size", cfg.BatchSize),
		kick:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go w.loop(context.WithoutCancel(ctx))
	return w
}

// Config returns the effective configuration of the Writer.
func (w *Writer) Config() Config { return w.cfg }

// Write appends p to the buffer. Reaching the batch size schedules a flush
// without waiting for it.
//
// At capacity, the Overflow policy either discards the oldest buffered point
// or rejects p with ErrBufferFull.
func (w *Writer) Write(p Point) error {
	if err := p.Validate(); err != nil {
		return err
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	var dropped int
	if len(w.buf) >= w.cfg.MaxBuffered {
		if w.cfg.Overflow == DropNewest {
			w.mu.Unlock()
			measureDrop(context.Background(), "write", 1)
			return fmt.Errorf("%w: %d points buffered", ErrBufferFull, w.cfg.MaxBuffered)
		}
		dropped = len(w.buf) - w.cfg.MaxBuffered + 1
		w.buf = w.buf[dropped:]
	}
	w.buf = append(w.buf, p)
	n := len(w.buf)
	w.mu.Unlock()

	measureDrop(context.Background(), "write", dropped)
	if n >= w.cfg.BatchSize {
		select {
		case w.kick <- struct{}{}:
		default:
			// A flush is already scheduled.
		}
	}
	return nil
}

// Len returns the number of buffered points.
func (w *Writer) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buf)
}

// Flush writes all buffered points to the backend in a single batch, waiting
// at most FlushTimeout for it.
//
// When the backend fails, the batch is put back in front of the points buffered
// since, oldest points dropped beyond MaxBuffered, and the returned error wraps
// ErrFlushFailed. Flush does not retry.
func (w *Writer) Flush(ctx context.Context) (err error) {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.mu.Lock()
	batch := w.buf
	w.buf = nil
	w.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	ctx, span := tracer.Start(ctx, "Writer.Flush", trace.WithAttributes(
		attribute.Int("timeseries.points", len(batch)),
	))
	defer span.End()

	start := time.Now()
	defer func() { measureFlush(ctx, len(batch), err, time.Since(start)) }()

	writeCtx, cancel := context.WithTimeout(ctx, w.cfg.FlushTimeout)
	defer cancel()
	if err := w.backend.WritePoints(writeCtx, batch); err != nil {
		span.SetStatus(codes.Error, err.Error())
		w.requeue(ctx, batch)
		return fmt.Errorf("%w: %d points: %w", ErrFlushFailed, len(batch), err)
	}
	return nil
}

// requeue puts a failed batch back in front of the buffer.
func (w *Writer) requeue(ctx context.Context, batch []Point) {
	w.mu.Lock()
	merged := append(batch, w.buf...)
	dropped := max(len(merged)-w.cfg.MaxBuffered, 0)
	w.buf = merged[dropped:]
	w.mu.Unlock()

	if dropped > 0 {
		measureDrop(ctx, "requeue", dropped)
		w.logger.Warn("Dropped the oldest points of a failed batch; buffer at capacity", "dropped", dropped)
	}
}

func (w *Writer) loop(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
		case <-w.kick:
		}
		if err := w.Flush(ctx); err != nil {
			// The points are back in the buffer; the next trigger retries them.
			w.logger.Error("Failed to flush points", "error", err, "buffered", w.Len())
		}
	}
}

// Close stops the background loop and flushes the buffer one last time.
// Writes after Close fail with ErrClosed. Calling Close again has no effect.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.stop)
	select {
	case <-w.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return w.Flush(ctx)
}
