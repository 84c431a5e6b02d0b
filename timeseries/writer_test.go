package timeseries

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// fakeBackend records every batch it is given and fails the next failures
// calls.
type fakeBackend struct {
	mu       sync.Mutex
	batches  [][]Point
	failures int
	written  chan int // receives the size of every stored batch, when set
}

var errBackendDown = errors.New("backend down")

func (b *fakeBackend) WritePoints(_ context.Context, points []Point) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures > 0 {
		b.failures--
		return errBackendDown
	}
	b.batches = append(b.batches, append([]Point(nil), points...))
	if b.written != nil {
		b.written <- len(points)
	}
	return nil
}

func (b *fakeBackend) failNext(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = n
}

func (b *fakeBackend) Batches() [][]Point {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]Point(nil), b.batches...)
}

// quiet disables the periodic flush for the duration of a test.
const quiet = time.Hour

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func point(i int) Point {
	return NewPoint(fmt.Sprintf("sensor-%02d", i%10), map[string]any{"value": float64(i)}, epoch.Add(time.Duration(i)*time.Second))
}

func newTestWriter(t *testing.T, b Backend, cfg Config) *Writer {
	t.Helper()
	w := NewWriter(context.Background(), b, cfg)
	t.Cleanup(func() {
		if err := w.Close(context.Background()); err != nil && !errors.Is(err, ErrFlushFailed) {
			t.Errorf("Close() = %v", err)
		}
	})
	return w
}

func TestWriter_batchSizeTriggersSingleFlush(t *testing.T) {
	b := &fakeBackend{written: make(chan int, 10)}
	w := newTestWriter(t, b, Config{BatchSize: 1000, FlushInterval: quiet})

	for i := range 1000 {
		if err := w.Write(point(i)); err != nil {
			t.Fatalf("Write(#%d) = %v", i, err)
		}
	}

	select {
	case n := <-b.written:
		if n != 1000 {
			t.Errorf("Flushed a batch of %d points, want 1000", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("No flush reached the backend after writing a full batch")
	}
	if n := w.Len(); n != 0 {
		t.Errorf("Len() = %d after the flush, want 0", n)
	}
	if got := len(b.Batches()); got != 1 {
		t.Errorf("Backend received %d batches, want 1", got)
	}
}

func TestWriter_failedFlushRebuffers(t *testing.T) {
	b := &fakeBackend{}
	w := newTestWriter(t, b, Config{BatchSize: 100, FlushInterval: quiet})

	var want []Point
	for i := range 10 {
		p := point(i)
		want = append(want, p)
		if err := w.Write(p); err != nil {
			t.Fatalf("Write(#%d) = %v", i, err)
		}
	}

	b.failNext(1)
	err := w.Flush(context.Background())
	if !errors.Is(err, ErrFlushFailed) || !errors.Is(err, errBackendDown) {
		t.Fatalf("Flush() = %v, want ErrFlushFailed wrapping the backend error", err)
	}
	if n := w.Len(); n != len(want) {
		t.Fatalf("Len() = %d after failed flush, want %d", n, len(want))
	}

	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() = %v", err)
	}
	if n := w.Len(); n != 0 {
		t.Errorf("Len() = %d after successful flush, want 0", n)
	}
	if diff := cmp.Diff([][]Point{want}, b.Batches()); diff != "" {
		t.Errorf("Backend batches mismatch (-want +got)\n%v", diff)
	}
}

func TestWriter_failedBatchPrecedesNewPoints(t *testing.T) {
	b := &fakeBackend{}
	w := newTestWriter(t, b, Config{BatchSize: 100, FlushInterval: quiet})

	for i := range 3 {
		if err := w.Write(point(i)); err != nil {
			t.Fatal(err)
		}
	}
	b.failNext(1)
	if err := w.Flush(context.Background()); err == nil {
		t.Fatal("Flush() succeeded, want error")
	}
	for i := 3; i < 5; i++ {
		if err := w.Write(point(i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}

	want := [][]Point{{point(0), point(1), point(2), point(3), point(4)}}
	if diff := cmp.Diff(want, b.Batches()); diff != "" {
		t.Errorf("Backend batches mismatch (-want +got)\n%v", diff)
	}
}

func TestWriter_overflow(t *testing.T) {
	t.Run("DropOldest", func(t *testing.T) {
		b := &fakeBackend{}
		w := newTestWriter(t, b, Config{BatchSize: 100, MaxBuffered: 100, FlushInterval: quiet, Overflow: DropOldest})
		// Holding the flush lock keeps the background loop from draining the buffer
		// while it overflows.
		w.flushMu.Lock()
		for i := range 150 {
			if err := w.Write(point(i)); err != nil {
				w.flushMu.Unlock()
				t.Fatalf("Write(#%d) = %v", i, err)
			}
		}
		n := w.Len()
		w.flushMu.Unlock()
		if n != 100 {
			t.Errorf("Len() = %d, want 100", n)
		}

		if err := w.Flush(context.Background()); err != nil {
			t.Fatal(err)
		}
		var got []Point
		for _, batch := range b.Batches() {
			got = append(got, batch...)
		}
		var want []Point
		for i := 50; i < 150; i++ {
			want = append(want, point(i))
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("Flushed points mismatch (-want +got)\n%v", diff)
		}
	})

	t.Run("DropNewest", func(t *testing.T) {
		b := &fakeBackend{}
		w := newTestWriter(t, b, Config{BatchSize: 10, MaxBuffered: 10, FlushInterval: quiet, Overflow: DropNewest})
		w.flushMu.Lock()
		defer w.flushMu.Unlock()
		for i := range 20 {
			err := w.Write(point(i))
			switch {
			case i < 10 && err != nil:
				t.Fatalf("Write(#%d) = %v", i, err)
			case i >= 10 && !errors.Is(err, ErrBufferFull):
				t.Fatalf("Write(#%d) = %v, want ErrBufferFull", i, err)
			}
		}
		if n := w.Len(); n != 10 {
			t.Errorf("Len() = %d, want 10", n)
		}
	})
}

func TestWriter_requeueRespectsCapacity(t *testing.T) {
	b := &fakeBackend{}
	w := newTestWriter(t, b, Config{BatchSize: 5, MaxBuffered: 5, FlushInterval: quiet})
	// Block the background loop from flushing by holding the flush lock while
	// filling the buffer.
	w.flushMu.Lock()
	for i := range 5 {
		if err := w.Write(point(i)); err != nil {
			w.flushMu.Unlock()
			t.Fatal(err)
		}
	}
	b.failNext(1 << 20)
	w.flushMu.Unlock()

	_ = w.Flush(context.Background())
	if n := w.Len(); n > 5 {
		t.Errorf("Len() = %d after failed flush, want at most 5", n)
	}
}

func TestWriter_intervalFlush(t *testing.T) {
	b := &fakeBackend{written: make(chan int, 10)}
	w := newTestWriter(t, b, Config{BatchSize: 1000, FlushInterval: 10 * time.Millisecond})

	if err := w.Write(point(1)); err != nil {
		t.Fatal(err)
	}
	select {
	case n := <-b.written:
		if n != 1 {
			t.Errorf("Flushed a batch of %d points, want 1", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("The periodic flush never reached the backend")
	}
}

func TestWriter_outlivesContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := &fakeBackend{written: make(chan int, 10)}
	w := NewWriter(ctx, b, Config{BatchSize: 10, FlushInterval: quiet})
	t.Cleanup(func() { _ = w.Close(context.Background()) })
	cancel()

	for i := range 10 {
		if err := w.Write(point(i)); err != nil {
			t.Fatalf("Write(#%d) = %v", i, err)
		}
	}
	select {
	case n := <-b.written:
		if n != 10 {
			t.Errorf("Flushed a batch of %d points, want 10", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("No flush reached the backend after the context was cancelled")
	}
}

func TestWriter_close(t *testing.T) {
	b := &fakeBackend{}
	w := NewWriter(context.Background(), b, Config{BatchSize: 1000, FlushInterval: quiet})
	for i := range 3 {
		if err := w.Write(point(i)); err != nil {
			t.Fatal(err)
		}
	}

	if err := w.Close(context.Background()); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if got := len(b.Batches()); got != 1 {
		t.Errorf("Backend received %d batches on close, want 1", got)
	}
	if err := w.Write(point(4)); !errors.Is(err, ErrClosed) {
		t.Errorf("Write() after Close = %v, want ErrClosed", err)
	}
	if err := w.Close(context.Background()); err != nil {
		t.Errorf("Close() again = %v, want nil", err)
	}
}

func TestWriter_invalidPoint(t *testing.T) {
	w := newTestWriter(t, &fakeBackend{}, Config{FlushInterval: quiet})
	tests := map[string]Point{
		"NoFields":       NewPoint("sensor-01", nil, epoch),
		"NoTimestamp":    NewPoint("sensor-01", map[string]any{"v": 1.0}, time.Time{}),
		"NoMeasurement":  {Fields: map[string]any{"v": 1.0}, Time: epoch},
		"UnsupportedInt": NewPoint("sensor-01", map[string]any{"v": 1}, epoch),
	}
	for name, p := range tests {
		t.Run(name, func(t *testing.T) {
			if err := w.Write(p); !errors.Is(err, ErrInvalidPoint) {
				t.Errorf("Write() = %v, want ErrInvalidPoint", err)
			}
		})
	}
	if err := w.Write(tests["UnsupportedInt"].Normalize()); err != nil {
		t.Errorf("Write(Normalize()) = %v", err)
	}
}

func TestConfig_withDefaults(t *testing.T) {
	got := Config{BatchSize: 500, MaxBuffered: 10}.withDefaults()
	want := Config{
		BatchSize:     500,
		FlushInterval: time.Second,
		FlushTimeout:  10 * time.Second,
		MaxBuffered:   500,
		Overflow:      DropOldest,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("withDefaults() mismatch (-want +got)\n%v", diff)
	}
}

func TestOverflow_text(t *testing.T) {
	for _, o := range []Overflow{DropOldest, DropNewest} {
		text, _ := o.MarshalText()
		var got Overflow
		if err := got.UnmarshalText(text); err != nil || got != o {
			t.Errorf("UnmarshalText(%s) = %v, %v; want %v", text, got, err, o)
		}
	}
	var o Overflow
	if err := o.UnmarshalText([]byte("block")); err == nil {
		t.Error("UnmarshalText(block) succeeded, want error")
	}
}
