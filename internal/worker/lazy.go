package worker

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"sync"
	"syscall"

	"github.com/andresmejia3/mirage/internal/types"
	"github.com/andresmejia3/mirage/internal/utils"
)

// Lazy starts its Python worker on first use and keeps it warm until Reset.
// A worker whose pipe breaks is discarded and restarted on the next call.
type Lazy struct {
	ctx   context.Context
	id    int
	cfg   Config
	start func(ctx context.Context, id int, cfg Config) (*PythonWorker, error)

	mu     sync.Mutex
	worker *PythonWorker
}

func NewLazy(ctx context.Context, id int, cfg Config) *Lazy {
	return &Lazy{ctx: ctx, id: id, cfg: cfg, start: NewPythonWorker}
}

func (l *Lazy) acquire() (*PythonWorker, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.worker != nil {
		return l.worker, nil
	}
	fmt.Fprintf(os.Stderr, "🚀 Starting %s engine (worker %d)...\n", l.cfg.Role, l.id)
	w, err := l.start(l.ctx, l.id, l.cfg)
	if err != nil {
		return nil, err
	}
	l.worker = w
	return w, nil
}

// discard drops w if it is still the current worker.
func (l *Lazy) discard(w *PythonWorker, cause error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.worker != w {
		return
	}
	utils.ShowError(fmt.Sprintf("%s engine crashed", l.cfg.Role), cause, w.Cmd)
	w.Close()
	l.worker = nil
}

func do[T any](ctx context.Context, l *Lazy, fn func(w *PythonWorker) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	w, err := l.acquire()
	if err != nil {
		return zero, err
	}
	out, err := fn(w)
	if err != nil && isPipeFailure(err) {
		l.discard(w, err)
	}
	return out, err
}

func (l *Lazy) Detect(ctx context.Context, frame *image.RGBA) ([]types.Face, error) {
	return do(ctx, l, func(w *PythonWorker) ([]types.Face, error) { return w.Detect(frame) })
}

func (l *Lazy) Classify(ctx context.Context, frame *image.RGBA) (float64, error) {
	return do(ctx, l, func(w *PythonWorker) (float64, error) { return w.Classify(frame) })
}

func (l *Lazy) Swap(ctx context.Context, source, target *types.Face, frame *image.RGBA) (*image.RGBA, error) {
	return do(ctx, l, func(w *PythonWorker) (*image.RGBA, error) { return w.Swap(source, target, frame) })
}

func (l *Lazy) Enhance(ctx context.Context, target *types.Face, frame *image.RGBA) (*image.RGBA, error) {
	return do(ctx, l, func(w *PythonWorker) (*image.RGBA, error) { return w.Enhance(target, frame) })
}

// Reset stops the worker, releasing its loaded models.
func (l *Lazy) Reset() error {
	l.mu.Lock()
	w := l.worker
	l.worker = nil
	l.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Close()
}

// Close is an alias of Reset for use with defer.
func (l *Lazy) Close() error {
	return l.Reset()
}

// isPipeFailure reports whether err means the worker process is gone or hung,
// as opposed to a logic error it reported itself.
func isPipeFailure(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, syscall.EPIPE)
}
