package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"os"
	"sync"
	"time"

	"github.com/andresmejia3/mirage/internal/types"
	"github.com/andresmejia3/mirage/internal/utils" // Using the SafeCommand wrapper
)

// Operations understood by python/worker.py.
const (
	OpDetect   = "detect"
	OpClassify = "classify"
	OpSwap     = "swap"
	OpEnhance  = "enhance"
)

const (
	statusOK    = 0
	statusError = 1
)

// Config describes how to launch a model worker.
type Config struct {
	Python      string        // interpreter, e.g. "python3"
	Script      string        // path to the worker script
	Role        string        // "faces" or "safety"; selects which models the script warms up
	ReadTimeout time.Duration // per-request read deadline; 0 disables it
}

// Request is the JSON header preceding the raw RGBA pixels of a frame.
type Request struct {
	Op     string      `json:"op"`
	Width  int         `json:"width"`
	Height int         `json:"height"`
	Source *types.Face `json:"source,omitempty"`
	Target *types.Face `json:"target,omitempty"`
}

// Response is the JSON header returned by the worker. Pixels follow when the op
// produces a frame.
type Response struct {
	Faces       []types.Face `json:"faces,omitempty"`
	Probability float64      `json:"probability,omitempty"`
	Width       int          `json:"width,omitempty"`
	Height      int          `json:"height,omitempty"`
	Pixels      []byte       `json:"-"`
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
}

type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
	Timeout  time.Duration

	mu sync.Mutex
}

func NewPythonWorker(ctx context.Context, id int, cfg Config) (*PythonWorker, error) {
	// 1. Initialize the SafeCommand
	py := utils.NewSafeCommand(ctx, cfg.Python, "-u", cfg.Script, "--role", cfg.Role)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &PythonWorker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
		Timeout:  cfg.ReadTimeout,
	}, nil
}

// Call sends one request and waits for its response. Calls are serialized.
func (w *PythonWorker) Call(req Request, pixels []byte) (*Response, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	header, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	// Protocol: [Length][HeaderLen][Header][Pixels]
	body := new(bytes.Buffer)
	binary.Write(body, binary.BigEndian, uint32(len(header)))
	body.Write(header)
	body.Write(pixels)

	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(body.Len())); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(body.Bytes()); err != nil {
		return nil, err
	}

	if d, ok := w.DataPipe.(deadliner); ok && w.Timeout > 0 {
		d.SetReadDeadline(time.Now().Add(w.Timeout))
		defer d.SetReadDeadline(time.Time{})
	}

	respHeader := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, respHeader); err != nil {
		return nil, err // This is where we catch the "ModuleNotFoundError" crash
	}
	respBody := make([]byte, binary.BigEndian.Uint32(respHeader))
	if _, err := io.ReadFull(w.DataPipe, respBody); err != nil {
		return nil, err
	}
	return parseResponse(respBody)
}

// parseResponse decodes [Status][Len][JSON|Message][Pixels].
func parseResponse(body []byte) (*Response, error) {
	if len(body) < 5 {
		return nil, fmt.Errorf("short response from python worker (%d bytes)", len(body))
	}
	status := body[0]
	n := binary.BigEndian.Uint32(body[1:5])
	if int(n) > len(body)-5 {
		return nil, fmt.Errorf("malformed response: payload length %d exceeds body", n)
	}
	payload := body[5 : 5+n]

	if status == statusError {
		return nil, fmt.Errorf("python worker error: %s", string(payload))
	}
	if status != statusOK {
		return nil, fmt.Errorf("unknown python worker status %d", status)
	}

	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("malformed response JSON: %w", err)
	}
	resp.Pixels = body[5+n:]
	return &resp, nil
}

// Detect returns all faces in frame, in detector order.
func (w *PythonWorker) Detect(frame *image.RGBA) ([]types.Face, error) {
	resp, err := w.call(OpDetect, frame, nil, nil)
	if err != nil {
		return nil, err
	}
	return resp.Faces, nil
}

// Classify returns the probability that frame violates content policy.
func (w *PythonWorker) Classify(frame *image.RGBA) (float64, error) {
	resp, err := w.call(OpClassify, frame, nil, nil)
	if err != nil {
		return 0, err
	}
	return resp.Probability, nil
}

// Swap pastes the source identity onto the target face of frame.
func (w *PythonWorker) Swap(source, target *types.Face, frame *image.RGBA) (*image.RGBA, error) {
	resp, err := w.call(OpSwap, frame, source, target)
	if err != nil {
		return nil, err
	}
	return resp.Frame()
}

// Enhance restores the target face region of frame.
func (w *PythonWorker) Enhance(target *types.Face, frame *image.RGBA) (*image.RGBA, error) {
	resp, err := w.call(OpEnhance, frame, nil, target)
	if err != nil {
		return nil, err
	}
	return resp.Frame()
}

func (w *PythonWorker) call(op string, frame *image.RGBA, source, target *types.Face) (*Response, error) {
	frame = packed(frame)
	b := frame.Bounds()
	return w.Call(Request{
		Op:     op,
		Width:  b.Dx(),
		Height: b.Dy(),
		Source: source,
		Target: target,
	}, frame.Pix)
}

// Frame wraps the returned pixels as an image.
func (r *Response) Frame() (*image.RGBA, error) {
	if r.Width <= 0 || r.Height <= 0 || len(r.Pixels) != r.Width*r.Height*4 {
		return nil, fmt.Errorf("worker returned %d bytes for a %dx%d frame", len(r.Pixels), r.Width, r.Height)
	}
	return &image.RGBA{
		Pix:    r.Pixels,
		Stride: r.Width * 4,
		Rect:   image.Rect(0, 0, r.Width, r.Height),
	}, nil
}

// packed returns frame with origin (0,0) and no row padding, copying only if needed.
func packed(frame *image.RGBA) *image.RGBA {
	b := frame.Bounds()
	if b.Min == (image.Point{}) && frame.Stride == b.Dx()*4 && len(frame.Pix) == b.Dx()*b.Dy()*4 {
		return frame
	}
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		src := frame.PixOffset(b.Min.X, b.Min.Y+y)
		copy(out.Pix[y*out.Stride:(y+1)*out.Stride], frame.Pix[src:src+b.Dx()*4])
	}
	return out
}

func (w *PythonWorker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	return w.Cmd.Wait()
}
