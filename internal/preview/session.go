package preview

import (
	"context"
	"errors"
	"image"
	"sync"

	"github.com/andresmejia3/mirage/internal/media"
)

// Visibility of the preview surface.
type Visibility int

const (
	Hidden Visibility = iota
	Visible
)

func (v Visibility) String() string {
	if v == Visible {
		return "visible"
	}
	return "hidden"
}

// ViolationPolicy decides what a flagged preview frame does to the session.
type ViolationPolicy int

const (
	// Terminate ends the whole session through the controller's Terminate hook.
	Terminate ViolationPolicy = iota
	// Block refuses to render the frame and keeps the session alive.
	Block
)

// ParseViolationPolicy accepts "terminate" or "block".
func ParseViolationPolicy(s string) (ViolationPolicy, error) {
	switch s {
	case "terminate", "":
		return Terminate, nil
	case "block":
		return Block, nil
	}
	return Terminate, errors.New("invalid violation policy '" + s + "'. Must be 'terminate' or 'block'")
}

func (p ViolationPolicy) String() string {
	if p == Block {
		return "block"
	}
	return "terminate"
}

// Display receives everything the controller wants shown. Calls are made while
// the controller holds its lock, in commit order; implementations must not call
// back into the controller.
type Display interface {
	ShowPreview(frameNumber int, img image.Image)
	ShowRange(min, max int)
	HideRange()
	ShowStatus(text string)
	ShowVisibility(v Visibility)
}

// Slot names a selection whose directory is remembered between picks.
type Slot string

const (
	SlotSource Slot = "source"
	SlotTarget Slot = "target"
	SlotOutput Slot = "output"
)

// DirectoryMemory remembers the last directory used per slot.
type DirectoryMemory interface {
	Remember(ctx context.Context, slot Slot, dir string) error
	Recent(ctx context.Context, slot Slot) (string, error)
}

// Settings are the session toggles forwarded to the start collaborator.
type Settings struct {
	KeepFPS    bool     `json:"keep_fps"`
	KeepFrames bool     `json:"keep_frames"`
	SkipAudio  bool     `json:"skip_audio"`
	ManyFaces  bool     `json:"many_faces"`
	Processors []string `json:"processors"`
}

// Selection is what the start collaborator receives.
type Selection struct {
	Source   string
	Target   string
	Output   string
	Kind     media.Kind
	Settings Settings
}

// StartFunc hands a complete selection to the export collaborator.
type StartFunc func(ctx context.Context, sel Selection) error

// MemoryDirectories is a process-local DirectoryMemory.
type MemoryDirectories struct {
	mu   sync.RWMutex
	dirs map[Slot]string
}

func NewMemoryDirectories() *MemoryDirectories {
	return &MemoryDirectories{dirs: make(map[Slot]string)}
}

func (m *MemoryDirectories) Remember(_ context.Context, slot Slot, dir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirs[slot] = dir
	return nil
}

func (m *MemoryDirectories) Recent(_ context.Context, slot Slot) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dirs[slot], nil
}

// NopDisplay discards all output.
type NopDisplay struct{}

func (NopDisplay) ShowPreview(int, image.Image) {}
func (NopDisplay) ShowRange(int, int)           {}
func (NopDisplay) HideRange()                   {}
func (NopDisplay) ShowStatus(string)            {}
func (NopDisplay) ShowVisibility(Visibility)    {}
