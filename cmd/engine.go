package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/andresmejia3/mirage/internal/face"
	"github.com/andresmejia3/mirage/internal/media"
	"github.com/andresmejia3/mirage/internal/preview"
	"github.com/andresmejia3/mirage/internal/processor"
	"github.com/andresmejia3/mirage/internal/safety"
	"github.com/andresmejia3/mirage/internal/utils"
	"github.com/andresmejia3/mirage/internal/worker"
	"github.com/google/uuid"
)

const frameCacheDefault = 64

// engine builds preview sessions that share the decoded-frame cache. Model
// workers are per session so that hiding one preview never resets another.
type engine struct {
	ctx    context.Context
	media  *media.Accessor
	opts   Options
	nextID atomic.Int32
}

func newEngine(ctx context.Context, opts Options) (*engine, error) {
	size := Cfg.FrameCacheSize
	if size <= 0 {
		size = frameCacheDefault
	}
	acc, err := media.NewAccessor(size, Probes)
	if err != nil {
		return nil, err
	}
	return &engine{ctx: ctx, media: acc, opts: opts}, nil
}

func (e *engine) workerConfig(role string) worker.Config {
	return worker.Config{
		Python:      Cfg.Python,
		Script:      Cfg.WorkerScript,
		Role:        role,
		ReadTimeout: Cfg.WorkerTimeout,
	}
}

// session is the set of workers behind one controller.
type session struct {
	faces  *worker.Lazy
	safety *worker.Lazy
}

func (s *session) Close() error {
	s.safety.Close()
	return s.faces.Close()
}

// sessionHooks are what the host supplies to one session. A nil Terminate
// exits the process on a policy violation; an empty Profile keeps recent
// directories in memory for the session only.
type sessionHooks struct {
	Display   preview.Display
	Terminate func(err error)
	Profile   string
}

// newSession wires a controller with its own workers, gate and processor chain.
func (e *engine) newSession(hooks sessionHooks) (*preview.Controller, *session, error) {
	style, err := processor.ParseStyle(e.opts.RedactStyle)
	if err != nil {
		return nil, nil, err
	}

	id := int(e.nextID.Add(1))
	s := &session{
		faces:  worker.NewLazy(e.ctx, id, e.workerConfig("faces")),
		safety: worker.NewLazy(e.ctx, id, e.workerConfig("safety")),
	}
	locator := face.NewLocator(s.faces)

	chain, err := processor.Build(Cfg.Processors, processor.Deps{
		Faces:          locator,
		Swap:           s.faces,
		Enhance:        s.faces,
		ManyFaces:      Cfg.ManyFaces,
		FaceDistance:   Cfg.FaceDistance,
		RedactStyle:    style,
		RedactStrength: e.opts.RedactStrength,
	})
	if err != nil {
		s.Close()
		return nil, nil, err
	}

	var dirs preview.DirectoryMemory
	if DB != nil && hooks.Profile != "" {
		dirs = DB.Directories(hooks.Profile)
	}
	ctrl := preview.NewController(e.media, locator, safety.NewGate(s.safety, Cfg.SafetyThreshold), chain, hooks.Display, preview.Options{
		PreviewSize: Cfg.PreviewMax,
		OnViolation: Cfg.ViolationPolicy(),
		Terminate:   hooks.Terminate,
		Directories: dirs,
		Settings: preview.Settings{
			KeepFPS:    e.opts.KeepFPS,
			KeepFrames: e.opts.KeepFrames,
			SkipAudio:  e.opts.SkipAudio,
			ManyFaces:  Cfg.ManyFaces,
			Processors: chain.Names(),
		},
	})
	return ctrl, s, nil
}

// startFunc records the selection and hands it to the configured start command.
func startFunc(command string) preview.StartFunc {
	return func(ctx context.Context, sel preview.Selection) error {
		id := uuid.New().String()
		if DB != nil {
			if err := DB.RecordSession(ctx, id, sel); err != nil {
				utils.ShowError("Failed to record session", err, nil)
			}
		}
		if command == "" {
			fmt.Fprintf(os.Stderr, "📦 Output selected: %s (no --start-cmd configured)\n", sel.Output)
			return nil
		}

		fmt.Fprintf(os.Stderr, "🎬 Starting render %s -> %s\n", id[:8], sel.Output)
		sh := utils.NewSafeCommand(ctx, "sh", "-c", command)
		sh.Env = append(os.Environ(), startEnv(id, sel)...)
		sh.Stdout = os.Stderr
		if err := sh.Run(); err != nil {
			utils.ShowError("Start command failed", err, sh)
			return fmt.Errorf("start command failed: %w", err)
		}
		fmt.Fprintf(os.Stderr, "✅ Render %s finished\n", id[:8])
		return nil
	}
}

// startEnv exposes the selection to the start command.
func startEnv(id string, sel preview.Selection) []string {
	return []string{
		"MIRAGE_SESSION=" + id,
		"SOURCE=" + sel.Source,
		"TARGET=" + sel.Target,
		"OUTPUT=" + sel.Output,
		"TARGET_KIND=" + sel.Kind.String(),
		"PROCESSORS=" + strings.Join(sel.Settings.Processors, ","),
		fmt.Sprintf("MANY_FACES=%t", sel.Settings.ManyFaces),
		fmt.Sprintf("KEEP_FPS=%t", sel.Settings.KeepFPS),
		fmt.Sprintf("KEEP_FRAMES=%t", sel.Settings.KeepFrames),
		fmt.Sprintf("SKIP_AUDIO=%t", sel.Settings.SkipAudio),
	}
}

func splitNames(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
