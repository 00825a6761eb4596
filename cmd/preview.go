package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/andresmejia3/mirage/internal/preview"
	"github.com/andresmejia3/mirage/internal/utils"
	"github.com/disintegration/imaging"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	previewOpts Options
	outDir      string
	scriptPath  string
	profile     string
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Run a preview session driven by commands on stdin",
	Long: `Run one preview session in the terminal. Commands, one per line:

  source <path>     select the identity image
  target <path>     select the target image or video
  output [path]     select the output and run --start-cmd (no path = cancel)
  toggle            show or hide the preview
  frame <+/-N>      step the current frame
  face <+/-N>       step the reference face position on the current frame
  seek <N>          jump to frame N
  state             print the session state
  recent <slot>     print the last directory used for source, target or output
  quit

Rendered frames are written as PNG files into --out-dir.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if err := applySessionFlags(cmd, &previewOpts); err != nil {
			return err
		}
		return runPreview(cmd.Context(), previewOpts)
	},
}

func init() {
	addSessionFlags(previewCmd, &previewOpts)
	previewCmd.Flags().StringVarP(&outDir, "out-dir", "o", "/data/preview", "Directory rendered frames and thumbnails are written to")
	previewCmd.Flags().StringVarP(&scriptPath, "script", "s", "", "Read commands from a file instead of stdin (shows a progress bar)")
	previewCmd.Flags().StringVar(&profile, "profile", "local", "Profile recent directories are remembered under")
	rootCmd.AddCommand(previewCmd)
}

func runPreview(ctx context.Context, opts Options) error {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		utils.ShowError("Failed to create output directory", err, nil)
		return err
	}
	eng, err := newEngine(ctx, opts)
	if err != nil {
		utils.ShowError("Failed to initialize media engine", err, nil)
		return err
	}
	display := &terminalDisplay{dir: outDir, out: os.Stderr}
	ctrl, s, err := eng.newSession(sessionHooks{Display: display, Profile: profile})
	if err != nil {
		utils.ShowError("Failed to build processor chain", err, nil)
		return err
	}
	defer s.Close()

	r := &repl{ctrl: ctrl, display: display, start: startFunc(Cfg.StartCmd), out: os.Stdout}

	if scriptPath == "" {
		fmt.Fprintln(os.Stderr, "🎭 Mirage preview ready. Type commands (quit to exit).")
		return r.run(ctx, os.Stdin, nil)
	}

	data, err := os.ReadFile(scriptPath)
	if err != nil {
		utils.ShowError("Failed to read script", err, nil)
		return err
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	bar := progressbar.NewOptions(len(lines),
		progressbar.OptionSetDescription("🎞️  Mirage Preview"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)
	err = r.run(ctx, strings.NewReader(strings.Join(lines, "\n")), func() { bar.Add(1) })
	bar.Finish()
	fmt.Fprintln(os.Stderr)
	return err
}

type replCommand struct {
	name string
	arg  string
	n    int
}

// parseLine parses one command line. Blank lines and # comments yield an empty name.
func parseLine(line string) (replCommand, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return replCommand{}, nil
	}
	name, arg, _ := strings.Cut(line, " ")
	c := replCommand{name: strings.ToLower(name), arg: strings.TrimSpace(arg)}
	switch c.name {
	case "source", "target", "recent":
		if c.arg == "" {
			return c, fmt.Errorf("%s needs an argument", c.name)
		}
	case "output", "toggle", "state", "quit", "exit":
	case "frame", "face", "seek":
		n, err := strconv.Atoi(strings.TrimPrefix(c.arg, "+"))
		if err != nil {
			return c, fmt.Errorf("%s needs an integer, got %q", c.name, c.arg)
		}
		c.n = n
	default:
		return c, fmt.Errorf("unknown command %q", c.name)
	}
	return c, nil
}

type repl struct {
	ctrl    *preview.Controller
	display *terminalDisplay
	start   preview.StartFunc
	out     io.Writer
}

// run executes commands from in until quit or EOF. tick is called after each line.
func (r *repl) run(ctx context.Context, in io.Reader, tick func()) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		c, err := parseLine(scanner.Text())
		if err != nil {
			fmt.Fprintf(r.out, "❌ %v\n", err)
		} else if c.name == "quit" || c.name == "exit" {
			return nil
		} else if c.name != "" {
			if err := r.exec(ctx, c); err != nil && !errors.Is(err, context.Canceled) {
				fmt.Fprintf(r.out, "❌ %v\n", err)
			}
		}
		if tick != nil {
			tick()
		}
	}
	return scanner.Err()
}

func (r *repl) exec(ctx context.Context, c replCommand) error {
	switch c.name {
	case "source":
		img, err := r.ctrl.SelectSource(ctx, c.arg)
		if err != nil {
			return err
		}
		return r.display.saveThumbnail(preview.SlotSource, img)
	case "target":
		img, err := r.ctrl.SelectTarget(ctx, c.arg)
		if err != nil {
			return err
		}
		return r.display.saveThumbnail(preview.SlotTarget, img)
	case "output":
		return r.ctrl.SelectOutput(ctx, c.arg, r.start)
	case "toggle":
		return r.ctrl.Toggle(ctx)
	case "frame":
		return r.ctrl.StepFrame(ctx, c.n)
	case "face":
		return r.ctrl.StepReferenceFace(ctx, c.n)
	case "seek":
		return r.ctrl.SetFrameNumber(ctx, c.n)
	case "state":
		printState(r.out, r.ctrl.State())
	case "recent":
		fmt.Fprintf(r.out, "📁 %s: %s\n", c.arg, r.ctrl.RecentDirectory(ctx, preview.Slot(c.arg)))
	}
	return nil
}

func printState(w io.Writer, s preview.State) {
	fmt.Fprintf(w, "👁️  %s | frame %d/%d | reference (frame %d, position %d) cached=%t\n",
		s.Visibility, s.CurrentFrame, s.TotalFrames, s.Anchor.FrameNumber, s.Anchor.Position, s.HasReference)
	fmt.Fprintf(w, "   source=%q target=%q output=%q\n", s.Source, s.Target, s.Output)
}

// terminalDisplay writes previews to disk and prints everything else.
type terminalDisplay struct {
	dir  string
	out  io.Writer
	last string
}

func (d *terminalDisplay) ShowPreview(frameNumber int, img image.Image) {
	path := filepath.Join(d.dir, fmt.Sprintf("frame_%06d.png", frameNumber))
	if err := imaging.Save(img, path); err != nil {
		fmt.Fprintf(d.out, "❌ Failed to write preview: %v\n", err)
		return
	}
	d.last = path
	fmt.Fprintf(d.out, "🖼️  Frame %d -> %s\n", frameNumber, path)
}

func (d *terminalDisplay) ShowRange(min, max int) {
	fmt.Fprintf(d.out, "🎚️  Frames %d..%d\n", min, max)
}

func (d *terminalDisplay) HideRange() {}

func (d *terminalDisplay) ShowStatus(text string) {
	fmt.Fprintf(d.out, "ℹ️  %s\n", text)
}

func (d *terminalDisplay) ShowVisibility(v preview.Visibility) {
	fmt.Fprintf(d.out, "👁️  Preview %s\n", v)
}

func (d *terminalDisplay) saveThumbnail(slot preview.Slot, img image.Image) error {
	path := filepath.Join(d.dir, fmt.Sprintf("thumb_%s.png", slot))
	if err := imaging.Save(img, path); err != nil {
		return err
	}
	fmt.Fprintf(d.out, "🖼️  %s thumbnail -> %s\n", slot, path)
	return nil
}
