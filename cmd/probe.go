package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/mirage/internal/face"
	"github.com/andresmejia3/mirage/internal/media"
	"github.com/andresmejia3/mirage/internal/utils"
	"github.com/andresmejia3/mirage/internal/worker"
	"github.com/spf13/cobra"
)

var probeFrame int

var probeCmd = &cobra.Command{
	Use:   "probe <path>",
	Short: "List the faces detected on a frame, to pick a reference position",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runProbe(cmd.Context(), args[0], probeFrame)
	},
}

func init() {
	probeCmd.Flags().IntVarP(&probeFrame, "frame", "f", 0, "Frame number to inspect (ignored for images)")
	rootCmd.AddCommand(probeCmd)
}

func runProbe(ctx context.Context, path string, frameNumber int) error {
	acc, err := media.NewAccessor(1, Probes)
	if err != nil {
		return err
	}
	ref, err := acc.Describe(ctx, path)
	if err != nil {
		utils.ShowError("Input is not an image or video", err, nil)
		return err
	}
	fmt.Fprintf(os.Stderr, "📼 %s: %s, %d frame(s)\n", path, ref.Kind, ref.TotalFrames)

	frame, err := acc.Frame(ctx, path, frameNumber)
	if err != nil {
		utils.ShowError("Failed to decode frame", err, nil)
		return err
	}

	// We use ID 0 for this ad-hoc worker
	w := worker.NewLazy(ctx, 0, worker.Config{
		Python:      Cfg.Python,
		Script:      Cfg.WorkerScript,
		Role:        "faces",
		ReadTimeout: Cfg.WorkerTimeout,
	})
	defer w.Close()

	fmt.Fprintln(os.Stderr, "🔍 Detecting faces...")
	faces, err := face.NewLocator(w).LocateAll(ctx, frame)
	if err != nil {
		utils.ShowError("AI processing failed", err, nil)
		return err
	}

	if len(faces) == 0 {
		fmt.Println("❌ No faces detected on this frame.")
		return nil
	}

	wOut := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(wOut, "POSITION\tBOX\tSCORE")
	fmt.Fprintln(wOut, "--------\t---\t-----")
	for i, f := range faces {
		r := f.Rect()
		fmt.Fprintf(wOut, "%d\t%d,%d %dx%d\t%.2f\n", i, r.Min.X, r.Min.Y, r.Dx(), r.Dy(), f.Score)
	}
	wOut.Flush()
	return nil
}
