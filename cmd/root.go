package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/mirage/internal/config"
	"github.com/andresmejia3/mirage/internal/media"
	"github.com/andresmejia3/mirage/internal/processor"
	"github.com/andresmejia3/mirage/internal/store"
	"github.com/spf13/cobra"
)

// Options holds the session flags shared by serve and preview.
type Options struct {
	Processors     string
	ManyFaces      bool
	OnViolation    string
	Threshold      float64
	FaceDistance   float64
	PreviewSize    string
	StartCmd       string
	KeepFPS        bool
	KeepFrames     bool
	SkipAudio      bool
	RedactStyle    string
	RedactStrength int
}

// requiresDB marks commands that cannot run without the store.
const requiresDB = "requires-db"

var (
	// Cfg is the resolved configuration (.env + environment + flags)
	Cfg *config.Config
	// DB is the global database connection shared by subcommands. It is nil when
	// the database is unreachable and the command can run without it.
	DB *store.Store
	// Probes caches video probes; Redis-backed when --redis is set
	Probes media.ProbeCache

	dbURL     string
	redisAddr string
	workerPy  string
	pythonBin string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "mirage",
	Short:   "Interactive face-swap preview engine",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		Cfg = config.Load()
		if dbURL != "" {
			Cfg.DBURL = dbURL
		}
		if redisAddr != "" {
			Cfg.RedisAddr = redisAddr
		}
		if workerPy != "" {
			Cfg.WorkerScript = workerPy
		}
		if pythonBin != "" {
			Cfg.Python = pythonBin
		}

		// Initialize DB connection
		var err error
		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), Cfg.DBURL)
		if err != nil {
			if cmd.Annotations[requiresDB] != "" {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			fmt.Fprintf(os.Stderr, "⚠️  Database unavailable, recent directories will not persist: %v\n", err)
			DB = nil
		}

		Probes = media.NewMemoryProbeCache()
		if Cfg.RedisAddr != "" {
			rc, err := media.NewRedisProbeCache(cmd.Context(), Cfg.RedisAddr, os.Getenv("MIRAGE_REDIS_PASSWORD"), 0)
			if err != nil {
				fmt.Fprintf(os.Stderr, "⚠️  Redis unavailable, probing without shared cache: %v\n", err)
			} else {
				Probes = rc
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
		}
		if rc, ok := Probes.(*media.RedisProbeCache); ok {
			rc.Close()
		}
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: $MIRAGE_DB_URL or postgres://localhost:5432/mirage)")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis", "", "Redis address for the shared probe cache (default: $MIRAGE_REDIS_ADDR, disabled if empty)")
	rootCmd.PersistentFlags().StringVar(&workerPy, "worker", "", "Path to the Python model worker script (default: $MIRAGE_WORKER_SCRIPT or python/worker.py)")
	rootCmd.PersistentFlags().StringVar(&pythonBin, "python", "", "Python interpreter (default: $MIRAGE_PYTHON or python3)")
}

// addSessionFlags registers the flags that shape a preview session.
func addSessionFlags(cmd *cobra.Command, opts *Options) {
	cmd.Flags().StringVarP(&opts.Processors, "processors", "p", "", "Comma-separated processor chain: swapper, enhancer, redactor (default: $MIRAGE_PROCESSORS or swapper)")
	cmd.Flags().BoolVarP(&opts.ManyFaces, "many-faces", "m", false, "Process every face instead of only the reference face")
	cmd.Flags().StringVar(&opts.OnViolation, "on-violation", "", "What a flagged frame does: terminate or block (default: terminate)")
	cmd.Flags().Float64VarP(&opts.Threshold, "threshold", "t", 0, "Content safety threshold (default: 0.85)")
	cmd.Flags().Float64Var(&opts.FaceDistance, "face-distance", 0, "Maximum embedding distance to the reference face (default: 0.85)")
	cmd.Flags().StringVar(&opts.PreviewSize, "preview-size", "", "Preview box, WIDTHxHEIGHT (default: 1200x700)")
	cmd.Flags().StringVar(&opts.StartCmd, "start-cmd", "", "Shell command run when an output is selected (gets SOURCE, TARGET, OUTPUT)")
	cmd.Flags().BoolVar(&opts.KeepFPS, "keep-fps", false, "Forward keep_fps to the start command")
	cmd.Flags().BoolVar(&opts.KeepFrames, "keep-frames", false, "Forward keep_frames to the start command")
	cmd.Flags().BoolVar(&opts.SkipAudio, "skip-audio", false, "Forward skip_audio to the start command")
	cmd.Flags().StringVar(&opts.RedactStyle, "redact-style", "pixel", "Redactor style: pixel, black, gauss, secure")
	cmd.Flags().IntVar(&opts.RedactStrength, "redact-strength", 15, "Redactor strength (block size or blur radius)")
}

// applySessionFlags merges explicitly set flags into Cfg and validates the result.
func applySessionFlags(cmd *cobra.Command, opts *Options) error {
	flags := cmd.Flags()
	if flags.Changed("processors") {
		Cfg.Processors = splitNames(opts.Processors)
	}
	if flags.Changed("many-faces") {
		Cfg.ManyFaces = opts.ManyFaces
	}
	if flags.Changed("on-violation") {
		Cfg.OnViolation = opts.OnViolation
	}
	if flags.Changed("threshold") {
		Cfg.SafetyThreshold = opts.Threshold
	}
	if flags.Changed("face-distance") {
		Cfg.FaceDistance = opts.FaceDistance
	}
	if flags.Changed("preview-size") {
		size, err := config.ParseSize(opts.PreviewSize)
		if err != nil {
			return err
		}
		Cfg.PreviewMax = size
	}
	if flags.Changed("start-cmd") {
		Cfg.StartCmd = opts.StartCmd
	}
	if _, err := processor.ParseStyle(opts.RedactStyle); err != nil {
		return err
	}
	return Cfg.Validate()
}
