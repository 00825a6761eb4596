// Package config resolves mirage settings from the environment and an optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/andresmejia3/mirage/internal/media"
	"github.com/andresmejia3/mirage/internal/preview"
	"github.com/andresmejia3/mirage/internal/processor"
	"github.com/andresmejia3/mirage/internal/safety"
	"github.com/joho/godotenv"
)

type Config struct {
	DBURL     string
	RedisAddr string
	Listen    string

	Python        string
	WorkerScript  string
	WorkerTimeout time.Duration

	Processors      []string
	ManyFaces       bool
	FaceDistance    float64
	SafetyThreshold float64
	OnViolation     string
	PreviewMax      media.Size
	FrameCacheSize  int
	StartCmd        string
}

// Load reads .env (if present) and the environment, falling back to defaults.
// Values are not validated; call Validate after applying flag overrides.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		DBURL:           firstNonEmpty(env("MIRAGE_DB_URL"), postgresURL()),
		RedisAddr:       env("MIRAGE_REDIS_ADDR"),
		Listen:          firstNonEmpty(env("MIRAGE_LISTEN"), ":8080"),
		Python:          firstNonEmpty(env("MIRAGE_PYTHON"), "python3"),
		WorkerScript:    firstNonEmpty(env("MIRAGE_WORKER_SCRIPT"), "python/worker.py"),
		WorkerTimeout:   durationEnv("MIRAGE_WORKER_TIMEOUT", 30*time.Second),
		Processors:      splitList(firstNonEmpty(env("MIRAGE_PROCESSORS"), "swapper")),
		ManyFaces:       boolEnv("MIRAGE_MANY_FACES", false),
		FaceDistance:    floatEnv("MIRAGE_FACE_DISTANCE", processor.DefaultSimilarFaceDistance),
		SafetyThreshold: floatEnv("MIRAGE_SAFETY_THRESHOLD", safety.DefaultThreshold),
		OnViolation:     firstNonEmpty(env("MIRAGE_ON_VIOLATION"), "terminate"),
		PreviewMax:      media.PreviewMaxSize,
		FrameCacheSize:  intEnv("MIRAGE_FRAME_CACHE", 64),
		StartCmd:        env("MIRAGE_START_CMD"),
	}
	if raw := env("MIRAGE_PREVIEW_MAX"); raw != "" {
		if size, err := ParseSize(raw); err == nil {
			cfg.PreviewMax = size
		} else {
			cfg.PreviewMax = media.Size{}
		}
	}
	return cfg
}

// postgresURL builds a connection string from POSTGRES_* variables, or the local default.
func postgresURL() string {
	host := env("POSTGRES_HOST")
	if host == "" {
		return "postgres://localhost:5432/mirage"
	}
	port := firstNonEmpty(env("POSTGRES_PORT"), "5432")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		env("POSTGRES_USER"), env("POSTGRES_PASSWORD"), host, port, env("POSTGRES_DB"))
}

// Validate rejects settings no session could start with.
func (c *Config) Validate() error {
	if c.SafetyThreshold <= 0 || c.SafetyThreshold > 1 {
		return fmt.Errorf("safety threshold must be in (0, 1], got %v", c.SafetyThreshold)
	}
	if c.FaceDistance <= 0 {
		return fmt.Errorf("face distance must be positive, got %v", c.FaceDistance)
	}
	if _, err := preview.ParseViolationPolicy(c.OnViolation); err != nil {
		return err
	}
	if c.PreviewMax.Width <= 0 || c.PreviewMax.Height <= 0 {
		return fmt.Errorf("preview size must be WIDTHxHEIGHT with positive sides")
	}
	if c.WorkerTimeout <= 0 {
		return fmt.Errorf("worker timeout must be positive, got %v", c.WorkerTimeout)
	}
	for _, name := range c.Processors {
		if !known(name) {
			return fmt.Errorf("unknown processor %q (known: %s)", name, strings.Join(processor.Known, ", "))
		}
	}
	return nil
}

// ViolationPolicy returns the parsed policy. Validate first.
func (c *Config) ViolationPolicy() preview.ViolationPolicy {
	p, _ := preview.ParseViolationPolicy(c.OnViolation)
	return p
}

// ParseSize parses "1200x700".
func ParseSize(raw string) (media.Size, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(raw)), "x")
	if !ok {
		return media.Size{}, fmt.Errorf("invalid size %q, expected WIDTHxHEIGHT", raw)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return media.Size{}, fmt.Errorf("invalid width in %q: %w", raw, err)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return media.Size{}, fmt.Errorf("invalid height in %q: %w", raw, err)
	}
	if width <= 0 || height <= 0 {
		return media.Size{}, fmt.Errorf("size %q must be positive", raw)
	}
	return media.Size{Width: width, Height: height}, nil
}

func known(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, k := range processor.Known {
		if k == name {
			return true
		}
	}
	return false
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func boolEnv(key string, def bool) bool {
	v, err := strconv.ParseBool(env(key))
	if err != nil {
		return def
	}
	return v
}

func intEnv(key string, def int) int {
	v, err := strconv.Atoi(env(key))
	if err != nil {
		return def
	}
	return v
}

func floatEnv(key string, def float64) float64 {
	v, err := strconv.ParseFloat(env(key), 64)
	if err != nil {
		return def
	}
	return v
}

func durationEnv(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(env(key))
	if err != nil {
		return def
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
