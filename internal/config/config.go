// Package config provides environment-driven settings for appmirror.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Settings holds every tunable the pipeline reads. All values come from
// APPMIRROR_* environment variables with defaults suitable for a first run.
type Settings struct {
	DataDir     string // base directory for the database and checkpoints
	BinariesDir string // default root for downloaded artifacts
	LogsDir     string

	DatabasePath   string
	CheckpointFile string

	// Remote API endpoints.
	BaseURL  string // marketplace site, also the download host
	APIv2URL string // catalog search
	APIv3URL string // version listings and compatibility

	Username string
	APIToken string

	BatchSize           int           // search page size
	RequestDelay        time.Duration // rate limiter base delay
	RequestDelayFloor   time.Duration
	RequestDelayCeiling time.Duration
	BackoffMultiplier   float64

	VersionAgeLimitDays    int
	MaxConcurrentDownloads int
	MaxVersionWorkers      int
	MaxRetryAttempts       int

	// Per-product binary directory overrides, keyed by product key.
	productBinaryDirs map[string]string
}

// Load builds Settings from the environment. It never fails; unset or
// malformed variables fall back to defaults.
func Load() *Settings {
	dataDir := envStr("APPMIRROR_DATA_DIR", defaultDataDir())
	s := &Settings{
		DataDir:     dataDir,
		BinariesDir: envStr("APPMIRROR_BINARIES_DIR", filepath.Join(dataDir, "binaries")),
		LogsDir:     envStr("APPMIRROR_LOGS_DIR", filepath.Join(dataDir, "logs")),

		BaseURL:  envStr("APPMIRROR_BASE_URL", "https://marketplace.atlassian.com"),
		Username: os.Getenv("APPMIRROR_USERNAME"),
		APIToken: os.Getenv("APPMIRROR_API_TOKEN"),

		BatchSize:           envInt("APPMIRROR_BATCH_SIZE", 50),
		RequestDelay:        envDuration("APPMIRROR_REQUEST_DELAY", 500*time.Millisecond),
		RequestDelayFloor:   envDuration("APPMIRROR_REQUEST_DELAY_FLOOR", 500*time.Millisecond),
		RequestDelayCeiling: envDuration("APPMIRROR_REQUEST_DELAY_CEILING", 10*time.Second),
		BackoffMultiplier:   envFloat("APPMIRROR_BACKOFF_MULTIPLIER", 2.0),

		VersionAgeLimitDays:    envInt("APPMIRROR_VERSION_AGE_LIMIT_DAYS", 365),
		MaxConcurrentDownloads: envInt("APPMIRROR_MAX_CONCURRENT_DOWNLOADS", 3),
		MaxVersionWorkers:      envInt("APPMIRROR_MAX_VERSION_WORKERS", 10),
		MaxRetryAttempts:       envInt("APPMIRROR_MAX_RETRY_ATTEMPTS", 3),

		productBinaryDirs: make(map[string]string),
	}

	s.APIv2URL = envStr("APPMIRROR_API_V2_URL", s.BaseURL+"/rest/2")
	s.APIv3URL = envStr("APPMIRROR_API_V3_URL", "https://api.atlassian.com/marketplace/rest/3")
	s.DatabasePath = envStr("APPMIRROR_DATABASE_PATH", filepath.Join(dataDir, "appmirror.db"))
	s.CheckpointFile = envStr("APPMIRROR_CHECKPOINT_FILE", filepath.Join(dataDir, "checkpoints", "discovery.json"))

	// Per-product storage mapping lets binaries for different products live
	// on different drives, e.g. APPMIRROR_BINARIES_DIR_JIRA=/mnt/d/jira.
	for _, env := range os.Environ() {
		const prefix = "APPMIRROR_BINARIES_DIR_"
		if !strings.HasPrefix(env, prefix) {
			continue
		}
		kv := strings.SplitN(strings.TrimPrefix(env, prefix), "=", 2)
		if len(kv) == 2 && kv[0] != "" && kv[1] != "" {
			s.productBinaryDirs[strings.ToLower(kv[0])] = kv[1]
		}
	}

	return s
}

// BinariesDirFor returns the artifact root for a product, honoring the
// per-product override if one is configured.
func (s *Settings) BinariesDirFor(product string) string {
	if dir, ok := s.productBinaryDirs[strings.ToLower(product)]; ok {
		return dir
	}
	return filepath.Join(s.BinariesDir, strings.ToLower(product))
}

// EnsureDirs creates the data, binaries, logs and checkpoint directories.
func (s *Settings) EnsureDirs() error {
	dirs := []string{s.DataDir, s.BinariesDir, s.LogsDir, filepath.Dir(s.CheckpointFile)}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".appmirror"
	}
	return filepath.Join(home, ".appmirror")
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 1 {
		return def
	}
	return f
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return def
	}
	return d
}
