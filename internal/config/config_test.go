package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	s := Load()

	if s.BatchSize != 50 {
		t.Errorf("BatchSize = %d, want 50", s.BatchSize)
	}
	if s.RequestDelay != 500*time.Millisecond {
		t.Errorf("RequestDelay = %s, want 500ms", s.RequestDelay)
	}
	if s.RequestDelayCeiling != 10*time.Second {
		t.Errorf("RequestDelayCeiling = %s, want 10s", s.RequestDelayCeiling)
	}
	if s.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want 2.0", s.BackoffMultiplier)
	}
	if s.VersionAgeLimitDays != 365 {
		t.Errorf("VersionAgeLimitDays = %d, want 365", s.VersionAgeLimitDays)
	}
	if s.MaxConcurrentDownloads != 3 {
		t.Errorf("MaxConcurrentDownloads = %d, want 3", s.MaxConcurrentDownloads)
	}
	if s.MaxVersionWorkers != 10 {
		t.Errorf("MaxVersionWorkers = %d, want 10", s.MaxVersionWorkers)
	}
	if s.APIv2URL != "https://marketplace.atlassian.com/rest/2" {
		t.Errorf("APIv2URL = %q", s.APIv2URL)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("APPMIRROR_DATA_DIR", "/srv/mirror")
	t.Setenv("APPMIRROR_BATCH_SIZE", "25")
	t.Setenv("APPMIRROR_REQUEST_DELAY", "2s")
	t.Setenv("APPMIRROR_BASE_URL", "https://mp.internal.example.com")

	s := Load()

	if s.DataDir != "/srv/mirror" {
		t.Errorf("DataDir = %q, want /srv/mirror", s.DataDir)
	}
	if s.DatabasePath != filepath.Join("/srv/mirror", "appmirror.db") {
		t.Errorf("DatabasePath = %q should follow DataDir", s.DatabasePath)
	}
	if s.BatchSize != 25 {
		t.Errorf("BatchSize = %d, want 25", s.BatchSize)
	}
	if s.RequestDelay != 2*time.Second {
		t.Errorf("RequestDelay = %s, want 2s", s.RequestDelay)
	}
	if s.APIv2URL != "https://mp.internal.example.com/rest/2" {
		t.Errorf("APIv2URL = %q should follow BaseURL", s.APIv2URL)
	}
}

func TestLoad_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("APPMIRROR_BATCH_SIZE", "not-a-number")
	t.Setenv("APPMIRROR_MAX_RETRY_ATTEMPTS", "-2")
	t.Setenv("APPMIRROR_REQUEST_DELAY", "soon")
	t.Setenv("APPMIRROR_BACKOFF_MULTIPLIER", "0.5")

	s := Load()

	if s.BatchSize != 50 {
		t.Errorf("BatchSize = %d, want default 50 for garbage input", s.BatchSize)
	}
	if s.MaxRetryAttempts != 3 {
		t.Errorf("MaxRetryAttempts = %d, want default 3 for negative input", s.MaxRetryAttempts)
	}
	if s.RequestDelay != 500*time.Millisecond {
		t.Errorf("RequestDelay = %s, want default for unparseable input", s.RequestDelay)
	}
	if s.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want default for a shrinking multiplier", s.BackoffMultiplier)
	}
}

func TestBinariesDirFor(t *testing.T) {
	t.Setenv("APPMIRROR_BINARIES_DIR", "/data/binaries")
	t.Setenv("APPMIRROR_BINARIES_DIR_JIRA", "/mnt/d/jira")

	s := Load()

	if got := s.BinariesDirFor("jira"); got != "/mnt/d/jira" {
		t.Errorf("BinariesDirFor(jira) = %q, want the per-product override", got)
	}
	if got := s.BinariesDirFor("JIRA"); got != "/mnt/d/jira" {
		t.Errorf("BinariesDirFor(JIRA) = %q, override lookup should be case-insensitive", got)
	}
	if got := s.BinariesDirFor("confluence"); got != filepath.Join("/data/binaries", "confluence") {
		t.Errorf("BinariesDirFor(confluence) = %q, want the default root subdir", got)
	}
}

func TestEnsureDirs(t *testing.T) {
	base := t.TempDir()
	t.Setenv("APPMIRROR_DATA_DIR", base)

	s := Load()
	if err := s.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs() failed: %v", err)
	}
	for _, dir := range []string{s.BinariesDir, s.LogsDir, filepath.Dir(s.CheckpointFile)} {
		if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
			t.Errorf("%s missing after EnsureDirs()", dir)
		}
	}
}
