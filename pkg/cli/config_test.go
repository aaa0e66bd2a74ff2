package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
)

func TestApplyConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	body := `
data_dir: /var/ytscribe
default_ttl_seconds: 600
manifest_lock: false
ytdlp_bin: /usr/local/bin/yt-dlp
log_level: debug
`
	gt.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg := config{
		dataDir:       "/data",
		defaultTTLSec: 3600,
		manifestLock:  true,
		ytdlpBin:      "yt-dlp",
		subLang:       "en.*",
		logLevel:      "info",
	}

	// data-dir was set on the command line and must survive the overlay.
	isSet := func(name string) bool { return name == "data-dir" }
	gt.NoError(t, cfg.applyConfigFile(path, isSet))

	gt.Equal(t, cfg.dataDir, "/data")
	gt.Equal(t, cfg.defaultTTLSec, int64(600))
	gt.False(t, cfg.manifestLock)
	gt.Equal(t, cfg.ytdlpBin, "/usr/local/bin/yt-dlp")
	gt.Equal(t, cfg.logLevel, "debug")

	// Keys absent from the file keep their defaults.
	gt.Equal(t, cfg.subLang, "en.*")
}

func TestApplyConfigFileErrors(t *testing.T) {
	var cfg config
	never := func(string) bool { return false }

	gt.Error(t, cfg.applyConfigFile(filepath.Join(t.TempDir(), "missing.yml"), never))

	path := filepath.Join(t.TempDir(), "bad.yml")
	gt.NoError(t, os.WriteFile(path, []byte("data_dir: [broken"), 0o644))
	gt.Error(t, cfg.applyConfigFile(path, never))
}
