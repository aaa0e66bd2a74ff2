package cli

import (
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/m-mizutani/ytscribe/pkg/adapter"
	"github.com/m-mizutani/ytscribe/pkg/repository"
	mcpserver "github.com/m-mizutani/ytscribe/pkg/service/mcp"
	"github.com/m-mizutani/ytscribe/pkg/usecase/session"
	"github.com/m-mizutani/ytscribe/pkg/usecase/transcribe"
	"github.com/m-mizutani/ytscribe/pkg/utils/logging"
)

// config holds configuration values
type config struct {
	// Storage
	dataDir         string
	defaultTTLSec   int64
	maxSessionItems int64
	maxSessionBytes int64
	manifestLock    bool

	// yt-dlp
	ytdlpBin        string
	playerClient    string
	remoteEJS       string
	subLang         string
	timeoutSec      int64
	infoCacheTTLSec int64

	// Server
	defaultSessionID string
	autoTextMaxBytes int64
	inlineMaxBytes   int64

	logLevel string
}

// storageFlags returns flags for the session store and manifest lifecycle
func storageFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "data-dir",
			Aliases:     []string{"d"},
			Usage:       "Directory holding per-session artifact trees",
			Value:       "/data",
			Sources:     cli.EnvVars("YTSCRIBE_DATA_DIR", "DATA_DIR"),
			Destination: &cfg.dataDir,
		},
		&cli.IntFlag{
			Name:        "default-ttl-seconds",
			Usage:       "TTL assigned to unpinned items",
			Value:       3600,
			Sources:     cli.EnvVars("TRANSCRIPT_TTL_SECONDS", "DEFAULT_TTL_SEC"),
			Destination: &cfg.defaultTTLSec,
		},
		&cli.IntFlag{
			Name:        "max-session-items",
			Usage:       "Maximum items per session, 0 = unlimited",
			Value:       0,
			Sources:     cli.EnvVars("MAX_SESSION_ITEMS"),
			Destination: &cfg.maxSessionItems,
		},
		&cli.IntFlag{
			Name:        "max-session-bytes",
			Usage:       "Maximum total bytes per session, 0 = unlimited",
			Value:       0,
			Sources:     cli.EnvVars("MAX_SESSION_BYTES"),
			Destination: &cfg.maxSessionBytes,
		},
		&cli.BoolFlag{
			Name:        "manifest-lock",
			Usage:       "Guard manifest writes with an advisory file lock",
			Value:       true,
			Sources:     cli.EnvVars("YTSCRIBE_MANIFEST_LOCK"),
			Destination: &cfg.manifestLock,
		},
	}
}

// ytdlpFlags returns flags for yt-dlp invocation
func ytdlpFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "ytdlp-bin",
			Usage:       "Path to the yt-dlp executable",
			Value:       "yt-dlp",
			Sources:     cli.EnvVars("YTDLP_BIN"),
			Destination: &cfg.ytdlpBin,
		},
		&cli.StringFlag{
			Name:        "ytdlp-player-client",
			Usage:       "YouTube player client passed via extractor-args",
			Value:       "web_safari",
			Sources:     cli.EnvVars("YTDLP_PLAYER_CLIENT"),
			Destination: &cfg.playerClient,
		},
		&cli.StringFlag{
			Name:        "ytdlp-remote-ejs",
			Usage:       "Remote components source for yt-dlp",
			Value:       "ejs:github",
			Sources:     cli.EnvVars("YTDLP_REMOTE_EJS"),
			Destination: &cfg.remoteEJS,
		},
		&cli.StringFlag{
			Name:        "ytdlp-sub-lang",
			Usage:       "Subtitle language pattern",
			Value:       "en.*",
			Sources:     cli.EnvVars("YTDLP_SUB_LANG"),
			Destination: &cfg.subLang,
		},
		&cli.IntFlag{
			Name:        "ytdlp-timeout-seconds",
			Usage:       "Timeout for a single yt-dlp invocation",
			Value:       180,
			Sources:     cli.EnvVars("YTDLP_TIMEOUT_SEC"),
			Destination: &cfg.timeoutSec,
		},
		&cli.IntFlag{
			Name:        "ytdlp-info-cache-ttl-seconds",
			Usage:       "In-memory cache TTL for video metadata lookups",
			Value:       300,
			Sources:     cli.EnvVars("YTDLP_INFO_CACHE_TTL_SEC"),
			Destination: &cfg.infoCacheTTLSec,
		},
	}
}

// serverFlags returns flags for the MCP surface
func serverFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "default-session-id",
			Usage:       "Session ID used when the client provides none",
			Sources:     cli.EnvVars("DEFAULT_SESSION_ID"),
			Destination: &cfg.defaultSessionID,
		},
		&cli.IntFlag{
			Name:        "auto-text-max-bytes",
			Usage:       "Inline threshold for youtube_transcribe_auto",
			Value:       200000,
			Sources:     cli.EnvVars("AUTO_TEXT_MAX_BYTES"),
			Destination: &cfg.autoTextMaxBytes,
		},
		&cli.IntFlag{
			Name:        "inline-text-max-bytes",
			Usage:       "Inline content limit for item resources",
			Value:       20000,
			Sources:     cli.EnvVars("INLINE_TEXT_MAX_BYTES"),
			Destination: &cfg.inlineMaxBytes,
		},
	}
}

// loggingFlags returns flags controlling log output
func loggingFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("YTSCRIBE_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
	}
}

// setupLogging installs the process-wide logger. Logs go to stderr so
// they never interleave with the stdio MCP transport.
func (cfg *config) setupLogging() {
	logging.SetDefault(logging.New(cfg.logLevel, os.Stderr))
}

// newStore creates the session store
func (cfg *config) newStore() (*adapter.SessionStore, error) {
	if cfg.dataDir == "" {
		return nil, goerr.New("data-dir is required")
	}
	return adapter.NewSessionStore(cfg.dataDir), nil
}

// newRepository creates the manifest repository
func (cfg *config) newRepository(store *adapter.SessionStore) (repository.Repository, error) {
	if cfg.defaultTTLSec < 1 {
		return nil, goerr.New("default-ttl-seconds must be >= 1")
	}
	return repository.New(store, repository.Config{
		DefaultTTL:      time.Duration(cfg.defaultTTLSec) * time.Second,
		MaxSessionItems: int(cfg.maxSessionItems),
		MaxSessionBytes: cfg.maxSessionBytes,
		UseLock:         cfg.manifestLock,
	}), nil
}

// newYTDLP creates the yt-dlp adapter
func (cfg *config) newYTDLP() *adapter.YTDLP {
	return adapter.NewYTDLP(adapter.YTDLPConfig{
		Bin:          cfg.ytdlpBin,
		PlayerClient: cfg.playerClient,
		RemoteEJS:    cfg.remoteEJS,
		SubLang:      cfg.subLang,
		Timeout:      time.Duration(cfg.timeoutSec) * time.Second,
		InfoCacheTTL: time.Duration(cfg.infoCacheTTLSec) * time.Second,
	})
}

// newDeps wires the full dependency set of the MCP server
func (cfg *config) newDeps() (*mcpserver.Deps, error) {
	store, err := cfg.newStore()
	if err != nil {
		return nil, err
	}
	repo, err := cfg.newRepository(store)
	if err != nil {
		return nil, err
	}
	client := cfg.newYTDLP()

	return &mcpserver.Deps{
		Config: mcpserver.Config{
			DefaultSessionID: cfg.defaultSessionID,
			AutoTextMaxBytes: int(cfg.autoTextMaxBytes),
			InlineMaxBytes:   cfg.inlineMaxBytes,
		},
		Transcribe: transcribe.New(client, store, repo),
		Session:    session.New(store, repo),
		Repo:       repo,
		Info:       client,
	}, nil
}

// fileConfig is the optional YAML config file. Every field is a pointer
// so absent keys leave the flag defaults alone.
type fileConfig struct {
	DataDir          *string `yaml:"data_dir"`
	DefaultTTLSec    *int64  `yaml:"default_ttl_seconds"`
	MaxSessionItems  *int64  `yaml:"max_session_items"`
	MaxSessionBytes  *int64  `yaml:"max_session_bytes"`
	ManifestLock     *bool   `yaml:"manifest_lock"`
	YTDLPBin         *string `yaml:"ytdlp_bin"`
	PlayerClient     *string `yaml:"ytdlp_player_client"`
	RemoteEJS        *string `yaml:"ytdlp_remote_ejs"`
	SubLang          *string `yaml:"ytdlp_sub_lang"`
	TimeoutSec       *int64  `yaml:"ytdlp_timeout_seconds"`
	InfoCacheTTLSec  *int64  `yaml:"ytdlp_info_cache_ttl_seconds"`
	DefaultSessionID *string `yaml:"default_session_id"`
	AutoTextMaxBytes *int64  `yaml:"auto_text_max_bytes"`
	InlineMaxBytes   *int64  `yaml:"inline_text_max_bytes"`
	LogLevel         *string `yaml:"log_level"`
}

// applyConfigFile overlays file values onto cfg. Flags or env vars set on
// the command line win over the file; the file wins over built-in defaults.
func (cfg *config) applyConfigFile(path string, isSet func(name string) bool) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return goerr.Wrap(err, "failed to read config file", goerr.V("path", path))
	}

	var file fileConfig
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return goerr.Wrap(err, "failed to parse config file", goerr.V("path", path))
	}

	setString := func(name string, dst *string, src *string) {
		if src != nil && !isSet(name) {
			*dst = *src
		}
	}
	setInt := func(name string, dst *int64, src *int64) {
		if src != nil && !isSet(name) {
			*dst = *src
		}
	}

	setString("data-dir", &cfg.dataDir, file.DataDir)
	setInt("default-ttl-seconds", &cfg.defaultTTLSec, file.DefaultTTLSec)
	setInt("max-session-items", &cfg.maxSessionItems, file.MaxSessionItems)
	setInt("max-session-bytes", &cfg.maxSessionBytes, file.MaxSessionBytes)
	if file.ManifestLock != nil && !isSet("manifest-lock") {
		cfg.manifestLock = *file.ManifestLock
	}
	setString("ytdlp-bin", &cfg.ytdlpBin, file.YTDLPBin)
	setString("ytdlp-player-client", &cfg.playerClient, file.PlayerClient)
	setString("ytdlp-remote-ejs", &cfg.remoteEJS, file.RemoteEJS)
	setString("ytdlp-sub-lang", &cfg.subLang, file.SubLang)
	setInt("ytdlp-timeout-seconds", &cfg.timeoutSec, file.TimeoutSec)
	setInt("ytdlp-info-cache-ttl-seconds", &cfg.infoCacheTTLSec, file.InfoCacheTTLSec)
	setString("default-session-id", &cfg.defaultSessionID, file.DefaultSessionID)
	setInt("auto-text-max-bytes", &cfg.autoTextMaxBytes, file.AutoTextMaxBytes)
	setInt("inline-text-max-bytes", &cfg.inlineMaxBytes, file.InlineMaxBytes)
	setString("log-level", &cfg.logLevel, file.LogLevel)

	return nil
}
