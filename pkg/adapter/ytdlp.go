package adapter

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/ytscribe/pkg/model"
)

// VideoInfo is the subset of yt-dlp metadata the server exposes.
type VideoInfo struct {
	Duration       *float64 `json:"duration"`
	DurationString *string  `json:"duration_string"`
	Title          *string  `json:"title"`
	IsLive         *bool    `json:"is_live"`
}

// Subtitles is the raw result of a subtitle fetch.
type Subtitles struct {
	VTTText    string
	Output     string
	PickedFile string
}

// Runner executes an external command in dir and returns its combined output.
type Runner func(ctx context.Context, dir string, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// YTDLPConfig holds the yt-dlp invocation settings.
type YTDLPConfig struct {
	Bin          string
	PlayerClient string
	RemoteEJS    string
	SubLang      string
	Timeout      time.Duration
	InfoCacheTTL time.Duration
}

// YTDLP invokes the yt-dlp command to fetch video metadata and subtitles.
// Metadata lookups are cached in memory for InfoCacheTTL.
type YTDLP struct {
	config YTDLPConfig
	run    Runner
	clock  Clock

	mu    sync.Mutex
	cache map[string]infoCacheEntry
}

type infoCacheEntry struct {
	info     *VideoInfo
	cachedAt time.Time
}

type YTDLPOption func(*YTDLP)

// WithRunner replaces the command runner, mainly for tests.
func WithRunner(run Runner) YTDLPOption {
	return func(x *YTDLP) { x.run = run }
}

// WithYTDLPClock replaces the clock used for cache expiry.
func WithYTDLPClock(clock Clock) YTDLPOption {
	return func(x *YTDLP) { x.clock = clock }
}

func NewYTDLP(config YTDLPConfig, options ...YTDLPOption) *YTDLP {
	client := &YTDLP{
		config: config,
		run:    execRunner,
		clock:  NewClock(),
		cache:  make(map[string]infoCacheEntry),
	}
	for _, opt := range options {
		opt(client)
	}
	return client
}

func (x *YTDLP) commonArgs() []string {
	return []string{
		"--remote-components", x.config.RemoteEJS,
		"--extractor-args", "youtube:player_client=" + x.config.PlayerClient,
		"--skip-download",
		"--no-progress",
	}
}

// GetInfo fetches video metadata via `yt-dlp --dump-json`.
func (x *YTDLP) GetInfo(ctx context.Context, url string) (*VideoInfo, error) {
	if info := x.cachedInfo(url); info != nil {
		return info, nil
	}

	ctx, cancel := context.WithTimeout(ctx, x.config.Timeout)
	defer cancel()

	args := append(x.commonArgs(), "--no-playlist", "--dump-json", url)
	output, err := x.run(ctx, "", x.config.Bin, args...)
	if err != nil {
		return nil, goerr.Wrap(model.ErrExternalCommand, "yt-dlp metadata failed",
			goerr.V("url", url), goerr.V("output", string(output)))
	}

	// yt-dlp may emit warnings before the JSON document; take the last JSON line.
	var jsonLine string
	lines := strings.Split(string(output), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if strings.HasPrefix(line, "{") && strings.HasSuffix(line, "}") {
			jsonLine = line
			break
		}
	}
	if jsonLine == "" {
		return nil, goerr.Wrap(model.ErrExternalCommand, "yt-dlp metadata output missing JSON",
			goerr.V("url", url), goerr.V("output", string(output)))
	}

	var info VideoInfo
	if err := json.Unmarshal([]byte(jsonLine), &info); err != nil {
		return nil, goerr.Wrap(model.ErrExternalCommand, "failed to parse yt-dlp metadata JSON",
			goerr.V("url", url), goerr.V("cause", err.Error()))
	}

	x.storeInfo(url, &info)
	return &info, nil
}

// GetSubtitles fetches auto subtitles into a temp directory and returns the
// contents of the best matching VTT file.
func (x *YTDLP) GetSubtitles(ctx context.Context, url string) (*Subtitles, error) {
	workdir, err := os.MkdirTemp("", "yt_transcribe_")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create work directory")
	}
	defer os.RemoveAll(workdir)

	ctx, cancel := context.WithTimeout(ctx, x.config.Timeout)
	defer cancel()

	args := append(x.commonArgs(),
		"--write-auto-subs",
		"--sub-lang", x.config.SubLang,
		"--paths", workdir,
		url,
	)
	output, err := x.run(ctx, workdir, x.config.Bin, args...)
	if err != nil {
		return nil, goerr.Wrap(model.ErrExternalCommand, "yt-dlp subtitle fetch failed",
			goerr.V("url", url), goerr.V("output", string(output)))
	}

	vtts, err := filepath.Glob(filepath.Join(workdir, "*.en.vtt"))
	if err == nil && len(vtts) == 0 {
		vtts, err = filepath.Glob(filepath.Join(workdir, "*.vtt"))
	}
	if err != nil || len(vtts) == 0 {
		return nil, goerr.Wrap(model.ErrExternalCommand, "no subtitle files were produced",
			goerr.V("url", url), goerr.V("output", string(output)))
	}

	picked := vtts[len(vtts)-1]
	raw, err := os.ReadFile(picked)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read subtitle file", goerr.V("path", picked))
	}

	return &Subtitles{
		VTTText:    string(raw),
		Output:     string(output),
		PickedFile: filepath.Base(picked),
	}, nil
}

func (x *YTDLP) cachedInfo(url string) *VideoInfo {
	if x.config.InfoCacheTTL <= 0 {
		return nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	entry, ok := x.cache[url]
	if !ok || x.clock.Now().Sub(entry.cachedAt) > x.config.InfoCacheTTL {
		return nil
	}
	return entry.info
}

func (x *YTDLP) storeInfo(url string, info *VideoInfo) {
	if x.config.InfoCacheTTL <= 0 {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.cache[url] = infoCacheEntry{info: info, cachedAt: x.clock.Now()}
}
