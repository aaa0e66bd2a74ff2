package transcribe

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/ytscribe/pkg/adapter"
	"github.com/m-mizutani/ytscribe/pkg/model"
	"github.com/m-mizutani/ytscribe/pkg/repository"
)

// Transcriber is the external subtitle source.
type Transcriber interface {
	GetInfo(ctx context.Context, url string) (*adapter.VideoInfo, error)
	GetSubtitles(ctx context.Context, url string) (*adapter.Subtitles, error)
}

// ResultKind tells whether an Auto call returned inline text or a file item.
type ResultKind string

const (
	ResultText ResultKind = "text"
	ResultFile ResultKind = "file"
)

// Result is the outcome of an Auto transcription.
type Result struct {
	Kind  ResultKind
	Text  string
	Item  *model.ManifestItem
	Bytes int
	Info  *adapter.VideoInfo
}

// UseCase fetches subtitles, parses them to text and registers transcript
// artifacts in the session manifest.
type UseCase struct {
	client Transcriber
	parser *Parser
	store  *adapter.SessionStore
	repo   repository.Repository
	clock  adapter.Clock
}

// Option is a functional option for UseCase
type Option func(*UseCase)

// WithClock sets the clock, mainly for tests
func WithClock(clock adapter.Clock) Option {
	return func(uc *UseCase) {
		uc.clock = clock
	}
}

// New creates a new transcribe UseCase instance
func New(client Transcriber, store *adapter.SessionStore, repo repository.Repository, opts ...Option) *UseCase {
	uc := &UseCase{
		client: client,
		parser: NewParser(),
		store:  store,
		repo:   repo,
		clock:  adapter.NewClock(),
	}

	for _, opt := range opts {
		opt(uc)
	}

	return uc
}

// ToText fetches subtitles for url and returns the cleaned transcript.
func (x *UseCase) ToText(ctx context.Context, url string) (string, error) {
	subs, err := x.client.GetSubtitles(ctx, url)
	if err != nil {
		return "", err
	}

	transcript := x.parser.VTTToText(subs.VTTText)
	if transcript == "" {
		return "", goerr.Wrap(model.ErrExternalCommand, "subtitle file was empty after parsing",
			goerr.V("picked_file", subs.PickedFile))
	}
	return transcript, nil
}

// ToFile transcribes url and writes the result into the session's
// transcripts directory, registering it in the manifest.
func (x *UseCase) ToFile(ctx context.Context, url string, format model.Format, sid model.SessionID) (*model.ManifestItem, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}

	subs, err := x.client.GetSubtitles(ctx, url)
	if err != nil {
		return nil, err
	}
	transcript := x.parser.VTTToText(subs.VTTText)
	if transcript == "" {
		return nil, goerr.Wrap(model.ErrExternalCommand, "subtitle file was empty after parsing",
			goerr.V("picked_file", subs.PickedFile))
	}

	return x.writeTranscript(ctx, url, format, sid, transcript, subs.VTTText)
}

// Auto transcribes url and returns inline text when it fits within
// maxTextBytes, otherwise writes a transcript file into the session.
// A session ID is only required on the file path.
func (x *UseCase) Auto(ctx context.Context, url string, format model.Format, maxTextBytes int, sid model.SessionID) (*Result, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if maxTextBytes < 1 {
		return nil, goerr.New("max_text_bytes must be >= 1", goerr.V("max_text_bytes", maxTextBytes))
	}

	info, err := x.client.GetInfo(ctx, url)
	if err != nil {
		return nil, err
	}
	subs, err := x.client.GetSubtitles(ctx, url)
	if err != nil {
		return nil, err
	}

	transcript := x.parser.VTTToText(subs.VTTText)
	if transcript == "" {
		return nil, goerr.Wrap(model.ErrExternalCommand, "subtitle file was empty after parsing",
			goerr.V("picked_file", subs.PickedFile))
	}

	size := len(transcript)
	if size <= maxTextBytes {
		return &Result{
			Kind:  ResultText,
			Text:  transcript,
			Bytes: size,
			Info:  info,
		}, nil
	}

	if sid == "" {
		return nil, goerr.New("session_id is required for file output")
	}

	item, err := x.writeTranscript(ctx, url, format, sid, transcript, subs.VTTText)
	if err != nil {
		return nil, err
	}
	return &Result{
		Kind:  ResultFile,
		Item:  item,
		Bytes: size,
		Info:  info,
	}, nil
}

func (x *UseCase) writeTranscript(ctx context.Context, url string, format model.Format, sid model.SessionID, transcript, vtt string) (*model.ManifestItem, error) {
	dir, err := x.store.TranscriptsDir(sid)
	if err != nil {
		return nil, err
	}

	base := filepath.Join(dir, x.outputBase(url))
	out, err := writeTranscript(base, format, transcript, vtt)
	if err != nil {
		return nil, err
	}

	relpath := adapter.TranscriptsDirName + "/" + filepath.Base(out)
	return x.repo.AddItem(ctx, &repository.AddItemInput{
		SessionID: sid,
		Kind:      model.KindTranscript,
		Format:    format,
		Relpath:   relpath,
		TTL:       x.repo.DefaultTTL(),
	})
}

func (x *UseCase) outputBase(url string) string {
	sum := sha1.Sum([]byte(url))
	stamp := x.clock.Now().UTC().Format("20060102T150405Z")
	return fmt.Sprintf("youtube_%s_%s", hex.EncodeToString(sum[:])[:10], stamp)
}
