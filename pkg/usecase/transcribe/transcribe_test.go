package transcribe_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/ytscribe/pkg/adapter"
	"github.com/m-mizutani/ytscribe/pkg/model"
	"github.com/m-mizutani/ytscribe/pkg/repository"
	"github.com/m-mizutani/ytscribe/pkg/usecase/transcribe"
)

type fakeClock struct {
	now time.Time
}

func (x *fakeClock) Now() time.Time { return x.now }

type mockTranscriber struct {
	vtt     string
	info    *adapter.VideoInfo
	infoErr error
	subsErr error
}

func (m *mockTranscriber) GetInfo(ctx context.Context, url string) (*adapter.VideoInfo, error) {
	if m.infoErr != nil {
		return nil, m.infoErr
	}
	return m.info, nil
}

func (m *mockTranscriber) GetSubtitles(ctx context.Context, url string) (*adapter.Subtitles, error) {
	if m.subsErr != nil {
		return nil, m.subsErr
	}
	return &adapter.Subtitles{VTTText: m.vtt, PickedFile: "video.en.vtt"}, nil
}

const testVTT = "WEBVTT\n\n00:00:00.000 --> 00:00:02.000\nfirst line\n\n00:00:02.000 --> 00:00:04.000\nsecond line\n"

func newEnv(t *testing.T, client transcribe.Transcriber) (*transcribe.UseCase, *adapter.SessionStore, repository.Repository) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	store := adapter.NewSessionStore(t.TempDir())
	repo := repository.New(store, repository.Config{DefaultTTL: time.Hour}, repository.WithClock(clock))
	uc := transcribe.New(client, store, repo, transcribe.WithClock(clock))
	return uc, store, repo
}

func TestToText(t *testing.T) {
	uc, _, _ := newEnv(t, &mockTranscriber{vtt: testVTT})

	text, err := uc.ToText(context.Background(), "https://youtu.be/abc")
	gt.NoError(t, err)
	gt.Equal(t, text, "first line\nsecond line")
}

func TestToTextEmptyTranscript(t *testing.T) {
	uc, _, _ := newEnv(t, &mockTranscriber{vtt: "WEBVTT\n"})

	_, err := uc.ToText(context.Background(), "https://youtu.be/abc")
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrExternalCommand))
}

func TestToFile(t *testing.T) {
	uc, store, _ := newEnv(t, &mockTranscriber{vtt: testVTT})
	ctx := context.Background()
	sid := model.SessionID("sess1")

	item, err := uc.ToFile(ctx, "https://youtu.be/abc", model.FormatTxt, sid)
	gt.NoError(t, err)
	gt.Equal(t, item.Kind, model.KindTranscript)
	gt.Equal(t, item.Format, model.FormatTxt)
	gt.S(t, item.Relpath).Contains("transcripts/youtube_")

	target, err := store.ResolveRelpath(sid, item.Relpath)
	gt.NoError(t, err)
	raw, err := os.ReadFile(target)
	gt.NoError(t, err)
	gt.Equal(t, string(raw), "first line\nsecond line\n")
}

func TestToFileJSONL(t *testing.T) {
	uc, store, _ := newEnv(t, &mockTranscriber{vtt: testVTT})
	ctx := context.Background()
	sid := model.SessionID("sess1")

	item, err := uc.ToFile(ctx, "https://youtu.be/abc", model.FormatJSONL, sid)
	gt.NoError(t, err)
	gt.S(t, item.Relpath).Contains(".jsonl")

	target, err := store.ResolveRelpath(sid, item.Relpath)
	gt.NoError(t, err)
	raw, err := os.ReadFile(target)
	gt.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	gt.A(t, lines).Length(2)
	gt.Equal(t, lines[0], `{"text":"first line"}`)
}

func TestToFileVTTKeepsRaw(t *testing.T) {
	uc, store, _ := newEnv(t, &mockTranscriber{vtt: testVTT})
	ctx := context.Background()
	sid := model.SessionID("sess1")

	item, err := uc.ToFile(ctx, "https://youtu.be/abc", model.FormatVTT, sid)
	gt.NoError(t, err)

	target, err := store.ResolveRelpath(sid, item.Relpath)
	gt.NoError(t, err)
	raw, err := os.ReadFile(target)
	gt.NoError(t, err)
	gt.Equal(t, string(raw), testVTT)
}

func TestAutoInlineText(t *testing.T) {
	live := false
	title := "demo"
	uc, _, _ := newEnv(t, &mockTranscriber{
		vtt:  testVTT,
		info: &adapter.VideoInfo{Title: &title, IsLive: &live},
	})

	result, err := uc.Auto(context.Background(), "https://youtu.be/abc", model.FormatTxt, 10000, "")
	gt.NoError(t, err)
	gt.Equal(t, result.Kind, transcribe.ResultText)
	gt.Equal(t, result.Text, "first line\nsecond line")
	gt.Equal(t, *result.Info.Title, "demo")
	gt.Nil(t, result.Item)
}

func TestAutoFallsBackToFile(t *testing.T) {
	uc, _, repo := newEnv(t, &mockTranscriber{vtt: testVTT, info: &adapter.VideoInfo{}})
	ctx := context.Background()
	sid := model.SessionID("sess1")

	result, err := uc.Auto(ctx, "https://youtu.be/abc", model.FormatTxt, 5, sid)
	gt.NoError(t, err)
	gt.Equal(t, result.Kind, transcribe.ResultFile)
	gt.NotNil(t, result.Item)

	items, err := repo.ListItems(ctx, sid, nil)
	gt.NoError(t, err)
	gt.A(t, items).Length(1)
	gt.Equal(t, items[0].ID, result.Item.ID)
}

func TestAutoFileRequiresSession(t *testing.T) {
	uc, _, _ := newEnv(t, &mockTranscriber{vtt: testVTT, info: &adapter.VideoInfo{}})

	_, err := uc.Auto(context.Background(), "https://youtu.be/abc", model.FormatTxt, 5, "")
	gt.Error(t, err)
}

func TestAutoPropagatesExternalFailure(t *testing.T) {
	uc, _, _ := newEnv(t, &mockTranscriber{
		infoErr: model.ErrExternalCommand,
	})

	_, err := uc.Auto(context.Background(), "https://youtu.be/abc", model.FormatTxt, 100, "")
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrExternalCommand))
}
