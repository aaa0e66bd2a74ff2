package repository_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/ytscribe/pkg/adapter"
	"github.com/m-mizutani/ytscribe/pkg/model"
	"github.com/m-mizutani/ytscribe/pkg/repository"
)

type fakeClock struct {
	now time.Time
}

func (x *fakeClock) Now() time.Time { return x.now }

func (x *fakeClock) advance(d time.Duration) { x.now = x.now.Add(d) }

type testEnv struct {
	store *adapter.SessionStore
	repo  *repository.Manifest
	clock *fakeClock
	sid   model.SessionID
}

func newTestEnv(t *testing.T, config repository.Config) *testEnv {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	store := adapter.NewSessionStore(t.TempDir())
	if config.DefaultTTL == 0 {
		config.DefaultTTL = time.Hour
	}
	return &testEnv{
		store: store,
		repo:  repository.New(store, config, repository.WithClock(clock)),
		clock: clock,
		sid:   model.SessionID("sess1"),
	}
}

func (x *testEnv) writeArtifact(t *testing.T, relpath, content string) {
	t.Helper()
	root, err := x.store.SessionRoot(x.sid)
	gt.NoError(t, err)
	path := filepath.Join(root, filepath.FromSlash(relpath))
	gt.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	gt.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func (x *testEnv) addItem(t *testing.T, relpath string, pinned bool, ttl time.Duration) *model.ManifestItem {
	t.Helper()
	item, err := x.repo.AddItem(context.Background(), &repository.AddItemInput{
		SessionID: x.sid,
		Kind:      model.KindTranscript,
		Format:    model.FormatTxt,
		Relpath:   relpath,
		Pinned:    pinned,
		TTL:       ttl,
	})
	gt.NoError(t, err)
	return item
}

func TestAddItemRoundTrip(t *testing.T) {
	env := newTestEnv(t, repository.Config{})
	ctx := context.Background()

	env.writeArtifact(t, "transcripts/a.txt", "hello world")
	item := env.addItem(t, "transcripts/a.txt", false, time.Hour)
	gt.NotEqual(t, item.ID, model.ItemID(""))
	gt.Equal(t, item.Size, int64(11))
	gt.NotNil(t, item.ExpiresAt)

	manifest, err := env.repo.Load(ctx, env.sid)
	gt.NoError(t, err)
	gt.A(t, manifest.Items).Length(1)
	got := manifest.Items[0]
	gt.Equal(t, got.ID, item.ID)
	gt.Equal(t, got.Relpath, item.Relpath)
	gt.Equal(t, got.Kind, model.KindTranscript)
	gt.Equal(t, got.Format, model.FormatTxt)
}

func TestLoadMissingManifest(t *testing.T) {
	env := newTestEnv(t, repository.Config{})
	manifest, err := env.repo.Load(context.Background(), env.sid)
	gt.NoError(t, err)
	gt.Equal(t, manifest.SessionID, env.sid)
	gt.Equal(t, manifest.CreatedAt, model.FormatTime(env.clock.Now()))
	gt.A(t, manifest.Items).Length(0)
}

func TestLoadCorruptManifest(t *testing.T) {
	env := newTestEnv(t, repository.Config{})
	ctx := context.Background()
	path, err := env.store.ManifestPath(env.sid)
	gt.NoError(t, err)

	for _, raw := range []string{"{truncated", "[1, 2, 3]", `"just a string"`, "42"} {
		gt.NoError(t, os.WriteFile(path, []byte(raw), 0o644))
		manifest, err := env.repo.Load(ctx, env.sid)
		gt.NoError(t, err)
		gt.A(t, manifest.Items).Length(0)
	}
}

func TestLoadDropsInvalidItems(t *testing.T) {
	env := newTestEnv(t, repository.Config{})
	ctx := context.Background()
	path, err := env.store.ManifestPath(env.sid)
	gt.NoError(t, err)

	doc := `{
  "session_id": "sess1",
  "created_at": "2026-05-01T00:00:00Z",
  "items": [
    {"id": "tr_good", "kind": "transcript", "format": "txt", "relpath": "transcripts/a.txt", "size": 1, "created_at": "2026-05-01T00:00:00Z", "expires_at": null, "pinned": true},
    {"id": "bad id!", "kind": "transcript", "format": "txt", "relpath": "transcripts/b.txt"},
    {"id": "tr_badkind", "kind": "mystery", "format": "txt", "relpath": "transcripts/c.txt"},
    "not an object",
    {"id": "tr_nopath", "kind": "derived", "format": "txt", "relpath": ""}
  ]
}`
	gt.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	manifest, err := env.repo.Load(ctx, env.sid)
	gt.NoError(t, err)
	gt.A(t, manifest.Items).Length(1)
	gt.Equal(t, manifest.Items[0].ID, model.ItemID("tr_good"))
	gt.Equal(t, manifest.CreatedAt, "2026-05-01T00:00:00Z")
}

func TestSaveAtomicReplace(t *testing.T) {
	env := newTestEnv(t, repository.Config{})
	ctx := context.Background()

	env.writeArtifact(t, "transcripts/a.txt", "x")
	env.addItem(t, "transcripts/a.txt", true, 0)

	root, err := env.store.SessionRoot(env.sid)
	gt.NoError(t, err)
	entries, err := os.ReadDir(root)
	gt.NoError(t, err)
	for _, entry := range entries {
		gt.NotEqual(t, filepath.Ext(entry.Name()), ".tmp")
		if entry.Name() != "manifest.json" && !entry.IsDir() {
			t.Errorf("unexpected leftover file: %s", entry.Name())
		}
	}

	raw, err := os.ReadFile(filepath.Join(root, "manifest.json"))
	gt.NoError(t, err)
	var decoded map[string]any
	gt.NoError(t, json.Unmarshal(raw, &decoded))
	gt.Equal(t, decoded["session_id"], "sess1")

	_, err = env.repo.Load(ctx, env.sid)
	gt.NoError(t, err)
}

func TestCleanupIdempotent(t *testing.T) {
	env := newTestEnv(t, repository.Config{})
	ctx := context.Background()

	env.writeArtifact(t, "transcripts/a.txt", "x")
	env.addItem(t, "transcripts/a.txt", false, time.Hour)

	removed, err := env.repo.CleanupSession(ctx, env.sid)
	gt.NoError(t, err)
	gt.Equal(t, removed, 0)

	removed, err = env.repo.CleanupSession(ctx, env.sid)
	gt.NoError(t, err)
	gt.Equal(t, removed, 0)
}

func TestCleanupMissingFile(t *testing.T) {
	env := newTestEnv(t, repository.Config{})
	ctx := context.Background()

	env.writeArtifact(t, "transcripts/a.txt", "x")
	env.addItem(t, "transcripts/a.txt", false, time.Hour)

	target, err := env.store.ResolveRelpath(env.sid, "transcripts/a.txt")
	gt.NoError(t, err)
	gt.NoError(t, os.Remove(target))

	removed, err := env.repo.CleanupSession(ctx, env.sid)
	gt.NoError(t, err)
	gt.Equal(t, removed, 1)

	manifest, err := env.repo.Load(ctx, env.sid)
	gt.NoError(t, err)
	gt.A(t, manifest.Items).Length(0)
}

func TestCleanupTTLExpiry(t *testing.T) {
	env := newTestEnv(t, repository.Config{})
	ctx := context.Background()

	env.writeArtifact(t, "transcripts/a.txt", "x")
	env.addItem(t, "transcripts/a.txt", false, time.Hour)

	env.clock.advance(2 * time.Hour)

	removed, err := env.repo.CleanupSession(ctx, env.sid)
	gt.NoError(t, err)
	gt.Equal(t, removed, 1)

	target, err := env.store.ResolveRelpath(env.sid, "transcripts/a.txt")
	gt.NoError(t, err)
	_, err = os.Stat(target)
	gt.True(t, os.IsNotExist(err))
}

func TestCleanupAssignsDefaultTTL(t *testing.T) {
	env := newTestEnv(t, repository.Config{DefaultTTL: 30 * time.Minute})
	ctx := context.Background()

	env.writeArtifact(t, "transcripts/a.txt", "x")
	path, err := env.store.ManifestPath(env.sid)
	gt.NoError(t, err)

	// An unpinned entry without expires_at, e.g. written by an older build.
	doc := `{
  "session_id": "sess1",
  "created_at": "2026-05-01T00:00:00Z",
  "items": [
    {"id": "tr_x", "kind": "transcript", "format": "txt", "relpath": "transcripts/a.txt", "size": 1, "created_at": "2026-05-01T00:00:00Z", "expires_at": null, "pinned": false}
  ]
}`
	gt.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	removed, err := env.repo.CleanupSession(ctx, env.sid)
	gt.NoError(t, err)
	gt.Equal(t, removed, 0)

	manifest, err := env.repo.Load(ctx, env.sid)
	gt.NoError(t, err)
	gt.A(t, manifest.Items).Length(1)
	gt.NotNil(t, manifest.Items[0].ExpiresAt)
	gt.Equal(t, *manifest.Items[0].ExpiresAt, model.FormatTime(env.clock.Now().Add(30*time.Minute)))
}

func TestCleanupRefreshesSize(t *testing.T) {
	env := newTestEnv(t, repository.Config{})
	ctx := context.Background()

	env.writeArtifact(t, "transcripts/a.txt", "x")
	item := env.addItem(t, "transcripts/a.txt", false, time.Hour)
	gt.Equal(t, item.Size, int64(1))

	env.writeArtifact(t, "transcripts/a.txt", "longer content")

	_, err := env.repo.CleanupSession(ctx, env.sid)
	gt.NoError(t, err)

	manifest, err := env.repo.Load(ctx, env.sid)
	gt.NoError(t, err)
	gt.Equal(t, manifest.Items[0].Size, int64(len("longer content")))
}

func TestCapacityEvictionOldestFirst(t *testing.T) {
	env := newTestEnv(t, repository.Config{MaxSessionItems: 1})
	ctx := context.Background()

	env.writeArtifact(t, "transcripts/old.txt", "old")
	old := env.addItem(t, "transcripts/old.txt", false, time.Hour)

	env.clock.advance(time.Minute)
	env.writeArtifact(t, "transcripts/new.txt", "new")
	recent := env.addItem(t, "transcripts/new.txt", false, time.Hour)

	items, err := env.repo.ListItems(ctx, env.sid, nil)
	gt.NoError(t, err)
	gt.A(t, items).Length(1)
	gt.Equal(t, items[0].ID, recent.ID)

	oldPath, err := env.store.ResolveRelpath(env.sid, old.Relpath)
	gt.NoError(t, err)
	_, err = os.Stat(oldPath)
	gt.True(t, os.IsNotExist(err))
}

func TestCapacityEvictionTieBreakByID(t *testing.T) {
	env := newTestEnv(t, repository.Config{})
	ctx := context.Background()

	// Two items with identical created_at; the smaller ID is the victim.
	env.writeArtifact(t, "transcripts/a.txt", "a")
	env.writeArtifact(t, "transcripts/b.txt", "b")
	path, err := env.store.ManifestPath(env.sid)
	gt.NoError(t, err)
	doc := `{
  "session_id": "sess1",
  "created_at": "2026-05-01T00:00:00Z",
  "items": [
    {"id": "tr_bbb", "kind": "transcript", "format": "txt", "relpath": "transcripts/b.txt", "size": 1, "created_at": "2026-05-01T12:00:00Z", "expires_at": "2026-05-01T14:00:00Z", "pinned": false},
    {"id": "tr_aaa", "kind": "transcript", "format": "txt", "relpath": "transcripts/a.txt", "size": 1, "created_at": "2026-05-01T12:00:00Z", "expires_at": "2026-05-01T14:00:00Z", "pinned": false}
  ]
}`
	gt.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	capped := repository.New(env.store,
		repository.Config{DefaultTTL: time.Hour, MaxSessionItems: 1},
		repository.WithClock(env.clock))

	removed, err := capped.CleanupSession(ctx, env.sid)
	gt.NoError(t, err)
	gt.Equal(t, removed, 1)

	items, err := capped.ListItems(ctx, env.sid, nil)
	gt.NoError(t, err)
	gt.A(t, items).Length(1)
	gt.Equal(t, items[0].ID, model.ItemID("tr_bbb"))
}

func TestPinnedItemsSurviveEviction(t *testing.T) {
	env := newTestEnv(t, repository.Config{MaxSessionItems: 1})
	ctx := context.Background()

	env.writeArtifact(t, "transcripts/pinned.txt", "keep")
	pinned := env.addItem(t, "transcripts/pinned.txt", true, 0)
	gt.Nil(t, pinned.ExpiresAt)

	env.clock.advance(time.Minute)
	env.writeArtifact(t, "transcripts/unpinned.txt", "evictable")
	env.addItem(t, "transcripts/unpinned.txt", false, time.Hour)

	env.clock.advance(time.Minute)
	env.writeArtifact(t, "transcripts/unpinned2.txt", "evictable too")
	env.addItem(t, "transcripts/unpinned2.txt", false, time.Hour)

	truePtr := true
	items, err := env.repo.ListItems(ctx, env.sid, &repository.Filter{Pinned: &truePtr})
	gt.NoError(t, err)
	gt.A(t, items).Length(1)
	gt.Equal(t, items[0].ID, pinned.ID)

	pinnedPath, err := env.store.ResolveRelpath(env.sid, "transcripts/pinned.txt")
	gt.NoError(t, err)
	_, err = os.Stat(pinnedPath)
	gt.NoError(t, err)
}

func TestMaxBytesEviction(t *testing.T) {
	env := newTestEnv(t, repository.Config{MaxSessionBytes: 10})
	ctx := context.Background()

	env.writeArtifact(t, "transcripts/a.txt", "12345678")
	env.addItem(t, "transcripts/a.txt", false, time.Hour)

	env.clock.advance(time.Minute)
	env.writeArtifact(t, "transcripts/b.txt", "1234567")
	recent := env.addItem(t, "transcripts/b.txt", false, time.Hour)

	items, err := env.repo.ListItems(ctx, env.sid, nil)
	gt.NoError(t, err)
	gt.A(t, items).Length(1)
	gt.Equal(t, items[0].ID, recent.ID)
}

func TestListItemsFilters(t *testing.T) {
	env := newTestEnv(t, repository.Config{})
	ctx := context.Background()

	env.writeArtifact(t, "transcripts/a.txt", "a")
	env.writeArtifact(t, "derived/b.jsonl", "{}")
	env.addItem(t, "transcripts/a.txt", false, time.Hour)

	_, err := env.repo.AddItem(ctx, &repository.AddItemInput{
		SessionID: env.sid,
		Kind:      model.KindDerived,
		Format:    model.FormatJSONL,
		Relpath:   "derived/b.jsonl",
		TTL:       time.Hour,
	})
	gt.NoError(t, err)

	kind := model.KindDerived
	items, err := env.repo.ListItems(ctx, env.sid, &repository.Filter{Kind: &kind})
	gt.NoError(t, err)
	gt.A(t, items).Length(1)
	gt.Equal(t, items[0].Format, model.FormatJSONL)

	format := model.FormatTxt
	items, err = env.repo.ListItems(ctx, env.sid, &repository.Filter{Format: &format})
	gt.NoError(t, err)
	gt.A(t, items).Length(1)
	gt.Equal(t, items[0].Kind, model.KindTranscript)
}

func TestLockedRepositoryStillWorks(t *testing.T) {
	env := newTestEnv(t, repository.Config{UseLock: true})
	ctx := context.Background()

	env.writeArtifact(t, "transcripts/a.txt", "x")
	item := env.addItem(t, "transcripts/a.txt", false, time.Hour)

	manifest, err := env.repo.Load(ctx, env.sid)
	gt.NoError(t, err)
	gt.A(t, manifest.Items).Length(1)
	gt.Equal(t, manifest.Items[0].ID, item.ID)
}
