package repository

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/ytscribe/pkg/adapter"
	"github.com/m-mizutani/ytscribe/pkg/model"
	"github.com/m-mizutani/ytscribe/pkg/utils/logging"
)

const lockFileName = "manifest.lock"

// Config holds the lifecycle policy settings of a manifest repository.
type Config struct {
	DefaultTTL      time.Duration
	MaxSessionItems int   // 0 = unlimited
	MaxSessionBytes int64 // 0 = unlimited
	UseLock         bool
}

// Manifest is a JSON-file-backed Repository. One manifest.json per session,
// written via temp-file-then-rename. Writers may additionally be serialized
// with an advisory file lock when Config.UseLock is set.
type Manifest struct {
	store  *adapter.SessionStore
	clock  adapter.Clock
	config Config
}

var _ Repository = (*Manifest)(nil)

type Option func(*Manifest)

// WithClock replaces the repository clock, mainly for tests.
func WithClock(clock adapter.Clock) Option {
	return func(x *Manifest) { x.clock = clock }
}

func New(store *adapter.SessionStore, config Config, options ...Option) *Manifest {
	repo := &Manifest{
		store:  store,
		clock:  adapter.NewClock(),
		config: config,
	}
	for _, opt := range options {
		opt(repo)
	}
	return repo
}

func (x *Manifest) DefaultTTL() time.Duration {
	return x.config.DefaultTTL
}

// manifestDoc decodes items individually so one corrupt entry does not
// discard the rest of the manifest.
type manifestDoc struct {
	SessionID string            `json:"session_id"`
	CreatedAt string            `json:"created_at"`
	Items     []json.RawMessage `json:"items"`
}

func (x *Manifest) Load(ctx context.Context, sid model.SessionID) (*model.Manifest, error) {
	path, err := x.store.ManifestPath(sid)
	if err != nil {
		return nil, err
	}
	return x.load(ctx, sid, path), nil
}

func (x *Manifest) load(ctx context.Context, sid model.SessionID, path string) *model.Manifest {
	manifest := &model.Manifest{
		SessionID: sid,
		CreatedAt: model.FormatTime(x.clock.Now()),
		Items:     []*model.ManifestItem{},
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.From(ctx).Warn("failed to read manifest, treating as empty",
				"session_id", sid, "error", err)
		}
		return manifest
	}

	var doc manifestDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		logging.From(ctx).Warn("corrupt manifest, treating as empty",
			"session_id", sid, "error", err)
		return manifest
	}

	if _, ok := model.ParseTime(doc.CreatedAt); ok {
		manifest.CreatedAt = doc.CreatedAt
	}

	for _, rawItem := range doc.Items {
		var item model.ManifestItem
		if err := json.Unmarshal(rawItem, &item); err != nil {
			continue
		}
		if err := item.Validate(); err != nil {
			continue
		}
		manifest.Items = append(manifest.Items, &item)
	}

	return manifest
}

// Save writes the manifest to a temp file in the session directory and
// renames it into place, so a crash mid-write never exposes a truncated file.
func (x *Manifest) Save(ctx context.Context, manifest *model.Manifest) error {
	path, err := x.store.ManifestPath(manifest.SessionID)
	if err != nil {
		return err
	}
	return x.save(manifest, path)
}

func (x *Manifest) save(manifest *model.Manifest, path string) error {
	if manifest.Items == nil {
		manifest.Items = []*model.ManifestItem{}
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "failed to marshal manifest", goerr.V("session_id", manifest.SessionID))
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), ".manifest-*.json")
	if err != nil {
		return goerr.Wrap(err, "failed to create temp manifest")
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return goerr.Wrap(err, "failed to write temp manifest")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return goerr.Wrap(err, "failed to sync temp manifest")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return goerr.Wrap(err, "failed to close temp manifest")
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return goerr.Wrap(err, "failed to chmod temp manifest")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return goerr.Wrap(err, "failed to replace manifest", goerr.V("path", path))
	}
	return nil
}

// withLock runs fn under the session's advisory file lock when enabled.
// Lock acquisition failure is logged and fn runs unlocked: the lock is a
// best-effort enhancement, not a correctness requirement.
func (x *Manifest) withLock(ctx context.Context, sid model.SessionID, fn func() error) error {
	if !x.config.UseLock {
		return fn()
	}

	root, err := x.store.SessionRoot(sid)
	if err != nil {
		return err
	}
	lock := flock.New(filepath.Join(root, lockFileName))
	if err := lock.Lock(); err != nil {
		logging.From(ctx).Warn("manifest lock unavailable, proceeding unlocked",
			"session_id", sid, "error", err)
		return fn()
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logging.From(ctx).Warn("failed to release manifest lock",
				"session_id", sid, "error", err)
		}
	}()
	return fn()
}

func (x *Manifest) AddItem(ctx context.Context, input *AddItemInput) (*model.ManifestItem, error) {
	if err := input.Kind.Validate(); err != nil {
		return nil, err
	}
	if err := input.Format.Validate(); err != nil {
		return nil, err
	}

	target, err := x.store.ResolveRelpath(input.SessionID, input.Relpath)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(target)
	if err != nil {
		return nil, goerr.Wrap(model.ErrNotFound, "artifact file does not exist",
			goerr.V("relpath", input.Relpath))
	}

	now := x.clock.Now()
	item := &model.ManifestItem{
		ID:        model.GenerateItemID(),
		Kind:      input.Kind,
		Format:    input.Format,
		Relpath:   input.Relpath,
		Size:      info.Size(),
		CreatedAt: model.FormatTime(now),
		Pinned:    input.Pinned,
	}
	if !input.Pinned {
		exp := model.FormatTime(now.Add(input.TTL))
		item.ExpiresAt = &exp
	}

	path, err := x.store.ManifestPath(input.SessionID)
	if err != nil {
		return nil, err
	}

	err = x.withLock(ctx, input.SessionID, func() error {
		manifest := x.load(ctx, input.SessionID, path)
		manifest.Items = append(manifest.Items, item)
		if err := x.save(manifest, path); err != nil {
			return err
		}
		// A burst of registrations self-regulates against capacity caps.
		_, err := x.cleanup(ctx, input.SessionID, path)
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (x *Manifest) ListItems(ctx context.Context, sid model.SessionID, filter *Filter) ([]*model.ManifestItem, error) {
	manifest, err := x.Load(ctx, sid)
	if err != nil {
		return nil, err
	}

	items := make([]*model.ManifestItem, 0, len(manifest.Items))
	for _, item := range manifest.Items {
		if filter != nil {
			if filter.Kind != nil && item.Kind != *filter.Kind {
				continue
			}
			if filter.Format != nil && item.Format != *filter.Format {
				continue
			}
			if filter.Pinned != nil && item.Pinned != *filter.Pinned {
				continue
			}
		}
		items = append(items, item)
	}
	return items, nil
}

func (x *Manifest) CleanupSession(ctx context.Context, sid model.SessionID) (int, error) {
	path, err := x.store.ManifestPath(sid)
	if err != nil {
		return 0, err
	}

	var removed int
	err = x.withLock(ctx, sid, func() error {
		var err error
		removed, err = x.cleanup(ctx, sid, path)
		return err
	})
	return removed, err
}

// cleanup runs one lifecycle pass: prune orphans, assign missing expiries,
// expire, refresh sizes, then evict oldest unpinned items over the caps.
// Missing-file pruning runs before TTL assignment, and TTL expiry before
// eviction, so expired entries never count against capacity.
func (x *Manifest) cleanup(ctx context.Context, sid model.SessionID, path string) (int, error) {
	logger := logging.From(ctx)
	manifest := x.load(ctx, sid, path)
	now := x.clock.Now()

	kept := make([]*model.ManifestItem, 0, len(manifest.Items))
	removed := 0
	changed := false

	for _, item := range manifest.Items {
		if item.Relpath == "" {
			removed++
			changed = true
			continue
		}

		target, err := x.store.ResolveRelpath(sid, item.Relpath)
		if err != nil {
			logger.Warn("dropping manifest item with unsafe relpath",
				"session_id", sid, "item_id", item.ID, "relpath", item.Relpath)
			removed++
			changed = true
			continue
		}

		if _, err := os.Stat(target); err != nil {
			removed++
			changed = true
			continue
		}

		if !item.Pinned {
			if _, ok := parseExpiry(item); !ok {
				exp := model.FormatTime(now.Add(x.config.DefaultTTL))
				item.ExpiresAt = &exp
				changed = true
			}

			if item.ExpiresBefore(now) {
				if err := os.Remove(target); err != nil {
					logger.Warn("failed to unlink expired artifact",
						"session_id", sid, "item_id", item.ID, "error", err)
				}
				removed++
				changed = true
				continue
			}
		}

		if info, err := os.Stat(target); err == nil && info.Size() != item.Size {
			item.Size = info.Size()
			changed = true
		}

		kept = append(kept, item)
	}

	if x.config.MaxSessionItems > 0 || x.config.MaxSessionBytes > 0 {
		var total int64
		for _, item := range kept {
			total += item.Size
		}

		removable := make([]*model.ManifestItem, 0, len(kept))
		for _, item := range kept {
			if !item.Pinned {
				removable = append(removable, item)
			}
		}
		model.SortItems(removable)

		for len(removable) > 0 && x.overCap(len(kept), total) {
			victim := removable[0]
			removable = removable[1:]

			if target, err := x.store.ResolveRelpath(sid, victim.Relpath); err == nil {
				if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
					logger.Warn("failed to unlink evicted artifact",
						"session_id", sid, "item_id", victim.ID, "error", err)
				}
			}

			total -= victim.Size
			kept = deleteItem(kept, victim.ID)
			removed++
			changed = true
		}
	}

	if changed {
		manifest.Items = kept
		if err := x.save(manifest, path); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func (x *Manifest) overCap(count int, total int64) bool {
	if x.config.MaxSessionItems > 0 && count > x.config.MaxSessionItems {
		return true
	}
	if x.config.MaxSessionBytes > 0 && total > x.config.MaxSessionBytes {
		return true
	}
	return false
}

func parseExpiry(item *model.ManifestItem) (time.Time, bool) {
	if item.ExpiresAt == nil {
		return time.Time{}, false
	}
	return model.ParseTime(*item.ExpiresAt)
}

func deleteItem(items []*model.ManifestItem, id model.ItemID) []*model.ManifestItem {
	out := items[:0]
	for _, item := range items {
		if item.ID != id {
			out = append(out, item)
		}
	}
	return out
}
