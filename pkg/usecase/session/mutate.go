package session

import (
	"context"
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/ytscribe/pkg/model"
	"github.com/m-mizutani/ytscribe/pkg/utils/logging"
)

// Pin marks the item as pinned, exempting it from TTL expiry and eviction.
func (x *UseCase) Pin(ctx context.Context, sid model.SessionID, itemID model.ItemID) (*model.ManifestItem, error) {
	return x.updateItem(ctx, sid, itemID, func(item *model.ManifestItem) {
		item.Pinned = true
		item.ExpiresAt = nil
	})
}

// Unpin clears the pin and restarts the default TTL.
func (x *UseCase) Unpin(ctx context.Context, sid model.SessionID, itemID model.ItemID) (*model.ManifestItem, error) {
	return x.updateItem(ctx, sid, itemID, func(item *model.ManifestItem) {
		item.Pinned = false
		item.ExpiresAt = x.expiresIn(x.repo.DefaultTTL())
	})
}

// SetTTL unpins the item and sets a fresh expiry of ttl from now.
func (x *UseCase) SetTTL(ctx context.Context, sid model.SessionID, itemID model.ItemID, ttl time.Duration) (*model.ManifestItem, error) {
	if ttl < time.Second {
		return nil, goerr.New("ttl_seconds must be >= 1", goerr.V("ttl", ttl))
	}
	return x.updateItem(ctx, sid, itemID, func(item *model.ManifestItem) {
		item.Pinned = false
		item.ExpiresAt = x.expiresIn(ttl)
	})
}

// Delete removes the item from the manifest and best-effort unlinks its file.
// A missing item ID is ErrNotFound and leaves the manifest untouched.
func (x *UseCase) Delete(ctx context.Context, sid model.SessionID, itemID model.ItemID) error {
	if _, err := x.repo.CleanupSession(ctx, sid); err != nil {
		return err
	}

	manifest, err := x.repo.Load(ctx, sid)
	if err != nil {
		return err
	}

	kept := make([]*model.ManifestItem, 0, len(manifest.Items))
	deleted := false
	for _, item := range manifest.Items {
		if item.ID == itemID {
			deleted = true
			if target, err := x.store.ResolveRelpath(sid, item.Relpath); err == nil {
				if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
					logging.From(ctx).Warn("failed to unlink deleted artifact",
						"session_id", sid, "item_id", itemID, "error", err)
				}
			}
			continue
		}
		kept = append(kept, item)
	}

	if !deleted {
		return goerr.Wrap(model.ErrNotFound, "item not found",
			goerr.V("session_id", sid), goerr.V("item_id", itemID))
	}

	manifest.Items = kept
	return x.repo.Save(ctx, manifest)
}

func (x *UseCase) updateItem(ctx context.Context, sid model.SessionID, itemID model.ItemID, apply func(*model.ManifestItem)) (*model.ManifestItem, error) {
	if _, err := x.repo.CleanupSession(ctx, sid); err != nil {
		return nil, err
	}

	manifest, err := x.repo.Load(ctx, sid)
	if err != nil {
		return nil, err
	}

	var updated *model.ManifestItem
	for _, item := range manifest.Items {
		if item.ID == itemID {
			apply(item)
			updated = item
			break
		}
	}
	if updated == nil {
		return nil, goerr.Wrap(model.ErrNotFound, "item not found",
			goerr.V("session_id", sid), goerr.V("item_id", itemID))
	}

	if err := x.repo.Save(ctx, manifest); err != nil {
		return nil, err
	}
	return updated, nil
}
