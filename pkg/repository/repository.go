package repository

import (
	"context"
	"time"

	"github.com/m-mizutani/ytscribe/pkg/model"
)

// AddItemInput describes a new artifact registration. The file at Relpath
// must already exist; the repository stats it for size.
type AddItemInput struct {
	SessionID model.SessionID
	Kind      model.ItemKind
	Format    model.Format
	Relpath   string
	Pinned    bool
	TTL       time.Duration
}

// Filter narrows ListItems results. Nil fields match everything.
type Filter struct {
	Kind   *model.ItemKind
	Format *model.Format
	Pinned *bool
}

// Repository defines the interface for session manifest persistence
type Repository interface {
	// Load reads the session manifest. A missing or corrupt manifest file
	// yields an empty manifest, never an error.
	Load(ctx context.Context, sid model.SessionID) (*model.Manifest, error)

	// Save persists the manifest atomically
	Save(ctx context.Context, manifest *model.Manifest) error

	// AddItem registers a new artifact entry and runs a cleanup pass
	AddItem(ctx context.Context, input *AddItemInput) (*model.ManifestItem, error)

	// ListItems returns manifest entries matching the filter
	ListItems(ctx context.Context, sid model.SessionID, filter *Filter) ([]*model.ManifestItem, error)

	// CleanupSession prunes orphaned, expired and over-cap entries,
	// returning the number of removed items
	CleanupSession(ctx context.Context, sid model.SessionID) (int, error)

	// DefaultTTL returns the expiry assigned to items that have none
	DefaultTTL() time.Duration
}
