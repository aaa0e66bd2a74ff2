package model

import (
	"sort"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

type ItemKind string

const (
	KindTranscript ItemKind = "transcript"
	KindDerived    ItemKind = "derived"
)

// Validate checks if the kind is valid
func (x ItemKind) Validate() error {
	switch x {
	case KindTranscript, KindDerived:
		return nil
	default:
		return goerr.New("invalid item kind", goerr.V("kind", x))
	}
}

type Format string

const (
	FormatTxt   Format = "txt"
	FormatVTT   Format = "vtt"
	FormatJSONL Format = "jsonl"
)

// Validate checks if the format is valid
func (x Format) Validate() error {
	switch x {
	case FormatTxt, FormatVTT, FormatJSONL:
		return nil
	default:
		return goerr.New("fmt must be one of: txt, vtt, jsonl", goerr.V("format", x))
	}
}

// ManifestItem is one tracked artifact file plus its metadata.
type ManifestItem struct {
	ID        ItemID   `json:"id"`
	Kind      ItemKind `json:"kind"`
	Format    Format   `json:"format"`
	Relpath   string   `json:"relpath"`
	Size      int64    `json:"size"`
	CreatedAt string   `json:"created_at"`
	ExpiresAt *string  `json:"expires_at"`
	Pinned    bool     `json:"pinned"`
}

// Validate checks the required fields of a decoded item. Items failing
// validation are dropped at manifest load rather than failing the load.
func (x *ManifestItem) Validate() error {
	if _, err := NewItemID(string(x.ID)); err != nil {
		return err
	}
	if err := x.Kind.Validate(); err != nil {
		return err
	}
	if err := x.Format.Validate(); err != nil {
		return err
	}
	if x.Relpath == "" {
		return goerr.New("item relpath is empty", goerr.V("item_id", x.ID))
	}
	return nil
}

// Manifest is the per-session registry of artifact entries.
type Manifest struct {
	SessionID SessionID       `json:"session_id"`
	CreatedAt string          `json:"created_at"`
	Items     []*ManifestItem `json:"items"`
}

// SortItems orders items by (created_at, id) ascending. Item order in the
// stored manifest carries no meaning; callers sort explicitly when needed.
func SortItems(items []*ManifestItem) {
	sort.Slice(items, func(i, j int) bool {
		ti, _ := ParseTime(items[i].CreatedAt)
		tj, _ := ParseTime(items[j].CreatedAt)
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return items[i].ID < items[j].ID
	})
}

// ExpiresBefore reports whether the item has an expiry at or before now.
// An unparsable expires_at is treated as absent.
func (x *ManifestItem) ExpiresBefore(now time.Time) bool {
	if x.ExpiresAt == nil {
		return false
	}
	exp, ok := ParseTime(*x.ExpiresAt)
	if !ok {
		return false
	}
	return !now.Before(exp)
}
