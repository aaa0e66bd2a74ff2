package session

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/ytscribe/pkg/adapter"
	"github.com/m-mizutani/ytscribe/pkg/model"
	"github.com/m-mizutani/ytscribe/pkg/repository"
)

// MaxChunkBytes bounds a single read_file_chunk response.
const MaxChunkBytes = 200_000

// FileRef addresses a session file either by manifest item ID or by relpath.
type FileRef struct {
	ItemID  model.ItemID
	Relpath string
}

func (x *FileRef) validate() error {
	if x.ItemID == "" && x.Relpath == "" {
		return goerr.New("provide either item_id or relpath")
	}
	return nil
}

// FileInfo describes a session file and, when registered, its manifest entry.
type FileInfo struct {
	ItemID    model.ItemID `json:"id,omitempty"`
	SessionID model.SessionID
	Path      string
	Relpath   string
	Size      int64
	Pinned    *bool
	ExpiresAt *string
	Format    *model.Format
	Kind      *model.ItemKind
}

// FileChunk is one bounded slice of a session file.
type FileChunk struct {
	Data       string
	NextOffset int64
	EOF        bool
	Size       int64
	ItemID     model.ItemID
}

// WriteTextFile writes content under the session's derived/ subtree and
// registers it as a derived item. Existing files require overwrite.
func (x *UseCase) WriteTextFile(ctx context.Context, sid model.SessionID, relpath, content string, overwrite bool) (*model.ManifestItem, error) {
	if err := adapter.CheckRelpath(relpath); err != nil {
		return nil, err
	}
	if _, err := x.repo.CleanupSession(ctx, sid); err != nil {
		return nil, err
	}

	rel := path.Join(adapter.DerivedDirName, relpath)
	target, err := x.store.ResolveRelpath(sid, rel)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(target); err == nil && !overwrite {
		return nil, goerr.Wrap(model.ErrAlreadyExists, "file already exists; set overwrite=true to replace",
			goerr.V("relpath", rel))
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, goerr.Wrap(err, "failed to create parent directory", goerr.V("relpath", rel))
	}
	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		return nil, goerr.Wrap(err, "failed to write file", goerr.V("relpath", rel))
	}

	return x.repo.AddItem(ctx, &repository.AddItemInput{
		SessionID: sid,
		Kind:      model.KindDerived,
		Format:    formatFromPath(target),
		Relpath:   rel,
		TTL:       x.repo.DefaultTTL(),
	})
}

func formatFromPath(p string) model.Format {
	format := model.Format(strings.TrimPrefix(filepath.Ext(p), "."))
	if err := format.Validate(); err != nil {
		return model.FormatTxt
	}
	return format
}

// ReadFileInfo resolves the referenced file, refreshing the stored size of
// registered items.
func (x *UseCase) ReadFileInfo(ctx context.Context, sid model.SessionID, ref *FileRef) (*FileInfo, error) {
	if err := ref.validate(); err != nil {
		return nil, err
	}
	if _, err := x.repo.CleanupSession(ctx, sid); err != nil {
		return nil, err
	}

	manifest, err := x.repo.Load(ctx, sid)
	if err != nil {
		return nil, err
	}

	if item := findItem(manifest.Items, ref); item != nil {
		target, err := x.store.ResolveRelpath(sid, item.Relpath)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(target)
		if err != nil {
			return nil, goerr.Wrap(model.ErrNotFound, "file does not exist", goerr.V("relpath", item.Relpath))
		}
		if info.Size() != item.Size {
			item.Size = info.Size()
			if err := x.repo.Save(ctx, manifest); err != nil {
				return nil, err
			}
		}
		return &FileInfo{
			ItemID:    item.ID,
			SessionID: sid,
			Path:      target,
			Relpath:   item.Relpath,
			Size:      item.Size,
			Pinned:    &item.Pinned,
			ExpiresAt: item.ExpiresAt,
			Format:    &item.Format,
			Kind:      &item.Kind,
		}, nil
	}

	if ref.Relpath != "" {
		target, err := x.store.ResolveRelpath(sid, ref.Relpath)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(target)
		if err != nil {
			return nil, goerr.Wrap(model.ErrNotFound, "file does not exist", goerr.V("relpath", ref.Relpath))
		}
		return &FileInfo{
			SessionID: sid,
			Path:      target,
			Relpath:   ref.Relpath,
			Size:      info.Size(),
		}, nil
	}

	return nil, goerr.Wrap(model.ErrNotFound, "item not found",
		goerr.V("session_id", sid), goerr.V("item_id", ref.ItemID))
}

// ReadFileChunk reads up to maxBytes from offset. maxBytes of 0 means the
// maximum; offset at or past EOF yields an empty chunk with eof=true.
func (x *UseCase) ReadFileChunk(ctx context.Context, sid model.SessionID, ref *FileRef, offset int64, maxBytes int64) (*FileChunk, error) {
	if err := ref.validate(); err != nil {
		return nil, err
	}
	if maxBytes == 0 {
		maxBytes = MaxChunkBytes
	}
	if maxBytes < 1 || maxBytes > MaxChunkBytes {
		return nil, goerr.New("max_bytes must be between 1 and 200000", goerr.V("max_bytes", maxBytes))
	}
	if offset < 0 {
		return nil, goerr.New("offset must be >= 0", goerr.V("offset", offset))
	}

	if _, err := x.repo.CleanupSession(ctx, sid); err != nil {
		return nil, err
	}
	manifest, err := x.repo.Load(ctx, sid)
	if err != nil {
		return nil, err
	}

	var itemID model.ItemID
	var target string
	if item := findItem(manifest.Items, ref); item != nil {
		itemID = item.ID
		if target, err = x.store.ResolveRelpath(sid, item.Relpath); err != nil {
			return nil, err
		}
	} else if ref.Relpath != "" {
		if target, err = x.store.ResolveRelpath(sid, ref.Relpath); err != nil {
			return nil, err
		}
	} else {
		return nil, goerr.Wrap(model.ErrNotFound, "item not found",
			goerr.V("session_id", sid), goerr.V("item_id", ref.ItemID))
	}

	handle, err := os.Open(target)
	if err != nil {
		return nil, goerr.Wrap(model.ErrNotFound, "file does not exist", goerr.V("path", target))
	}
	defer handle.Close()

	info, err := handle.Stat()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to stat file", goerr.V("path", target))
	}
	size := info.Size()

	if offset >= size {
		return &FileChunk{
			Data:       "",
			NextOffset: offset,
			EOF:        true,
			Size:       size,
			ItemID:     itemID,
		}, nil
	}

	buf := make([]byte, maxBytes)
	n, err := handle.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, goerr.Wrap(err, "failed to read file", goerr.V("path", target))
	}

	nextOffset := offset + int64(n)
	return &FileChunk{
		Data:       string(buf[:n]),
		NextOffset: nextOffset,
		EOF:        nextOffset >= size,
		Size:       size,
		ItemID:     itemID,
	}, nil
}

func findItem(items []*model.ManifestItem, ref *FileRef) *model.ManifestItem {
	for _, item := range items {
		if ref.ItemID != "" && item.ID == ref.ItemID {
			return item
		}
		if ref.Relpath != "" && item.Relpath == ref.Relpath {
			return item
		}
	}
	return nil
}
