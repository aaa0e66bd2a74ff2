package adapter

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/ytscribe/pkg/model"
)

const (
	TranscriptsDirName = "transcripts"
	DerivedDirName     = "derived"
	manifestFileName   = "manifest.json"
)

// SessionStore maps session IDs to an isolated directory subtree and
// resolves relative paths so they can never escape it.
type SessionStore struct {
	dataDir string
}

func NewSessionStore(dataDir string) *SessionStore {
	return &SessionStore{dataDir: dataDir}
}

// SessionRoot returns the session's root directory, creating it and the
// fixed transcripts/ and derived/ subdirectories if absent. Idempotent.
func (x *SessionStore) SessionRoot(sid model.SessionID) (string, error) {
	root := filepath.Join(x.dataDir, sid.String())
	for _, dir := range []string{root, filepath.Join(root, TranscriptsDirName), filepath.Join(root, DerivedDirName)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", goerr.Wrap(err, "failed to create session directory", goerr.V("dir", dir))
		}
	}
	return root, nil
}

// TranscriptsDir returns the session's transcripts directory, creating it if absent.
func (x *SessionStore) TranscriptsDir(sid model.SessionID) (string, error) {
	root, err := x.SessionRoot(sid)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, TranscriptsDirName), nil
}

// DerivedDir returns the session's derived-file directory, creating it if absent.
func (x *SessionStore) DerivedDir(sid model.SessionID) (string, error) {
	root, err := x.SessionRoot(sid)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, DerivedDirName), nil
}

// ManifestPath returns the path of the session's manifest file.
func (x *SessionStore) ManifestPath(sid model.SessionID) (string, error) {
	root, err := x.SessionRoot(sid)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, manifestFileName), nil
}

// ResolveRelpath resolves relpath against the session root and verifies the
// canonical result stays inside it. Traversal segments, absolute paths and
// symlinks pointing outside the root all fail with ErrPathViolation.
func (x *SessionStore) ResolveRelpath(sid model.SessionID, relpath string) (string, error) {
	if err := CheckRelpath(relpath); err != nil {
		return "", err
	}

	root, err := x.SessionRoot(sid)
	if err != nil {
		return "", err
	}
	canonRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", goerr.Wrap(err, "failed to canonicalize session root", goerr.V("root", root))
	}

	target := filepath.Join(canonRoot, filepath.FromSlash(relpath))
	canon, err := canonicalize(target)
	if err != nil {
		return "", goerr.Wrap(model.ErrPathViolation, "cannot canonicalize relpath",
			goerr.V("relpath", relpath), goerr.V("cause", err.Error()))
	}

	if canon != canonRoot && !strings.HasPrefix(canon, canonRoot+string(filepath.Separator)) {
		return "", goerr.Wrap(model.ErrPathViolation, "relpath resolves outside session root",
			goerr.V("relpath", relpath))
	}
	return canon, nil
}

// CheckRelpath validates the lexical form of a relative path: non-empty,
// not absolute, no ".." segments.
func CheckRelpath(relpath string) error {
	if relpath == "" {
		return goerr.Wrap(model.ErrPathViolation, "relpath is empty")
	}
	if strings.HasPrefix(relpath, "/") || filepath.IsAbs(relpath) {
		return goerr.Wrap(model.ErrPathViolation, "relpath must be relative", goerr.V("relpath", relpath))
	}
	for _, seg := range strings.Split(relpath, "/") {
		if seg == ".." {
			return goerr.Wrap(model.ErrPathViolation, "relpath contains a parent segment", goerr.V("relpath", relpath))
		}
	}
	return nil
}

// canonicalize resolves symlinks in path. The path itself may not exist yet;
// the deepest existing ancestor is resolved and the remainder rejoined.
func canonicalize(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	dir, base := filepath.Split(filepath.Clean(path))
	dir = filepath.Clean(dir)
	if dir == path {
		return "", err
	}
	canonDir, err := canonicalize(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(canonDir, base), nil
}
