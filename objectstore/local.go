package objectstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/vekterdb/corekv/errs"
)

// LocalStore is the filesystem-backed object store, adapted from the
// teacher's persistence-files.go. POSIX has no native conditional PUT, so
// conditional semantics are emulated with a per-store mutex serializing
// Put calls under this process (Delete does not take it; matching the single-writer
// assumption the manifest/cursor CAS loops already require) plus a
// write-to-temp-then-rename sequence for crash safety.
type LocalStore struct {
	root string

	mu sync.Mutex
}

// NewLocalStore roots a Store at dir, creating it if necessary.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errs.New(errs.KindInternal, "objectstore.NewLocalStore", dir, err)
	}
	return &LocalStore{root: dir}, nil
}

func (s *LocalStore) abs(path string) string {
	return filepath.Join(s.root, filepath.FromSlash(path))
}

func etagOf(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func (s *LocalStore) Get(ctx context.Context, path string) (Object, error) {
	body, err := os.ReadFile(s.abs(path))
	if err != nil {
		if os.IsNotExist(err) {
			return Object{}, notFound("objectstore.Get", path, err)
		}
		return Object{}, transient("objectstore.Get", path, err)
	}
	return Object{Body: body, ETag: etagOf(body)}, nil
}

func (s *LocalStore) GetRange(ctx context.Context, path string, offset, length int64) ([]byte, error) {
	f, err := os.Open(s.abs(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound("objectstore.GetRange", path, err)
		}
		return nil, transient("objectstore.GetRange", path, err)
	}
	defer f.Close()

	buf := make([]byte, length)
	n, err := f.ReadAt(buf, offset)
	if err != nil && n == 0 {
		return nil, transient("objectstore.GetRange", path, err)
	}
	return buf[:n], nil
}

func (s *LocalStore) Put(ctx context.Context, path string, body []byte, opts Options) (PutResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	full := s.abs(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return PutResult{}, errs.New(errs.KindInternal, "objectstore.Put", path, err)
	}

	switch opts.Mode {
	case IfNotExists:
		if _, err := os.Stat(full); err == nil {
			return PutResult{}, alreadyExists("objectstore.Put", path, fmt.Errorf("object exists"))
		} else if !os.IsNotExist(err) {
			return PutResult{}, transient("objectstore.Put", path, err)
		}
	case IfMatches:
		existing, err := os.ReadFile(full)
		if err != nil {
			if os.IsNotExist(err) {
				return PutResult{}, precondition("objectstore.Put", path, fmt.Errorf("object does not exist"))
			}
			return PutResult{}, transient("objectstore.Put", path, err)
		}
		if etagOf(existing) != opts.ETag {
			return PutResult{}, precondition("objectstore.Put", path, fmt.Errorf("etag mismatch"))
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".tmp-*")
	if err != nil {
		return PutResult{}, errs.New(errs.KindInternal, "objectstore.Put", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return PutResult{}, errs.New(errs.KindInternal, "objectstore.Put", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return PutResult{}, errs.New(errs.KindInternal, "objectstore.Put", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return PutResult{}, errs.New(errs.KindInternal, "objectstore.Put", path, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return PutResult{}, errs.New(errs.KindInternal, "objectstore.Put", path, err)
	}

	return PutResult{ETag: etagOf(body)}, nil
}

func (s *LocalStore) Delete(ctx context.Context, path string) error {
	if err := os.Remove(s.abs(path)); err != nil && !os.IsNotExist(err) {
		return transient("objectstore.Delete", path, err)
	}
	return nil
}

func (s *LocalStore) ListPrefix(ctx context.Context, prefix string) ([]ListedObject, error) {
	var out []ListedObject
	base := s.abs(prefix)
	// prefix may name a partial final path component (e.g. "log/Bucket="),
	// so walk the whole store root and filter by string prefix rather than
	// assuming prefix itself is a directory.
	dir := filepath.Dir(base)
	err := filepath.WalkDir(s.root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !strings.HasPrefix(rel, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, ListedObject{Path: rel, Size: info.Size()})
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, transient("objectstore.ListPrefix", prefix, err)
	}
	_ = dir
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (s *LocalStore) Copy(ctx context.Context, src, dst string) error {
	obj, err := s.Get(ctx, src)
	if err != nil {
		return err
	}
	_, err = s.Put(ctx, dst, obj.Body, Options{Mode: Unconditional})
	return err
}
