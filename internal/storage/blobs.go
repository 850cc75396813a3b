package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// BlobInfo describes a stored binary for the serving path.
type BlobInfo struct {
	ContentType string
	Size        int64
	ModTime     time.Time
}

// BlobStore persists media binaries separately from their metadata records.
// Put consumes the temp file at sourcePath (it is removed whether or not the
// store succeeds) and returns an opaque handle that later Open and Delete
// calls accept. Handlers delete the blob before the record on destroy and
// store the blob before the record on create, so a failure never leaves a
// record pointing at a missing binary.
type BlobStore interface {
	Put(ctx context.Context, sourcePath, originalName, contentType, key string) (string, error)
	Open(ctx context.Context, handle string) (io.ReadCloser, BlobInfo, error)
	Delete(ctx context.Context, handle string) error
}

// LocalBlobStore keeps binaries as flat files under a single directory,
// named by media id plus the original extension.
type LocalBlobStore struct {
	Dir string

	initOnce sync.Once
	resolved string
}

// NewLocalBlobStore returns a blob store rooted at dir. An empty dir falls
// back to a directory under the system temp root.
func NewLocalBlobStore(dir string) *LocalBlobStore {
	return &LocalBlobStore{Dir: dir}
}

func (s *LocalBlobStore) dir() string {
	s.initOnce.Do(func() {
		dir := strings.TrimSpace(s.Dir)
		if dir == "" {
			dir = filepath.Join(os.TempDir(), "keepsake-media")
		}
		dir = filepath.Clean(dir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			dir = filepath.Join(os.TempDir(), "keepsake-media")
			_ = os.MkdirAll(dir, 0o755)
		}
		s.resolved = dir
	})
	if s.resolved == "" {
		return filepath.Join(os.TempDir(), "keepsake-media")
	}
	return s.resolved
}

func (s *LocalBlobStore) Put(ctx context.Context, sourcePath, originalName, contentType, key string) (string, error) {
	if strings.TrimSpace(sourcePath) == "" {
		return "", fmt.Errorf("blob payload missing")
	}
	defer func() {
		_ = os.Remove(sourcePath)
	}()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	handle := blobHandle(key, originalName)
	finalPath := filepath.Join(s.dir(), handle)
	_ = os.Remove(finalPath)
	if err := os.Rename(sourcePath, finalPath); err != nil {
		return "", fmt.Errorf("store blob: %w", err)
	}
	return handle, nil
}

func (s *LocalBlobStore) Open(ctx context.Context, handle string) (io.ReadCloser, BlobInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, BlobInfo{}, err
	}
	fullPath := filepath.Join(s.dir(), filepath.Base(handle))
	file, err := os.Open(fullPath)
	if err != nil {
		return nil, BlobInfo{}, fmt.Errorf("open blob %s: %w", handle, err)
	}
	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, BlobInfo{}, fmt.Errorf("stat blob %s: %w", handle, err)
	}
	return file, BlobInfo{Size: stat.Size(), ModTime: stat.ModTime()}, nil
}

func (s *LocalBlobStore) Delete(ctx context.Context, handle string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fullPath := filepath.Join(s.dir(), filepath.Base(handle))
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob %s: %w", handle, err)
	}
	return nil
}

// blobHandle derives the stored name from the caller's key and the uploaded
// file's extension. Unknown extensions fall back to .bin.
func blobHandle(key, originalName string) string {
	ext := strings.ToLower(filepath.Ext(originalName))
	if ext == "" {
		ext = ".bin"
	}
	return key + ext
}

var _ BlobStore = (*LocalBlobStore)(nil)
