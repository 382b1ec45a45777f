// Package archive keeps a zstd-compressed copy of every imported raw file in
// S3-compatible object storage.
package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/JonMunkholm/cycler/internal/core"
)

// ObjectStore is the storage the archiver writes to.
// A size of -1 means the length is unknown and the body must be streamed.
type ObjectStore interface {
	EnsureBucket(ctx context.Context, bucket string) error
	PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64, meta map[string]string) error
}

// Object describes an archived file.
type Object struct {
	Bucket       string `json:"bucket"`
	Key          string `json:"key"`
	OriginalSize int64  `json:"original_size"`
}

// Archiver compresses files and uploads them.
type Archiver struct {
	store  ObjectStore
	bucket string
	prefix string
	level  zstd.EncoderLevel
	now    func() time.Time
}

// NewArchiver writes into bucket under prefix (usually the harvester name).
// level is a zstd level from 1 (fastest) to 22 (smallest).
func NewArchiver(store ObjectStore, bucket, prefix string, level int) *Archiver {
	return &Archiver{
		store:  store,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		level:  zstd.EncoderLevelFromZstd(level),
		now:    time.Now,
	}
}

// Init makes sure the bucket exists.
func (a *Archiver) Init(ctx context.Context) error {
	return a.store.EnsureBucket(ctx, a.bucket)
}

// ObjectKey builds "<prefix>/<yyyy>/<mm>/<dataset>-<id>-<name>.zst".
func (a *Archiver) ObjectKey(path string, datasetID int64) string {
	now := a.now().UTC()
	name := fmt.Sprintf("%d-%s-%s.zst", datasetID, uuid.NewString()[:8], filepath.Base(path))
	parts := []string{now.Format("2006"), now.Format("01"), name}
	if a.prefix != "" {
		parts = append([]string{a.prefix}, parts...)
	}
	return strings.Join(parts, "/")
}

// Archive streams path through a zstd encoder into the object store.
// The file is never held in memory whole.
func (a *Archiver) Archive(ctx context.Context, path string, datasetID int64) (Object, error) {
	f, err := os.Open(path)
	if err != nil {
		return Object{}, fmt.Errorf("archive %s: %w", path, err)
	}
	defer f.Close()

	src := core.NewCountingReader(f)
	pr, pw := io.Pipe()

	go func() {
		enc, err := zstd.NewWriter(pw, zstd.WithEncoderLevel(a.level))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(enc, src); err != nil {
			enc.Close()
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(enc.Close())
	}()

	key := a.ObjectKey(path, datasetID)
	meta := map[string]string{
		"source-path": path,
		"dataset-id":  fmt.Sprint(datasetID),
	}
	if err := a.store.PutObject(ctx, a.bucket, key, pr, -1, meta); err != nil {
		pr.CloseWithError(err)
		return Object{}, fmt.Errorf("archive %s: %w", path, err)
	}
	return Object{Bucket: a.bucket, Key: key, OriginalSize: src.BytesRead}, nil
}
