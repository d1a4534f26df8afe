// Package sources resolves a document's source reference to a readable local
// file. References are plain filesystem paths or gs://bucket/object URIs.
package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"cloud.google.com/go/storage"

	"policyreader/internal/util"
)

const gcsScheme = "gs://"

// Local is a readable copy of a source. Cleanup removes any temporary copy and
// is always safe to call.
type Local struct {
	Path    string
	Cleanup func()
}

// Bucket is the slice of the GCS client the resolver needs.
type Bucket interface {
	Attrs(ctx context.Context, bucket, object string) error
	Download(ctx context.Context, bucket, object string, w io.Writer) error
}

type Resolver struct {
	root   string
	log    *slog.Logger
	mu     sync.Mutex
	bucket Bucket
	dial   func(ctx context.Context) (Bucket, error)
}

// NewResolver resolves relative paths against root. GCS is dialed on first use.
func NewResolver(root string, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{root: root, log: log, dial: dialGCS}
}

// WithBucket installs a GCS implementation, used by tests.
func (r *Resolver) WithBucket(b Bucket) *Resolver {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bucket = b
	return r
}

// Check reports whether ref can be read, without copying it.
func (r *Resolver) Check(ctx context.Context, ref string) error {
	if strings.TrimSpace(ref) == "" {
		return util.ErrMissingSourceFile
	}
	if bucket, object, ok := splitGCS(ref); ok {
		b, err := r.gcs(ctx)
		if err != nil {
			return err
		}
		if err := b.Attrs(ctx, bucket, object); err != nil {
			return fmt.Errorf("%w: %s: %v", util.ErrSourceUnreadable, ref, err)
		}
		return nil
	}
	f, err := os.Open(r.localPath(ref))
	if err != nil {
		return fmt.Errorf("%w: %v", util.ErrSourceUnreadable, err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: %v", util.ErrSourceUnreadable, err)
	}
	if st.IsDir() {
		return fmt.Errorf("%w: %s is a directory", util.ErrSourceUnreadable, ref)
	}
	return nil
}

// Fetch returns a local path for ref, downloading remote objects to a
// temporary file.
func (r *Resolver) Fetch(ctx context.Context, ref string) (Local, error) {
	if err := r.Check(ctx, ref); err != nil {
		return Local{}, err
	}
	bucket, object, ok := splitGCS(ref)
	if !ok {
		return Local{Path: r.localPath(ref), Cleanup: func() {}}, nil
	}

	b, err := r.gcs(ctx)
	if err != nil {
		return Local{}, err
	}
	f, err := os.CreateTemp("", "policyreader-src-*"+filepath.Ext(object))
	if err != nil {
		return Local{}, err
	}
	cleanup := func() { _ = os.Remove(f.Name()) }
	if err := b.Download(ctx, bucket, object, f); err != nil {
		_ = f.Close()
		cleanup()
		return Local{}, fmt.Errorf("%w: download %s: %v", util.ErrSourceUnreadable, ref, err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return Local{}, err
	}
	r.log.Info("sources.downloaded", "ref", ref, "path", f.Name())
	return Local{Path: f.Name(), Cleanup: cleanup}, nil
}

func (r *Resolver) localPath(ref string) string {
	if filepath.IsAbs(ref) || r.root == "" {
		return ref
	}
	return filepath.Join(r.root, ref)
}

func (r *Resolver) gcs(ctx context.Context) (Bucket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bucket != nil {
		return r.bucket, nil
	}
	b, err := r.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	r.bucket = b
	return b, nil
}

func splitGCS(ref string) (bucket, object string, ok bool) {
	if !strings.HasPrefix(ref, gcsScheme) {
		return "", "", false
	}
	rest := strings.TrimPrefix(ref, gcsScheme)
	bucket, object, found := strings.Cut(rest, "/")
	if !found || bucket == "" || object == "" {
		return "", "", false
	}
	return bucket, object, true
}

type gcsBucket struct {
	client *storage.Client
}

func dialGCS(ctx context.Context) (Bucket, error) {
	c, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return gcsBucket{client: c}, nil
}

func (g gcsBucket) Attrs(ctx context.Context, bucket, object string) error {
	_, err := g.client.Bucket(bucket).Object(object).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("object does not exist")
	}
	return err
}

func (g gcsBucket) Download(ctx context.Context, bucket, object string, w io.Writer) error {
	rc, err := g.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = io.Copy(w, rc)
	return err
}
