// Package artifact defines the client contract for the object store that
// holds job inputs and results. The coordinator keeps only references
// ("bucket/key") in job records; the bytes live here.
package artifact

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"time"
)

// Bucket names.
const (
	BucketInputs  = "inputs"
	BucketResults = "results"
)

// Buckets lists every bucket the coordinator writes to.
var Buckets = []string{BucketInputs, BucketResults}

// Ref addresses one object.
type Ref struct {
	Bucket string
	Key    string
}

// String returns the "bucket/key" form stored on jobs.
func (r Ref) String() string {
	if r.IsZero() {
		return ""
	}
	return r.Bucket + "/" + r.Key
}

// IsZero reports whether r addresses nothing.
func (r Ref) IsZero() bool { return r.Bucket == "" && r.Key == "" }

// Name returns the final path element of the key.
func (r Ref) Name() string { return path.Base(r.Key) }

// ParseRef parses a "bucket/key" reference.
func ParseRef(s string) (Ref, error) {
	bucket, key, ok := strings.Cut(s, "/")
	if !ok || bucket == "" || key == "" {
		return Ref{}, fmt.Errorf("artifact: invalid reference %q", s)
	}
	return Ref{Bucket: bucket, Key: key}, nil
}

// Info describes a stored object.
type Info struct {
	Size        int64
	ContentType string
}

// Store is the artifact store client. Every failure is wrapped with
// cluster.ErrArtifactUnavailable.
type Store interface {
	// EnsureBuckets creates any missing bucket in Buckets.
	EnsureBuckets(ctx context.Context) error

	// Put uploads r to ref. size may be -1 when unknown.
	Put(ctx context.Context, ref Ref, r io.Reader, size int64, contentType string) error

	// Get opens ref for reading. The caller closes the reader.
	Get(ctx context.Context, ref Ref) (io.ReadCloser, Info, error)

	// Delete removes ref. Deleting a missing object is not an error.
	Delete(ctx context.Context, ref Ref) error
}

// InputRef builds the key for an uploaded input: name_<unix>.ext in the
// inputs bucket.
func InputRef(name string, now time.Time) Ref {
	base, ext := splitName(name)
	return Ref{Bucket: BucketInputs, Key: fmt.Sprintf("%s_%d%s", base, now.Unix(), ext)}
}

// ResultRef builds the key for a job's result: result_<job>_<unix>.ext in
// the results bucket.
func ResultRef(jobID, name string, now time.Time) Ref {
	_, ext := splitName(name)
	return Ref{Bucket: BucketResults, Key: fmt.Sprintf("result_%s_%d%s", jobID, now.Unix(), ext)}
}

func splitName(name string) (base, ext string) {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "input"
	}
	ext = path.Ext(name)
	return strings.TrimSuffix(name, ext), ext
}

var contentTypes = map[string]string{
	".txt":  "text/plain",
	".csv":  "text/csv",
	".json": "application/json",
	".zip":  "application/zip",
}

// ContentType guesses a MIME type from a file or key name.
func ContentType(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
