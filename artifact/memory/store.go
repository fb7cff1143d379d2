// Package memory implements artifact.Store in memory for tests and
// single-process development setups.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/blakecragen/cluster"
	"github.com/blakecragen/cluster/artifact"
)

var _ artifact.Store = (*Store)(nil)

type object struct {
	data        []byte
	contentType string
}

// Store keeps objects in a map. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	objects map[string]object

	// failing makes every call return ErrArtifactUnavailable.
	failing bool
}

// New returns an empty Store.
func New() *Store {
	return &Store{objects: make(map[string]object)}
}

// SetFailing toggles simulated unavailability.
func (s *Store) SetFailing(failing bool) {
	s.mu.Lock()
	s.failing = failing
	s.mu.Unlock()
}

// Len returns the number of stored objects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// Has reports whether ref exists.
func (s *Store) Has(ref artifact.Ref) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[ref.String()]
	return ok
}

// EnsureBuckets implements artifact.Store.
func (s *Store) EnsureBuckets(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failing {
		return fmt.Errorf("%w: ensure buckets", cluster.ErrArtifactUnavailable)
	}
	return nil
}

// Put implements artifact.Store.
func (s *Store) Put(_ context.Context, ref artifact.Ref, r io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", cluster.ErrArtifactUnavailable, ref, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return fmt.Errorf("%w: put %s", cluster.ErrArtifactUnavailable, ref)
	}
	s.objects[ref.String()] = object{data: data, contentType: contentType}
	return nil
}

// Get implements artifact.Store.
func (s *Store) Get(_ context.Context, ref artifact.Ref) (io.ReadCloser, artifact.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failing {
		return nil, artifact.Info{}, fmt.Errorf("%w: get %s", cluster.ErrArtifactUnavailable, ref)
	}
	obj, ok := s.objects[ref.String()]
	if !ok {
		return nil, artifact.Info{}, fmt.Errorf("%w: %s does not exist", cluster.ErrArtifactUnavailable, ref)
	}
	info := artifact.Info{Size: int64(len(obj.data)), ContentType: obj.contentType}
	return io.NopCloser(bytes.NewReader(obj.data)), info, nil
}

// Delete implements artifact.Store.
func (s *Store) Delete(_ context.Context, ref artifact.Ref) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return fmt.Errorf("%w: delete %s", cluster.ErrArtifactUnavailable, ref)
	}
	delete(s.objects, ref.String())
	return nil
}
