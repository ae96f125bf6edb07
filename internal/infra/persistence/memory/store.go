// Package memory provides the in-memory offset repository. The SQLite and
// Postgres repositories embed it and write each change through to their
// database.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"offsetcore/pkg/domain"
)

var _ domain.OffsetRepository = (*Store)(nil)

// ErrInvalidRequest marks an apply request that cannot be stored.
var ErrInvalidRequest = errors.New("invalid offset request")

// Snapshot is the full repository content.
type Snapshot struct {
	Offsets map[string]domain.PersistedOffset `json:"offsets"`
}

// Applied reports the outcome of an apply: the stored offsets, in request
// order, and the IDs of the offsets they replaced.
type Applied struct {
	Offsets  []domain.PersistedOffset
	Replaced []string
}

// Store keeps at most one persisted offset per labware location. Applying
// a vector to an occupied location replaces the previous record.
type Store struct {
	mu      sync.RWMutex
	offsets map[string]domain.PersistedOffset
	nowFn   func() time.Time
	newID   func() string
}

// NewStore constructs an empty repository.
func NewStore() *Store {
	return &Store{
		offsets: make(map[string]domain.PersistedOffset),
		nowFn:   func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

// SetNowFunc overrides the clock used to stamp new offsets.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn != nil {
		s.nowFn = fn
	}
}

// ApplyOffsets implements domain.OffsetRepository.
func (s *Store) ApplyOffsets(ctx context.Context, reqs []domain.OffsetApplyRequest) ([]domain.PersistedOffset, error) {
	applied, err := s.Apply(ctx, reqs)
	return applied.Offsets, err
}

// Apply stores reqs atomically: either every request is stored or none is.
func (s *Store) Apply(ctx context.Context, reqs []domain.OffsetApplyRequest) (Applied, error) {
	if err := ctx.Err(); err != nil {
		return Applied{}, err
	}
	for i, req := range reqs {
		if err := validate(req); err != nil {
			return Applied{}, fmt.Errorf("request %d: %w", i, err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn()
	byKey := s.indexByLocation()
	var out Applied
	for _, req := range reqs {
		key := req.Location.Key()
		if prev, ok := byKey[key]; ok {
			delete(s.offsets, prev)
			out.Replaced = append(out.Replaced, prev)
		}
		p := domain.PersistedOffset{
			ID:            s.newID(),
			DefinitionURI: req.DefinitionURI,
			Location:      req.Location,
			Vector:        req.Vector,
			CreatedAt:     now,
		}
		s.offsets[p.ID] = p
		byKey[key] = p.ID
		out.Offsets = append(out.Offsets, p)
	}
	return out, nil
}

// DeleteOffsets implements domain.OffsetRepository. Unknown IDs are
// ignored so a retried delete succeeds.
func (s *Store) DeleteOffsets(ctx context.Context, ids []string) error {
	_, err := s.Delete(ctx, ids)
	return err
}

// Delete removes ids and returns those that existed.
func (s *Store) Delete(ctx context.Context, ids []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	for _, id := range ids {
		if _, ok := s.offsets[id]; ok {
			delete(s.offsets, id)
			removed = append(removed, id)
		}
	}
	return removed, nil
}

// ListOffsets implements domain.OffsetRepository. An empty uri lists every
// offset. Results are ordered by creation time, then ID.
func (s *Store) ListOffsets(ctx context.Context, definitionURI string) ([]domain.PersistedOffset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]domain.PersistedOffset, 0, len(s.offsets))
	for _, p := range s.offsets {
		if definitionURI == "" || p.DefinitionURI == definitionURI {
			out = append(out, p)
		}
	}
	s.mu.RUnlock()
	SortOffsets(out)
	return out, nil
}

// ExportState returns a copy of the repository content.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Snapshot{Offsets: make(map[string]domain.PersistedOffset, len(s.offsets))}
	for id, p := range s.offsets {
		out.Offsets[id] = p
	}
	return out
}

// ImportState replaces the repository content with snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsets = make(map[string]domain.PersistedOffset, len(snapshot.Offsets))
	for id, p := range snapshot.Offsets {
		p.ID = id
		s.offsets[id] = p
	}
}

func (s *Store) indexByLocation() map[string]string {
	idx := make(map[string]string, len(s.offsets))
	for id, p := range s.offsets {
		idx[p.Location.Key()] = id
	}
	return idx
}

func validate(req domain.OffsetApplyRequest) error {
	switch {
	case req.DefinitionURI == "":
		return fmt.Errorf("%w: definition uri required", ErrInvalidRequest)
	case req.Location == nil:
		return fmt.Errorf("%w: location required", ErrInvalidRequest)
	case req.Location.URI() != req.DefinitionURI:
		return fmt.Errorf("%w: %w", ErrInvalidRequest, domain.ErrURIMismatch)
	}
	return nil
}

// SortOffsets orders offsets by creation time, then ID.
func SortOffsets(out []domain.PersistedOffset) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
}
