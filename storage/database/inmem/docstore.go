package inmemdb

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/kidogo/core/docstore"
)

type recordStore struct {
	db  *recordTable
	now func() time.Time
}

var _ docstore.Store = (*recordStore)(nil) // interface compliance check

func NewDocStore(db *DB) *recordStore {
	return &recordStore{db: db.record, now: time.Now}
}

func (s *recordStore) Get(ctx context.Context, collection, id string) (docstore.Record, error) {
	if err := docstore.ValidateCollection(collection); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.db.RLock()
	defer s.db.RUnlock()

	rec, ok := s.db.table[collection][id]
	if !ok {
		return nil, docstore.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *recordStore) List(ctx context.Context, collection string, q docstore.Query) ([]docstore.Record, error) {
	if err := docstore.ValidateCollection(collection); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.db.RLock()
	recs := make([]docstore.Record, 0, len(s.db.table[collection]))
	for _, rec := range s.db.table[collection] {
		if docstore.Matches(rec, q.Where) {
			recs = append(recs, rec.Clone())
		}
	}
	s.db.RUnlock()

	ordering := q.Ordering
	if len(ordering) == 0 {
		ordering = docstore.DefaultOrdering
	}
	docstore.Sort(recs, ordering)
	if q.Limit > 0 && len(recs) > q.Limit {
		recs = recs[:q.Limit]
	}
	return recs, nil
}

func (s *recordStore) Add(ctx context.Context, collection string, rec docstore.Record) (string, error) {
	if err := docstore.ValidateCollection(collection); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rec, err := docstore.Normalize(rec)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	now := docstore.FormatTime(s.now())
	rec[docstore.FieldID] = id
	rec[docstore.FieldCreatedAt] = now
	rec[docstore.FieldUpdatedAt] = now

	s.db.Lock()
	defer s.db.Unlock()

	if s.db.table[collection] == nil {
		s.db.table[collection] = make(map[string]docstore.Record)
	}
	s.db.table[collection][id] = rec
	return id, nil
}

func (s *recordStore) Update(ctx context.Context, collection, id string, rec docstore.Record) error {
	if err := docstore.ValidateCollection(collection); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	rec, err := docstore.Normalize(rec)
	if err != nil {
		return err
	}

	s.db.Lock()
	defer s.db.Unlock()

	existing, ok := s.db.table[collection][id]
	if !ok {
		return errors.Wrapf(docstore.ErrNotFound, "%s/%s", collection, id)
	}
	for k, v := range rec {
		if k == docstore.FieldID || k == docstore.FieldCreatedAt {
			continue
		}
		existing[k] = v
	}
	existing[docstore.FieldUpdatedAt] = docstore.FormatTime(s.now())
	return nil
}

func (s *recordStore) Delete(ctx context.Context, collection, id string) error {
	if err := docstore.ValidateCollection(collection); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.db.Lock()
	defer s.db.Unlock()

	if _, ok := s.db.table[collection][id]; !ok {
		return errors.Wrapf(docstore.ErrNotFound, "%s/%s", collection, id)
	}
	delete(s.db.table[collection], id)
	return nil
}
