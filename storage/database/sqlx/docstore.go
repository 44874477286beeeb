package sqlxrepos

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/kidogo/core/docstore"
)

// recordStore keeps every collection in the "record" table, one JSONB document per row.
type recordStore struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ docstore.Store = (*recordStore)(nil) // interface compliance check

func NewDocStore(db *sqlx.DB) *recordStore {
	return &recordStore{db: db, now: time.Now}
}

func decodeData(data []byte) (docstore.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rec docstore.Record
	if err := dec.Decode(&rec); err != nil {
		return nil, errors.Wrap(err, "decoding record data")
	}
	return docstore.Normalize(rec)
}

func (s *recordStore) Get(ctx context.Context, collection, id string) (docstore.Record, error) {
	if err := docstore.ValidateCollection(collection); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, docstore.ErrNotFound
	}

	var data []byte
	err := s.db.GetContext(ctx, &data, `SELECT data FROM record WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, docstore.ErrNotFound
		}
		return nil, errors.Wrapf(err, "getting %s/%s", collection, id)
	}
	return decodeData(data)
}

// whereClause turns a docstore.Query condition into JSONB predicates:
// a field matches when it equals the value, or when it is an array containing it.
func whereClause(qb *queryBuilder, where map[string]interface{}) error {
	for field, val := range where {
		norm, err := docstore.Normalize(docstore.Record{field: val})
		if err != nil {
			return err
		}
		raw, err := json.Marshal(norm[field])
		if err != nil {
			return errors.Wrapf(docstore.ErrInvalidRecord, "field %q: %v", field, err)
		}
		f, v := qb.arg(field)+"::text", qb.arg(string(raw))
		qb.where(fmt.Sprintf(
			"(data->%[1]s = %[2]s::jsonb OR (jsonb_typeof(data->%[1]s) = 'array' AND data->%[1]s @> %[2]s::jsonb))", f, v))
	}
	return nil
}

func (s *recordStore) List(ctx context.Context, collection string, q docstore.Query) ([]docstore.Record, error) {
	if err := docstore.ValidateCollection(collection); err != nil {
		return nil, err
	}

	qb := new(queryBuilder)
	qb.where("collection = " + qb.arg(collection))
	if err := whereClause(qb, q.Where); err != nil {
		return nil, err
	}

	ordering := q.Ordering
	if len(ordering) == 0 {
		ordering = docstore.DefaultOrdering
	}
	orderBy := make([]string, 0, len(ordering)+1)
	for _, ord := range ordering {
		dir := "DESC"
		if ord.Ascending {
			dir = "ASC"
		}
		orderBy = append(orderBy, fmt.Sprintf("data->%s::text %s", qb.arg(ord.Field), dir))
	}
	orderBy = append(orderBy, "id ASC")

	query := `SELECT data FROM record` + qb.clause() + ` ORDER BY ` + strings.Join(orderBy, ", ")
	if q.Limit > 0 {
		query += " LIMIT " + qb.arg(q.Limit)
	}

	var rows [][]byte
	if err := s.db.SelectContext(ctx, &rows, query, qb.args...); err != nil {
		return nil, errors.Wrapf(err, "listing %s", collection)
	}
	recs := make([]docstore.Record, 0, len(rows))
	for _, data := range rows {
		rec, err := decodeData(data)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (s *recordStore) Add(ctx context.Context, collection string, rec docstore.Record) (string, error) {
	if err := docstore.ValidateCollection(collection); err != nil {
		return "", err
	}
	rec, err := docstore.Normalize(rec)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	now := s.now().UTC()
	rec[docstore.FieldID] = id
	rec[docstore.FieldCreatedAt] = docstore.FormatTime(now)
	rec[docstore.FieldUpdatedAt] = docstore.FormatTime(now)

	data, err := json.Marshal(rec)
	if err != nil {
		return "", errors.Wrap(err, "encoding record data")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO record (collection, id, data, created_at, updated_at) VALUES ($1, $2, $3, $4, $4)`,
		collection, id, string(data), now)
	if err != nil {
		return "", errors.Wrapf(err, "inserting into %s", collection)
	}
	return id, nil
}

func (s *recordStore) Update(ctx context.Context, collection, id string, rec docstore.Record) error {
	if err := docstore.ValidateCollection(collection); err != nil {
		return err
	}
	if _, err := uuid.Parse(id); err != nil {
		return errors.Wrapf(docstore.ErrNotFound, "%s/%s", collection, id)
	}
	rec, err := docstore.Normalize(rec)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	delete(rec, docstore.FieldID)
	delete(rec, docstore.FieldCreatedAt)
	rec[docstore.FieldUpdatedAt] = docstore.FormatTime(now)

	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "encoding record data")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE record SET data = data || $3::jsonb, updated_at = $4 WHERE collection = $1 AND id = $2`,
		collection, id, string(data), now)
	if err != nil {
		return errors.Wrapf(err, "updating %s/%s", collection, id)
	}
	return checkAffected(res, collection, id)
}

func (s *recordStore) Delete(ctx context.Context, collection, id string) error {
	if err := docstore.ValidateCollection(collection); err != nil {
		return err
	}
	if _, err := uuid.Parse(id); err != nil {
		return errors.Wrapf(docstore.ErrNotFound, "%s/%s", collection, id)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM record WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return errors.Wrapf(err, "deleting %s/%s", collection, id)
	}
	return checkAffected(res, collection, id)
}

func checkAffected(res sql.Result, collection, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "counting affected rows")
	}
	if n == 0 {
		return errors.Wrapf(docstore.ErrNotFound, "%s/%s", collection, id)
	}
	return nil
}
