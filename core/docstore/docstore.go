// Package docstore defines a collection-oriented store of flat records.
package docstore

import (
	"context"
	"regexp"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/kidogo/core"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrInvalidRecord     = errors.New("invalid record")
	ErrInvalidCollection = errors.New("invalid collection")
)

// Reserved fields, managed by the Store.
const (
	FieldID        = "id"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
)

// TimeFormat is the layout of time values stored in records; it sorts lexically.
const TimeFormat = "2006-01-02T15:04:05.000000Z07:00"

var collectionRegex = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

type (
	// Record is a flat mapping of field names to string, bool, number or []string values.
	Record map[string]interface{}

	// Query filters records by equality on scalar fields, or membership for []string fields.
	Query struct {
		Where    map[string]interface{}
		Ordering []core.DBOrdering
		Limit    int
	}

	Store interface {
		Get(ctx context.Context, collection, id string) (Record, error)
		List(ctx context.Context, collection string, q Query) ([]Record, error)
		// Add stores rec under a new id and returns it.
		Add(ctx context.Context, collection string, rec Record) (string, error)
		// Update merges the given fields into the existing record.
		Update(ctx context.Context, collection, id string, rec Record) error
		Delete(ctx context.Context, collection, id string) error
	}
)

func (r Record) ID() string {
	s, _ := r[FieldID].(string)
	return s
}

// Clone returns a shallow copy of r with copied []string values.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	c := make(Record, len(r))
	for k, v := range r {
		if ss, ok := v.([]string); ok {
			v = append([]string(nil), ss...)
		}
		c[k] = v
	}
	return c
}

func ValidateCollection(name string) error {
	if !collectionRegex.MatchString(name) {
		return errors.Wrapf(ErrInvalidCollection, "%q", name)
	}
	return nil
}

// DefaultOrdering lists the most recent records first.
var DefaultOrdering = []core.DBOrdering{{Field: FieldCreatedAt}}

// FormatTime formats t the way record timestamps are stored.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}
