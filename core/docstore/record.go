package docstore

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/trezcool/kidogo/core"
)

// Normalize validates that rec is flat and returns a copy with canonical value types:
// strings, bools, float64s, []string and nil. Times are formatted with TimeFormat.
func Normalize(rec Record) (Record, error) {
	out := make(Record, len(rec))
	for k, v := range rec {
		if strings.TrimSpace(k) == "" {
			return nil, errors.Wrap(ErrInvalidRecord, "empty field name")
		}
		nv, err := normalizeValue(v)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidRecord, "field %q: %v", k, err)
		}
		out[k] = nv
	}
	return out, nil
}

func normalizeValue(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case nil, string, bool, float64:
		return val, nil
	case time.Time:
		return FormatTime(val), nil
	case *time.Time:
		if val == nil {
			return nil, nil
		}
		return FormatTime(*val), nil
	case []string:
		return append([]string{}, val...), nil
	case []interface{}:
		ss := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("lists may only contain strings, got %T", item)
			}
			ss = append(ss, s)
		}
		return ss, nil
	case json.Number:
		return val.Float64()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	case reflect.Float32:
		return rv.Float(), nil
	case reflect.String:
		return rv.String(), nil
	}
	return nil, fmt.Errorf("unsupported value type %T", v)
}

// Matches reports whether rec satisfies every condition of where.
func Matches(rec Record, where map[string]interface{}) bool {
	for field, want := range where {
		want, err := normalizeValue(want)
		if err != nil {
			return false
		}
		got := rec[field]
		if ss, ok := got.([]string); ok {
			if s, ok := want.(string); ok {
				if !core.ContainsString(ss, s) {
					return false
				}
				continue
			}
		}
		if !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

// Compare orders two field values: nil < bool < number < string. Times compare chronologically.
func Compare(a, b interface{}) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch av := a.(type) {
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		}
		return 1
	case float64:
		bv := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case string:
		bv := b.(string)
		ta, errA := time.Parse(time.RFC3339Nano, av)
		tb, errB := time.Parse(time.RFC3339Nano, bv)
		if errA == nil && errB == nil {
			switch {
			case ta.Before(tb):
				return -1
			case ta.After(tb):
				return 1
			}
			return 0
		}
		return strings.Compare(av, bv)
	case []string:
		return strings.Compare(strings.Join(av, ","), strings.Join(b.([]string), ","))
	}
	return 0
}

func rank(v interface{}) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	case string:
		return 3
	case []string:
		return 4
	}
	return 5
}

// Sort orders recs in place; records tie-break on id.
func Sort(recs []Record, ordering []core.DBOrdering) {
	sort.SliceStable(recs, func(i, j int) bool {
		for _, ord := range ordering {
			c := Compare(recs[i][ord.Field], recs[j][ord.Field])
			if c == 0 {
				continue
			}
			if ord.Ascending {
				return c < 0
			}
			return c > 0
		}
		return recs[i].ID() < recs[j].ID()
	})
}

// Encode converts a struct with json tags into a normalized Record.
func Encode(v interface{}) (Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encoding record")
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrap(err, "encoding record")
	}
	return Normalize(rec)
}

// Decode fills the struct pointed to by out from rec, matching fields by json tag.
func Decode(rec Record, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
		),
	})
	if err != nil {
		return errors.Wrap(err, "building record decoder")
	}
	if err := dec.Decode(map[string]interface{}(rec)); err != nil {
		return errors.Wrap(err, "decoding record")
	}
	return nil
}
