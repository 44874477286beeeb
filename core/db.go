package core

import "strings"

// DBOrdering orders query results by a single field.
type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}

// ParseOrdering parses a comma separated list of fields, eg. "-created_at,name".
// A leading "-" orders the field in descending order.
func ParseOrdering(s string) []DBOrdering {
	var ordering []DBOrdering
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		field = strings.TrimPrefix(field, "-")
		if field == "" {
			continue
		}
		ordering = append(ordering, DBOrdering{Field: field, Ascending: !descending})
	}
	return ordering
}
