// Package inmemdb stores everything in process memory. It backs the tests and the `memory` database engine.
package inmemdb

import (
	"sync"

	"github.com/trezcool/kidogo/core/docstore"
	"github.com/trezcool/kidogo/core/user"
)

type (
	DB struct {
		user   *userTable
		record *recordTable
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	// recordTable holds {collection: {id: record}}
	recordTable struct {
		sync.RWMutex
		table map[string]map[string]docstore.Record
	}
)

func Open() *DB {
	return &DB{
		user:   &userTable{table: make(map[string]*user.User)},
		record: &recordTable{table: make(map[string]map[string]docstore.Record)},
	}
}

// Reset empties every table.
func (db *DB) Reset() {
	db.user.Lock()
	db.user.table = make(map[string]*user.User)
	db.user.Unlock()

	db.record.Lock()
	db.record.table = make(map[string]map[string]docstore.Record)
	db.record.Unlock()
}
