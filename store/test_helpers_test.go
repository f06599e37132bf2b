package store

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
)

// setupMockContext plants the mock as the ambient transaction so conn()
// resolves to it instead of the (nil) pool.
func setupMockContext(mock pgxmock.PgxPoolIface) context.Context {
	return context.WithValue(context.Background(), txKey, mock)
}

// newMockStore builds a database-backed store without a pool; every query
// must arrive through a mock context.
func newMockStore(t *testing.T) *Store {
	t.Helper()
	cache, err := newLRUCache(cacheSize)
	if err != nil {
		t.Fatal(err)
	}
	return &Store{cache: cache}
}
