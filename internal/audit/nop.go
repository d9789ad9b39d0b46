package audit

import (
	"context"
	"time"
)

// NopStore discards events and serves a static universe. It stands in when
// Postgres is not configured so the pipeline never branches on persistence.
type NopStore struct {
	StaticUniverse []string
}

// NewNopStore creates the no-op store with a fallback universe.
func NewNopStore(universe []string) *NopStore {
	return &NopStore{StaticUniverse: universe}
}

func (n *NopStore) Insert(context.Context, string, interface{}, string, string) error {
	return nil
}

func (n *NopStore) QueryByType(context.Context, string, time.Time, time.Time) ([]Event, error) {
	return nil, nil
}

func (n *NopStore) Universe(_ context.Context, maxTickers int) ([]string, error) {
	if maxTickers > 0 && len(n.StaticUniverse) > maxTickers {
		return n.StaticUniverse[:maxTickers], nil
	}
	return n.StaticUniverse, nil
}

func (n *NopStore) Ping(context.Context) error { return nil }

func (n *NopStore) Close() error { return nil }

var _ Store = (*NopStore)(nil)
