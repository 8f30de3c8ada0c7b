package reporting

import (
	"context"
	"time"

	"voiceconnect/internal/calls"
)

// historyFetchLimit bounds one reporting scan; summaries are operational
// aid, not accounting.
const historyFetchLimit = 1000

// HistoryLister is the slice of the store the reporting repo reads from.
type HistoryLister interface {
	ListCallHistory(ctx context.Context, identity string, limit int) ([]calls.Call, error)
}

// StoreRepo adapts the persistence layer's call history to the reporting
// Repository, applying the time-range filter in memory.
type StoreRepo struct {
	Store HistoryLister
}

func (r StoreRepo) ListCalls(ctx context.Context, identity string, from, to time.Time) ([]calls.Call, error) {
	rows, err := r.Store.ListCallHistory(ctx, identity, historyFetchLimit)
	if err != nil {
		return nil, err
	}
	out := make([]calls.Call, 0, len(rows))
	for _, c := range rows {
		if c.CreatedAt.Before(from) || !c.CreatedAt.Before(to) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
