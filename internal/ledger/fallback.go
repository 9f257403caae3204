package ledger

import (
	"context"
	stdErrors "errors"
	"fmt"

	xerrors "RiskPilot-Chain/internal/errors"
)

// Fallback tries each fetcher in order and returns the first success.
type Fallback struct {
	fetchers []HoldingsFetcher
}

// NewFallback skips nil fetchers.
func NewFallback(fetchers ...HoldingsFetcher) *Fallback {
	list := make([]HoldingsFetcher, 0, len(fetchers))
	for _, f := range fetchers {
		if f != nil {
			list = append(list, f)
		}
	}
	return &Fallback{fetchers: list}
}

// Len reports how many fetchers are chained.
func (f *Fallback) Len() int { return len(f.fetchers) }

// FetchHoldings implements HoldingsFetcher.
func (f *Fallback) FetchHoldings(ctx context.Context, account string) (Holdings, error) {
	if len(f.fetchers) == 0 {
		return Holdings{}, xerrors.New(xerrors.CodeInitializationFailure, "no holdings source configured")
	}
	var errs error
	for i, fetcher := range f.fetchers {
		holdings, err := fetcher.FetchHoldings(ctx, account)
		if err == nil {
			return holdings, nil
		}
		errs = stdErrors.Join(errs, fmt.Errorf("source %d: %w", i, err))
		if ctx.Err() != nil {
			break
		}
	}
	return Holdings{}, xerrors.Wrap(xerrors.CodeUpstreamFailure, errs, "all holdings sources failed")
}
