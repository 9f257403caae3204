package ledger

import (
	"context"
	"fmt"
	"sync"

	xerrors "RiskPilot-Chain/internal/errors"
)

// Static serves holdings from memory. It backs the demo mode and tests.
type Static struct {
	mu       sync.RWMutex
	accounts map[string]Holdings
}

// NewStatic creates an in-memory fetcher seeded with accounts.
func NewStatic(accounts map[string]Holdings) *Static {
	s := &Static{accounts: make(map[string]Holdings, len(accounts))}
	for id, h := range accounts {
		s.Set(id, h)
	}
	return s
}

// Set replaces the holdings of account.
func (s *Static) Set(account string, h Holdings) {
	h.Account = account
	tokens := make([]TokenBalance, len(h.Tokens))
	copy(tokens, h.Tokens)
	h.Tokens = tokens
	s.mu.Lock()
	s.accounts[account] = h
	s.mu.Unlock()
}

// FetchHoldings implements HoldingsFetcher.
func (s *Static) FetchHoldings(ctx context.Context, account string) (Holdings, error) {
	if err := ctx.Err(); err != nil {
		return Holdings{}, err
	}
	s.mu.RLock()
	h, ok := s.accounts[account]
	s.mu.RUnlock()
	if !ok {
		return Holdings{}, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("account %s not found", account))
	}
	tokens := make([]TokenBalance, len(h.Tokens))
	copy(tokens, h.Tokens)
	h.Tokens = tokens
	return h, nil
}
