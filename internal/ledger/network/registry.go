package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"RiskPilot-Chain/internal/ledger"
	"RiskPilot-Chain/internal/ledger/evm"
	"RiskPilot-Chain/internal/ledger/mirror"
	"RiskPilot-Chain/pkg/logger"
)

// Registry manages one holdings fetcher per named network.
type Registry struct {
	defaultNetwork string
	fetchers       map[string]*ledger.Fallback
	relays         []*evm.Client
}

// NewRegistry builds, for every network, a fallback fetcher that asks the
// mirror node first and the JSON-RPC relay second.
func NewRegistry(ctx context.Context, defs Definitions) (*Registry, error) {
	log := logger.Named("ledger")
	r := &Registry{fetchers: make(map[string]*ledger.Fallback)}

	for name, def := range defs.Networks {
		var timeout time.Duration
		if raw := strings.TrimSpace(def.Timeout); raw != "" {
			parsed, err := time.ParseDuration(raw)
			if err != nil {
				r.Close()
				return nil, fmt.Errorf("network %s has invalid timeout %q: %w", name, raw, err)
			}
			timeout = parsed
		}

		var sources []ledger.HoldingsFetcher
		if url := strings.TrimSpace(def.MirrorURL); url != "" {
			sources = append(sources, mirror.NewClient(mirror.Config{BaseURL: url, Timeout: timeout}))
		}
		if url := strings.TrimSpace(def.JSONRPCURL); url != "" {
			relay, err := evm.NewClient(ctx, evm.Config{Name: name, RPCURL: url})
			if err != nil {
				r.Close()
				return nil, fmt.Errorf("init network %s: %w", name, err)
			}
			r.relays = append(r.relays, relay)
			sources = append(sources, relay)
		}
		if len(sources) == 0 {
			log.Warn("network has no endpoints, skipped", slog.String("network", name))
			continue
		}
		r.fetchers[name] = ledger.NewFallback(sources...)
	}

	if len(r.fetchers) == 0 {
		return nil, errors.New("no ledger network configured")
	}

	r.defaultNetwork = strings.TrimSpace(defs.Default)
	if r.defaultNetwork == "" {
		r.defaultNetwork = r.Networks()[0]
	}
	if _, ok := r.fetchers[r.defaultNetwork]; !ok {
		r.Close()
		return nil, fmt.Errorf("default network %s not configured", r.defaultNetwork)
	}
	return r, nil
}

// Default returns the fetcher of the default network.
func (r *Registry) Default() ledger.HoldingsFetcher {
	return r.fetchers[r.defaultNetwork]
}

// DefaultName returns the name of the default network.
func (r *Registry) DefaultName() string { return r.defaultNetwork }

// Fetcher returns the fetcher of a named network.
func (r *Registry) Fetcher(name string) (ledger.HoldingsFetcher, bool) {
	f, ok := r.fetchers[name]
	return f, ok
}

// Networks returns the sorted list of configured network names.
func (r *Registry) Networks() []string {
	names := make([]string, 0, len(r.fetchers))
	for name := range r.fetchers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases every relay connection.
func (r *Registry) Close() {
	for _, relay := range r.relays {
		relay.Close()
	}
	r.relays = nil
}
