package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	xerrors "RiskPilot-Chain/internal/errors"
	"RiskPilot-Chain/internal/ledger"
)

// weibarsPerHbar: the JSON-RPC relay reports balances with 18 decimals.
var weibarsPerHbar = new(big.Float).SetFloat64(1e18)

// Config describes a Hedera JSON-RPC relay endpoint.
type Config struct {
	Name   string
	RPCURL string
}

// balanceReader mirrors the subset of methods required for balance lookups.
type balanceReader interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Client resolves HBAR balances through the JSON-RPC relay. Token balances
// are not available on this path.
type Client struct {
	name      string
	rpcClient *gethrpc.Client
	reader    balanceReader
	mu        sync.Mutex
}

// NewClient dials the relay and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("json-rpc relay url is required")
	}
	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial json-rpc relay: %w", err)
	}
	return &Client{name: cfg.Name, rpcClient: rpcClient, reader: ethclient.NewClient(rpcClient)}, nil
}

// NewWithBackend wraps any balance reader, such as a simulated backend.
func NewWithBackend(name string, reader balanceReader) *Client {
	return &Client{name: name, reader: reader}
}

// Name returns the network name the client was built for.
func (c *Client) Name() string { return c.name }

// FetchHoldings implements ledger.HoldingsFetcher.
func (c *Client) FetchHoldings(ctx context.Context, account string) (ledger.Holdings, error) {
	id, err := ledger.ParseAccountID(account)
	if err != nil {
		return ledger.Holdings{}, err
	}

	c.mu.Lock()
	reader := c.reader
	c.mu.Unlock()
	if reader == nil {
		return ledger.Holdings{}, xerrors.New(xerrors.CodeInitializationFailure, "json-rpc client closed")
	}

	weibars, err := reader.BalanceAt(ctx, id.EVMAddress(), nil)
	if err != nil {
		return ledger.Holdings{}, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "query balance via json-rpc relay")
	}
	hbar, _ := new(big.Float).Quo(new(big.Float).SetInt(weibars), weibarsPerHbar).Float64()
	return ledger.Holdings{Account: account, HBAR: hbar}, nil
}

// Close releases the RPC connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
	c.reader = nil
}
