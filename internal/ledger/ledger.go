package ledger

import (
	"context"
	"encoding/binary"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	xerrors "RiskPilot-Chain/internal/errors"
)

// Holdings is the balance sheet of one account.
type Holdings struct {
	Account string         `json:"account"`
	HBAR    float64        `json:"hbars"`
	Tokens  []TokenBalance `json:"tokens"`
}

// TokenBalance is one fungible token held by an account. Balance is already
// scaled by Decimals.
type TokenBalance struct {
	TokenID  string  `json:"tokenId"`
	Symbol   string  `json:"symbol"`
	Balance  float64 `json:"balance"`
	Decimals int     `json:"decimals"`
}

// Symbols returns the token symbols in holding order, falling back to the
// token id when the symbol is unknown.
func (h Holdings) Symbols() []string {
	out := make([]string, 0, len(h.Tokens))
	for _, t := range h.Tokens {
		if t.Symbol != "" {
			out = append(out, t.Symbol)
		} else {
			out = append(out, t.TokenID)
		}
	}
	return out
}

// HoldingsFetcher loads the holdings of an account.
type HoldingsFetcher interface {
	FetchHoldings(ctx context.Context, account string) (Holdings, error)
}

// FetcherFunc adapts a function to HoldingsFetcher.
type FetcherFunc func(ctx context.Context, account string) (Holdings, error)

// FetchHoldings implements HoldingsFetcher.
func (f FetcherFunc) FetchHoldings(ctx context.Context, account string) (Holdings, error) {
	return f(ctx, account)
}

var accountPattern = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)$`)

// AccountID is a shard.realm.num Hedera entity id.
type AccountID struct {
	Shard uint32
	Realm uint64
	Num   uint64
}

// ParseAccountID parses "0.0.1234".
func ParseAccountID(s string) (AccountID, error) {
	m := accountPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return AccountID{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("invalid account id %q", s))
	}
	shard, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil {
		return AccountID{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid shard")
	}
	realm, err := strconv.ParseUint(m[2], 10, 64)
	if err != nil {
		return AccountID{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid realm")
	}
	num, err := strconv.ParseUint(m[3], 10, 64)
	if err != nil {
		return AccountID{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid account number")
	}
	return AccountID{Shard: uint32(shard), Realm: realm, Num: num}, nil
}

// String formats the id as shard.realm.num.
func (a AccountID) String() string {
	return fmt.Sprintf("%d.%d.%d", a.Shard, a.Realm, a.Num)
}

// EVMAddress returns the long-zero EVM alias of the account: 4 bytes shard,
// 8 bytes realm, 8 bytes num, big endian.
func (a AccountID) EVMAddress() common.Address {
	var addr common.Address
	binary.BigEndian.PutUint32(addr[0:4], a.Shard)
	binary.BigEndian.PutUint64(addr[4:12], a.Realm)
	binary.BigEndian.PutUint64(addr[12:20], a.Num)
	return addr
}
