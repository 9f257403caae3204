// Package ledger houses Hedera account access: account id parsing, the
// holdings model shared by the scanner and the monitor agents, and fetcher
// implementations backed by the mirror node REST API (ledger/mirror) or the
// JSON-RPC relay (ledger/evm). ledger/network loads named network
// definitions from YAML and builds a fallback fetcher per network.
package ledger
