// Package chain defines the boundary between the swap engine and the
// blockchain node. The Connector interface covers exactly the reads and
// writes the engine performs (nonces, headers, contract calls, broadcast,
// receipts); the ethereum subpackage provides the production implementation
// on top of go-ethereum's RPC client with bounded retries.
package chain
