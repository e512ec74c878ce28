// Package engine implements the transaction-orchestration core shared by all
// venues: conflict-free nonce allocation for a single account, EIP-1559 fee
// construction, transaction assembly/signing/broadcast with receipt
// classification, minimal-allowance ERC-20 approvals, and per-token-pair
// serialization of in-flight swaps. Venue-specific quoting and call encoding
// live in the venue package; venue selection lives in the router package.
package engine
