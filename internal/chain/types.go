package chain

import (
	"context"
	"math/big"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Connector defines the node access surface the engine consumes. The
// production implementation lives in the ethereum subpackage; tests provide
// in-memory fakes. Implementations must be safe for concurrent use.
type Connector interface {
	// ChainID returns the EIP-155 chain identifier of the connected node.
	ChainID(ctx context.Context) (*big.Int, error)

	// PendingNonceAt returns the account nonce including pending transactions.
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)

	// NonceAt returns the account nonce at the latest mined block.
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)

	// HeaderByNumber returns the header of the given block, or the latest
	// header when blockNumber is nil. The engine reads baseFeePerGas from it.
	HeaderByNumber(ctx context.Context, blockNumber *big.Int) (*types.Header, error)

	// BlockNumber returns the number of the most recent block.
	BlockNumber(ctx context.Context) (uint64, error)

	// CallContract executes a read-only contract call.
	CallContract(ctx context.Context, msg gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)

	// SendTransaction broadcasts a signed transaction.
	SendTransaction(ctx context.Context, tx *types.Transaction) error

	// WaitForReceipt blocks until the transaction has a receipt or the
	// timeout elapses. A timeout is reported as an error; the transaction
	// may still be mined afterwards.
	WaitForReceipt(ctx context.Context, txHash common.Hash, timeout time.Duration) (*types.Receipt, error)
}
