package order

import (
	"context"

	xerrors "github.com/atomic-235/dex/internal/errors"
)

// Store 抽象了订单状态的持久化接口。
type Store interface {
	Create(ctx context.Context, order *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	Claim(ctx context.Context, id string) (*Order, error)
	MarkSucceeded(ctx context.Context, id string, record SwapRecord) error
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error
	List(ctx context.Context, opts ListOptions) ([]*Order, error)
	Stats(ctx context.Context, opts ListOptions) (OrderStats, error)
	Close() error
}
