package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	xerrors "github.com/atomic-235/dex/internal/errors"
	"github.com/atomic-235/dex/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

// NonceSource 是 NonceAllocator 需要的最小链访问能力。
type NonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceAllocator 是账户 nonce 的唯一分配入口。任何组件都不得绕过它
// 读取或设置 nonce：重复使用会静默替换已广播的交易，留下空洞则会阻塞
// 该账户的全部后续交易。
//
// 每次分配都在同一个互斥临界区内完成：读取链上 pending nonce，取本地
// 计数与链上值的较大者作为返回值，并将本地计数推进到返回值加一。链上
// 读取失败时按有限次数指数退避重试，重试耗尽则显式失败，绝不无限循环。
type NonceAllocator struct {
	mu          sync.Mutex
	source      NonceSource
	address     common.Address
	next        uint64
	initialized bool
	lastAlloc   time.Time

	maxAttempts int
	backoff     time.Duration
	log         *slog.Logger
}

// NonceOption 定义可选配置。
type NonceOption func(*NonceAllocator)

// WithNonceRetry 配置链上读取的重试次数与初始退避间隔。
func WithNonceRetry(maxAttempts int, backoff time.Duration) NonceOption {
	return func(n *NonceAllocator) {
		if maxAttempts > 0 {
			n.maxAttempts = maxAttempts
		}
		if backoff > 0 {
			n.backoff = backoff
		}
	}
}

// WithNonceLogger 指定日志输出。
func WithNonceLogger(log *slog.Logger) NonceOption {
	return func(n *NonceAllocator) {
		n.log = log
	}
}

// NewNonceAllocator 构造分配器。本地计数在首次分配时从链上初始化。
func NewNonceAllocator(source NonceSource, address common.Address, opts ...NonceOption) *NonceAllocator {
	n := &NonceAllocator{
		source:      source,
		address:     address,
		maxAttempts: 5,
		backoff:     100 * time.Millisecond,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	if n.log == nil {
		n.log = logger.Named("nonce")
	}
	return n
}

// Allocate 返回下一个可用的 nonce。并发调用之间严格互斥，保证任意两个
// 调用者不会拿到同一个值，且返回值单调不减。
func (n *NonceAllocator) Allocate(ctx context.Context) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	pending, err := n.readPending(ctx)
	if err != nil {
		return 0, err
	}

	next := pending
	if n.initialized && n.next > next {
		next = n.next
	}
	n.next = next + 1
	n.initialized = true
	n.lastAlloc = time.Now()

	n.log.Debug("分配 nonce",
		slog.Uint64("nonce", next),
		slog.Uint64("chain_pending", pending),
	)
	return next, nil
}

// Reconcile 检测本地计数相对链上 pending 的悬空超前。乐观占用的 nonce
// 在广播前崩溃会留下空洞；当超前状态在 staleAfter 内没有任何新的分配时,
// 认为先前占用的交易已被放弃，把本地计数重置回链上值。返回是否发生重置。
func (n *NonceAllocator) Reconcile(ctx context.Context, staleAfter time.Duration) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.initialized {
		return false, nil
	}

	pending, err := n.readPending(ctx)
	if err != nil {
		return false, err
	}
	if n.next <= pending {
		// 链上已追平或超过本地计数，无需处理。
		if pending > n.next {
			n.next = pending
		}
		return false, nil
	}
	if time.Since(n.lastAlloc) < staleAfter {
		return false, nil
	}

	n.log.Warn("检测到悬空的本地 nonce，重置为链上状态",
		slog.Uint64("local_next", n.next),
		slog.Uint64("chain_pending", pending),
	)
	n.next = pending
	return true, nil
}

// ReconcileLoop 周期性地执行 Reconcile，直到上下文取消。
func (n *NonceAllocator) ReconcileLoop(ctx context.Context, interval, staleAfter time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := n.Reconcile(ctx, staleAfter); err != nil {
				n.log.Warn("nonce 对账失败", slog.Any("error", err))
			}
		}
	}
}

// readPending 在持有锁的前提下读取链上 pending nonce，有限重试。
func (n *NonceAllocator) readPending(ctx context.Context) (uint64, error) {
	var lastErr error
	backoff := n.backoff
	for attempt := 1; attempt <= n.maxAttempts; attempt++ {
		pending, err := n.source.PendingNonceAt(ctx, n.address)
		if err == nil {
			return pending, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt == n.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return 0, xerrors.Wrap(CodeNonceFailure, ctx.Err(), "读取链上 nonce 被取消")
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return 0, xerrors.Wrap(CodeNonceFailure, lastErr, "读取链上 nonce 失败",
		xerrors.WithMetadata("address", n.address.Hex()))
}
