package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	xerrors "github.com/atomic-235/dex/internal/errors"

	"github.com/ethereum/go-ethereum/common"
)

// PairKey 是代币对的规范化键：两个地址统一小写后按字典序排列，用冒号
// 连接。A/B 与 B/A 归一为同一个键。
func PairKey(a, b common.Address) string {
	x := strings.ToLower(a.Hex())
	y := strings.ToLower(b.Hex())
	if x > y {
		x, y = y, x
	}
	return x + ":" + y
}

// PendingEntry 是一个被占用的代币对的在途状态快照。
type PendingEntry struct {
	Pair   string    `json:"pair"`
	TxHash string    `json:"tx_hash,omitempty"`
	Stage  string    `json:"stage"`
	Since  time.Time `json:"since"`
}

// PendingPairTracker 保证同一个代币对上同时至多只有一笔在途交易。
// 同一对上并发发两笔兑换，后一笔会基于前一笔确认前的储备定价，实际
// 成交价必然偏离报价。不同代币对互不阻塞。
type PendingPairTracker struct {
	mu      sync.Mutex
	pending map[string]*pairSlot
}

// pairSlot 是单个被占用代币对的内部状态。released 在占用结束时关闭，
// 唤醒所有等待该对的调用方。
type pairSlot struct {
	entry    PendingEntry
	released chan struct{}
}

// NewPendingPairTracker 构造追踪器。
func NewPendingPairTracker() *PendingPairTracker {
	return &PendingPairTracker{
		pending: make(map[string]*pairSlot),
	}
}

// PairClaim 是对某个代币对的占用凭证，由 WithPairLock 传给回调。
type PairClaim struct {
	tracker *PendingPairTracker
	key     string
}

// RecordTx 记录在途交易的哈希与阶段，供 Pending 查询展示。
func (c *PairClaim) RecordTx(hash common.Hash, stage string) {
	c.tracker.mu.Lock()
	defer c.tracker.mu.Unlock()
	if slot, ok := c.tracker.pending[c.key]; ok {
		slot.entry.TxHash = hash.Hex()
		slot.entry.Stage = stage
	}
}

// WithPairLock 占用代币对并执行 fn，结束后无条件释放。代币对已被占用
// 时排队等待前一笔在途交易到达终态后再进入：占用期间的报价在释放后
// 已经过期，fn 内部必须在拿到占用之后重新询价。等待期间上下文取消或
// 超时则放弃排队。
func (t *PendingPairTracker) WithPairLock(ctx context.Context, a, b common.Address, fn func(ctx context.Context, claim *PairClaim) error) error {
	key := PairKey(a, b)

	var slot *pairSlot
	for {
		t.mu.Lock()
		holder, busy := t.pending[key]
		if !busy {
			slot = &pairSlot{
				entry: PendingEntry{
					Pair:  key,
					Stage: "claimed",
					Since: time.Now(),
				},
				released: make(chan struct{}),
			}
			t.pending[key] = slot
			t.mu.Unlock()
			break
		}
		released := holder.released
		t.mu.Unlock()

		select {
		case <-ctx.Done():
			return xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "等待代币对释放时被取消",
				xerrors.WithMetadata("pair", key))
		case <-released:
		}
	}

	defer func() {
		t.mu.Lock()
		delete(t.pending, key)
		t.mu.Unlock()
		close(slot.released)
	}()

	return fn(ctx, &PairClaim{tracker: t, key: key})
}

// Pending 返回当前所有被占用代币对的快照。
func (t *PendingPairTracker) Pending() []PendingEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]PendingEntry, 0, len(t.pending))
	for _, slot := range t.pending {
		out = append(out, slot.entry)
	}
	return out
}
