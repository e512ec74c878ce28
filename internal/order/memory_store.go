package order

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "github.com/atomic-235/dex/internal/errors"
)

// MemoryStore 以内存方式保存订单状态，主要用于测试。
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]*Order
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[string]*Order)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, ord *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ord == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "order 不能为空")
	}
	if ord.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "订单 ID 不能为空")
	}
	if _, ok := m.orders[ord.ID]; ok {
		return ErrOrderConflict
	}
	now := time.Now().Unix()
	if ord.CreatedAt == 0 {
		ord.CreatedAt = now
	}
	ord.UpdatedAt = now
	m.orders[ord.ID] = cloneOrder(ord)
	return nil
}

// Get 返回订单。
func (m *MemoryStore) Get(_ context.Context, id string) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ord, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(ord), nil
}

// Claim 将订单状态更新为运行中。
func (m *MemoryStore) Claim(_ context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ord, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	switch ord.Status {
	case StatusSucceeded:
		return cloneOrder(ord), ErrOrderCompleted
	case StatusRunning:
		return cloneOrder(ord), ErrOrderConflict
	}
	if ord.Attempts >= ord.MaxRetries {
		return cloneOrder(ord), ErrOrderExhausted
	}
	ord.Status = StatusRunning
	ord.Attempts++
	ord.LastError = ""
	ord.ErrorCode = ""
	ord.UpdatedAt = time.Now().Unix()
	return cloneOrder(ord), nil
}

// MarkSucceeded 记录成功结果。
func (m *MemoryStore) MarkSucceeded(_ context.Context, id string, record SwapRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ord, ok := m.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	ord.Status = StatusSucceeded
	ord.Result = &record
	ord.LastError = ""
	ord.ErrorCode = ""
	ord.UpdatedAt = time.Now().Unix()
	return nil
}

// MarkFailed 标记订单失败。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, lastError string, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ord, ok := m.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	ord.Status = StatusFailed
	ord.LastError = lastError
	ord.ErrorCode = string(code)
	ord.UpdatedAt = time.Now().Unix()
	return nil
}

// List 返回符合过滤条件的最近订单。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	results := make([]*Order, 0, len(m.orders))
	for _, ord := range m.orders {
		if !matchesListFilters(ord, opts) {
			continue
		}
		results = append(results, cloneOrder(ord))
	}

	sort.Slice(results, func(i, j int) bool {
		if opts.Order == SortByUpdatedAsc {
			if results[i].UpdatedAt == results[j].UpdatedAt {
				if results[i].CreatedAt == results[j].CreatedAt {
					return results[i].ID < results[j].ID
				}
				return results[i].CreatedAt < results[j].CreatedAt
			}
			return results[i].UpdatedAt < results[j].UpdatedAt
		}
		if results[i].UpdatedAt == results[j].UpdatedAt {
			if results[i].CreatedAt == results[j].CreatedAt {
				return results[i].ID < results[j].ID
			}
			return results[i].CreatedAt > results[j].CreatedAt
		}
		return results[i].UpdatedAt > results[j].UpdatedAt
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(results) {
			return []*Order{}, nil
		}
		results = results[opts.Offset:]
	}
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Stats 统计符合过滤条件的订单数量与更新时间范围。
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (OrderStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	stats := OrderStats{}
	for _, ord := range m.orders {
		if !matchesListFilters(ord, opts) {
			continue
		}
		stats.Total++
		switch ord.Status {
		case StatusPending:
			stats.Pending++
		case StatusRunning:
			stats.Running++
		case StatusSucceeded:
			stats.Succeeded++
		case StatusFailed:
			stats.Failed++
		}
		if ord.UpdatedAt > stats.NewestUpdatedAt {
			stats.NewestUpdatedAt = ord.UpdatedAt
		}
		if stats.OldestUpdatedAt == 0 || (ord.UpdatedAt != 0 && ord.UpdatedAt < stats.OldestUpdatedAt) {
			stats.OldestUpdatedAt = ord.UpdatedAt
		}
	}
	if stats.Total == 0 {
		stats.OldestUpdatedAt = 0
		stats.NewestUpdatedAt = 0
	}
	return stats, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

func cloneOrder(ord *Order) *Order {
	clone := *ord
	if ord.Result != nil {
		recordCopy := *ord.Result
		clone.Result = &recordCopy
	}
	clone.Metadata = cloneMetadata(ord.Metadata)
	return &clone
}

func matchesListFilters(ord *Order, opts ListOptions) bool {
	if len(opts.Statuses) > 0 {
		matched := false
		for _, status := range opts.Statuses {
			if ord.Status == status {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if opts.UpdatedGTE > 0 && ord.UpdatedAt < opts.UpdatedGTE {
		return false
	}
	if opts.UpdatedLTE > 0 && ord.UpdatedAt > opts.UpdatedLTE {
		return false
	}
	if opts.HasResult != nil && recordHasContent(ord.Result) != *opts.HasResult {
		return false
	}
	if opts.Query != "" {
		if !orderMatchesQuery(ord, opts.Query) {
			return false
		}
	}
	return true
}

func orderMatchesQuery(ord *Order, query string) bool {
	fields := []string{
		ord.ID,
		ord.TokenIn,
		ord.TokenOut,
		ord.Amount,
		ord.Venue,
		ord.LastError,
	}
	if ord.Result != nil {
		fields = append(fields, ord.Result.Venue, ord.Result.TxHash, ord.Result.ApproveTxHash)
	}
	for _, field := range fields {
		if field == "" {
			continue
		}
		if strings.Contains(strings.ToLower(field), strings.ToLower(query)) {
			return true
		}
	}
	return false
}

var _ Store = (*MemoryStore)(nil)
