package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	xerrors "github.com/atomic-235/dex/internal/errors"

	"github.com/ethereum/go-ethereum/common"
)

type fakeNonceSource struct {
	mu      sync.Mutex
	pending uint64
	fails   int
	calls   int
}

func (f *fakeNonceSource) PendingNonceAt(_ context.Context, _ common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fails > 0 {
		f.fails--
		return 0, errors.New("rpc unavailable")
	}
	return f.pending, nil
}

func (f *fakeNonceSource) setPending(value uint64) {
	f.mu.Lock()
	f.pending = value
	f.mu.Unlock()
}

func testAddress() common.Address {
	return common.HexToAddress("0x00000000000000000000000000000000000000aa")
}

func TestNonceAllocatorConcurrentAllocationsAreDistinct(t *testing.T) {
	source := &fakeNonceSource{pending: 7}
	allocator := NewNonceAllocator(source, testAddress())

	const workers = 32
	results := make([]uint64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			nonce, err := allocator.Allocate(context.Background())
			if err != nil {
				t.Errorf("分配 nonce 失败: %v", err)
				return
			}
			results[i] = nonce
		}(i)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })
	for i, nonce := range results {
		want := uint64(7 + i)
		if nonce != want {
			t.Fatalf("nonce 序列不连续: 位置 %d 得到 %d, 期望 %d", i, nonce, want)
		}
	}
}

func TestNonceAllocatorTakesMaxOfLocalAndChain(t *testing.T) {
	source := &fakeNonceSource{pending: 3}
	allocator := NewNonceAllocator(source, testAddress())

	first, err := allocator.Allocate(context.Background())
	if err != nil {
		t.Fatalf("分配 nonce 失败: %v", err)
	}
	if first != 3 {
		t.Fatalf("首次分配得到 %d, 期望 3", first)
	}

	// 链上 pending 落后于本地计数时沿用本地值。
	second, err := allocator.Allocate(context.Background())
	if err != nil {
		t.Fatalf("分配 nonce 失败: %v", err)
	}
	if second != 4 {
		t.Fatalf("第二次分配得到 %d, 期望 4", second)
	}

	// 链上 pending 超前时（外部钱包用过该账户）跳到链上值。
	source.setPending(10)
	third, err := allocator.Allocate(context.Background())
	if err != nil {
		t.Fatalf("分配 nonce 失败: %v", err)
	}
	if third != 10 {
		t.Fatalf("第三次分配得到 %d, 期望 10", third)
	}
}

func TestNonceAllocatorRetriesThenFails(t *testing.T) {
	source := &fakeNonceSource{pending: 1, fails: 10}
	allocator := NewNonceAllocator(source, testAddress(),
		WithNonceRetry(3, time.Millisecond))

	_, err := allocator.Allocate(context.Background())
	if err == nil {
		t.Fatal("期望重试耗尽后返回错误")
	}
	if xerrors.CodeOf(err) != CodeNonceFailure {
		t.Fatalf("错误码为 %s, 期望 %s", xerrors.CodeOf(err), CodeNonceFailure)
	}
	if source.calls != 3 {
		t.Fatalf("链上读取了 %d 次, 期望 3 次", source.calls)
	}
}

func TestNonceAllocatorTransientFailureRecovers(t *testing.T) {
	source := &fakeNonceSource{pending: 5, fails: 2}
	allocator := NewNonceAllocator(source, testAddress(),
		WithNonceRetry(5, time.Millisecond))

	nonce, err := allocator.Allocate(context.Background())
	if err != nil {
		t.Fatalf("分配 nonce 失败: %v", err)
	}
	if nonce != 5 {
		t.Fatalf("得到 %d, 期望 5", nonce)
	}
}

func TestNonceAllocatorReconcileResetsStaleAdvance(t *testing.T) {
	source := &fakeNonceSource{pending: 2}
	allocator := NewNonceAllocator(source, testAddress())

	for i := 0; i < 3; i++ {
		if _, err := allocator.Allocate(context.Background()); err != nil {
			t.Fatalf("分配 nonce 失败: %v", err)
		}
	}
	// 本地 next=5，链上 pending 仍为 2：模拟广播前崩溃留下的空洞。
	allocator.lastAlloc = time.Now().Add(-time.Hour)

	reset, err := allocator.Reconcile(context.Background(), time.Minute)
	if err != nil {
		t.Fatalf("对账失败: %v", err)
	}
	if !reset {
		t.Fatal("期望对账触发重置")
	}

	nonce, err := allocator.Allocate(context.Background())
	if err != nil {
		t.Fatalf("分配 nonce 失败: %v", err)
	}
	if nonce != 2 {
		t.Fatalf("重置后分配得到 %d, 期望 2", nonce)
	}
}
