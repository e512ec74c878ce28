package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	xerrors "github.com/atomic-235/dex/internal/errors"

	"github.com/ethereum/go-ethereum/common"
)

var (
	tokenA = common.HexToAddress("0x1111111111111111111111111111111111111111")
	tokenB = common.HexToAddress("0x2222222222222222222222222222222222222222")
	tokenC = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

func TestPairKeyIsOrderInsensitive(t *testing.T) {
	if PairKey(tokenA, tokenB) != PairKey(tokenB, tokenA) {
		t.Fatal("A/B 与 B/A 应归一为同一个键")
	}
	if PairKey(tokenA, tokenB) == PairKey(tokenA, tokenC) {
		t.Fatal("不同代币对不应得到同一个键")
	}
}

func TestWithPairLockWaitsForRelease(t *testing.T) {
	tracker := NewPendingPairTracker()

	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = tracker.WithPairLock(context.Background(), tokenA, tokenB, func(context.Context, *PairClaim) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	// 同一对（即使方向相反）排队等待，而不是失败。
	second := make(chan error, 1)
	var ranAfterRelease atomic.Bool
	go func() {
		second <- tracker.WithPairLock(context.Background(), tokenB, tokenA, func(context.Context, *PairClaim) error {
			ranAfterRelease.Store(true)
			return nil
		})
	}()

	select {
	case err := <-second:
		t.Fatalf("第二个调用者未等待释放: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	// 不相交的对不受影响。
	if err := tracker.WithPairLock(context.Background(), tokenA, tokenC, func(context.Context, *PairClaim) error {
		return nil
	}); err != nil {
		t.Fatalf("不相交代币对被阻塞: %v", err)
	}

	close(release)
	if err := <-second; err != nil {
		t.Fatalf("释放后第二个调用者应当成功: %v", err)
	}
	if !ranAfterRelease.Load() {
		t.Fatal("释放后第二个调用者的回调未执行")
	}
	if len(tracker.Pending()) != 0 {
		t.Fatal("全部回调结束后代币对应当被释放")
	}
}

func TestWithPairLockAbortsWaitOnContextCancel(t *testing.T) {
	tracker := NewPendingPairTracker()

	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = tracker.WithPairLock(context.Background(), tokenA, tokenB, func(context.Context, *PairClaim) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := tracker.WithPairLock(ctx, tokenA, tokenB, func(context.Context, *PairClaim) error {
		t.Fatal("等待被取消后不应进入回调")
		return nil
	})
	if xerrors.CodeOf(err) != xerrors.CodeTimeout {
		t.Fatalf("错误码为 %s, 期望 %s", xerrors.CodeOf(err), xerrors.CodeTimeout)
	}
}

func TestWithPairLockReleasesAfterCallback(t *testing.T) {
	tracker := NewPendingPairTracker()

	var ran atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tracker.WithPairLock(context.Background(), tokenA, tokenB, func(context.Context, *PairClaim) error {
				ran.Add(1)
				return nil
			})
		}()
	}
	wg.Wait()

	if ran.Load() == 0 {
		t.Fatal("没有任何调用获得锁")
	}
	if len(tracker.Pending()) != 0 {
		t.Fatal("回调结束后代币对应当被释放")
	}

	// 失败的回调同样释放锁。
	_ = tracker.WithPairLock(context.Background(), tokenA, tokenB, func(context.Context, *PairClaim) error {
		return xerrors.New(xerrors.CodeUnknown, "boom")
	})
	if err := tracker.WithPairLock(context.Background(), tokenA, tokenB, func(context.Context, *PairClaim) error {
		return nil
	}); err != nil {
		t.Fatalf("失败回调后代币对未释放: %v", err)
	}
}

func TestPairClaimRecordsTxHash(t *testing.T) {
	tracker := NewPendingPairTracker()
	hash := common.HexToHash("0xabcdef")

	_ = tracker.WithPairLock(context.Background(), tokenA, tokenB, func(_ context.Context, claim *PairClaim) error {
		claim.RecordTx(hash, "swap")
		entries := tracker.Pending()
		if len(entries) != 1 {
			t.Fatalf("在途快照长度为 %d, 期望 1", len(entries))
		}
		if entries[0].TxHash != hash.Hex() || entries[0].Stage != "swap" {
			t.Fatalf("快照内容不符: %+v", entries[0])
		}
		return nil
	})
}
