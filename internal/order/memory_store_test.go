package order

import (
	"context"
	stdErrors "errors"
	"testing"
)

func newOrder(id string) *Order {
	return &Order{
		ID:         id,
		TokenIn:    "WETH",
		TokenOut:   "USDC",
		Amount:     "1.5",
		Status:     StatusPending,
		MaxRetries: 2,
	}
}

func TestMemoryStoreCreateAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, newOrder("o-1")); err != nil {
		t.Fatalf("创建订单失败: %v", err)
	}
	if err := store.Create(ctx, newOrder("o-1")); !stdErrors.Is(err, ErrOrderConflict) {
		t.Fatalf("重复创建应冲突, 得到 %v", err)
	}

	ord, err := store.Get(ctx, "o-1")
	if err != nil {
		t.Fatalf("查询订单失败: %v", err)
	}
	if ord.Status != StatusPending || ord.CreatedAt == 0 {
		t.Fatalf("订单初始状态不符: %+v", ord)
	}

	if _, err := store.Get(ctx, "missing"); !stdErrors.Is(err, ErrOrderNotFound) {
		t.Fatalf("查询不存在订单应报告未找到, 得到 %v", err)
	}
}

func TestMemoryStoreClaimLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Create(ctx, newOrder("o-1")); err != nil {
		t.Fatalf("创建订单失败: %v", err)
	}

	ord, err := store.Claim(ctx, "o-1")
	if err != nil {
		t.Fatalf("领取订单失败: %v", err)
	}
	if ord.Status != StatusRunning || ord.Attempts != 1 {
		t.Fatalf("领取后状态不符: %+v", ord)
	}

	// 运行中的订单不可重复领取。
	if _, err := store.Claim(ctx, "o-1"); !stdErrors.Is(err, ErrOrderConflict) {
		t.Fatalf("重复领取应冲突, 得到 %v", err)
	}

	// 失败后可再次领取，直到重试耗尽。
	if err := store.MarkFailed(ctx, "o-1", CodeOrderProcessing, "boom", false); err != nil {
		t.Fatalf("标记失败出错: %v", err)
	}
	ord, err = store.Claim(ctx, "o-1")
	if err != nil {
		t.Fatalf("失败后领取出错: %v", err)
	}
	if ord.Attempts != 2 {
		t.Fatalf("第二次领取后 attempts = %d, 期望 2", ord.Attempts)
	}
	if ord.LastError != "" || ord.ErrorCode != "" {
		t.Fatal("领取应清空上一次的错误信息")
	}

	if err := store.MarkFailed(ctx, "o-1", CodeOrderProcessing, "boom again", true); err != nil {
		t.Fatalf("标记失败出错: %v", err)
	}
	if _, err := store.Claim(ctx, "o-1"); !stdErrors.Is(err, ErrOrderExhausted) {
		t.Fatalf("重试耗尽后领取应报告耗尽, 得到 %v", err)
	}
}

func TestMemoryStoreMarkSucceeded(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Create(ctx, newOrder("o-1")); err != nil {
		t.Fatalf("创建订单失败: %v", err)
	}
	if _, err := store.Claim(ctx, "o-1"); err != nil {
		t.Fatalf("领取订单失败: %v", err)
	}

	record := SwapRecord{Venue: "aerodrome", TxHash: "0xabc", GasUsed: 123}
	if err := store.MarkSucceeded(ctx, "o-1", record); err != nil {
		t.Fatalf("标记成功出错: %v", err)
	}

	ord, err := store.Get(ctx, "o-1")
	if err != nil {
		t.Fatalf("查询订单失败: %v", err)
	}
	if ord.Status != StatusSucceeded || ord.Result == nil || ord.Result.TxHash != "0xabc" {
		t.Fatalf("成功订单状态不符: %+v", ord)
	}

	// 完成的订单不可再领取。
	if _, err := store.Claim(ctx, "o-1"); !stdErrors.Is(err, ErrOrderCompleted) {
		t.Fatalf("完成后领取应报告已完成, 得到 %v", err)
	}
}

func TestMemoryStoreListFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	pending := newOrder("o-pending")
	succeeded := newOrder("o-done")
	failed := newOrder("o-failed")
	failed.TokenIn = "cbBTC"
	for _, ord := range []*Order{pending, succeeded, failed} {
		if err := store.Create(ctx, ord); err != nil {
			t.Fatalf("创建订单失败: %v", err)
		}
	}
	if _, err := store.Claim(ctx, "o-done"); err != nil {
		t.Fatalf("领取订单失败: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "o-done", SwapRecord{Venue: "uniswap", TxHash: "0xfeed"}); err != nil {
		t.Fatalf("标记成功出错: %v", err)
	}
	if _, err := store.Claim(ctx, "o-failed"); err != nil {
		t.Fatalf("领取订单失败: %v", err)
	}
	if err := store.MarkFailed(ctx, "o-failed", CodeOrderProcessing, "slippage", true); err != nil {
		t.Fatalf("标记失败出错: %v", err)
	}

	byStatus, err := store.List(ctx, ListOptions{Statuses: []Status{StatusSucceeded}})
	if err != nil {
		t.Fatalf("按状态过滤失败: %v", err)
	}
	if len(byStatus) != 1 || byStatus[0].ID != "o-done" {
		t.Fatalf("状态过滤结果不符: %+v", byStatus)
	}

	byQuery, err := store.List(ctx, ListOptions{Query: "cbbtc"})
	if err != nil {
		t.Fatalf("按关键字过滤失败: %v", err)
	}
	if len(byQuery) != 1 || byQuery[0].ID != "o-failed" {
		t.Fatalf("关键字过滤结果不符: %+v", byQuery)
	}

	byHash, err := store.List(ctx, ListOptions{Query: "0xfeed"})
	if err != nil {
		t.Fatalf("按交易哈希过滤失败: %v", err)
	}
	if len(byHash) != 1 || byHash[0].ID != "o-done" {
		t.Fatalf("交易哈希过滤结果不符: %+v", byHash)
	}

	hasResult := true
	withResult, err := store.List(ctx, ListOptions{HasResult: &hasResult})
	if err != nil {
		t.Fatalf("按结果过滤失败: %v", err)
	}
	if len(withResult) != 1 || withResult[0].ID != "o-done" {
		t.Fatalf("结果过滤不符: %+v", withResult)
	}

	limited, err := store.List(ctx, ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("限制条数失败: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("限制条数结果为 %d, 期望 2", len(limited))
	}

	offset, err := store.List(ctx, ListOptions{Offset: 10})
	if err != nil {
		t.Fatalf("偏移查询失败: %v", err)
	}
	if len(offset) != 0 {
		t.Fatalf("超出范围的偏移应返回空列表, 得到 %d 条", len(offset))
	}
}

func TestMemoryStoreStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"o-1", "o-2", "o-3"} {
		if err := store.Create(ctx, newOrder(id)); err != nil {
			t.Fatalf("创建订单失败: %v", err)
		}
	}
	if _, err := store.Claim(ctx, "o-2"); err != nil {
		t.Fatalf("领取订单失败: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "o-2", SwapRecord{Venue: "uniswap"}); err != nil {
		t.Fatalf("标记成功出错: %v", err)
	}

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("统计失败: %v", err)
	}
	if stats.Total != 3 || stats.Pending != 2 || stats.Succeeded != 1 {
		t.Fatalf("统计结果不符: %+v", stats)
	}
	if stats.NewestUpdatedAt == 0 || stats.OldestUpdatedAt == 0 {
		t.Fatal("统计应携带更新时间范围")
	}
}
