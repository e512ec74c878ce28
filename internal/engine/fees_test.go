package engine

import (
	"context"
	"math/big"
	"testing"

	xerrors "github.com/atomic-235/dex/internal/errors"

	"github.com/ethereum/go-ethereum/core/types"
)

type fakeHeaderSource struct {
	baseFee *big.Int
	err     error
}

func (f *fakeHeaderSource) HeaderByNumber(_ context.Context, _ *big.Int) (*types.Header, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &types.Header{BaseFee: f.baseFee}, nil
}

func TestFeeStrategyQuote(t *testing.T) {
	cases := []struct {
		name    string
		baseFee int64
		wantMax int64
		wantTip int64
	}{
		{name: "常规基础费", baseFee: 1000, wantMax: 2000, wantTip: 100},
		{name: "低基础费触发小费下限", baseFee: 200, wantMax: 400, wantTip: 50},
		{name: "极低基础费时上限跟随小费", baseFee: 10, wantMax: 50, wantTip: 50},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			strategy := NewFeeStrategy(&fakeHeaderSource{baseFee: big.NewInt(tc.baseFee)}, 50)
			quote, err := strategy.Quote(context.Background())
			if err != nil {
				t.Fatalf("询价失败: %v", err)
			}
			if quote.MaxFeePerGas.Int64() != tc.wantMax {
				t.Fatalf("maxFee = %s, 期望 %d", quote.MaxFeePerGas, tc.wantMax)
			}
			if quote.MaxPriorityFeePerGas.Int64() != tc.wantTip {
				t.Fatalf("tip = %s, 期望 %d", quote.MaxPriorityFeePerGas, tc.wantTip)
			}
			if quote.MaxFeePerGas.Cmp(quote.MaxPriorityFeePerGas) < 0 {
				t.Fatal("maxFee 不得小于 tip")
			}
		})
	}
}

func TestFeeStrategyRejectsLegacyChain(t *testing.T) {
	strategy := NewFeeStrategy(&fakeHeaderSource{baseFee: nil}, 50)
	_, err := strategy.Quote(context.Background())
	if err == nil {
		t.Fatal("期望无基础费的链返回错误")
	}
	if xerrors.CodeOf(err) != CodeFeeFailure {
		t.Fatalf("错误码为 %s, 期望 %s", xerrors.CodeOf(err), CodeFeeFailure)
	}
}
