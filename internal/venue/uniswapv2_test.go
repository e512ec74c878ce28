package venue

import (
	"context"
	"math/big"
	"testing"

	"github.com/atomic-235/dex/internal/engine"
	xerrors "github.com/atomic-235/dex/internal/errors"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var (
	v2Router = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	tokenIn  = common.HexToAddress("0x0000000000000000000000000000000000000a01")
	tokenOut = common.HexToAddress("0x0000000000000000000000000000000000000b02")
	trader   = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

// v2FakeCaller 校验询价调用的路径并返回预设的兑换数量。
type v2FakeCaller struct {
	t   *testing.T
	out *big.Int
	err error
}

func (f *v2FakeCaller) CallContract(_ context.Context, msg gethcore.CallMsg, _ *big.Int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	if *msg.To != v2Router {
		f.t.Fatalf("询价目标为 %s, 期望路由合约 %s", msg.To.Hex(), v2Router.Hex())
	}
	values, err := uniswapV2().Methods["getAmountsOut"].Inputs.Unpack(msg.Data[4:])
	if err != nil {
		f.t.Fatalf("解码询价参数失败: %v", err)
	}
	amountIn := abi.ConvertType(values[0], new(big.Int)).(*big.Int)
	path := abi.ConvertType(values[1], new([]common.Address)).(*[]common.Address)
	if len(*path) != 2 || (*path)[0] != tokenIn || (*path)[1] != tokenOut {
		f.t.Fatalf("询价路径不符: %v", *path)
	}
	return uniswapV2().Methods["getAmountsOut"].Outputs.Pack([]*big.Int{amountIn, f.out})
}

func TestUniswapV2Quote(t *testing.T) {
	caller := &v2FakeCaller{t: t, out: big.NewInt(777)}
	adapter := NewUniswapV2("uniswap", caller, v2Router)

	out, err := adapter.Quote(context.Background(), tokenIn, tokenOut, big.NewInt(1000))
	if err != nil {
		t.Fatalf("询价失败: %v", err)
	}
	if out.Int64() != 777 {
		t.Fatalf("报价 = %s, 期望 777", out)
	}
}

func TestUniswapV2QuoteWrapsCallFailure(t *testing.T) {
	caller := &v2FakeCaller{t: t, err: xerrors.New(xerrors.CodeRPCFailure, "execution reverted")}
	adapter := NewUniswapV2("uniswap", caller, v2Router)

	_, err := adapter.Quote(context.Background(), tokenIn, tokenOut, big.NewInt(1000))
	if xerrors.CodeOf(err) != xerrors.CodeRPCFailure {
		t.Fatalf("错误码为 %s, 期望 %s", xerrors.CodeOf(err), xerrors.CodeRPCFailure)
	}
}

func TestUniswapV2BuildSwapCall(t *testing.T) {
	adapter := NewUniswapV2("uniswap", &v2FakeCaller{t: t}, v2Router)

	deadline := big.NewInt(1_900_000_000)
	call, err := adapter.BuildSwapCall(tokenIn, tokenOut, big.NewInt(1000), big.NewInt(990), trader, deadline)
	if err != nil {
		t.Fatalf("编码兑换调用失败: %v", err)
	}
	if call.To != v2Router {
		t.Fatalf("调用目标为 %s, 期望路由合约", call.To.Hex())
	}
	if call.Kind != engine.CallSwap {
		t.Fatalf("调用类型为 %s, 期望 %s", call.Kind, engine.CallSwap)
	}

	values, err := uniswapV2().Methods["swapExactTokensForTokens"].Inputs.Unpack(call.Data[4:])
	if err != nil {
		t.Fatalf("解码兑换参数失败: %v", err)
	}
	if got := abi.ConvertType(values[0], new(big.Int)).(*big.Int); got.Int64() != 1000 {
		t.Fatalf("amountIn = %s, 期望 1000", got)
	}
	if got := abi.ConvertType(values[1], new(big.Int)).(*big.Int); got.Int64() != 990 {
		t.Fatalf("amountOutMin = %s, 期望 990", got)
	}
	path := abi.ConvertType(values[2], new([]common.Address)).(*[]common.Address)
	if len(*path) != 2 || (*path)[0] != tokenIn || (*path)[1] != tokenOut {
		t.Fatalf("兑换路径不符: %v", *path)
	}
	if got := values[3].(common.Address); got != trader {
		t.Fatalf("收款人 = %s, 期望 %s", got.Hex(), trader.Hex())
	}
	if got := abi.ConvertType(values[4], new(big.Int)).(*big.Int); got.Cmp(deadline) != 0 {
		t.Fatalf("截止时间 = %s, 期望 %s", got, deadline)
	}
}
