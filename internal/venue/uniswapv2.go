package venue

import (
	"context"
	"math/big"
	"strings"
	"sync"

	"github.com/atomic-235/dex/internal/engine"
	xerrors "github.com/atomic-235/dex/internal/errors"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const uniswapV2ABIJSON = `[
	{"name":"getAmountsOut","type":"function","stateMutability":"view","inputs":[{"name":"amountIn","type":"uint256"},{"name":"path","type":"address[]"}],"outputs":[{"name":"amounts","type":"uint256[]"}]},
	{"name":"swapExactTokensForTokens","type":"function","stateMutability":"nonpayable","inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[{"name":"amounts","type":"uint256[]"}]}
]`

var (
	uniswapV2ABIOnce sync.Once
	uniswapV2ABI     abi.ABI
)

func uniswapV2() abi.ABI {
	uniswapV2ABIOnce.Do(func() {
		parsed, err := abi.JSON(strings.NewReader(uniswapV2ABIJSON))
		if err != nil {
			panic("uniswap v2 abi: " + err.Error())
		}
		uniswapV2ABI = parsed
	})
	return uniswapV2ABI
}

// UniswapV2 适配 Uniswap V2 及其同 ABI 分叉（SushiSwap、PancakeSwap 等）。
// 询价与兑换都只走 tokenIn -> tokenOut 的直接路径，不做多跳寻路。
type UniswapV2 struct {
	name   string
	caller engine.ContractCaller
	router common.Address
}

// NewUniswapV2 构造适配器。name 用于区分同 ABI 的不同部署。
func NewUniswapV2(name string, caller engine.ContractCaller, router common.Address) *UniswapV2 {
	return &UniswapV2{
		name:   name,
		caller: caller,
		router: router,
	}
}

// Name 返回场所标识。
func (u *UniswapV2) Name() string { return u.name }

// Router 返回路由合约地址。
func (u *UniswapV2) Router() common.Address { return u.router }

// Quote 调用 getAmountsOut 询价。路径上没有交易对时合约会回滚，统一
// 报告为无流动性。
func (u *UniswapV2) Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	path := []common.Address{tokenIn, tokenOut}
	data, err := uniswapV2().Pack("getAmountsOut", amountIn, path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "编码 getAmountsOut 失败")
	}
	out, err := u.caller.CallContract(ctx, gethcore.CallMsg{To: &u.router, Data: data}, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeRPCFailure, err, "询价失败",
			xerrors.WithMetadata("venue", u.name))
	}
	values, err := uniswapV2().Unpack("getAmountsOut", out)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "解码 getAmountsOut 返回值失败")
	}
	amounts := abi.ConvertType(values[0], new([]*big.Int)).(*[]*big.Int)
	if len(*amounts) < 2 {
		return nil, xerrors.New(xerrors.CodeUnknown, "getAmountsOut 返回值长度异常",
			xerrors.WithMetadata("venue", u.name))
	}
	return (*amounts)[len(*amounts)-1], nil
}

// BuildSwapCall 编码 swapExactTokensForTokens 调用。
func (u *UniswapV2) BuildSwapCall(tokenIn, tokenOut common.Address, amountIn, minAmountOut *big.Int, recipient common.Address, deadline *big.Int) (engine.Call, error) {
	path := []common.Address{tokenIn, tokenOut}
	data, err := uniswapV2().Pack("swapExactTokensForTokens", amountIn, minAmountOut, path, recipient, deadline)
	if err != nil {
		return engine.Call{}, xerrors.Wrap(xerrors.CodeUnknown, err, "编码 swapExactTokensForTokens 失败")
	}
	return engine.Call{
		To:   u.router,
		Data: data,
		Kind: engine.CallSwap,
	}, nil
}

var _ Adapter = (*UniswapV2)(nil)
