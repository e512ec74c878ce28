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

const aerodromeABIJSON = `[
	{"name":"getAmountsOut","type":"function","stateMutability":"view","inputs":[{"name":"amountIn","type":"uint256"},{"name":"routes","type":"tuple[]","components":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"stable","type":"bool"},{"name":"factory","type":"address"}]}],"outputs":[{"name":"amounts","type":"uint256[]"}]},
	{"name":"swapExactTokensForTokens","type":"function","stateMutability":"nonpayable","inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"routes","type":"tuple[]","components":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"stable","type":"bool"},{"name":"factory","type":"address"}]},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[{"name":"amounts","type":"uint256[]"}]}
]`

var (
	aerodromeABIOnce sync.Once
	aerodromeABI     abi.ABI
)

func aerodrome() abi.ABI {
	aerodromeABIOnce.Do(func() {
		parsed, err := abi.JSON(strings.NewReader(aerodromeABIJSON))
		if err != nil {
			panic("aerodrome abi: " + err.Error())
		}
		aerodromeABI = parsed
	})
	return aerodromeABI
}

// aerodromeRoute 对应路由合约的 Route 结构体。字段顺序与 ABI 保持一致。
type aerodromeRoute struct {
	From    common.Address
	To      common.Address
	Stable  bool
	Factory common.Address
}

// Aerodrome 适配 Aerodrome / Velodrome 这类 Solidly 系路由。每个交易
// 对同时存在波动池与稳定池两种形态，询价时两种都试，记住较优的一种，
// 兑换时沿用询价选中的路由。
type Aerodrome struct {
	name    string
	caller  engine.ContractCaller
	router  common.Address
	factory common.Address

	mu     sync.Mutex
	chosen map[string]bool // 方向键 -> stable
}

// directionKey 区分兑换方向：A 换 B 与 B 换 A 走的池形态各自记录，
// 反方向的询价不会覆盖正在执行的兑换选中的形态。
func directionKey(tokenIn, tokenOut common.Address) string {
	return strings.ToLower(tokenIn.Hex()) + "->" + strings.ToLower(tokenOut.Hex())
}

// NewAerodrome 构造适配器。factory 是路由合约要求在 Route 中携带的
// 默认池工厂地址。
func NewAerodrome(name string, caller engine.ContractCaller, router, factory common.Address) *Aerodrome {
	return &Aerodrome{
		name:    name,
		caller:  caller,
		router:  router,
		factory: factory,
		chosen:  make(map[string]bool),
	}
}

// Name 返回场所标识。
func (a *Aerodrome) Name() string { return a.name }

// Router 返回路由合约地址。
func (a *Aerodrome) Router() common.Address { return a.router }

// Quote 分别对波动池与稳定池询价，返回较优者，并记录选中的池形态供
// 随后的兑换使用。两种池都不可用时报告无流动性。
func (a *Aerodrome) Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	volatile, volErr := a.quoteRoute(ctx, tokenIn, tokenOut, amountIn, false)
	stable, stbErr := a.quoteRoute(ctx, tokenIn, tokenOut, amountIn, true)

	best := (*big.Int)(nil)
	bestStable := false
	if volErr == nil && volatile.Sign() > 0 {
		best = volatile
	}
	if stbErr == nil && stable.Sign() > 0 {
		if best == nil || stable.Cmp(best) > 0 {
			best = stable
			bestStable = true
		}
	}
	if best == nil {
		err := volErr
		if err == nil {
			err = stbErr
		}
		return nil, xerrors.Wrap(xerrors.CodeRPCFailure, err, "询价失败",
			xerrors.WithMetadata("venue", a.name))
	}

	a.mu.Lock()
	a.chosen[directionKey(tokenIn, tokenOut)] = bestStable
	a.mu.Unlock()
	return best, nil
}

func (a *Aerodrome) quoteRoute(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int, stable bool) (*big.Int, error) {
	routes := []aerodromeRoute{{From: tokenIn, To: tokenOut, Stable: stable, Factory: a.factory}}
	data, err := aerodrome().Pack("getAmountsOut", amountIn, routes)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "编码 getAmountsOut 失败")
	}
	out, err := a.caller.CallContract(ctx, gethcore.CallMsg{To: &a.router, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	values, err := aerodrome().Unpack("getAmountsOut", out)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "解码 getAmountsOut 返回值失败")
	}
	amounts := abi.ConvertType(values[0], new([]*big.Int)).(*[]*big.Int)
	if len(*amounts) < 2 {
		return nil, xerrors.New(xerrors.CodeUnknown, "getAmountsOut 返回值长度异常",
			xerrors.WithMetadata("venue", a.name))
	}
	return (*amounts)[len(*amounts)-1], nil
}

// BuildSwapCall 编码兑换调用，沿用最近一次询价选中的池形态；该交易对
// 没有询价记录时默认走波动池。
func (a *Aerodrome) BuildSwapCall(tokenIn, tokenOut common.Address, amountIn, minAmountOut *big.Int, recipient common.Address, deadline *big.Int) (engine.Call, error) {
	a.mu.Lock()
	stable := a.chosen[directionKey(tokenIn, tokenOut)]
	a.mu.Unlock()

	routes := []aerodromeRoute{{From: tokenIn, To: tokenOut, Stable: stable, Factory: a.factory}}
	data, err := aerodrome().Pack("swapExactTokensForTokens", amountIn, minAmountOut, routes, recipient, deadline)
	if err != nil {
		return engine.Call{}, xerrors.Wrap(xerrors.CodeUnknown, err, "编码 swapExactTokensForTokens 失败")
	}
	return engine.Call{
		To:   a.router,
		Data: data,
		Kind: engine.CallSwap,
	}, nil
}

var _ Adapter = (*Aerodrome)(nil)
