package engine

import (
	"context"
	"math/big"
	"strings"
	"sync"

	xerrors "github.com/atomic-235/dex/internal/errors"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ContractCaller 是只读合约调用的最小链访问能力。
type ContractCaller interface {
	CallContract(ctx context.Context, msg gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
}

const erc20ABIJSON = `[
	{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

var (
	erc20ABIOnce sync.Once
	erc20ABI     abi.ABI
)

func erc20() abi.ABI {
	erc20ABIOnce.Do(func() {
		parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
		if err != nil {
			panic("erc20 abi: " + err.Error())
		}
		erc20ABI = parsed
	})
	return erc20ABI
}

// ERC20Allowance 读取 owner 授权给 spender 的额度。
func ERC20Allowance(ctx context.Context, caller ContractCaller, token, owner, spender common.Address) (*big.Int, error) {
	data, err := erc20().Pack("allowance", owner, spender)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "编码 allowance 调用失败")
	}
	out, err := caller.CallContract(ctx, gethcore.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeRPCFailure, err, "查询授权额度失败",
			xerrors.WithMetadata("token", token.Hex()))
	}
	values, err := erc20().Unpack("allowance", out)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "解码 allowance 返回值失败")
	}
	return abi.ConvertType(values[0], new(big.Int)).(*big.Int), nil
}

// ERC20BalanceAt 读取账户在指定区块的代币余额，blockNumber 为 nil 时
// 取最新区块。
func ERC20BalanceAt(ctx context.Context, caller ContractCaller, token, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	data, err := erc20().Pack("balanceOf", account)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "编码 balanceOf 调用失败")
	}
	out, err := caller.CallContract(ctx, gethcore.CallMsg{To: &token, Data: data}, blockNumber)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeRPCFailure, err, "查询代币余额失败",
			xerrors.WithMetadata("token", token.Hex()))
	}
	values, err := erc20().Unpack("balanceOf", out)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "解码 balanceOf 返回值失败")
	}
	return abi.ConvertType(values[0], new(big.Int)).(*big.Int), nil
}

// BuildApproveCall 构造一笔精确额度的 approve 调用。
func BuildApproveCall(token, spender common.Address, amount *big.Int) (Call, error) {
	data, err := erc20().Pack("approve", spender, amount)
	if err != nil {
		return Call{}, xerrors.Wrap(xerrors.CodeUnknown, err, "编码 approve 调用失败")
	}
	return Call{
		To:   token,
		Data: data,
		Kind: CallApprove,
	}, nil
}
