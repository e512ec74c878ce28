package engine

import (
	"context"
	"math/big"
	"testing"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type fakeCaller struct {
	allowance *big.Int
	err       error
}

func (f *fakeCaller) CallContract(_ context.Context, _ gethcore.CallMsg, _ *big.Int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.allowance.FillBytes(make([]byte, 32)), nil
}

func TestEnsureAllowanceSkipsWhenSufficient(t *testing.T) {
	chain := &fakeChain{}
	submitter := newTestSubmitter(t, chain)
	caller := &fakeCaller{allowance: big.NewInt(500)}
	manager := NewApprovalManager(caller, submitter, common.HexToAddress("0xaa"))

	approved, result, err := manager.EnsureAllowance(context.Background(), tokenA, tokenB, big.NewInt(500))
	if err != nil {
		t.Fatalf("检查授权失败: %v", err)
	}
	if approved {
		t.Fatal("额度充足时不应发出 approve")
	}
	if result != nil {
		t.Fatal("未发交易时结果应为 nil")
	}
	if chain.lastSent() != nil {
		t.Fatal("不应有任何交易被广播")
	}
}

func TestEnsureAllowanceApprovesExactAmount(t *testing.T) {
	chain := &fakeChain{receipt: &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		GasUsed:     46000,
		BlockNumber: big.NewInt(7),
	}}
	submitter := newTestSubmitter(t, chain)
	caller := &fakeCaller{allowance: big.NewInt(10)}
	manager := NewApprovalManager(caller, submitter, common.HexToAddress("0xaa"))

	spender := common.HexToAddress("0x5555555555555555555555555555555555555555")
	amount := big.NewInt(1_000_000)
	approved, result, err := manager.EnsureAllowance(context.Background(), tokenA, spender, amount)
	if err != nil {
		t.Fatalf("授权失败: %v", err)
	}
	if !approved {
		t.Fatal("额度不足时应发出 approve")
	}
	if result == nil || result.GasUsed != 46000 {
		t.Fatalf("授权结果不符: %+v", result)
	}

	tx := chain.lastSent()
	if tx == nil {
		t.Fatal("没有交易被广播")
	}
	if *tx.To() != tokenA {
		t.Fatalf("approve 目标为 %s, 期望代币合约 %s", tx.To().Hex(), tokenA.Hex())
	}
	if tx.Gas() != DefaultLimits().ApproveGasLimit {
		t.Fatalf("gas 上限 = %d, 期望 %d", tx.Gas(), DefaultLimits().ApproveGasLimit)
	}

	args, err := erc20().Methods["approve"].Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		t.Fatalf("解码 approve 参数失败: %v", err)
	}
	if got := args[0].(common.Address); got != spender {
		t.Fatalf("spender = %s, 期望 %s", got.Hex(), spender.Hex())
	}
	got := abi.ConvertType(args[1], new(big.Int)).(*big.Int)
	if got.Cmp(amount) != 0 {
		t.Fatalf("授权数量 = %s, 期望精确数量 %s", got, amount)
	}
}
