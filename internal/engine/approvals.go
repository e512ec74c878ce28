package engine

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/atomic-235/dex/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

// ApprovalManager 保证兑换前的 ERC-20 授权额度足够。额度已足够时不发
// 任何交易；不足时按本次所需的精确数量授权，而不是无限额度——被授权的
// 路由合约一旦出问题，敞口只限于单笔交易的数量。
type ApprovalManager struct {
	caller    ContractCaller
	submitter *TransactionSubmitter
	owner     common.Address
	log       *slog.Logger
}

// NewApprovalManager 构造授权管理器。owner 是发起兑换的账户地址。
func NewApprovalManager(caller ContractCaller, submitter *TransactionSubmitter, owner common.Address) *ApprovalManager {
	return &ApprovalManager{
		caller:    caller,
		submitter: submitter,
		owner:     owner,
		log:       logger.Named("approvals"),
	}
}

// EnsureAllowance 确保 spender 对 token 的授权额度不低于 amount。
// 返回本次是否实际发出了授权交易，以及授权交易的结果（未发交易时为
// nil）。授权交易回滚或超时的错误原样向上传递，调用方不得在此之后
// 继续兑换。
func (m *ApprovalManager) EnsureAllowance(ctx context.Context, token, spender common.Address, amount *big.Int) (bool, *Result, error) {
	current, err := ERC20Allowance(ctx, m.caller, token, m.owner, spender)
	if err != nil {
		return false, nil, err
	}
	if current.Cmp(amount) >= 0 {
		m.log.Debug("授权额度充足，跳过 approve",
			slog.String("token", token.Hex()),
			slog.String("allowance", current.String()),
			slog.String("required", amount.String()),
		)
		return false, nil, nil
	}

	call, err := BuildApproveCall(token, spender, amount)
	if err != nil {
		return false, nil, err
	}
	m.log.Info("授权额度不足，发起 approve",
		slog.String("token", token.Hex()),
		slog.String("spender", spender.Hex()),
		slog.String("allowance", current.String()),
		slog.String("required", amount.String()),
	)
	result, err := m.submitter.Submit(ctx, call)
	if err != nil {
		return true, nil, err
	}
	return true, result, nil
}
