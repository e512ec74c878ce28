package router

import (
	xerrors "github.com/atomic-235/dex/internal/errors"
)

const (
	// CodeNoLiquidity 表示所有场所都无法对该代币对报价。
	CodeNoLiquidity xerrors.Code = "NO_LIQUIDITY"
	// CodeSlippageExceeded 表示最优报价相对参考价的偏离超出容忍度，
	// 且滑点策略为强制中止。
	CodeSlippageExceeded xerrors.Code = "SLIPPAGE_EXCEEDED"
	// CodeInsufficientBalance 表示账户的代币余额不足以完成兑换。
	CodeInsufficientBalance xerrors.Code = "INSUFFICIENT_BALANCE"
)

func init() {
	xerrors.Register(CodeNoLiquidity, xerrors.Attributes{
		Message:   "no venue can quote this pair",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeSlippageExceeded, xerrors.Attributes{
		Message:   "quote deviates beyond slippage tolerance",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeInsufficientBalance, xerrors.Attributes{
		Message:   "token balance insufficient for swap",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
}
