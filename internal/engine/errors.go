package engine

import (
	xerrors "github.com/atomic-235/dex/internal/errors"
)

const (
	// CodeTxReverted 表示交易已上链但执行回滚。
	CodeTxReverted xerrors.Code = "TX_REVERTED"
	// CodeTxUnconfirmed 表示在超时时间内未观察到交易回执。
	// nonce 已被消耗，调用方必须用交易哈希轮询而不是重发。
	CodeTxUnconfirmed xerrors.Code = "TX_UNCONFIRMED"
	// CodeNonceFailure 表示无法从链上读取账户 nonce。
	CodeNonceFailure xerrors.Code = "NONCE_FAILURE"
	// CodeFeeFailure 表示无法读取最新区块的基础费。
	CodeFeeFailure xerrors.Code = "FEE_FAILURE"
)

func init() {
	xerrors.Register(CodeTxReverted, xerrors.Attributes{
		Message:   "transaction reverted on chain",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeTxUnconfirmed, xerrors.Attributes{
		Message:   "transaction unconfirmed before timeout",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeNonceFailure, xerrors.Attributes{
		Message:   "nonce allocation failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     false,
	})
	xerrors.Register(CodeFeeFailure, xerrors.Attributes{
		Message:   "fee quote failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     false,
	})
}
