package order

import (
	stdErrors "errors"

	xerrors "github.com/atomic-235/dex/internal/errors"
)

// Status 表示兑换订单在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// SwapRecord 保存一次兑换执行的链上结果。
type SwapRecord struct {
	Venue         string `json:"venue"`
	AmountIn      string `json:"amount_in"`
	QuotedOut     string `json:"quoted_out"`
	MinAmountOut  string `json:"min_amount_out"`
	TxHash        string `json:"tx_hash"`
	ApproveTxHash string `json:"approve_tx_hash,omitempty"`
	GasUsed       uint64 `json:"gas_used"`
	BlockNumber   uint64 `json:"block_number"`
}

// Order 描述了排队执行的兑换订单。
type Order struct {
	ID                string         `json:"id"`
	TokenIn           string         `json:"token_in"`
	TokenOut          string         `json:"token_out"`
	Amount            string         `json:"amount"`
	MaxSlippageBps    int            `json:"max_slippage_bps,omitempty"`
	ExpectedAmountOut string         `json:"expected_amount_out,omitempty"`
	Venue             string         `json:"venue,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	Status            Status         `json:"status"`
	Attempts          int            `json:"attempts"`
	MaxRetries        int            `json:"max_retries"`
	LastError         string         `json:"last_error,omitempty"`
	ErrorCode         string         `json:"error_code,omitempty"`
	Result            *SwapRecord    `json:"result,omitempty"`
	CreatedAt         int64          `json:"created_at"`
	UpdatedAt         int64          `json:"updated_at"`
}

var (
	// ErrOrderNotFound 表示指定的订单不存在。
	ErrOrderNotFound = xerrors.New(CodeOrderNotFound, "order not found")
	// ErrOrderConflict 表示订单在当前状态下无法进行所请求的操作。
	ErrOrderConflict = xerrors.New(CodeOrderConflict, "order conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrOrderCompleted 表示订单已经成功完成。
	ErrOrderCompleted = xerrors.New(CodeOrderCompleted, "order already completed", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrOrderExhausted 表示订单的重试次数已经耗尽。
	ErrOrderExhausted = xerrors.New(CodeOrderExhausted, "order retries exhausted", xerrors.WithSeverity(xerrors.SeverityCritical))
)

const (
	CodeOrderNotFound   xerrors.Code = "ORDER_NOT_FOUND"
	CodeOrderConflict   xerrors.Code = "ORDER_CONFLICT"
	CodeOrderCompleted  xerrors.Code = "ORDER_COMPLETED"
	CodeOrderExhausted  xerrors.Code = "ORDER_RETRIES_EXHAUSTED"
	CodeOrderValidation xerrors.Code = "ORDER_VALIDATION_FAILED"
	CodeOrderPublish    xerrors.Code = "ORDER_PUBLISH_FAILED"
	CodeOrderProcessing xerrors.Code = "ORDER_PROCESSING_FAILED"
	CodeOrderFollowup   xerrors.Code = "ORDER_FOLLOWUP_FAILED"
)

func init() {
	xerrors.Register(CodeOrderNotFound, xerrors.Attributes{
		Message:   "order not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeOrderConflict, xerrors.Attributes{
		Message:   "order conflict",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeOrderCompleted, xerrors.Attributes{
		Message:   "order already completed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeOrderExhausted, xerrors.Attributes{
		Message:   "order retries exhausted",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeOrderValidation, xerrors.Attributes{
		Message:   "order validation failed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeOrderPublish, xerrors.Attributes{
		Message:   "failed to publish order",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeOrderProcessing, xerrors.Attributes{
		Message:   "order execution failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeOrderFollowup, xerrors.Attributes{
		Message:   "order receipt follow-up failed",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
}

// IsOrderError 判断错误是否为统一订单错误。
func IsOrderError(err error, target xerrors.Code) bool {
	if err == nil {
		return false
	}
	if stdErrors.Is(err, ErrOrderNotFound) {
		return target == CodeOrderNotFound
	}
	if stdErrors.Is(err, ErrOrderConflict) {
		return target == CodeOrderConflict
	}
	if stdErrors.Is(err, ErrOrderCompleted) {
		return target == CodeOrderCompleted
	}
	if stdErrors.Is(err, ErrOrderExhausted) {
		return target == CodeOrderExhausted
	}
	return false
}

func cloneMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	cloned := make(map[string]any, len(metadata))
	for key, value := range metadata {
		cloned[key] = value
	}
	return cloned
}

// IsValidStatus 检查给定的订单状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

func recordHasContent(record *SwapRecord) bool {
	if record == nil {
		return false
	}
	return record.Venue != "" || record.TxHash != "" || record.ApproveTxHash != ""
}
