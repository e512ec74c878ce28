package order

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "github.com/atomic-235/dex/internal/errors"
	"github.com/atomic-235/dex/internal/observability/alerting"
	"github.com/atomic-235/dex/internal/router"
	"github.com/atomic-235/dex/pkg/logger"
)

// Executor 定义了处理器所需的兑换执行能力，由路由实现。
type Executor interface {
	Swap(ctx context.Context, req router.SwapRequest) (*router.SwapResult, error)
}

// Processor 负责从队列消费订单并交给路由执行。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	recovery    RecoveryHandler
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。不同代币对的订单可以并行执行，
// 同一代币对由引擎的在途交易锁串行化。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithRecoveryHandler 配置失败补偿策略。
func WithRecoveryHandler(handler RecoveryHandler) ProcessorOption {
	return func(p *Processor) {
		p.recovery = handler
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动订单处理循环。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置订单消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, orderID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	ord, err := p.store.Claim(ctx, orderID)
	if err != nil {
		if stdErrors.Is(err, ErrOrderNotFound) || stdErrors.Is(err, ErrOrderCompleted) || stdErrors.Is(err, ErrOrderExhausted) {
			p.logDebug("跳过订单", slog.String("order_id", orderID), slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("领取订单失败", slog.Any("error", err), slog.String("order_id", orderID))
		p.emitAlert(ctx, &Order{ID: orderID}, CodeOrderProcessing, err, "claim")
		return err
	}

	result, execErr := p.executor.Swap(ctx, router.SwapRequest{
		TokenIn:           ord.TokenIn,
		TokenOut:          ord.TokenOut,
		Amount:            ord.Amount,
		MaxSlippageBps:    ord.MaxSlippageBps,
		ExpectedAmountOut: ord.ExpectedAmountOut,
		Venue:             ord.Venue,
	})
	if execErr != nil {
		return p.handleExecutionFailure(ctx, ord, execErr)
	}

	var record SwapRecord
	if result != nil {
		record = SwapRecord{
			Venue:         result.Venue,
			AmountIn:      result.AmountIn,
			QuotedOut:     result.QuotedOut,
			MinAmountOut:  result.MinAmountOut,
			TxHash:        result.TxHash,
			ApproveTxHash: result.ApproveTxHash,
			GasUsed:       result.GasUsed,
			BlockNumber:   result.BlockNumber,
		}
	}
	if err := p.store.MarkSucceeded(ctx, ord.ID, record); err != nil {
		logger.L().Error("标记订单成功状态失败", slog.Any("error", err), slog.String("order_id", ord.ID))
		if storeErr := p.store.MarkFailed(ctx, ord.ID, CodeOrderProcessing, err.Error(), false); storeErr != nil {
			logger.L().Error("回写失败状态出错", slog.Any("error", storeErr), slog.String("order_id", ord.ID))
			return storeErr
		}
		if pubErr := p.producer.Publish(ctx, ord.ID); pubErr != nil {
			return xerrors.Wrap(CodeOrderPublish, pubErr, fmt.Sprintf("订单 %s 在标记成功失败后重投失败", ord.ID))
		}
		logger.Audit().Warn("订单标记成功失败后重试",
			slog.String("order_id", ord.ID),
			slog.String("pair", ord.TokenIn+"/"+ord.TokenOut),
			slog.String("error", err.Error()),
		)
		return nil
	}
	logger.Audit().Info("订单兑换成功",
		slog.String("order_id", ord.ID),
		slog.String("pair", ord.TokenIn+"/"+ord.TokenOut),
		slog.String("venue", record.Venue),
		slog.String("tx_hash", record.TxHash),
	)
	return nil
}

func (p *Processor) handleExecutionFailure(ctx context.Context, ord *Order, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeOrderProcessing
	}
	retryable := xerrors.RetryableError(execErr)
	terminal := ord.Attempts >= ord.MaxRetries || !retryable

	if !retryable && p.recovery != nil {
		if fallback, recErr := p.recovery.Recover(ctx, ord, execErr); recErr != nil {
			wrapped := xerrors.Wrap(CodeOrderFollowup, recErr, "订单补偿失败")
			logger.L().Error("执行补偿逻辑失败",
				slog.Any("error", wrapped),
				slog.String("order_id", ord.ID))
			p.emitAlert(ctx, ord, CodeOrderFollowup, wrapped, "followup")
		} else if fallback != nil {
			if err := p.store.MarkSucceeded(ctx, ord.ID, *fallback); err != nil {
				logger.L().Error("记录补偿结果失败", slog.Any("error", err), slog.String("order_id", ord.ID))
				if storeErr := p.store.MarkFailed(ctx, ord.ID, code, err.Error(), false); storeErr != nil {
					logger.L().Error("补偿失败后的回写失败状态出错", slog.Any("error", storeErr), slog.String("order_id", ord.ID))
					return storeErr
				}
				if pubErr := p.producer.Publish(ctx, ord.ID); pubErr != nil {
					return xerrors.Wrap(CodeOrderPublish, pubErr, fmt.Sprintf("订单 %s 在补偿失败后重投失败", ord.ID))
				}
				return nil
			}
			logger.Audit().Warn("订单经补偿确认完成",
				slog.String("order_id", ord.ID),
				slog.String("pair", ord.TokenIn+"/"+ord.TokenOut),
				slog.String("tx_hash", fallback.TxHash),
			)
			p.emitAlert(ctx, ord, code, execErr, "recovered")
			return nil
		}
	}

	if storeErr := p.store.MarkFailed(ctx, ord.ID, code, execErr.Error(), terminal); storeErr != nil {
		logger.L().Error("标记订单失败状态出错", slog.Any("error", storeErr), slog.String("order_id", ord.ID))
		return storeErr
	}
	logger.Audit().Warn("订单兑换失败",
		slog.String("order_id", ord.ID),
		slog.String("pair", ord.TokenIn+"/"+ord.TokenOut),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", ord.Attempts),
		slog.Int("max_retries", ord.MaxRetries),
	)

	stage := "retry"
	if terminal {
		stage = "terminal"
	} else if !retryable {
		stage = "non_retryable"
	}
	p.emitAlert(ctx, ord, code, execErr, stage)

	if retryable && !terminal {
		if pubErr := p.producer.Publish(ctx, ord.ID); pubErr != nil {
			return xerrors.Wrap(CodeOrderPublish, pubErr, fmt.Sprintf("订单 %s 重投失败", ord.ID))
		}
		p.logDebug("订单已重新排队", slog.String("order_id", ord.ID), slog.Int("attempts", ord.Attempts))
	}
	return nil
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		args := make([]any, len(attrs))
		for i, attr := range attrs {
			args[i] = attr
		}
		p.logger.Debug(msg, args...)
	}
}

func (p *Processor) emitAlert(ctx context.Context, ord *Order, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || ord == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	if cause != nil {
		message = cause.Error()
	}
	metadata := map[string]string{
		"stage": stage,
	}
	if cause != nil {
		metadata["cause"] = cause.Error()
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		OrderID:    ord.ID,
		Pair:       ord.TokenIn + "/" + ord.TokenOut,
		Attempts:   ord.Attempts,
		MaxRetries: ord.MaxRetries,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("order_id", ord.ID),
			slog.String("stage", stage),
		)
	}
}
