package order

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "github.com/atomic-235/dex/internal/errors"
	"github.com/atomic-235/dex/pkg/logger"
)

// CreateRequest 描述一次订单创建请求。ID 为空时自动生成；携带 ID 的
// 重复提交是幂等的，返回已存在的订单。
type CreateRequest struct {
	ID                string         `json:"id,omitempty"`
	TokenIn           string         `json:"token_in"`
	TokenOut          string         `json:"token_out"`
	Amount            string         `json:"amount"`
	MaxSlippageBps    int            `json:"max_slippage_bps,omitempty"`
	ExpectedAmountOut string         `json:"expected_amount_out,omitempty"`
	Venue             string         `json:"venue,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// Service 负责订单的创建与查询。
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
}

// NewService 构造订单服务。
func NewService(store Store, producer Producer, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{store: store, producer: producer, maxRetries: maxRetries}
}

// Submit 创建一个新的订单并推送到队列。
func (s *Service) Submit(ctx context.Context, req CreateRequest) (*Order, error) {
	if strings.TrimSpace(req.TokenIn) == "" || strings.TrimSpace(req.TokenOut) == "" {
		return nil, xerrors.New(CodeOrderValidation, "买卖代币不能为空")
	}
	if strings.TrimSpace(req.Amount) == "" {
		return nil, xerrors.New(CodeOrderValidation, "兑换数量不能为空")
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "订单服务未初始化")
	}

	orderID := strings.TrimSpace(req.ID)
	if orderID != "" {
		ord, err := s.store.Get(ctx, orderID)
		if err == nil {
			return ord, nil
		}
		if !stdErrors.Is(err, ErrOrderNotFound) {
			return nil, err
		}
	} else {
		orderID = uuid.NewString()
	}

	ord := &Order{
		ID:                orderID,
		TokenIn:           req.TokenIn,
		TokenOut:          req.TokenOut,
		Amount:            req.Amount,
		MaxSlippageBps:    req.MaxSlippageBps,
		ExpectedAmountOut: req.ExpectedAmountOut,
		Venue:             req.Venue,
		Metadata:          cloneMetadata(req.Metadata),
		Status:            StatusPending,
		Attempts:          0,
		MaxRetries:        s.maxRetries,
	}
	if err := s.store.Create(ctx, ord); err != nil {
		if stdErrors.Is(err, ErrOrderConflict) {
			existing, getErr := s.store.Get(ctx, orderID)
			if getErr == nil {
				return existing, nil
			}
			if !stdErrors.Is(getErr, ErrOrderNotFound) {
				return nil, getErr
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, orderID); err != nil {
		logger.L().Error("订单入队失败", slog.Any("error", err), slog.String("order_id", orderID))
		wrapped := xerrors.Wrap(CodeOrderPublish, err, "发布订单到队列失败")
		_ = s.store.MarkFailed(ctx, orderID, CodeOrderPublish, wrapped.Error(), true)
		return nil, wrapped
	}
	logger.Audit().Info("订单入队成功",
		slog.String("order_id", orderID),
		slog.String("pair", ord.TokenIn+"/"+ord.TokenOut),
		slog.String("amount", ord.Amount),
		slog.Int("max_retries", ord.MaxRetries),
	)
	return ord, nil
}

// Get 返回指定订单的状态。
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "订单存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的订单列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Order, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "订单存储未初始化")
	}
	options := buildListOptions(opts)
	return s.store.List(ctx, options)
}

// Stats 返回符合过滤条件的订单统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (OrderStats, error) {
	if s.store == nil {
		return OrderStats{}, xerrors.New(xerrors.CodeInitializationFailure, "订单存储未初始化")
	}
	options := buildListOptions(opts)
	return s.store.Stats(ctx, options)
}

// Close 释放资源。
func (s *Service) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return err
		}
	}
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}

// WaitUntilCompleted 在指定超时时间内轮询订单状态。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Order, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ord, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if ord.Status == StatusSucceeded || ord.Status == StatusFailed {
			return ord, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
