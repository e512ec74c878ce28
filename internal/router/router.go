// Package router 在多个交易场所之间选择最优报价并执行完整的兑换流程。
package router

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/atomic-235/dex/internal/engine"
	xerrors "github.com/atomic-235/dex/internal/errors"
	"github.com/atomic-235/dex/internal/observability/metrics"
	"github.com/atomic-235/dex/internal/token"
	"github.com/atomic-235/dex/internal/venue"
	"github.com/atomic-235/dex/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// SlippagePolicy 决定报价偏离参考值超限时的处理方式。
type SlippagePolicy string

const (
	// SlippageEnforce 超限直接中止兑换。
	SlippageEnforce SlippagePolicy = "enforce"
	// SlippageWarn 超限仅记录告警日志，继续执行。链上的最少到账
	// 保护不受该策略影响，始终生效。
	SlippageWarn SlippagePolicy = "warn"
)

// Options 是路由的行为参数。
type Options struct {
	// DefaultMaxSlippageBps 是未在请求中指定时使用的滑点容忍度，
	// 单位为基点。
	DefaultMaxSlippageBps int
	// Policy 是报价偏离参考值时的处理策略。
	Policy SlippagePolicy
	// SwapDeadline 是兑换交易的链上截止时长。
	SwapDeadline time.Duration
}

func (o *Options) applyDefaults() {
	if o.DefaultMaxSlippageBps <= 0 {
		o.DefaultMaxSlippageBps = 100
	}
	if o.Policy == "" {
		o.Policy = SlippageEnforce
	}
	if o.SwapDeadline <= 0 {
		o.SwapDeadline = 5 * time.Minute
	}
}

// SwapRequest 是一次兑换请求。TokenIn/TokenOut 接受符号或地址。
type SwapRequest struct {
	TokenIn  string `json:"token_in"`
	TokenOut string `json:"token_out"`
	// Amount 是以十进制表示的卖出数量，如 "3.0"。
	Amount string `json:"amount"`
	// MaxSlippageBps 覆盖默认滑点容忍度，零值表示使用默认值。
	MaxSlippageBps int `json:"max_slippage_bps,omitempty"`
	// ExpectedAmountOut 是可选的参考到账数量（十进制）。提供时，
	// 最优报价低于参考值乘以 (1 - 滑点) 将触发滑点策略。
	ExpectedAmountOut string `json:"expected_amount_out,omitempty"`
	// Venue 可选地把兑换固定在某个场所，跳过比价。
	Venue string `json:"venue,omitempty"`
}

// Quote 是单个场所的报价。
type Quote struct {
	Venue     string   `json:"venue"`
	AmountOut *big.Int `json:"amount_out"`
}

// SwapResult 是一次成功兑换的结果。
type SwapResult struct {
	Venue         string `json:"venue"`
	TokenIn       string `json:"token_in"`
	TokenOut      string `json:"token_out"`
	AmountIn      string `json:"amount_in"`
	QuotedOut     string `json:"quoted_out"`
	MinAmountOut  string `json:"min_amount_out"`
	TxHash        string `json:"tx_hash"`
	GasUsed       uint64 `json:"gas_used"`
	BlockNumber   uint64 `json:"block_number"`
	Approved      bool   `json:"approved"`
	ApproveTxHash string `json:"approve_tx_hash,omitempty"`
}

// Router 把询价、比价、滑点保护、余额检查、授权与交易提交串成一次
// 完整的兑换。每个进程只服务一个账户。
type Router struct {
	venues    []venue.Adapter
	tokens    *token.Registry
	caller    engine.ContractCaller
	approvals *engine.ApprovalManager
	submitter *engine.TransactionSubmitter
	pending   *engine.PendingPairTracker
	owner     common.Address
	opts      Options
	log       *slog.Logger
}

// New 构造路由。venues 至少要有一个。
func New(venues []venue.Adapter, tokens *token.Registry, caller engine.ContractCaller, approvals *engine.ApprovalManager, submitter *engine.TransactionSubmitter, pending *engine.PendingPairTracker, owner common.Address, opts Options) (*Router, error) {
	if len(venues) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "至少需要一个交易场所")
	}
	opts.applyDefaults()
	if opts.Policy != SlippageEnforce && opts.Policy != SlippageWarn {
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("未知的滑点策略 %q", opts.Policy))
	}
	return &Router{
		venues:    venues,
		tokens:    tokens,
		caller:    caller,
		approvals: approvals,
		submitter: submitter,
		pending:   pending,
		owner:     owner,
		opts:      opts,
		log:       logger.Named("router"),
	}, nil
}

// Venues 返回全部场所标识。
func (r *Router) Venues() []string {
	names := make([]string, 0, len(r.venues))
	for _, v := range r.venues {
		names = append(names, v.Name())
	}
	return names
}

// Pending 返回当前被占用代币对的快照。
func (r *Router) Pending() []engine.PendingEntry {
	return r.pending.Pending()
}

// BestRate 并发向所有场所询价，返回到账数量最大的报价与全部成功的
// 报价明细。所有场所都失败时报告无流动性。
func (r *Router) BestRate(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (Quote, []Quote, error) {
	type outcome struct {
		quote Quote
		err   error
	}
	results := make([]outcome, len(r.venues))

	var wg sync.WaitGroup
	for i, v := range r.venues {
		wg.Add(1)
		go func(i int, v venue.Adapter) {
			defer wg.Done()
			out, err := v.Quote(ctx, tokenIn, tokenOut, amountIn)
			if err != nil {
				results[i] = outcome{err: err}
				return
			}
			results[i] = outcome{quote: Quote{Venue: v.Name(), AmountOut: out}}
		}(i, v)
	}
	wg.Wait()

	var quotes []Quote
	best := Quote{}
	for i, res := range results {
		if res.err != nil {
			r.log.Warn("场所询价失败",
				slog.String("venue", r.venues[i].Name()),
				slog.Any("error", res.err),
			)
			continue
		}
		if res.quote.AmountOut.Sign() <= 0 {
			continue
		}
		quotes = append(quotes, res.quote)
		if best.AmountOut == nil || res.quote.AmountOut.Cmp(best.AmountOut) > 0 {
			best = res.quote
		}
	}
	if best.AmountOut == nil {
		return Quote{}, nil, xerrors.New(CodeNoLiquidity, "所有场所均无法报价",
			xerrors.WithMetadata("token_in", tokenIn.Hex()),
			xerrors.WithMetadata("token_out", tokenOut.Hex()))
	}
	return best, quotes, nil
}

// Swap 执行一次完整的兑换并阻塞到交易确认。代币对上已有在途交易时
// 等待其到达终态再继续；询价在拿到在途锁之后才进行，等来的永远是
// 当前储备下的新报价。
func (r *Router) Swap(ctx context.Context, req SwapRequest) (*SwapResult, error) {
	tokenIn, err := r.tokens.Resolve(req.TokenIn)
	if err != nil {
		return nil, err
	}
	tokenOut, err := r.tokens.Resolve(req.TokenOut)
	if err != nil {
		return nil, err
	}
	if tokenIn.Address == tokenOut.Address {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "买卖双方不能是同一个代币")
	}
	amountIn, err := token.ToBaseUnits(req.Amount, tokenIn.Decimals)
	if err != nil {
		return nil, err
	}

	slippageBps := req.MaxSlippageBps
	if slippageBps <= 0 {
		slippageBps = r.opts.DefaultMaxSlippageBps
	}
	if slippageBps >= 10_000 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "滑点容忍度必须小于 10000 基点")
	}

	var result *SwapResult
	var venueName string
	err = r.pending.WithPairLock(ctx, tokenIn.Address, tokenOut.Address, func(ctx context.Context, claim *engine.PairClaim) error {
		selected, quoted, err := r.selectVenue(ctx, req, tokenIn, tokenOut, amountIn)
		if err != nil {
			return err
		}
		venueName = selected.Name()
		minOut := applySlippage(quoted, slippageBps)

		if err := r.checkReference(req, tokenOut, quoted, slippageBps, venueName); err != nil {
			return err
		}

		balance, err := engine.ERC20BalanceAt(ctx, r.caller, tokenIn.Address, r.owner, nil)
		if err != nil {
			return err
		}
		if balance.Cmp(amountIn) < 0 {
			return xerrors.New(CodeInsufficientBalance, "代币余额不足",
				xerrors.WithMetadata("token", tokenIn.Symbol),
				xerrors.WithMetadata("balance", balance.String()),
				xerrors.WithMetadata("required", amountIn.String()))
		}

		result = &SwapResult{
			Venue:        venueName,
			TokenIn:      tokenIn.Symbol,
			TokenOut:     tokenOut.Symbol,
			AmountIn:     token.FromBaseUnits(amountIn, tokenIn.Decimals),
			QuotedOut:    token.FromBaseUnits(quoted, tokenOut.Decimals),
			MinAmountOut: token.FromBaseUnits(minOut, tokenOut.Decimals),
		}

		approved, approveResult, err := r.approvals.EnsureAllowance(ctx, tokenIn.Address, selected.Router(), amountIn)
		if err != nil {
			return err
		}
		result.Approved = approved
		if approveResult != nil {
			result.ApproveTxHash = approveResult.TxHash.Hex()
			claim.RecordTx(approveResult.TxHash, string(engine.CallApprove))
		}

		deadline := big.NewInt(time.Now().Add(r.opts.SwapDeadline).Unix())
		call, err := selected.BuildSwapCall(tokenIn.Address, tokenOut.Address, amountIn, minOut, r.owner, deadline)
		if err != nil {
			return err
		}
		swapResult, err := r.submitter.Submit(ctx, call, func(kind engine.CallKind, tx *types.Transaction) {
			claim.RecordTx(tx.Hash(), string(kind))
		})
		if err != nil {
			return err
		}
		result.TxHash = swapResult.TxHash.Hex()
		result.GasUsed = swapResult.GasUsed
		result.BlockNumber = swapResult.BlockNumber
		return nil
	})
	if err != nil {
		if venueName != "" {
			metrics.ObserveSwap(venueName, swapOutcome(err))
		}
		return nil, err
	}
	metrics.ObserveSwap(venueName, "succeeded")

	r.log.Info("兑换完成",
		slog.String("venue", result.Venue),
		slog.String("pair", tokenIn.Symbol+"/"+tokenOut.Symbol),
		slog.String("amount_in", result.AmountIn),
		slog.String("min_out", result.MinAmountOut),
		slog.String("tx_hash", result.TxHash),
	)
	return result, nil
}

// ApproveRequest 是一次独立的授权请求。Spender 接受场所名称或合约
// 地址。
type ApproveRequest struct {
	Token   string `json:"token"`
	Amount  string `json:"amount"`
	Spender string `json:"spender"`
}

// ApproveResult 是一次授权请求的结果。额度已足够时 Approved 为 false
// 且没有交易哈希。
type ApproveResult struct {
	Token       string `json:"token"`
	Spender     string `json:"spender"`
	Amount      string `json:"amount"`
	Approved    bool   `json:"approved"`
	TxHash      string `json:"tx_hash,omitempty"`
	GasUsed     uint64 `json:"gas_used,omitempty"`
	BlockNumber uint64 `json:"block_number,omitempty"`
}

// Approve 确保 spender 对代币的授权额度不低于请求数量，不足时发出
// approve 交易并阻塞到确认。token/spender 组合与兑换共用在途锁。
func (r *Router) Approve(ctx context.Context, req ApproveRequest) (*ApproveResult, error) {
	tok, err := r.tokens.Resolve(req.Token)
	if err != nil {
		return nil, err
	}
	amount, err := token.ToBaseUnits(req.Amount, tok.Decimals)
	if err != nil {
		return nil, err
	}
	spender, err := r.resolveSpender(req.Spender)
	if err != nil {
		return nil, err
	}

	result := &ApproveResult{
		Token:   tok.Symbol,
		Spender: spender.Hex(),
		Amount:  token.FromBaseUnits(amount, tok.Decimals),
	}
	err = r.pending.WithPairLock(ctx, tok.Address, spender, func(ctx context.Context, claim *engine.PairClaim) error {
		approved, approveResult, err := r.approvals.EnsureAllowance(ctx, tok.Address, spender, amount)
		if err != nil {
			return err
		}
		result.Approved = approved
		if approveResult != nil {
			result.TxHash = approveResult.TxHash.Hex()
			result.GasUsed = approveResult.GasUsed
			result.BlockNumber = approveResult.BlockNumber
			claim.RecordTx(approveResult.TxHash, string(engine.CallApprove))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.log.Info("授权完成",
		slog.String("token", result.Token),
		slog.String("spender", result.Spender),
		slog.String("amount", result.Amount),
		slog.Bool("approved", result.Approved),
	)
	return result, nil
}

// resolveSpender 把场所名称或十六进制地址解析为被授权的合约地址。
func (r *Router) resolveSpender(raw string) (common.Address, error) {
	for _, v := range r.venues {
		if v.Name() == raw {
			return v.Router(), nil
		}
	}
	if common.IsHexAddress(raw) {
		return common.HexToAddress(raw), nil
	}
	return common.Address{}, xerrors.New(xerrors.CodeInvalidArgument,
		fmt.Sprintf("无法解析被授权方 %q", raw))
}

// TokenBalance 返回账户在最新区块的代币余额（十进制字符串）。
func (r *Router) TokenBalance(ctx context.Context, symbolOrAddress string) (string, error) {
	tok, err := r.tokens.Resolve(symbolOrAddress)
	if err != nil {
		return "", err
	}
	raw, err := engine.ERC20BalanceAt(ctx, r.caller, tok.Address, r.owner, nil)
	if err != nil {
		return "", err
	}
	return token.FromBaseUnits(raw, tok.Decimals), nil
}

// selectVenue 按请求选择场所：固定场所时只向该场所询价，否则全场比价。
func (r *Router) selectVenue(ctx context.Context, req SwapRequest, tokenIn, tokenOut token.Token, amountIn *big.Int) (venue.Adapter, *big.Int, error) {
	if req.Venue != "" {
		for _, v := range r.venues {
			if v.Name() != req.Venue {
				continue
			}
			out, err := v.Quote(ctx, tokenIn.Address, tokenOut.Address, amountIn)
			if err != nil {
				return nil, nil, err
			}
			if out.Sign() <= 0 {
				return nil, nil, xerrors.New(CodeNoLiquidity, "指定场所无法报价",
					xerrors.WithMetadata("venue", req.Venue))
			}
			return v, out, nil
		}
		return nil, nil, xerrors.New(xerrors.CodeNotFound,
			fmt.Sprintf("未知的交易场所 %s", req.Venue))
	}

	best, _, err := r.BestRate(ctx, tokenIn.Address, tokenOut.Address, amountIn)
	if err != nil {
		return nil, nil, err
	}
	for _, v := range r.venues {
		if v.Name() == best.Venue {
			return v, best.AmountOut, nil
		}
	}
	return nil, nil, xerrors.New(xerrors.CodeUnknown, "最优报价对应的场所不存在")
}

// checkReference 在请求携带参考到账数量时执行滑点策略。
func (r *Router) checkReference(req SwapRequest, tokenOut token.Token, quoted *big.Int, slippageBps int, venueName string) error {
	if req.ExpectedAmountOut == "" {
		return nil
	}
	expected, err := token.ToBaseUnits(req.ExpectedAmountOut, tokenOut.Decimals)
	if err != nil {
		return err
	}
	floor := applySlippage(expected, slippageBps)
	if quoted.Cmp(floor) >= 0 {
		return nil
	}
	if r.opts.Policy == SlippageWarn {
		r.log.Warn("报价低于参考值的滑点下限，按策略继续执行",
			slog.String("venue", venueName),
			slog.String("quoted", quoted.String()),
			slog.String("floor", floor.String()),
		)
		return nil
	}
	return xerrors.New(CodeSlippageExceeded, "报价偏离参考值超出滑点容忍度",
		xerrors.WithMetadata("venue", venueName),
		xerrors.WithMetadata("quoted", quoted.String()),
		xerrors.WithMetadata("floor", floor.String()))
}

// swapOutcome 把执行失败映射为指标里的结局标签。
func swapOutcome(err error) string {
	switch xerrors.CodeOf(err) {
	case engine.CodeTxReverted:
		return "reverted"
	case engine.CodeTxUnconfirmed:
		return "unconfirmed"
	default:
		return "failed"
	}
}

// applySlippage 计算 amount * (10000 - bps) / 10000，向下取整。
func applySlippage(amount *big.Int, bps int) *big.Int {
	out := new(big.Int).Mul(amount, big.NewInt(int64(10_000-bps)))
	return out.Div(out, big.NewInt(10_000))
}
