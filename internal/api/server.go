package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	xerrors "github.com/atomic-235/dex/internal/errors"
	"github.com/atomic-235/dex/internal/observability/metrics"
	"github.com/atomic-235/dex/internal/order"
	"github.com/atomic-235/dex/internal/router"
	"github.com/atomic-235/dex/internal/token"
)

// Server 负责暴露 REST 接口，供外部提交兑换订单与查询状态。
type Server struct {
	addr   string
	rt     *router.Router
	orders *order.Service
	tokens *token.Registry
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, rt *router.Router, orders *order.Service, tokens *token.Registry) *Server {
	return &Server{addr: addr, rt: rt, orders: orders, tokens: tokens}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/swaps", s.instrument("swaps", s.handleSwaps))
	mux.HandleFunc("/api/v1/swaps/", s.instrument("swap", s.handleGetSwap))
	mux.HandleFunc("/api/v1/approvals", s.instrument("approvals", s.handleApprovals))
	mux.HandleFunc("/api/v1/rates", s.instrument("rates", s.handleRates))
	mux.HandleFunc("/api/v1/balances", s.instrument("balances", s.handleBalances))
	mux.HandleFunc("/api/v1/pending", s.instrument("pending", s.handlePending))
	mux.HandleFunc("/api/v1/stats", s.instrument("stats", s.handleStats))

	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// 启动服务器并监听关闭信号。
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) instrument(name string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(started))
	}
}

func (s *Server) handleSwaps(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateSwap(w, r)
	case http.MethodGet:
		s.handleListSwaps(w, r)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

// handleCreateSwap 处理创建兑换订单的请求。
func (s *Server) handleCreateSwap(w http.ResponseWriter, r *http.Request) {
	if s.orders == nil {
		http.Error(w, "订单服务未初始化", http.StatusServiceUnavailable)
		return
	}

	var req order.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	ord, err := s.orders.Submit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(ord)
}

func (s *Server) handleListSwaps(w http.ResponseWriter, r *http.Request) {
	if s.orders == nil {
		http.Error(w, "订单服务未初始化", http.StatusServiceUnavailable)
		return
	}

	opts := parseListOptions(r)
	orders, err := s.orders.List(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(orders)
}

// handleGetSwap 按 ID 查询单个订单。
func (s *Server) handleGetSwap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.orders == nil {
		http.Error(w, "订单服务未初始化", http.StatusServiceUnavailable)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/swaps/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "非法的订单 ID", http.StatusBadRequest)
		return
	}

	ord, err := s.orders.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ord)
}

// handleApprovals 为指定的 spender 设置代币授权额度，阻塞到授权交易
// 确认。
func (s *Server) handleApprovals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.rt == nil {
		http.Error(w, "路由未初始化", http.StatusServiceUnavailable)
		return
	}

	var req router.ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	result, err := s.rt.Approve(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

type rateResponse struct {
	TokenIn  string       `json:"token_in"`
	TokenOut string       `json:"token_out"`
	Amount   string       `json:"amount"`
	Best     string       `json:"best"`
	Quotes   []quoteEntry `json:"quotes"`
}

type quoteEntry struct {
	Venue     string `json:"venue"`
	AmountOut string `json:"amount_out"`
}

// handleRates 对全部场所询价并返回比价结果。
func (s *Server) handleRates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.rt == nil || s.tokens == nil {
		http.Error(w, "路由未初始化", http.StatusServiceUnavailable)
		return
	}

	query := r.URL.Query()
	tokenIn, err := s.tokens.Resolve(query.Get("token_in"))
	if err != nil {
		writeError(w, err)
		return
	}
	tokenOut, err := s.tokens.Resolve(query.Get("token_out"))
	if err != nil {
		writeError(w, err)
		return
	}
	amountIn, err := token.ToBaseUnits(query.Get("amount"), tokenIn.Decimals)
	if err != nil {
		writeError(w, err)
		return
	}

	best, quotes, err := s.rt.BestRate(r.Context(), tokenIn.Address, tokenOut.Address, amountIn)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := rateResponse{
		TokenIn:  tokenIn.Symbol,
		TokenOut: tokenOut.Symbol,
		Amount:   query.Get("amount"),
		Best:     best.Venue,
	}
	for _, quote := range quotes {
		resp.Quotes = append(resp.Quotes, quoteEntry{
			Venue:     quote.Venue,
			AmountOut: token.FromBaseUnits(quote.AmountOut, tokenOut.Decimals),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handleBalances 返回账户的代币余额。不带 token 参数时返回注册表中
// 全部代币的余额。
func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.rt == nil || s.tokens == nil {
		http.Error(w, "路由未初始化", http.StatusServiceUnavailable)
		return
	}

	symbols := s.tokens.Symbols()
	if requested := r.URL.Query().Get("token"); requested != "" {
		symbols = []string{requested}
	}

	balances := make(map[string]string, len(symbols))
	for _, symbol := range symbols {
		balance, err := s.rt.TokenBalance(r.Context(), symbol)
		if err != nil {
			writeError(w, err)
			return
		}
		balances[symbol] = balance
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(balances)
}

// handlePending 返回当前被占用代币对的在途交易快照。
func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.rt == nil {
		http.Error(w, "路由未初始化", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.rt.Pending())
}

// handleStats 返回订单统计信息。
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.orders == nil {
		http.Error(w, "订单服务未初始化", http.StatusServiceUnavailable)
		return
	}

	stats, err := s.orders.Stats(r.Context(), parseListOptions(r)...)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}

func parseListOptions(r *http.Request) []order.ListOption {
	query := r.URL.Query()
	var opts []order.ListOption

	if raw := query.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts = append(opts, order.WithLimit(parsed))
		}
	}
	if raw := query.Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts = append(opts, order.WithOffset(parsed))
		}
	}
	if raw := query.Get("status"); raw != "" {
		statuses := make([]order.Status, 0, 4)
		for _, value := range strings.Split(raw, ",") {
			statuses = append(statuses, order.Status(strings.TrimSpace(value)))
		}
		opts = append(opts, order.WithStatuses(statuses...))
	}
	if raw := query.Get("q"); raw != "" {
		opts = append(opts, order.WithQuery(raw))
	}
	if query.Get("order") == "asc" {
		opts = append(opts, order.WithSortOrder(order.SortByUpdatedAsc))
	}
	return opts
}

// writeError 按错误码映射 HTTP 状态码。
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidArgument, order.CodeOrderValidation:
		status = http.StatusBadRequest
	case xerrors.CodeNotFound, order.CodeOrderNotFound:
		status = http.StatusNotFound
	case xerrors.CodeConflict, order.CodeOrderConflict:
		status = http.StatusConflict
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
		"code":  string(xerrors.CodeOf(err)),
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
