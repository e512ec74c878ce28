package order

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	xerrors "github.com/atomic-235/dex/internal/errors"
	"github.com/go-sql-driver/mysql"
)

// MySQLStore 使用 MySQL 记录订单状态。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建一个新的 MySQLStore。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS swap_orders (
        id VARCHAR(64) PRIMARY KEY,
        token_in VARCHAR(128) NOT NULL,
        token_out VARCHAR(128) NOT NULL,
        amount VARCHAR(80) NOT NULL,
        max_slippage_bps INT NOT NULL DEFAULT 0,
        expected_amount_out VARCHAR(80) DEFAULT '',
        venue VARCHAR(64) DEFAULT '',
        metadata TEXT,
        status VARCHAR(32) NOT NULL,
        attempts INT NOT NULL DEFAULT 0,
        max_retries INT NOT NULL DEFAULT 3,
        last_error TEXT,
        error_code VARCHAR(64) DEFAULT '',
        result_venue VARCHAR(64) DEFAULT '',
        result_amount_in VARCHAR(80) DEFAULT '',
        result_quoted_out VARCHAR(80) DEFAULT '',
        result_min_amount_out VARCHAR(80) DEFAULT '',
        result_tx_hash VARCHAR(66) DEFAULT '',
        result_approve_tx_hash VARCHAR(66) DEFAULT '',
        result_gas_used BIGINT UNSIGNED NOT NULL DEFAULT 0,
        result_block_number BIGINT UNSIGNED NOT NULL DEFAULT 0,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_order_status (status),
        INDEX idx_order_updated (updated_at)
)`

	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 swap_orders 表失败")
	}
	return nil
}

// Create 插入新的订单记录。
func (s *MySQLStore) Create(ctx context.Context, ord *Order) error {
	if ord == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "order 不能为空")
	}
	if strings.TrimSpace(ord.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "订单 ID 不能为空")
	}

	now := time.Now().Unix()
	ord.CreatedAt = now
	ord.UpdatedAt = now

	metadataValue, err := marshalMetadata(ord.Metadata)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码订单 metadata 失败")
	}

	const stmt = `INSERT INTO swap_orders
        (id, token_in, token_out, amount, max_slippage_bps, expected_amount_out, venue, metadata,
         status, attempts, max_retries, last_error, error_code, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', '', ?, ?)`

	_, err = s.db.ExecContext(ctx, stmt,
		ord.ID,
		ord.TokenIn,
		ord.TokenOut,
		ord.Amount,
		ord.MaxSlippageBps,
		ord.ExpectedAmountOut,
		ord.Venue,
		metadataValue,
		ord.Status,
		ord.Attempts,
		ord.MaxRetries,
		ord.CreatedAt,
		ord.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrOrderConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入订单失败")
	}
	return nil
}

const orderColumns = `id, token_in, token_out, amount, max_slippage_bps, expected_amount_out, venue, metadata,
        status, attempts, max_retries, last_error, error_code,
        result_venue, result_amount_in, result_quoted_out, result_min_amount_out,
        result_tx_hash, result_approve_tx_hash, result_gas_used, result_block_number, created_at, updated_at`

func scanOrder(scan func(dest ...any) error) (*Order, error) {
	var ord Order
	var record SwapRecord
	var metadata sql.NullString

	if err := scan(
		&ord.ID,
		&ord.TokenIn,
		&ord.TokenOut,
		&ord.Amount,
		&ord.MaxSlippageBps,
		&ord.ExpectedAmountOut,
		&ord.Venue,
		&metadata,
		&ord.Status,
		&ord.Attempts,
		&ord.MaxRetries,
		&ord.LastError,
		&ord.ErrorCode,
		&record.Venue,
		&record.AmountIn,
		&record.QuotedOut,
		&record.MinAmountOut,
		&record.TxHash,
		&record.ApproveTxHash,
		&record.GasUsed,
		&record.BlockNumber,
		&ord.CreatedAt,
		&ord.UpdatedAt,
	); err != nil {
		return nil, err
	}

	decodedMetadata, err := unmarshalMetadata(metadata)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析订单 metadata 失败")
	}
	ord.Metadata = decodedMetadata
	if recordHasContent(&record) {
		ord.Result = &record
	}
	return &ord, nil
}

// Get 查询指定订单。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Order, error) {
	stmt := `SELECT ` + orderColumns + ` FROM swap_orders WHERE id = ?`

	row := s.db.QueryRowContext(ctx, stmt, id)
	ord, err := scanOrder(row.Scan)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		if xerr, ok := xerrors.From(err); ok {
			return nil, xerr
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询订单失败")
	}
	return ord, nil
}

// Claim 将订单标记为运行中并返回最新状态。
func (s *MySQLStore) Claim(ctx context.Context, id string) (*Order, error) {
	const updateStmt = `UPDATE swap_orders SET status = ?, attempts = attempts + 1, updated_at = ?, last_error = '', error_code = ''
        WHERE id = ? AND status IN (?, ?) AND attempts < max_retries`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, updateStmt,
		StatusRunning,
		now,
		id,
		StatusPending,
		StatusFailed,
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新订单状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		ord, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		switch ord.Status {
		case StatusSucceeded:
			return ord, ErrOrderCompleted
		case StatusRunning:
			return ord, ErrOrderConflict
		default:
			if ord.Attempts >= ord.MaxRetries {
				return ord, ErrOrderExhausted
			}
			return ord, ErrOrderConflict
		}
	}
	return s.Get(ctx, id)
}

// MarkSucceeded 将订单标记为成功。
func (s *MySQLStore) MarkSucceeded(ctx context.Context, id string, record SwapRecord) error {
	const stmt = `UPDATE swap_orders SET status = ?, result_venue = ?, result_amount_in = ?, result_quoted_out = ?,
        result_min_amount_out = ?, result_tx_hash = ?, result_approve_tx_hash = ?, result_gas_used = ?,
        result_block_number = ?, updated_at = ?, last_error = '', error_code = '' WHERE id = ?`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, stmt,
		StatusSucceeded,
		record.Venue,
		record.AmountIn,
		record.QuotedOut,
		record.MinAmountOut,
		record.TxHash,
		record.ApproveTxHash,
		record.GasUsed,
		record.BlockNumber,
		now,
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记订单成功失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// MarkFailed 将订单标记为失败，并在必要时终止重试。
func (s *MySQLStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, _ bool) error {
	const stmt = `UPDATE swap_orders SET status = ?, last_error = ?, error_code = ?, updated_at = ? WHERE id = ?`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, stmt,
		StatusFailed,
		lastError,
		string(code),
		now,
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记订单失败失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// List 返回最近的订单。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Order, error) {
	opts.applyDefaults()

	query := `SELECT ` + orderColumns + ` FROM swap_orders`

	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}

	order := " ORDER BY updated_at DESC, created_at DESC, id DESC"
	if opts.Order == SortByUpdatedAsc {
		order = " ORDER BY updated_at ASC, created_at ASC, id ASC"
	}
	query += order + " LIMIT ? OFFSET ?"

	args := append(filterArgs, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询订单列表失败")
	}
	defer rows.Close()

	orders := make([]*Order, 0, opts.Limit)
	for rows.Next() {
		ord, err := scanOrder(rows.Scan)
		if err != nil {
			if xerr, ok := xerrors.From(err); ok {
				return nil, xerr
			}
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析订单记录失败")
		}
		orders = append(orders, ord)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历订单失败")
	}
	return orders, nil
}

// Stats 返回符合过滤条件的订单聚合信息。
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (OrderStats, error) {
	opts.applyDefaults()

	query := `SELECT
        COUNT(*) AS total,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS pending,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS running,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS succeeded,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS failed,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM swap_orders`

	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}

	args := []any{string(StatusPending), string(StatusRunning), string(StatusSucceeded), string(StatusFailed)}
	args = append(args, filterArgs...)

	row := s.db.QueryRowContext(ctx, query, args...)

	var stats OrderStats
	if err := row.Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Running,
		&stats.Succeeded,
		&stats.Failed,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return OrderStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询订单统计失败")
	}
	if stats.Total == 0 {
		stats.OldestUpdatedAt = 0
		stats.NewestUpdatedAt = 0
	}
	return stats, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func marshalMetadata(metadata map[string]any) (sql.NullString, error) {
	if len(metadata) == 0 {
		return sql.NullString{}, nil
	}
	bytes, err := json.Marshal(metadata)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(bytes), Valid: true}, nil
}

func unmarshalMetadata(raw sql.NullString) (map[string]any, error) {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil, nil
	}
	var metadata map[string]any
	if err := json.Unmarshal([]byte(raw.String), &metadata); err != nil {
		return nil, err
	}
	return metadata, nil
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 4)
	args := make([]any, 0, 6)

	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for range opts.Statuses {
			placeholders = append(placeholders, "?")
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
		for _, status := range opts.Statuses {
			args = append(args, status)
		}
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}
	if opts.HasResult != nil {
		if *opts.HasResult {
			conditions = append(conditions, "(result_venue <> '' OR result_tx_hash <> '' OR result_approve_tx_hash <> '')")
		} else {
			conditions = append(conditions, "(result_venue = '' AND result_tx_hash = '' AND result_approve_tx_hash = '')")
		}
	}
	if opts.Query != "" {
		pattern := "%" + opts.Query + "%"
		conditions = append(conditions, "(id LIKE ? OR token_in LIKE ? OR token_out LIKE ? OR amount LIKE ? OR venue LIKE ? OR metadata LIKE ? OR last_error LIKE ? OR result_venue LIKE ? OR result_tx_hash LIKE ? OR result_approve_tx_hash LIKE ?)")
		args = append(args,
			pattern,
			pattern,
			pattern,
			pattern,
			pattern,
			pattern,
			pattern,
			pattern,
			pattern,
			pattern,
		)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

var _ Store = (*MySQLStore)(nil)
