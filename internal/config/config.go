package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config 描述了 dexd 在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Metrics  MetricsConfig  `json:"metrics"`
	Log      LogConfig      `json:"log"`
	Chain    ChainConfig    `json:"chain"`
	Tokens   TokensConfig   `json:"tokens"`
	Engine   EngineConfig   `json:"engine"`
	Venues   VenuesConfig   `json:"venues"`
	Orders   OrdersConfig   `json:"orders"`
	Alerting AlertingConfig `json:"alerting"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// MetricsConfig 控制 /metrics 端点的独立监听地址，留空则不启动。
type MetricsConfig struct {
	Address string `json:"address"`
}

// LogConfig 控制日志输出与交易审计日志。
type LogConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	Audit       struct {
		Enabled    bool   `json:"enabled"`
		Path       string `json:"path"`
		MaxSizeMB  int    `json:"max_size_mb"`
		MaxBackups int    `json:"max_backups"`
		MaxAgeDays int    `json:"max_age_days"`
	} `json:"audit"`
}

// ChainConfig 指向链端点定义文件，并选择当前激活的链。
type ChainConfig struct {
	ChainConfig           string `json:"chain_config"`
	DefaultChain          string `json:"default_chain"`
	RPCURL                string `json:"rpc_url"`
	ReceiptPollIntervalMS int    `json:"receipt_poll_interval_ms"`
}

// TokensConfig 指向静态代币注册表文件。
type TokensConfig struct {
	Registry string `json:"registry"`
}

// EngineConfig 包含交易编排引擎的参数。私钥只允许通过环境变量注入。
type EngineConfig struct {
	PrivateKeyEnv         string `json:"private_key_env"`
	MinPriorityFeeWei     int64  `json:"min_priority_fee_wei"`
	ApproveGasLimit       uint64 `json:"approve_gas_limit"`
	SwapGasLimit          uint64 `json:"swap_gas_limit"`
	ApproveTimeoutSeconds int    `json:"approve_timeout_seconds"`
	SwapTimeoutSeconds    int    `json:"swap_timeout_seconds"`
	NonceMaxAttempts      int    `json:"nonce_max_attempts"`
	NonceBackoffMS        int    `json:"nonce_backoff_ms"`
	DefaultMaxSlippageBps int    `json:"default_max_slippage_bps"`
	SlippagePolicy        string `json:"slippage_policy"`
	SwapDeadlineSeconds   int64  `json:"swap_deadline_seconds"`
}

// VenueConfig 描述单个 DEX 的路由器地址等参数。
type VenueConfig struct {
	Router  string `json:"router"`
	Factory string `json:"factory"`
}

// VenuesConfig 按名称列出启用的 DEX。
type VenuesConfig struct {
	Uniswap   *VenueConfig `json:"uniswap"`
	Aerodrome *VenueConfig `json:"aerodrome"`
}

// OrdersConfig 描述兑换订单流水线的存储与队列。
type OrdersConfig struct {
	Store OrderStoreConfig `json:"store"`
	Queue OrderQueueConfig `json:"queue"`
}

// OrderStoreConfig 目前提供内存实现，生产环境可以切换到 MySQL。
type OrderStoreConfig struct {
	Driver  string `json:"driver"`
	DSN     string `json:"dsn"`
	Retries int    `json:"retries"`
}

// OrderQueueConfig 选择订单队列驱动及其连接参数。
type OrderQueueConfig struct {
	Driver string `json:"driver"`
	Worker int    `json:"worker"`
	Redis  struct {
		Address   string `json:"address"`
		Password  string `json:"password"`
		DB        int    `json:"db"`
		Queue     string `json:"queue"`
		BlockWait int    `json:"block_wait_seconds"`
	} `json:"redis"`
	RabbitMQ struct {
		URL        string `json:"url"`
		Queue      string `json:"queue"`
		Prefetch   int    `json:"prefetch"`
		Durable    bool   `json:"durable"`
		AutoDelete bool   `json:"auto_delete"`
	} `json:"rabbitmq"`
}

// AlertingConfig 配置订单失败告警的通知渠道，均为可选。留空表示不
// 启用该渠道。
type AlertingConfig struct {
	DingTalk struct {
		WebhookURL string `json:"webhook_url"`
	} `json:"dingtalk"`
	Slack struct {
		WebhookURL string `json:"webhook_url"`
		Channel    string `json:"channel"`
	} `json:"slack"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Chain.ChainConfig != "" && !filepath.IsAbs(c.Chain.ChainConfig) {
		c.Chain.ChainConfig = filepath.Join(baseDir, c.Chain.ChainConfig)
	}
	if c.Tokens.Registry == "" {
		c.Tokens.Registry = filepath.Join(baseDir, "tokens.yaml")
	} else if !filepath.IsAbs(c.Tokens.Registry) {
		c.Tokens.Registry = filepath.Join(baseDir, c.Tokens.Registry)
	}

	if c.Engine.PrivateKeyEnv == "" {
		c.Engine.PrivateKeyEnv = "DEX_PRIVATE_KEY"
	}
	if c.Engine.MinPriorityFeeWei <= 0 {
		c.Engine.MinPriorityFeeWei = 50
	}
	if c.Engine.ApproveGasLimit == 0 {
		c.Engine.ApproveGasLimit = 80_000
	}
	if c.Engine.SwapGasLimit == 0 {
		c.Engine.SwapGasLimit = 350_000
	}
	if c.Engine.ApproveTimeoutSeconds <= 0 {
		c.Engine.ApproveTimeoutSeconds = 30
	}
	if c.Engine.SwapTimeoutSeconds <= 0 {
		c.Engine.SwapTimeoutSeconds = 60
	}
	if c.Engine.NonceMaxAttempts <= 0 {
		c.Engine.NonceMaxAttempts = 5
	}
	if c.Engine.NonceBackoffMS <= 0 {
		c.Engine.NonceBackoffMS = 100
	}
	if c.Engine.DefaultMaxSlippageBps <= 0 {
		c.Engine.DefaultMaxSlippageBps = 100
	}
	if c.Engine.SlippagePolicy == "" {
		c.Engine.SlippagePolicy = "enforce"
	}
	if c.Engine.SwapDeadlineSeconds <= 0 {
		c.Engine.SwapDeadlineSeconds = 300
	}
	if c.Chain.ReceiptPollIntervalMS <= 0 {
		c.Chain.ReceiptPollIntervalMS = 500
	}

	if c.Alerting.Slack.WebhookURL != "" && c.Alerting.Slack.Channel == "" {
		c.Alerting.Slack.Channel = "#alerts"
	}

	if c.Orders.Store.Driver == "" {
		c.Orders.Store.Driver = "memory"
	}
	if c.Orders.Store.Retries <= 0 {
		c.Orders.Store.Retries = 3
	}
	if c.Orders.Queue.Driver == "" {
		c.Orders.Queue.Driver = "memory"
	}
	if c.Orders.Queue.Worker <= 0 {
		c.Orders.Queue.Worker = 4
	}
}
