package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/atomic-235/dex/internal/api"
	"github.com/atomic-235/dex/internal/chain/provider"
	"github.com/atomic-235/dex/internal/config"
	"github.com/atomic-235/dex/internal/engine"
	"github.com/atomic-235/dex/internal/observability/alerting"
	"github.com/atomic-235/dex/internal/observability/metrics"
	"github.com/atomic-235/dex/internal/order"
	"github.com/atomic-235/dex/internal/router"
	"github.com/atomic-235/dex/internal/token"
	"github.com/atomic-235/dex/internal/venue"
	"github.com/atomic-235/dex/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

// main 是 dexd 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("dexd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("DEX_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "dex.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Log.Audit.Enabled,
			Path:       cfg.Log.Audit.Path,
			MaxSizeMB:  cfg.Log.Audit.MaxSizeMB,
			MaxBackups: cfg.Log.Audit.MaxBackups,
			MaxAgeDays: cfg.Log.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	// 私钥只允许通过环境变量注入，不落配置文件。
	privateKey := strings.TrimSpace(os.Getenv(cfg.Engine.PrivateKeyEnv))
	if privateKey == "" {
		return fmt.Errorf("环境变量 %s 未设置签名私钥", cfg.Engine.PrivateKeyEnv)
	}
	account, err := engine.NewAccount(privateKey)
	if err != nil {
		return err
	}

	chainRegistry, err := provider.NewRegistry(ctx, cfg.Chain)
	if err != nil {
		return err
	}
	defer chainRegistry.Close()

	chainClient, err := chainRegistry.DefaultClient()
	if err != nil {
		return err
	}
	chainID, err := chainClient.ChainID(ctx)
	if err != nil {
		return err
	}

	tokens, err := token.LoadRegistry(cfg.Tokens.Registry)
	if err != nil {
		return err
	}

	nonces := engine.NewNonceAllocator(chainClient, account.Address(),
		engine.WithNonceRetry(cfg.Engine.NonceMaxAttempts, time.Duration(cfg.Engine.NonceBackoffMS)*time.Millisecond),
	)
	fees := engine.NewFeeStrategy(chainClient, cfg.Engine.MinPriorityFeeWei)
	submitter := engine.NewTransactionSubmitter(chainClient, nonces, fees, account, chainID,
		engine.WithLimits(engine.Limits{
			ApproveGasLimit: cfg.Engine.ApproveGasLimit,
			SwapGasLimit:    cfg.Engine.SwapGasLimit,
			ApproveTimeout:  time.Duration(cfg.Engine.ApproveTimeoutSeconds) * time.Second,
			SwapTimeout:     time.Duration(cfg.Engine.SwapTimeoutSeconds) * time.Second,
		}),
	)
	approvals := engine.NewApprovalManager(chainClient, submitter, account.Address())
	pending := engine.NewPendingPairTracker()

	venues, err := buildVenues(cfg, chainClient)
	if err != nil {
		return err
	}

	rt, err := router.New(venues, tokens, chainClient, approvals, submitter, pending, account.Address(), router.Options{
		DefaultMaxSlippageBps: cfg.Engine.DefaultMaxSlippageBps,
		Policy:                router.SlippagePolicy(cfg.Engine.SlippagePolicy),
		SwapDeadline:          time.Duration(cfg.Engine.SwapDeadlineSeconds) * time.Second,
	})
	if err != nil {
		return err
	}

	var orderStore order.Store
	switch cfg.Orders.Store.Driver {
	case "", "memory":
		orderStore = order.NewMemoryStore()
	case "mysql":
		store, err := order.NewMySQLStore(cfg.Orders.Store.DSN)
		if err != nil {
			return err
		}
		orderStore = store
	default:
		return fmt.Errorf("未知的订单存储驱动: %s", cfg.Orders.Store.Driver)
	}
	defer func() {
		if orderStore != nil {
			_ = orderStore.Close()
		}
	}()

	var orderQueue order.Queue
	switch cfg.Orders.Queue.Driver {
	case "", "memory":
		orderQueue = order.NewMemoryQueue(1024)
	case "redis":
		queue, err := order.NewRedisQueue(order.RedisQueueConfig{
			Address:   cfg.Orders.Queue.Redis.Address,
			Password:  cfg.Orders.Queue.Redis.Password,
			DB:        cfg.Orders.Queue.Redis.DB,
			Queue:     cfg.Orders.Queue.Redis.Queue,
			BlockWait: time.Duration(cfg.Orders.Queue.Redis.BlockWait) * time.Second,
		})
		if err != nil {
			return err
		}
		orderQueue = queue
	case "rabbitmq":
		queue, err := order.NewRabbitMQQueue(order.RabbitMQConfig{
			URL:        cfg.Orders.Queue.RabbitMQ.URL,
			Queue:      cfg.Orders.Queue.RabbitMQ.Queue,
			Prefetch:   cfg.Orders.Queue.RabbitMQ.Prefetch,
			Durable:    cfg.Orders.Queue.RabbitMQ.Durable,
			AutoDelete: cfg.Orders.Queue.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return err
		}
		orderQueue = queue
	default:
		return fmt.Errorf("未知的队列驱动: %s", cfg.Orders.Queue.Driver)
	}
	defer func() {
		if orderQueue != nil {
			if err := orderQueue.Close(); err != nil {
				log.Printf("关闭订单队列失败: %v", err)
			}
		}
	}()

	orderService := order.NewService(orderStore, orderQueue, cfg.Orders.Store.Retries)
	processorOpts := []order.ProcessorOption{
		order.WithWorkerCount(cfg.Orders.Queue.Worker),
		order.WithProcessorLogger(logger.Named("processor")),
		order.WithRecoveryHandler(order.NewReceiptFollower(chainClient, 0)),
	}
	if dispatcher := buildAlerting(cfg); dispatcher != nil {
		processorOpts = append(processorOpts, order.WithAlertDispatcher(dispatcher))
	}
	processor := order.NewProcessor(rt, orderStore, orderQueue, orderQueue, processorOpts...)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("订单处理器异常退出: %v", err)
		}
	}()

	// 周期性对账，回收广播前崩溃泄漏的 nonce。
	go nonces.ReconcileLoop(processorCtx, time.Minute, 2*time.Minute)

	if cfg.Metrics.Address != "" {
		go func() {
			if err := metrics.StartServer(processorCtx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("指标服务异常退出: %v", err)
			}
		}()
	}

	server := api.NewServer(cfg.Server.Address, rt, orderService, tokens)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildAlerting 按配置组装告警派发器。没有启用任何渠道时返回 nil。
func buildAlerting(cfg *config.Config) alerting.Dispatcher {
	var notifiers []alerting.Notifier
	if url := cfg.Alerting.DingTalk.WebhookURL; url != "" {
		notifiers = append(notifiers, &alerting.DingTalkNotifier{
			Sender: alerting.NewDingTalkWebhook(url),
		})
	}
	if url := cfg.Alerting.Slack.WebhookURL; url != "" {
		notifiers = append(notifiers, &alerting.SlackNotifier{
			Sender:    alerting.NewSlackWebhook(url),
			ChannelID: cfg.Alerting.Slack.Channel,
		})
	}
	if len(notifiers) == 0 {
		return nil
	}
	return alerting.NewFanout(notifiers...)
}

// buildVenues 按配置实例化启用的交易场所。
func buildVenues(cfg *config.Config, caller engine.ContractCaller) ([]venue.Adapter, error) {
	var venues []venue.Adapter
	if v := cfg.Venues.Uniswap; v != nil {
		if !common.IsHexAddress(v.Router) {
			return nil, fmt.Errorf("uniswap 路由地址 %q 非法", v.Router)
		}
		venues = append(venues, venue.NewUniswapV2("uniswap", caller, common.HexToAddress(v.Router)))
	}
	if v := cfg.Venues.Aerodrome; v != nil {
		if !common.IsHexAddress(v.Router) {
			return nil, fmt.Errorf("aerodrome 路由地址 %q 非法", v.Router)
		}
		if !common.IsHexAddress(v.Factory) {
			return nil, fmt.Errorf("aerodrome 工厂地址 %q 非法", v.Factory)
		}
		venues = append(venues, venue.NewAerodrome("aerodrome", caller, common.HexToAddress(v.Router), common.HexToAddress(v.Factory)))
	}
	if len(venues) == 0 {
		return nil, errors.New("未启用任何交易场所")
	}
	return venues, nil
}
