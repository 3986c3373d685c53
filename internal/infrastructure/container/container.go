package container

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"tradeguard/internal/application/port"
	"tradeguard/internal/application/service"
	domain "tradeguard/internal/domain/service"
	"tradeguard/internal/infrastructure/config"
	"tradeguard/internal/infrastructure/exchange/binance"
	"tradeguard/internal/infrastructure/exchange/paper"
	"tradeguard/internal/infrastructure/pricefeed"
	"tradeguard/internal/infrastructure/signal"
	"tradeguard/internal/infrastructure/storage/composite"
	"tradeguard/internal/infrastructure/storage/ledgerfile"
	pgrepo "tradeguard/internal/infrastructure/storage/postgres"
	redisrepo "tradeguard/internal/infrastructure/storage/redis"
	sqliterepo "tradeguard/internal/infrastructure/storage/sqlite"
)

const signalCursorKey = "signals.cursor"

// Container 包含所有应用依赖
type Container struct {
	cfg          *config.Config
	store        *ledgerfile.Store
	redisClient  *redis.Client
	sqliteRepo   *sqliterepo.Repo
	postgresRepo *pgrepo.Repo
	redisRepo    *redisrepo.Repo
	gateway      port.Gateway
	simulation   bool
	book         *pricefeed.Book
	volatility   *domain.VolatilityTracker
	signals      port.SignalSource
	closeOnce    sync.Once
	closerChain  []func() error
}

// New 创建新的容器实例。ctx 只用于启动阶段的 I/O
func New(ctx context.Context, cfg *config.Config) (*Container, error) {
	c := &Container{
		cfg:         cfg,
		closerChain: make([]func() error, 0),
	}

	steps := []func(context.Context) error{
		c.initStore,
		c.initStorage,
		c.initPrices,
		c.initGateway,
		c.initSignals,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			// 清理已初始化的资源
			_ = c.Close()
			return nil, err
		}
	}
	return c, nil
}

// initStore 打开账本文件（带锁、备份与损坏恢复）
func (c *Container) initStore(ctx context.Context) error {
	store, err := ledgerfile.Open(ctx, ledgerfile.Options{
		Path:        c.cfg.State.Path,
		Backups:     c.cfg.State.Backups,
		LockTimeout: time.Duration(c.cfg.State.LockTimeoutSeconds) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("ledger open failed: %w", err)
	}
	c.store = store
	log.Info().Str("path", store.Path()).Int("trades", store.Stats().TotalTrades).Msg("ledger loaded")
	return nil
}

// initStorage 初始化审计存储（Redis、SQLite、Postgres）
func (c *Container) initStorage(ctx context.Context) error {
	if c.cfg.Storage.Redis.Enabled {
		if err := c.initRedis(ctx); err != nil {
			return fmt.Errorf("redis init failed: %w", err)
		}
	}
	if c.cfg.Storage.SQLite.Enabled {
		if err := c.initSQLite(); err != nil {
			return fmt.Errorf("sqlite init failed: %w", err)
		}
	}
	if c.cfg.Storage.Postgres.Enabled {
		if err := c.initPostgres(); err != nil {
			return fmt.Errorf("postgres init failed: %w", err)
		}
	}
	return nil
}

// initRedis 初始化 Redis 连接
func (c *Container) initRedis(ctx context.Context) error {
	rcfg := c.cfg.Storage.Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     rcfg.Addr,
		Password: rcfg.Password,
		DB:       rcfg.DB,
	})

	// 测试连接
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("redis ping failed: %w", err)
	}

	c.redisClient = rdb
	c.redisRepo = redisrepo.New(rdb, rcfg.Prefix, time.Duration(rcfg.TTLSeconds)*time.Second, rcfg.EventsChannel)

	// 注册关闭回调
	c.closerChain = append(c.closerChain, func() error {
		log.Info().Msg("closing redis connection")
		return rdb.Close()
	})

	log.Info().Str("addr", rcfg.Addr).Int("db", rcfg.DB).Msg("redis initialized")
	return nil
}

// initSQLite 初始化 SQLite 审计库
func (c *Container) initSQLite() error {
	repo, err := sqliterepo.New(c.cfg.Storage.SQLite.Path)
	if err != nil {
		return err
	}
	c.sqliteRepo = repo
	c.closerChain = append(c.closerChain, func() error {
		log.Info().Msg("closing sqlite connection")
		return repo.Close()
	})
	log.Info().Str("path", c.cfg.Storage.SQLite.Path).Msg("sqlite initialized")
	return nil
}

// initPostgres 初始化 Postgres 镜像库
func (c *Container) initPostgres() error {
	repo, err := pgrepo.New(c.cfg.Storage.Postgres.DSN)
	if err != nil {
		return err
	}
	c.postgresRepo = repo
	c.closerChain = append(c.closerChain, func() error {
		log.Info().Msg("closing postgres connection")
		return repo.Close()
	})
	log.Info().Msg("postgres initialized")
	return nil
}

// initPrices 价格簿同时为波动率统计提供样本
func (c *Container) initPrices(context.Context) error {
	c.volatility = domain.NewVolatilityTracker(20, 100)
	c.book = pricefeed.NewBook(c.volatility)
	return nil
}

// initGateway 选择执行通道。实盘账户权益为 0 时切换到模拟模式
func (c *Container) initGateway(ctx context.Context) error {
	ex := c.cfg.Exchange
	switch ex.Kind {
	case paper.Name:
		c.useSimulation()
		return nil
	case binance.Name:
		client := binance.NewAPIClient(ex.APIKey, ex.APISecret, ex.RestURL, time.Duration(c.cfg.Retry.TimeoutSeconds)*time.Second)
		gw := binance.NewGateway(client, ex.TickSize)
		equity, err := domain.Retry(ctx, RetryPolicy(c.cfg), "query_equity", gw.QueryEquity)
		if err != nil {
			return fmt.Errorf("binance equity query failed: %w", err)
		}
		if equity <= 0 {
			log.Warn().Str("network", c.cfg.App.Network).Msg("account equity is zero, falling back to simulation")
			c.useSimulation()
			return nil
		}
		c.gateway = gw
		log.Info().Str("network", c.cfg.App.Network).Float64("equity", equity).Msg("binance gateway ready")
		return nil
	default:
		return fmt.Errorf("exchange kind %q not supported", ex.Kind)
	}
}

func (c *Container) useSimulation() {
	c.simulation = true
	c.gateway = paper.NewGateway(c.cfg.App.SimulationEquity, c.book, c.cfg.Risk.MinIncrement)
	log.Info().Float64("equity", c.cfg.App.SimulationEquity).Msg("simulation mode, paper gateway")
}

// initSignals 信号游标保存在账本 metadata 中，重启后不重复消费
func (c *Container) initSignals(context.Context) error {
	cursor := signal.MetadataCursor{Store: c.store, Key: signalCursorKey}
	switch c.cfg.Signals.Kind {
	case "redis":
		if c.redisClient == nil {
			return fmt.Errorf("signals.kind redis requires storage.redis")
		}
		c.signals = signal.NewRedisSource(c.redisClient, c.cfg.Signals.Stream, cursor)
		log.Info().Str("stream", c.cfg.Signals.Stream).Msg("redis signal source")
	default:
		c.signals = signal.NewFileSource(c.cfg.Signals.File, cursor)
		log.Info().Str("file", c.cfg.Signals.File).Msg("file signal source")
	}
	c.closerChain = append(c.closerChain, c.signals.Close)
	return nil
}

// StartPriceFeed 订阅标记价格推送，写入价格簿
func (c *Container) StartPriceFeed(ctx context.Context) error {
	if len(c.cfg.Symbols.List) == 0 || c.cfg.Exchange.WsURL == "" {
		log.Warn().Msg("no symbols or ws url, price feed disabled")
		return nil
	}
	feed, err := pricefeed.Open(binance.Name, c.cfg.Exchange.WsURL)
	if err != nil {
		return err
	}
	return c.book.Start(ctx, feed, c.cfg.Symbols.List)
}

// RetryPolicy 由配置构造网络调用的重试策略
func RetryPolicy(cfg *config.Config) domain.RetryPolicy {
	return domain.RetryPolicy{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		InitialDelay: time.Duration(cfg.Retry.InitialDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond,
		Multiplier:   cfg.Retry.Multiplier,
		Timeout:      time.Duration(cfg.Retry.TimeoutSeconds) * time.Second,
	}
}

// TradingOptions 交易循环参数
func (c *Container) TradingOptions() service.Options {
	r := c.cfg.Risk
	return service.Options{
		PollInterval:      time.Duration(c.cfg.App.PollIntervalSeconds) * time.Second,
		ReconcileInterval: time.Duration(c.cfg.App.ReconcileIntervalSeconds) * time.Second,
		StopFile:          c.cfg.App.StopFile,
		Sizing: domain.SizingParams{
			BaseRiskPct:    r.BaseRiskPct,
			MaxPositionPct: r.MaxPositionPct,
			MinConfidence:  float64(r.MinConfidence),
			MinIncrement:   r.MinIncrement,
			LossThreshold:  r.LossThreshold,
			LossFactor:     r.LossFactor,
			WinThreshold:   r.WinThreshold,
			WinFactor:      r.WinFactor,
		},
		Breaker: domain.BreakerParams{
			MaxDailyTrades: r.MaxDailyTrades,
			MaxDrawdown:    r.MaxDrawdownPct,
		},
		Retry:            RetryPolicy(c.cfg),
		MaxOpenPositions: r.MaxOpenPositions,
		LimitPriceOffset: c.cfg.Exchange.LimitPriceOffset,
		SymbolCooldown:   time.Duration(r.SymbolCooldownSeconds) * time.Second,
		Simulation:       c.simulation,
	}
}

// TradingDeps 交易循环依赖
func (c *Container) TradingDeps() service.Deps {
	return service.Deps{
		Store:      c.store,
		Gateway:    c.gateway,
		Signals:    c.signals,
		Prices:     c.book,
		Volatility: c.volatility,
		Journal:    c.Journal(),
		Sink:       c.Sink(),
	}
}

// Journal 已启用的审计存储，全部未启用时为 nil
func (c *Container) Journal() port.Repository {
	var repos []port.Repository
	if c.sqliteRepo != nil {
		repos = append(repos, c.sqliteRepo)
	}
	if c.postgresRepo != nil {
		repos = append(repos, c.postgresRepo)
	}
	if c.redisRepo != nil {
		repos = append(repos, c.redisRepo)
	}
	if len(repos) == 0 {
		return nil
	}
	return composite.New(repos...)
}

// Sink 状态发布目标，未启用 Redis 时为 nil
func (c *Container) Sink() port.Sink {
	if c.redisRepo == nil {
		return nil
	}
	return composite.Sinks{c.redisRepo}
}

// Config 获取配置
func (c *Container) Config() *config.Config { return c.cfg }

// Store 获取账本
func (c *Container) Store() *ledgerfile.Store { return c.store }

// Gateway 获取执行通道
func (c *Container) Gateway() port.Gateway { return c.gateway }

// Simulation 是否为模拟模式
func (c *Container) Simulation() bool { return c.simulation }

// Prices 获取价格簿
func (c *Container) Prices() *pricefeed.Book { return c.book }

// RedisClient 获取 Redis 客户端
func (c *Container) RedisClient() *redis.Client { return c.redisClient }

// SQLiteRepo 获取 SQLite 仓储
func (c *Container) SQLiteRepo() *sqliterepo.Repo { return c.sqliteRepo }

// Close 关闭所有资源（按后进先出顺序）
func (c *Container) Close() error {
	var err error
	c.closeOnce.Do(func() {
		for i := len(c.closerChain) - 1; i >= 0; i-- {
			if e := c.closerChain[i](); e != nil {
				log.Error().Err(e).Msg("error closing resource")
				if err == nil {
					err = e
				}
			}
		}
		log.Info().Msg("container closed")
	})
	return err
}
