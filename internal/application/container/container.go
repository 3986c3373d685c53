package container

import (
	"tradeguard/internal/application/service"
)

// Container 持有交易循环所需的参数与端口，按需构建服务
type Container struct {
	opts service.Options
	deps service.Deps

	tradingService *service.TradingService
}

func New(opts service.Options, deps service.Deps) *Container {
	return &Container{
		opts: opts,
		deps: deps,
	}
}

func (c *Container) Deps() service.Deps {
	return c.deps
}

// TradingService 单例，控制面与主循环共享同一实例
func (c *Container) TradingService() *service.TradingService {
	if c.tradingService == nil {
		c.tradingService = service.NewTradingService(c.opts, c.deps)
	}
	return c.tradingService
}
