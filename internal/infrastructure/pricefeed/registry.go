package pricefeed

import (
	"fmt"
	"sort"
	"sync"

	"tradeguard/internal/application/port"

	"github.com/rs/zerolog/log"
)

// Factory builds a mark price feed for the given websocket endpoint.
type Factory func(wsURL string) port.PriceFeed

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register 由交易所包的 init() 调用，重复注册时覆盖并告警
func Register(exchange string, f Factory) {
	if f == nil {
		log.Warn().Str("exchange", exchange).Msg("nil price feed factory ignored")
		return
	}
	mu.Lock()
	defer mu.Unlock()
	if _, exists := factories[exchange]; exists {
		log.Warn().Str("exchange", exchange).Msg("price feed factory replaced")
	}
	factories[exchange] = f
}

// Get 查找已注册的工厂
func Get(exchange string) (Factory, bool) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := factories[exchange]
	return f, ok
}

// Open 构造指定交易所的价格推送
func Open(exchange, wsURL string) (port.PriceFeed, error) {
	f, ok := Get(exchange)
	if !ok {
		return nil, fmt.Errorf("no price feed registered for %q (have %v)", exchange, Names())
	}
	if wsURL == "" {
		return nil, fmt.Errorf("price feed %s: empty ws url", exchange)
	}
	return f(wsURL), nil
}

// Names lists registered exchanges in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for name := range factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
