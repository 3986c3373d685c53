package container

import (
	"testing"

	"tradeguard/internal/application/service"

	"github.com/stretchr/testify/assert"
)

func TestTradingServiceIsShared(t *testing.T) {
	c := New(service.Options{}, service.Deps{})
	a := c.TradingService()
	b := c.TradingService()
	assert.Same(t, a, b)
	assert.Equal(t, "running", a.Status().State)
}
