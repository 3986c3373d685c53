package service

import (
	"testing"
	"time"

	"tradeguard/internal/domain/model"

	"github.com/stretchr/testify/assert"
)

func TestDeduplicatorRejectsRepeatedID(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d := NewSignalDeduplicator(0, func() time.Time { return now })

	ok, _ := d.Admit(model.Signal{ID: "a", Symbol: "BTCUSDT"})
	assert.True(t, ok)
	ok, reason := d.Admit(model.Signal{ID: "a", Symbol: "BTCUSDT"})
	assert.False(t, ok)
	assert.Contains(t, reason, "duplicate")

	// signals without an id are never treated as duplicates
	for i := 0; i < 3; i++ {
		ok, _ = d.Admit(model.Signal{Symbol: "BTCUSDT"})
		assert.True(t, ok)
	}

	now = now.Add(25 * time.Hour)
	ok, _ = d.Admit(model.Signal{ID: "a", Symbol: "BTCUSDT"})
	assert.True(t, ok)
}

func TestDeduplicatorCooldown(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d := NewSignalDeduplicator(10*time.Second, func() time.Time { return now })

	ok, _ := d.Admit(model.Signal{ID: "1", Symbol: "ETHUSDT"})
	assert.True(t, ok)
	d.RegisterOrder("ETHUSDT")

	now = now.Add(4 * time.Second)
	ok, reason := d.Admit(model.Signal{ID: "2", Symbol: "ETHUSDT"})
	assert.False(t, ok)
	assert.Contains(t, reason, "cooldown")

	ok, _ = d.Admit(model.Signal{ID: "3", Symbol: "BTCUSDT"})
	assert.True(t, ok)

	now = now.Add(7 * time.Second)
	ok, _ = d.Admit(model.Signal{ID: "2", Symbol: "ETHUSDT"})
	assert.True(t, ok)
}
