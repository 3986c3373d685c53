package idgen

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	mu   sync.Mutex
	mono = ulid.Monotonic(rand.Reader, 0)
)

// TradeID returns a time-sortable ULID for a ledger trade record.
func TradeID(at time.Time) string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), mono).String()
}

// ClientOrderID returns an exchange client order id. Binance limits it to 36
// characters of [.A-Z:/a-z0-9_-], so the uuid is used without dashes.
func ClientOrderID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	n := 36 - len(prefix) - 1
	if n > len(id) {
		n = len(id)
	}
	if n <= 0 {
		return id
	}
	return prefix + "-" + id[:n]
}
