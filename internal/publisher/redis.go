// Package publisher streams finalized candles to Redis for downstream
// live consumers. The relational store stays the source of truth; the
// stream is a best-effort fan-out and failures never block the
// pipeline.
package publisher

import (
	"context"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"eldorado/internal/model"
)

const (
	// Stream trimming: ~10 days of t15 candles per market.
	streamMaxLen = 1000

	latestTTL = 30 * time.Minute
)

// WriterConfig configures the Redis publisher.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer publishes candles to Redis streams.
type Writer struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{client: client}, nil
}

// streamKey returns "candle:{tf}:{exchange}:{token}".
func streamKey(m *model.Market) string {
	return "candle:" + string(m.Timeframe) + ":" + m.Exchange + ":" + m.Token()
}

// PublishCandle XADDs a finalized candle to the market's stream and
// refreshes the latest-candle key. Errors are logged and swallowed.
func (w *Writer) PublishCandle(ctx context.Context, m *model.Market, c *model.Candle) {
	key := streamKey(m)
	payload := string(c.JSON())

	err := w.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: key,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"candle": payload},
	}).Err()
	if err != nil {
		log.Printf("[redis] XADD %s failed: %v", key, err)
		return
	}

	if err := w.client.Set(ctx, "latest:"+key, payload, latestTTL).Err(); err != nil {
		log.Printf("[redis] SET latest:%s failed: %v", key, err)
	}
}

// Close releases the client.
func (w *Writer) Close() error {
	return w.client.Close()
}
