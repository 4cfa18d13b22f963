package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/citegraph/internal/platform/ctxutil"
	"github.com/yungbote/citegraph/internal/platform/logger"
)

const DefaultChannel = "citegraph:ingest:progress"

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd
	Close() error
}

// RedisReporter publishes updates as JSON on a pub/sub channel so that
// operators can follow a long ingestion from another terminal.
type RedisReporter struct {
	log     *logger.Logger
	rdb     publisher
	channel string
}

func NewRedisReporter(ctx context.Context, log *logger.Logger, addr, channel string) (*RedisReporter, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis addr")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctxutil.Default(ctx), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newRedisReporter(log, rdb, channel), nil
}

func newRedisReporter(log *logger.Logger, rdb publisher, channel string) *RedisReporter {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisReporter{
		log:     log.With("service", "RedisProgress"),
		rdb:     rdb,
		channel: channel,
	}
}

// Report never fails the run; publish errors are logged and dropped.
func (r *RedisReporter) Report(ctx context.Context, u Update) {
	if err := r.Publish(ctx, u); err != nil {
		r.log.Warn("progress publish failed", "channel", r.channel, "error", err)
	}
}

func (r *RedisReporter) Publish(ctx context.Context, u Update) error {
	if r == nil || r.rdb == nil {
		return fmt.Errorf("redis progress reporter not initialized")
	}
	raw, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctxutil.Default(ctx), r.channel, raw).Err()
}

func (r *RedisReporter) Close() error {
	if r == nil || r.rdb == nil {
		return nil
	}
	return r.rdb.Close()
}

// Watch subscribes to the progress channel and calls onUpdate for each
// decoded update until ctx is done or an update with Done arrives.
func Watch(ctx context.Context, log *logger.Logger, addr, channel string, onUpdate func(Update)) error {
	if onUpdate == nil {
		return fmt.Errorf("onUpdate callback required")
	}
	if log == nil {
		log = logger.NewNop()
	}
	if strings.TrimSpace(channel) == "" {
		channel = DefaultChannel
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: strings.TrimSpace(addr), DialTimeout: 5 * time.Second})
	defer rdb.Close()

	sub := rdb.Subscribe(ctx, channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok || m == nil {
				return nil
			}
			u, err := decodeUpdate(m.Payload)
			if err != nil {
				log.Warn("bad progress payload", "error", err)
				continue
			}
			onUpdate(u)
			if u.Done {
				return nil
			}
		}
	}
}

func decodeUpdate(payload string) (Update, error) {
	var u Update
	err := json.Unmarshal([]byte(payload), &u)
	return u, err
}
