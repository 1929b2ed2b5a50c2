package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/contentkit/contentgraph/internal/circuitbreaker"
	"github.com/contentkit/contentgraph/internal/logging"
	"github.com/contentkit/contentgraph/internal/metrics"
	"github.com/contentkit/contentgraph/internal/parser"
)

const keyPrefix = "contentgraph:record:"

// Redis shares parse records between machines building the same content.
// Failures are logged and treated as misses. After repeated failures a
// circuit breaker skips Redis until it answers again.
type Redis struct {
	cli        *redis.Client
	ttl        time.Duration
	log        *logging.Logger
	br         *circuitbreaker.CircuitBreaker
	errorCount atomic.Int64
}

func NewRedis(ctx context.Context, addr string, ttl time.Duration, log *logging.Logger) (*Redis, error) {
	cli := redis.NewClient(&redis.Options{Addr: addr})
	if err := cli.Ping(ctx).Err(); err != nil {
		_ = cli.Close()
		return nil, err
	}
	cfg := circuitbreaker.DefaultConfig()
	cfg.OnStateChange = func(from, to circuitbreaker.State) {
		log.Warnw("redis cache breaker", "from", from.String(), "to", to.String(), "addr", addr)
	}
	return &Redis{cli: cli, ttl: ttl, log: log, br: circuitbreaker.New(cfg)}, nil
}

func (r *Redis) Get(ctx context.Context, key string) (*parser.Record, bool) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var b []byte
	err := r.br.Execute(func() error {
		var err error
		b, err = r.cli.Get(ctx, keyPrefix+key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	})
	if errors.Is(err, circuitbreaker.ErrOpenState) {
		metrics.CacheLookups.WithLabelValues("bypassed").Inc()
		return nil, false
	}
	if err != nil {
		r.failed("get", err)
		return nil, false
	}
	if b == nil {
		return nil, false
	}
	var rec parser.Record
	if err := json.Unmarshal(b, &rec); err != nil {
		r.failed("decode", err)
		return nil, false
	}
	return &rec, true
}

func (r *Redis) Put(ctx context.Context, key string, rec *parser.Record) {
	b, err := json.Marshal(rec)
	if err != nil {
		r.failed("encode", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err = r.br.Execute(func() error {
		return r.cli.Set(ctx, keyPrefix+key, b, r.ttl).Err()
	})
	if err != nil && !errors.Is(err, circuitbreaker.ErrOpenState) {
		r.failed("set", err)
	}
}

func (r *Redis) Close() error { return r.cli.Close() }

func (r *Redis) failed(op string, err error) {
	n := r.errorCount.Add(1)
	if n%100 == 1 { // every 100th to avoid spam
		r.log.Warnw("redis cache error", "op", op, "count", n, "err", err)
	}
}
