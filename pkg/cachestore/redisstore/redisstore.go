// Package redisstore is the redis-backed cachestore backend. Entries are
// JSON values under "edgecache:<partition>:<key>"; partition names are
// tracked in one set so activation can enumerate and drop old versions.
//
// A failing redis server temporarily disables the client. While disabled
// every read is a miss and every write a no-op, and a background pinger
// with growing backoff re-enables the client once the server answers.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/stefanjohn16/edgecache/pkg/cachestore"
)

const (
	keyPrefix    = "edgecache:"
	partitionSet = "edgecache:partitions"
	scanCount    = 256
)

var nopLogger = zap.NewNop()

type Opts struct {
	// Client cannot be nil.
	Client redis.Cmdable

	// ClientCloser closes Client when RedisStore.Close is called.
	// Optional.
	ClientCloser io.Closer

	// ClientTimeout specifies the timeout for read and write operations.
	// Default is one second.
	ClientTimeout time.Duration

	// Logger is the *zap.Logger for this RedisStore. A nil Logger
	// disables logging.
	Logger *zap.Logger
}

func (opts *Opts) Init() error {
	if opts.Client == nil {
		return errors.New("nil redis client")
	}
	if opts.ClientTimeout <= 0 {
		opts.ClientTimeout = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	return nil
}

type RedisStore struct {
	opts           Opts
	clientDisabled uint32
}

func NewRedisStore(opts Opts) (*RedisStore, error) {
	if err := opts.Init(); err != nil {
		return nil, err
	}
	return &RedisStore{opts: opts}, nil
}

func (s *RedisStore) disabled() bool {
	return atomic.LoadUint32(&s.clientDisabled) != 0
}

func (s *RedisStore) disableClient() {
	if atomic.CompareAndSwapUint32(&s.clientDisabled, 0, 1) {
		s.opts.Logger.Warn("redis temporarily disabled")
		go func() {
			const maxBackoff = time.Second * 30
			backoff := time.Millisecond * 100
			for {
				time.Sleep(backoff)
				ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*500)
				err := s.opts.Client.Ping(ctx).Err()
				cancel()
				if err != nil {
					if backoff >= maxBackoff {
						backoff = maxBackoff
					} else {
						backoff += time.Duration(rand.Intn(1000))*time.Millisecond + time.Second
					}
					s.opts.Logger.Warn("redis ping failed", zap.Error(err), zap.Duration("next_ping", backoff))
					continue
				}
				atomic.StoreUint32(&s.clientDisabled, 0)
				s.opts.Logger.Info("redis recovered")
				return
			}
		}()
	}
}

func (s *RedisStore) OpenPartition(name string) (cachestore.Partition, error) {
	if !s.disabled() {
		ctx, cancel := s.opCtx()
		defer cancel()
		if err := s.opts.Client.SAdd(ctx, partitionSet, name).Err(); err != nil {
			s.opts.Logger.Warn("redis sadd", zap.Error(err))
			s.disableClient()
		}
	}
	return &redisPartition{store: s, name: name}, nil
}

func (s *RedisStore) Partitions(ctx context.Context) ([]string, error) {
	if s.disabled() {
		return nil, nil
	}
	opCtx, cancel := s.opCtx()
	defer cancel()
	names, err := s.opts.Client.SMembers(opCtx, partitionSet).Result()
	if err != nil {
		s.opts.Logger.Warn("redis smembers", zap.Error(err))
		s.disableClient()
		return nil, nil
	}
	return names, nil
}

func (s *RedisStore) DropPartition(ctx context.Context, name string) error {
	if s.disabled() {
		return nil
	}

	keys, err := s.scan(partitionPrefix(name) + "*")
	if err != nil {
		return nil
	}

	opCtx, cancel := s.opCtx()
	defer cancel()
	pipeline := s.opts.Client.Pipeline()
	for _, k := range keys {
		pipeline.Del(opCtx, k)
	}
	pipeline.SRem(opCtx, partitionSet, name)
	if _, err := pipeline.Exec(opCtx); err != nil {
		s.opts.Logger.Warn("redis pipeline del", zap.Error(err))
		s.disableClient()
	}
	return nil
}

func (s *RedisStore) Close() error {
	if c := s.opts.ClientCloser; c != nil {
		return c.Close()
	}
	return nil
}

func (s *RedisStore) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.opts.ClientTimeout)
}

func (s *RedisStore) scan(match string) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ClientTimeout*4)
	defer cancel()

	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.opts.Client.Scan(ctx, cursor, match, scanCount).Result()
		if err != nil {
			s.opts.Logger.Warn("redis scan", zap.Error(err))
			s.disableClient()
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

func partitionPrefix(name string) string {
	return keyPrefix + name + ":"
}

type redisPartition struct {
	store *RedisStore
	name  string
}

func (p *redisPartition) redisKey(key string) string {
	return partitionPrefix(p.name) + key
}

func (p *redisPartition) Get(ctx context.Context, key string) (*cachestore.Entry, bool, error) {
	s := p.store
	if s.disabled() {
		return nil, false, nil
	}

	opCtx, cancel := s.opCtx()
	defer cancel()
	b, err := s.opts.Client.Get(opCtx, p.redisKey(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.opts.Logger.Warn("redis get", zap.Error(err))
			s.disableClient()
		}
		return nil, false, nil
	}

	e := new(cachestore.Entry)
	if err := json.Unmarshal(b, e); err != nil {
		s.opts.Logger.Warn("redis entry decode", zap.Error(err))
		return nil, false, nil
	}
	return e, true, nil
}

func (p *redisPartition) Put(ctx context.Context, key string, e *cachestore.Entry) error {
	s := p.store
	if s.disabled() {
		return nil
	}

	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}

	opCtx, cancel := s.opCtx()
	defer cancel()
	if err := s.opts.Client.Set(opCtx, p.redisKey(key), b, 0).Err(); err != nil {
		s.opts.Logger.Warn("redis set", zap.Error(err))
		s.disableClient()
	}
	return nil
}

func (p *redisPartition) Delete(ctx context.Context, key string) error {
	s := p.store
	if s.disabled() {
		return nil
	}

	opCtx, cancel := s.opCtx()
	defer cancel()
	if err := s.opts.Client.Del(opCtx, p.redisKey(key)).Err(); err != nil {
		s.opts.Logger.Warn("redis del", zap.Error(err))
		s.disableClient()
	}
	return nil
}

func (p *redisPartition) Keys(ctx context.Context) ([]string, error) {
	s := p.store
	if s.disabled() {
		return nil, nil
	}

	prefix := partitionPrefix(p.name)
	raw, err := s.scan(prefix + "*")
	if err != nil {
		return nil, nil
	}
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, strings.TrimPrefix(k, prefix))
	}
	return keys, nil
}

func (p *redisPartition) Len() int {
	keys, err := p.Keys(context.Background())
	if err != nil {
		return 0
	}
	return len(keys)
}
