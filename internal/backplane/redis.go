package backplane

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis backs the Backplane contract with a real Redis (or Redis-compatible)
// server, making room state shared across every server instance (§4.A). It
// degrades to best-effort no-ops on transient errors rather than failing
// the caller, and tracks reachability for status reporting.
type Redis struct {
	client    *redis.Client
	log       *slog.Logger
	connected atomic.Bool
	tokenSHA  atomic.Value // string
}

// NewRedis constructs a Redis backplane against addr (host:port) and starts
// a background reachability probe. It never blocks waiting for Redis to be
// up; Connected reports false until the first successful PING.
func NewRedis(addr, password string, db int, log *slog.Logger) *Redis {
	if log == nil {
		log = slog.Default()
	}
	r := &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		log: log,
	}
	go r.probeLoop()
	return r
}

func (r *Redis) probeLoop() {
	ctx := context.Background()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	r.probe(ctx)
	for range ticker.C {
		r.probe(ctx)
	}
}

func (r *Redis) probe(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err := r.client.Ping(cctx).Err()
	was := r.connected.Swap(err == nil)
	if err != nil && was {
		r.log.Warn("backplane lost connection to redis", "error", err)
	}
	if err == nil && !was {
		r.log.Info("backplane connected to redis")
		if sha, loadErr := r.client.ScriptLoad(cctx, tokenBucketScript).Result(); loadErr == nil {
			r.tokenSHA.Store(sha)
		}
	}
}

func (r *Redis) Connected() bool { return r.connected.Load() }

func (r *Redis) Publish(ctx context.Context, channel string, payload []byte) error {
	return r.client.Publish(ctx, channel, payload).Err()
}

type redisSub struct {
	pubsub *redis.PubSub
	ch     chan []byte
	done   chan struct{}
	once   sync.Once
}

func (s *redisSub) Channel() <-chan []byte { return s.ch }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}

func (r *Redis) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	pubsub := r.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}
	s := &redisSub{pubsub: pubsub, ch: make(chan []byte, 64), done: make(chan struct{})}
	go func() {
		src := pubsub.Channel()
		for {
			select {
			case <-s.done:
				return
			case msg, ok := <-src:
				if !ok {
					return
				}
				select {
				case s.ch <- []byte(msg.Payload):
				default:
				}
			}
		}
	}()
	return s, nil
}

func (r *Redis) ListPushFrontTrim(ctx context.Context, key string, item []byte, maxLen int) error {
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, item)
	pipe.LTrim(ctx, key, 0, int64(maxLen-1))
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Redis) ListRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	vals, err := r.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

func (r *Redis) SetAdd(ctx context.Context, key, member string) error {
	return r.client.SAdd(ctx, key, member).Err()
}

func (r *Redis) SetRemove(ctx context.Context, key, member string) error {
	return r.client.SRem(ctx, key, member).Err()
}

func (r *Redis) SetMembers(ctx context.Context, key string) ([]string, error) {
	return r.client.SMembers(ctx, key).Result()
}

func (r *Redis) SetCard(ctx context.Context, key string) (int64, error) {
	return r.client.SCard(ctx, key).Result()
}

func (r *Redis) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *Redis) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := r.client.TTL(ctx, key).Result()
	if d < 0 {
		return 0, err
	}
	return d, err
}

func (r *Redis) Keys(ctx context.Context, pattern string) ([]string, error) {
	return r.client.Keys(ctx, pattern).Result()
}

func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.client.Expire(ctx, key, ttl).Err()
}

// tokenBucketScript performs the full token-bucket read/refill/decide/write
// cycle atomically so concurrent requests against the same (room,user) key
// from different server instances cannot race each other (§9 open
// question: rate-limit atomicity). KEYS[1] is the bucket key; ARGV is
// now, capacity, refillPerSec, ttlSeconds.
const tokenBucketScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local refill = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local raw = redis.call('GET', key)
local tokens = capacity
local last = now
if raw then
  local sep = string.find(raw, ':')
  if sep then
    tokens = tonumber(string.sub(raw, 1, sep - 1))
    last = tonumber(string.sub(raw, sep + 1))
  end
end

local elapsed = now - last
if elapsed > 0 then
  tokens = math.min(capacity, tokens + elapsed * refill)
end

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('SET', key, tostring(tokens) .. ':' .. tostring(now), 'EX', ttl)
return {allowed, tostring(tokens)}
`

// TakeToken implements AtomicRateLimiter using the cached tokenBucketScript,
// loading it if the server was restarted and the SHA went stale.
func (r *Redis) TakeToken(ctx context.Context, key string, now int64, capacity, refillPerSec float64, ttl time.Duration) (bool, float64, error) {
	sha, _ := r.tokenSHA.Load().(string)
	res, err := r.evalToken(ctx, sha, key, now, capacity, refillPerSec, ttl)
	if err != nil && strings.Contains(err.Error(), "NOSCRIPT") {
		loaded, loadErr := r.client.ScriptLoad(ctx, tokenBucketScript).Result()
		if loadErr != nil {
			return false, 0, loadErr
		}
		r.tokenSHA.Store(loaded)
		res, err = r.evalToken(ctx, loaded, key, now, capacity, refillPerSec, ttl)
	}
	if err != nil {
		return false, 0, err
	}
	return res.allowed, res.tokens, nil
}

type tokenResult struct {
	allowed bool
	tokens  float64
}

func (r *Redis) evalToken(ctx context.Context, sha, key string, now int64, capacity, refillPerSec float64, ttl time.Duration) (tokenResult, error) {
	if sha == "" {
		v, err := r.client.Eval(ctx, tokenBucketScript, []string{key}, now, capacity, refillPerSec, int64(ttl.Seconds())).Result()
		return parseTokenResult(v, err)
	}
	v, err := r.client.EvalSha(ctx, sha, []string{key}, now, capacity, refillPerSec, int64(ttl.Seconds())).Result()
	return parseTokenResult(v, err)
}

func parseTokenResult(v any, err error) (tokenResult, error) {
	if err != nil {
		return tokenResult{}, err
	}
	arr, ok := v.([]any)
	if !ok || len(arr) != 2 {
		return tokenResult{}, nil
	}
	allowed, _ := arr[0].(int64)
	tokensStr, _ := arr[1].(string)
	tokens, _ := strconv.ParseFloat(tokensStr, 64)
	return tokenResult{allowed: allowed == 1, tokens: tokens}, nil
}
