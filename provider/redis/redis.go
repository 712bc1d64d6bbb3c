package redis

import (
	"context"
	"errors"
	"sort"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/udstore/internal/util"
	pr "github.com/unkn0wn-root/udstore/provider"
)

var ErrNilClient = errors.New("redis provider: nil client")

const scanCount = 256

type Redis struct {
	rdb         goredis.UniversalClient
	prefix      string
	closeClient bool
}

var _ pr.Provider = (*Redis)(nil)

type Config struct {
	Client      goredis.UniversalClient
	Prefix      string // default "uds:"
	CloseClient bool   // set true only if this provider exclusively owns the client
}

func New(cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = util.DefaultPrefix
	}
	return &Redis{rdb: cfg.Client, prefix: prefix, closeClient: cfg.CloseClient}, nil
}

func (p *Redis) Name() string { return "redis" }

func (p *Redis) Capabilities() pr.Capabilities {
	return pr.Capabilities{Durable: true}
}

func (p *Redis) Get(ctx context.Context, ns, key string) (pr.Item, bool, error) {
	b, err := p.rdb.Get(ctx, util.StorageKey(p.prefix, ns, key)).Bytes()
	if err == goredis.Nil {
		return pr.Item{}, false, nil // miss
	}
	if err != nil {
		return pr.Item{}, false, err // transport/server error
	}
	return pr.Item{Value: b}, true, nil
}

// Put stores the record without a server-side TTL; expiry is owned by the
// envelope so that the sweep and lazy checks agree on what is live.
func (p *Redis) Put(ctx context.Context, ns, key string, it pr.Item) error {
	err := p.rdb.Set(ctx, util.StorageKey(p.prefix, ns, key), it.Value, 0).Err()
	if err != nil && isOOM(err) {
		return errors.Join(pr.ErrCapacityExceeded, err)
	}
	return err
}

func (p *Redis) Delete(ctx context.Context, ns, key string) error {
	return p.rdb.Del(ctx, util.StorageKey(p.prefix, ns, key)).Err()
}

func (p *Redis) Keys(ctx context.Context, ns string) ([]string, error) {
	raw, err := p.scan(ctx, ns)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(raw))
	for _, k := range raw {
		if key, ok := util.TrimNamespace(p.prefix, ns, k); ok {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (p *Redis) Clear(ctx context.Context, ns string) error {
	raw, err := p.scan(ctx, ns)
	if err != nil {
		return err
	}
	for start := 0; start < len(raw); start += scanCount {
		end := min(start+scanCount, len(raw))
		if err := p.rdb.Del(ctx, raw[start:end]...).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (p *Redis) scan(ctx context.Context, ns string) ([]string, error) {
	match := escapeGlob(util.NamespacePrefix(p.prefix, ns)) + "*"
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := p.rdb.Scan(ctx, cursor, match, scanCount).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

// Close releases the underlying redis client only when this provider owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (p *Redis) Close(context.Context) error {
	if p.closeClient {
		if err := p.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

func isOOM(err error) bool {
	var re goredis.Error
	if errors.As(err, &re) {
		msg := re.Error()
		return len(msg) >= 3 && msg[:3] == "OOM"
	}
	return false
}

func escapeGlob(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', ']', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
