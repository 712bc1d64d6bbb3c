// Package config loads a YAML description of a store and opens its backends.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/unkn0wn-root/udstore"
	"github.com/unkn0wn-root/udstore/codec"
	"github.com/unkn0wn-root/udstore/compress"
	"github.com/unkn0wn-root/udstore/internal/util"
	pr "github.com/unkn0wn-root/udstore/provider"
	"github.com/unkn0wn-root/udstore/provider/bigcache"
	"github.com/unkn0wn-root/udstore/provider/bolt"
	"github.com/unkn0wn-root/udstore/provider/consul"
	"github.com/unkn0wn-root/udstore/provider/memory"
	"github.com/unkn0wn-root/udstore/provider/postgres"
	"github.com/unkn0wn-root/udstore/provider/redis"
	"github.com/unkn0wn-root/udstore/provider/ristretto"
	"github.com/unkn0wn-root/udstore/provider/sqlite"
	"github.com/unkn0wn-root/udstore/seal"
	"github.com/unkn0wn-root/udstore/snapshot/s3"
)

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	Backends   map[string]Backend `yaml:"backends"`
	Namespaces []Namespace        `yaml:"namespaces"` // empty => udstore.DefaultNamespaces
	// DefaultBackend for namespaces without one. "" => "durable"
	DefaultBackend string `yaml:"defaultBackend"`

	Codec             string `yaml:"codec"`      // json | cbor | msgpack | protobuf
	Compressor        string `yaml:"compressor"` // zstd | s2 | lz4 | flate
	CompressThreshold int    `yaml:"compressThreshold"`
	// MaxDecodeBytes refuses to unmarshal larger stored payloads. 0 = unlimited.
	MaxDecodeBytes int `yaml:"maxDecodeBytes"`

	Encryption Encryption `yaml:"encryption"`
	// Integrity: fail | return | missing
	Integrity              string        `yaml:"integrity"`
	SweepInterval          time.Duration `yaml:"sweepInterval"`
	DisableLegacyMigration bool          `yaml:"disableLegacyMigration"`
	Concurrency            int           `yaml:"concurrency"`

	Backup Backup `yaml:"backup"`
}

type Namespace struct {
	Name      string        `yaml:"name"`
	Backend   string        `yaml:"backend"`
	Sensitive bool          `yaml:"sensitive"`
	Encrypt   bool          `yaml:"encrypt"`
	TTL       time.Duration `yaml:"ttl"`
}

type Encryption struct {
	Disabled bool `yaml:"disabled"`
	// SecretEnv names the environment variable holding the key secret.
	// Without a secret a per-process key is generated.
	SecretEnv string `yaml:"secretEnv"`
	Secret    string `yaml:"secret"`
	Salt      string `yaml:"salt"`
}

// Backend describes one provider. Type selects which fields apply.
type Backend struct {
	Type string `yaml:"type"` // memory | bolt | bigcache | sqlite | postgres | redis | consul

	Path     string `yaml:"path"`     // bolt, sqlite
	DSN      string `yaml:"dsn"`      // postgres
	Addr     string `yaml:"addr"`     // redis, consul
	Password string `yaml:"password"` // redis
	DB       int    `yaml:"db"`       // redis
	Token    string `yaml:"token"`    // consul
	Prefix   string `yaml:"prefix"`   // bolt, bigcache, redis, consul
	MaxBytes int64  `yaml:"maxBytes"` // bolt, bigcache, memory

	LifeWindow       time.Duration `yaml:"lifeWindow"` // bigcache
	SeparateMetadata bool          `yaml:"separateMetadata"`

	// Cache puts a ristretto read cache in front of the provider.
	Cache *Cache `yaml:"cache"`
}

type Cache struct {
	MaxCost     int64 `yaml:"maxCost"`
	NumCounters int64 `yaml:"numCounters"`
}

type Backup struct {
	S3 *s3.Config `yaml:"s3"`
}

// Default is a self-contained layout: bolt and sqlite files under dir and
// an in-process cache.
func Default(dir string) Config {
	return Config{
		Backends: map[string]Backend{
			udstore.BackendDurable:    {Type: "bolt", Path: dir + "/udstore.db"},
			udstore.BackendEphemeral:  {Type: "bigcache"},
			udstore.BackendStructured: {Type: "sqlite", Path: dir + "/udstore.sqlite"},
		},
		Encryption: Encryption{SecretEnv: "UDSTORE_SECRET"},
	}
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

func Parse(b []byte) (Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	if len(c.Backends) == 0 {
		return fmt.Errorf("%w: no backends", ErrInvalid)
	}
	for name, b := range c.Backends {
		switch b.Type {
		case "memory", "bigcache", "consul":
		case "bolt", "sqlite":
			if b.Path == "" {
				return fmt.Errorf("%w: backend %q: path is required", ErrInvalid, name)
			}
		case "postgres":
			if b.DSN == "" {
				return fmt.Errorf("%w: backend %q: dsn is required", ErrInvalid, name)
			}
		case "redis":
			if b.Addr == "" {
				return fmt.Errorf("%w: backend %q: addr is required", ErrInvalid, name)
			}
		default:
			return fmt.Errorf("%w: backend %q: unknown type %q", ErrInvalid, name, b.Type)
		}
	}
	seen := make(map[string]bool, len(c.Namespaces))
	for _, n := range c.Namespaces {
		if n.Name == "" {
			return fmt.Errorf("%w: namespace without a name", ErrInvalid)
		}
		if !util.ValidNamespace(n.Name) {
			return fmt.Errorf("%w: namespace %q contains %q", ErrInvalid, n.Name, util.Separator)
		}
		if seen[n.Name] {
			return fmt.Errorf("%w: duplicate namespace %q", ErrInvalid, n.Name)
		}
		seen[n.Name] = true
		if n.TTL < 0 {
			return fmt.Errorf("%w: namespace %q: negative ttl", ErrInvalid, n.Name)
		}
	}
	if _, err := c.integrity(); err != nil {
		return err
	}
	if c.Codec != "" {
		if _, err := codec.ByName(c.Codec); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	if c.Compressor != "" {
		if _, err := compress.ByName(c.Compressor); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	return nil
}

func (c Config) integrity() (udstore.IntegrityPolicy, error) {
	switch c.Integrity {
	case "", "fail":
		return udstore.IntegrityFail, nil
	case "return":
		return udstore.IntegrityReturn, nil
	case "missing":
		return udstore.IntegrityMissing, nil
	}
	return 0, fmt.Errorf("%w: integrity %q", ErrInvalid, c.Integrity)
}

// Open opens every backend. A backend that cannot be reached is logged and
// left out; namespaces placed on it fail with ErrBackendUnavailable.
func Open(ctx context.Context, c Config, log udstore.Logger) (map[string]pr.Provider, error) {
	if log == nil {
		log = udstore.NopLogger{}
	}
	out := make(map[string]pr.Provider, len(c.Backends))
	for name, b := range c.Backends {
		p, err := openBackend(ctx, name, b)
		if err != nil {
			log.Warn("backend unavailable", udstore.Fields{"backend": name, "type": b.Type, "err": err})
			continue
		}
		if b.Cache != nil {
			rc := ristretto.DefaultConfig()
			if b.Cache.MaxCost > 0 {
				rc.MaxCost = b.Cache.MaxCost
			}
			if b.Cache.NumCounters > 0 {
				rc.NumCounters = b.Cache.NumCounters
			}
			cached, err := ristretto.New(p, rc)
			if err != nil {
				_ = p.Close(ctx)
				closeAll(ctx, out)
				return nil, fmt.Errorf("backend %q cache: %w", name, err)
			}
			p = cached
		}
		out[name] = p
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no backend could be opened", pr.ErrUnavailable)
	}
	return out, nil
}

func closeAll(ctx context.Context, ps map[string]pr.Provider) {
	for _, p := range ps {
		_ = p.Close(ctx)
	}
}

func openBackend(ctx context.Context, name string, b Backend) (pr.Provider, error) {
	switch b.Type {
	case "memory":
		return memory.New(memory.Config{Name: name, SeparateMetadata: b.SeparateMetadata, MaxBytes: b.MaxBytes}), nil
	case "bolt":
		return bolt.Open(bolt.Config{Path: b.Path, MaxBytes: b.MaxBytes, Prefix: b.Prefix})
	case "bigcache":
		return bigcache.New(bigcache.Config{LifeWindow: b.LifeWindow, MaxBytes: b.MaxBytes, Prefix: b.Prefix})
	case "sqlite":
		return sqlite.Open(b.Path)
	case "postgres":
		return postgres.Open(ctx, b.DSN)
	case "redis":
		rdb := goredis.NewClient(&goredis.Options{Addr: b.Addr, Password: b.Password, DB: b.DB})
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := rdb.Ping(pctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, errors.Join(pr.ErrUnavailable, err)
		}
		return redis.New(redis.Config{Client: rdb, Prefix: b.Prefix, CloseClient: true})
	case "consul":
		p, err := consul.New(consul.Config{Address: b.Addr, Token: b.Token, Prefix: b.Prefix})
		if err != nil {
			return nil, err
		}
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := p.Ping(pctx); err != nil {
			return nil, errors.Join(pr.ErrUnavailable, err)
		}
		return p, nil
	}
	return nil, fmt.Errorf("unknown backend type %q", b.Type)
}

// Options turns the file into udstore.Options around already opened
// backends. Logger and Hooks are left for the caller.
func (c Config) Options(backends map[string]pr.Provider) (udstore.Options, error) {
	integrity, err := c.integrity()
	if err != nil {
		return udstore.Options{}, err
	}
	opts := udstore.Options{
		Backends:               backends,
		DefaultBackend:         c.DefaultBackend,
		CompressThreshold:      c.CompressThreshold,
		SweepInterval:          c.SweepInterval,
		Integrity:              integrity,
		DisableLegacyMigration: c.DisableLegacyMigration,
		DisableEncryption:      c.Encryption.Disabled,
		Concurrency:            c.Concurrency,
	}
	if len(c.Namespaces) > 0 {
		opts.Namespaces = make([]udstore.Namespace, 0, len(c.Namespaces))
		for _, n := range c.Namespaces {
			opts.Namespaces = append(opts.Namespaces, udstore.Namespace(n))
		}
	}
	if c.Codec != "" {
		if opts.Codec, err = codec.ByName(c.Codec); err != nil {
			return udstore.Options{}, err
		}
	}
	if c.MaxDecodeBytes > 0 {
		inner := opts.Codec
		if inner == nil {
			inner = codec.JSON{}
		}
		opts.Codec = codec.Limit{Inner: inner, MaxDecode: c.MaxDecodeBytes}
	}
	if c.Compressor != "" {
		if opts.Compressor, err = compress.ByName(c.Compressor); err != nil {
			return udstore.Options{}, err
		}
	}
	if !c.Encryption.Disabled {
		if secret := c.secret(); secret != "" {
			box, err := seal.FromSecret([]byte(secret), []byte(c.Encryption.Salt))
			if err != nil {
				return udstore.Options{}, fmt.Errorf("config: encryption key: %w", err)
			}
			opts.Cipher = box
		}
	}
	return opts, nil
}

func (c Config) secret() string {
	if c.Encryption.SecretEnv != "" {
		if v := os.Getenv(c.Encryption.SecretEnv); v != "" {
			return v
		}
	}
	return c.Encryption.Secret
}

// Build opens the backends and the store. Closing the store closes them.
func Build(ctx context.Context, c Config, log udstore.Logger, hooks udstore.Hooks) (udstore.Store, error) {
	backends, err := Open(ctx, c, log)
	if err != nil {
		return nil, err
	}
	opts, err := c.Options(backends)
	if err != nil {
		closeAll(ctx, backends)
		return nil, err
	}
	opts.Logger = log
	opts.Hooks = hooks
	s, err := udstore.New(opts)
	if err != nil {
		closeAll(ctx, backends)
		return nil, err
	}
	return s, nil
}
