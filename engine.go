package udstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/udstore/codec"
	"github.com/unkn0wn-root/udstore/compress"
	"github.com/unkn0wn-root/udstore/internal/keyqueue"
	"github.com/unkn0wn-root/udstore/internal/util"
	pr "github.com/unkn0wn-root/udstore/provider"
	"github.com/unkn0wn-root/udstore/seal"
)

const (
	defaultSweep       = time.Hour
	defaultConcurrency = 8
)

// newCipher makes the per-process key when Options.Cipher is nil, and can
// be replaced during testing
var newCipher = func() (seal.Cipher, error) { return seal.Generate() }

type store struct {
	namespaces     map[string]Namespace
	nsOrder        []string
	backends       map[string]pr.Provider
	beOrder        []string
	defaultBackend string

	codec         codec.Codec
	cipher        seal.Cipher // nil => encryption unavailable
	compress      compress.Pipeline
	integrity     IntegrityPolicy
	migrateLegacy bool

	log         Logger
	hooks       Hooks
	now         func() time.Time
	concurrency int

	locks       keyqueue.Queue
	plainWarned atomic.Bool

	// background sweep
	sweepInterval time.Duration
	ticker        *time.Ticker
	stopCh        chan struct{}
	sweepCtx      context.Context
	sweepCancel   context.CancelFunc
	closeWg       sync.WaitGroup
	closeOnce     sync.Once
	closeErr      error
	closed        atomic.Bool
}

var _ Store = (*store)(nil)

func newStore(opts Options) (*store, error) {
	if len(opts.Backends) == 0 {
		return nil, fmt.Errorf("udstore: at least one backend is required")
	}

	s := &store{
		namespaces: make(map[string]Namespace),
		backends:   make(map[string]pr.Provider, len(opts.Backends)),
	}

	nss := opts.Namespaces
	if nss == nil {
		nss = DefaultNamespaces()
	}
	for _, n := range nss {
		if n.Name == "" {
			return nil, fmt.Errorf("udstore: namespace name is required")
		}
		if !util.ValidNamespace(n.Name) {
			return nil, fmt.Errorf("udstore: namespace %q must not contain %q", n.Name, util.Separator)
		}
		if _, dup := s.namespaces[n.Name]; dup {
			return nil, fmt.Errorf("udstore: duplicate namespace %q", n.Name)
		}
		s.namespaces[n.Name] = n
		s.nsOrder = append(s.nsOrder, n.Name)
	}
	for name, p := range opts.Backends {
		if p == nil {
			continue // unavailable; ops against it fail fast
		}
		s.backends[name] = p
		s.beOrder = append(s.beOrder, name)
	}
	sort.Strings(s.beOrder)

	// defaults
	s.defaultBackend = coalesce(opts.DefaultBackend, BackendDurable)
	s.codec = coalesce[codec.Codec](opts.Codec, codec.JSON{})
	s.log = coalesce[Logger](opts.Logger, NopLogger{})
	s.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	s.concurrency = coalesce(opts.Concurrency, defaultConcurrency)
	s.integrity = opts.Integrity
	s.migrateLegacy = !opts.DisableLegacyMigration
	s.compress = compress.Pipeline{Codec: opts.Compressor, Threshold: opts.CompressThreshold}
	s.now = opts.Now
	if s.now == nil {
		s.now = time.Now
	}

	switch {
	case opts.Cipher != nil:
		s.cipher = opts.Cipher
	case opts.DisableEncryption:
		s.log.Info("encryption disabled by configuration", nil)
	default:
		box, err := newCipher()
		if err != nil {
			s.log.Warn("encryption key generation failed; encryption disabled for this process", Fields{"err": err})
			s.hooks.EncryptionDisabled(err)
		} else {
			s.cipher = box
		}
	}

	s.sweepInterval = coalesce(opts.SweepInterval, defaultSweep)
	if s.sweepInterval > 0 {
		s.ticker = time.NewTicker(s.sweepInterval)
		s.stopCh = make(chan struct{})
		s.sweepCtx, s.sweepCancel = context.WithCancel(context.Background())
		s.closeWg.Add(1)
		go s.cleanupLoop()
	}
	return s, nil
}

func (s *store) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.stopCh != nil {
			s.sweepCancel()
			close(s.stopCh)
			s.closeWg.Wait()
			s.ticker.Stop()
		}
		// the same provider may serve several roles
		seen := make(map[pr.Provider]bool, len(s.backends))
		var errs []error
		for _, name := range s.beOrder {
			p := s.backends[name]
			if seen[p] {
				continue
			}
			seen[p] = true
			if err := p.Close(ctx); err != nil {
				errs = append(errs, &OpError{Op: "close", Backend: name, Err: err})
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

func lockKey(ns, key string) string { return ns + "\x00" + key }

// resolve maps a namespace and an optional backend override to a provider.
func (s *store) resolve(ns, backend string) (Namespace, string, pr.Provider, error) {
	n, err := s.namespace(ns)
	if err != nil {
		return Namespace{}, "", nil, err
	}
	name, p, err := s.backend(n, backend)
	return n, name, p, err
}

func (s *store) namespace(ns string) (Namespace, error) {
	if s.closed.Load() {
		return Namespace{}, ErrClosed
	}
	n, ok := s.namespaces[ns]
	if !ok {
		return Namespace{}, fmt.Errorf("%w: %q", ErrUnknownNamespace, ns)
	}
	return n, nil
}

func (s *store) backend(n Namespace, override string) (string, pr.Provider, error) {
	name := coalesce(override, coalesce(n.Backend, s.defaultBackend))
	p, ok := s.backends[name]
	if !ok {
		return name, nil, fmt.Errorf("%w: %q", ErrBackendUnavailable, name)
	}
	return name, p, nil
}

func (s *store) setConfig(n Namespace, opts []SetOption) setConfig {
	cfg := setConfig{compress: true, version: 1}
	for _, o := range opts {
		o(&cfg)
	}
	if !cfg.ttlSet {
		cfg.ttl = n.TTL
	}
	if cfg.ttl < 0 {
		cfg.ttl = 0
	}
	return cfg
}

func (s *store) getConfig(opts []GetOption) getConfig {
	cfg := getConfig{migrate: s.migrateLegacy}
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

func (s *store) Set(ctx context.Context, ns, key string, value any, opts ...SetOption) error {
	n, err := s.namespace(ns)
	if err != nil {
		return err
	}
	cfg := s.setConfig(n, opts)
	bname, p, err := s.backend(n, cfg.backend)
	if err != nil {
		return err
	}
	payload, err := s.codec.Marshal(value)
	if err != nil {
		return &OpError{Op: "set", Namespace: ns, Key: key, Backend: bname, Err: err}
	}

	release, err := s.locks.Acquire(ctx, lockKey(ns, key))
	if err != nil {
		return err
	}
	defer release()
	_, err = s.writeLocked(context.WithoutCancel(ctx), n, bname, p, key, payload, s.codec.Name(), cfg)
	return err
}

func (s *store) Get(ctx context.Context, ns, key string, dst any, opts ...GetOption) (bool, error) {
	cfg := s.getConfig(opts)
	n, bname, p, err := s.resolve(ns, cfg.backend)
	if err != nil {
		return false, err
	}
	release, err := s.locks.Acquire(ctx, lockKey(ns, key))
	if err != nil {
		return false, err
	}
	l, ok, err := s.readLocked(context.WithoutCancel(ctx), n, bname, p, key, cfg.migrate)
	release()
	if err != nil || !ok {
		return false, err
	}
	if dst == nil {
		return true, nil
	}
	if err := s.codecFor(l.meta.Format).Unmarshal(l.payload, dst); err != nil {
		s.parseFault(ns, key, bname, err)
		return false, nil
	}
	return true, nil
}

func (s *store) Exists(ctx context.Context, ns, key string, opts ...GetOption) (bool, error) {
	return s.Get(ctx, ns, key, nil, opts...)
}

func (s *store) Delete(ctx context.Context, ns, key string, opts ...GetOption) error {
	cfg := s.getConfig(opts)
	_, bname, p, err := s.resolve(ns, cfg.backend)
	if err != nil {
		return err
	}
	release, err := s.locks.Acquire(ctx, lockKey(ns, key))
	if err != nil {
		return err
	}
	defer release()
	if err := p.Delete(context.WithoutCancel(ctx), ns, key); err != nil {
		return &OpError{Op: "delete", Namespace: ns, Key: key, Backend: bname, Err: err}
	}
	return nil
}

func (s *store) Clear(ctx context.Context, ns string, opts ...GetOption) error {
	cfg := s.getConfig(opts)
	_, bname, p, err := s.resolve(ns, cfg.backend)
	if err != nil {
		return err
	}
	if err := p.Clear(ctx, ns); err != nil {
		return &OpError{Op: "clear", Namespace: ns, Backend: bname, Err: err}
	}
	s.log.Debug("namespace cleared", Fields{"ns": ns, "backend": bname})
	return nil
}

func (s *store) SetMultiple(ctx context.Context, ns string, items map[string]any, opts ...SetOption) error {
	if _, err := s.namespace(ns); err != nil {
		return err
	}
	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(s.concurrency)
	for key, value := range items {
		g.Go(func() error {
			if err := s.Set(ctx, ns, key, value, opts...); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (s *store) GetMultiple(ctx context.Context, ns string, keys []string, opts ...GetOption) (map[string]Entry, error) {
	cfg := s.getConfig(opts)
	n, bname, p, err := s.resolve(ns, cfg.backend)
	if err != nil {
		return nil, err
	}
	var (
		mu   sync.Mutex
		out  = make(map[string]Entry, len(keys))
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(s.concurrency)
	for _, key := range keys {
		g.Go(func() error {
			e, ok, err := s.entry(ctx, n, bname, p, key, cfg.migrate)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				errs = append(errs, err)
			case ok:
				out[key] = e
			}
			return nil
		})
	}
	_ = g.Wait()
	return out, errors.Join(errs...)
}

// entry loads one record under its key lock and decodes it generically.
func (s *store) entry(ctx context.Context, n Namespace, bname string, p pr.Provider, key string, migrate bool) (Entry, bool, error) {
	release, err := s.locks.Acquire(ctx, lockKey(n.Name, key))
	if err != nil {
		return Entry{}, false, err
	}
	l, ok, err := s.readLocked(context.WithoutCancel(ctx), n, bname, p, key, migrate)
	release()
	if err != nil || !ok {
		return Entry{}, false, err
	}
	c := s.codecFor(l.meta.Format)
	var v any
	if err := c.Unmarshal(l.payload, &v); err != nil {
		s.parseFault(n.Name, key, bname, err)
		return Entry{}, false, nil
	}
	return Entry{Key: key, Value: v, Meta: l.meta, Backend: bname, payload: l.payload, codec: c}, true, nil
}

func (s *store) codecFor(format string) codec.Codec {
	if format == "" {
		format = "json" // records written before the format field existed
	}
	if format == s.codec.Name() {
		return s.codec
	}
	c, err := codec.ByName(format)
	if err != nil {
		return unknownCodec{format}
	}
	return c
}

type unknownCodec struct{ name string }

func (u unknownCodec) Name() string                { return u.name }
func (u unknownCodec) Marshal(any) ([]byte, error) { return nil, u.err() }
func (u unknownCodec) Unmarshal([]byte, any) error { return u.err() }
func (u unknownCodec) err() error {
	return fmt.Errorf("udstore: unknown payload format %q", u.name)
}

func (s *store) parseFault(ns, key, backend string, err error) {
	s.hooks.ParseFault(ns, key, backend, err)
	s.log.Warn("unreadable record treated as missing", recordFields(ns, key, backend).With("err", err))
}
