// Package consul stores records in the Consul KV store. Intended for small
// settings-style namespaces: Consul caps a value at 512KB.
package consul

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/hashicorp/consul/api"

	"github.com/unkn0wn-root/udstore/internal/util"
	pr "github.com/unkn0wn-root/udstore/provider"
)

// MaxValueSize is Consul's default per-value limit.
const MaxValueSize = 512 * 1024

type Provider struct {
	kv     *api.KV
	prefix string
}

var _ pr.Provider = (*Provider)(nil)

type Config struct {
	// Address of the Consul agent (default: "127.0.0.1:8500")
	Address    string
	Token      string
	Datacenter string
	Namespace  string // Consul Enterprise only
	Prefix     string // default "uds:"
}

func New(cfg Config) (*Provider, error) {
	clientConfig := api.DefaultConfig()
	if cfg.Address != "" {
		clientConfig.Address = cfg.Address
	}
	if cfg.Token != "" {
		clientConfig.Token = cfg.Token
	}
	if cfg.Datacenter != "" {
		clientConfig.Datacenter = cfg.Datacenter
	}
	if cfg.Namespace != "" {
		clientConfig.Namespace = cfg.Namespace
	}
	client, err := api.NewClient(clientConfig)
	if err != nil {
		return nil, err
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = util.DefaultPrefix
	}
	return &Provider{kv: client.KV(), prefix: prefix}, nil
}

func (p *Provider) Name() string { return "consul" }

func (p *Provider) Capabilities() pr.Capabilities {
	return pr.Capabilities{Durable: true, MaxValueSize: MaxValueSize}
}

func (p *Provider) Get(ctx context.Context, ns, key string) (pr.Item, bool, error) {
	pair, _, err := p.kv.Get(util.StorageKey(p.prefix, ns, key), (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return pr.Item{}, false, err
	}
	if pair == nil {
		return pr.Item{}, false, nil
	}
	value := pair.Value
	if value == nil {
		value = []byte{}
	}
	return pr.Item{Value: value}, true, nil
}

func (p *Provider) Put(ctx context.Context, ns, key string, it pr.Item) error {
	if len(it.Value) > MaxValueSize {
		return fmt.Errorf("%w: %d bytes exceeds consul limit of %d", pr.ErrCapacityExceeded, len(it.Value), MaxValueSize)
	}
	pair := &api.KVPair{Key: util.StorageKey(p.prefix, ns, key), Value: it.Value}
	_, err := p.kv.Put(pair, (&api.WriteOptions{}).WithContext(ctx))
	return err
}

func (p *Provider) Delete(ctx context.Context, ns, key string) error {
	_, err := p.kv.Delete(util.StorageKey(p.prefix, ns, key), (&api.WriteOptions{}).WithContext(ctx))
	return err
}

func (p *Provider) Keys(ctx context.Context, ns string) ([]string, error) {
	raw, _, err := p.kv.Keys(util.NamespacePrefix(p.prefix, ns), "", (&api.QueryOptions{}).WithContext(ctx))
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

func (p *Provider) Clear(ctx context.Context, ns string) error {
	_, err := p.kv.DeleteTree(util.NamespacePrefix(p.prefix, ns), (&api.WriteOptions{}).WithContext(ctx))
	return err
}

// Close is a no-op: the Consul client holds no connection state.
func (p *Provider) Close(context.Context) error { return nil }

// Ping checks that the agent answers.
func (p *Provider) Ping(ctx context.Context) error {
	_, _, err := p.kv.Get(p.prefix+"ping", (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return errors.Join(pr.ErrUnavailable, err)
	}
	return nil
}
