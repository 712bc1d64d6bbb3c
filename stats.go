package udstore

import (
	"context"
	"time"

	"github.com/unkn0wn-root/udstore/internal/envelope"
	pr "github.com/unkn0wn-root/udstore/provider"
)

// Stats walks every backend and counts what is stored for the selected
// namespaces. Records are classified from their envelope only; nothing is
// decrypted, migrated or deleted.
func (s *store) Stats(ctx context.Context, namespaces ...string) (Stats, error) {
	nss, err := s.selectNamespaces(namespaces)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{
		Backends:          make(map[string]Usage),
		Namespaces:        make(map[string]Usage),
		EncryptionEnabled: s.cipher != nil,
	}
	now := s.now()
	for _, bname := range s.distinctBackends() {
		var bu Usage
		for _, ns := range nss {
			u, err := s.usage(ctx, bname, s.backends[bname], ns, now)
			if err != nil {
				return Stats{}, err
			}
			bu.add(u)
			nu := st.Namespaces[ns]
			nu.add(u)
			st.Namespaces[ns] = nu
		}
		st.Backends[bname] = bu
		st.Total.add(bu)
	}
	return st, nil
}

func (s *store) usage(ctx context.Context, bname string, p pr.Provider, ns string, now time.Time) (Usage, error) {
	var u Usage
	keys, err := p.Keys(ctx, ns)
	if err != nil {
		return u, &OpError{Op: "stats", Namespace: ns, Backend: bname, Err: err}
	}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return u, err
		}
		it, ok, err := p.Get(ctx, ns, key)
		if err != nil {
			return u, &OpError{Op: "stats", Namespace: ns, Key: key, Backend: bname, Err: err}
		}
		if !ok {
			continue
		}
		u.Records++
		u.Bytes += it.Size()
		rec, err := envelope.Decode(it)
		switch {
		case err != nil:
			u.Unreadable++
			continue
		case rec.Kind.NeedsUpgrade():
			u.Legacy++
		}
		if rec.Meta.Expired(now) {
			u.Expired++
		}
		if rec.Meta.Encrypted {
			u.Encrypted++
		}
		if rec.Meta.Compressed {
			u.Compressed++
		}
	}
	return u, nil
}
