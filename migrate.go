package udstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/unkn0wn-root/udstore/internal/envelope"
	pr "github.com/unkn0wn-root/udstore/provider"
	"github.com/unkn0wn-root/udstore/snapshot"
)

type moveResult uint8

const (
	moveGone moveResult = iota // deleted by someone else meanwhile
	moveDone
	moveExpired
	moveSkipped
)

// selectNamespaces validates names, defaulting to every namespace.
func (s *store) selectNamespaces(names []string) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if len(names) == 0 {
		return s.nsOrder, nil
	}
	for _, ns := range names {
		if _, ok := s.namespaces[ns]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownNamespace, ns)
		}
	}
	return names, nil
}

func (s *store) Migrate(ctx context.Context, from, to string, namespaces ...string) (MigrateReport, error) {
	var rep MigrateReport
	nss, err := s.selectNamespaces(namespaces)
	if err != nil {
		return rep, err
	}
	if from == to {
		return rep, fmt.Errorf("udstore: migrate source and destination are both %q", from)
	}
	src, ok := s.backends[from]
	if !ok {
		return rep, fmt.Errorf("%w: %q", ErrBackendUnavailable, from)
	}
	dst, ok := s.backends[to]
	if !ok {
		return rep, fmt.Errorf("%w: %q", ErrBackendUnavailable, to)
	}

	var errs []error
	for _, ns := range nss {
		keys, err := src.Keys(ctx, ns)
		if err != nil {
			return rep, errors.Join(append(errs, &OpError{Op: "migrate", Namespace: ns, Backend: from, Err: err})...)
		}
		for _, key := range keys {
			if err := ctx.Err(); err != nil {
				return rep, errors.Join(append(errs, err)...)
			}
			res, err := s.moveKey(ctx, ns, key, from, src, to, dst)
			if err != nil {
				rep.Failed++
				errs = append(errs, err)
				continue
			}
			switch res {
			case moveDone:
				rep.Moved++
			case moveExpired:
				rep.Expired++
			case moveSkipped:
				rep.Skipped++
			}
		}
		s.log.Info("namespace migrated", Fields{"ns": ns, "from": from, "to": to, "moved": rep.Moved})
	}
	return rep, errors.Join(errs...)
}

// moveKey copies one record unchanged and then removes the source copy.
// A crash in between leaves the record on both backends, never on neither.
func (s *store) moveKey(ctx context.Context, ns, key, from string, src pr.Provider, to string, dst pr.Provider) (moveResult, error) {
	release, err := s.locks.Acquire(ctx, lockKey(ns, key))
	if err != nil {
		return moveGone, err
	}
	defer release()
	ctx = context.WithoutCancel(ctx)

	it, ok, err := src.Get(ctx, ns, key)
	if err != nil {
		return moveGone, &OpError{Op: "migrate", Namespace: ns, Key: key, Backend: from, Err: err}
	}
	if !ok {
		return moveGone, nil
	}
	rec, err := envelope.Decode(it)
	if err != nil {
		s.parseFault(ns, key, from, err)
		return moveSkipped, nil
	}
	if rec.Kind != envelope.KindLegacy && rec.Meta.Expired(s.now()) {
		if err := src.Delete(ctx, ns, key); err != nil {
			return moveGone, &OpError{Op: "migrate", Namespace: ns, Key: key, Backend: from, Err: err}
		}
		s.hooks.Expired(ns, key, from, false)
		return moveExpired, nil
	}

	out := it
	if rec.Kind != envelope.KindLegacy {
		// re-frame for the destination's shape; metadata and payload bytes are kept
		if out, err = envelope.Encode(rec, dst.Capabilities().SeparateMetadata); err != nil {
			return moveGone, &OpError{Op: "migrate", Namespace: ns, Key: key, Backend: to, Err: err}
		}
	}
	if err := s.putItem(ctx, ns, to, dst, key, out); err != nil {
		return moveGone, err
	}
	if err := src.Delete(ctx, ns, key); err != nil {
		return moveGone, &OpError{Op: "migrate", Namespace: ns, Key: key, Backend: from, Err: err}
	}
	return moveDone, nil
}

func (s *store) Backup(ctx context.Context, namespaces ...string) ([]byte, error) {
	nss, err := s.selectNamespaces(namespaces)
	if err != nil {
		return nil, err
	}
	now := s.now()
	doc := snapshot.New(now)
	backends := s.distinctBackends()
	for _, ns := range nss {
		n := s.namespaces[ns]
		doc.Touch(ns)
		for _, bname := range backends {
			p := s.backends[bname]
			keys, err := p.Keys(ctx, ns)
			if err != nil {
				return nil, &OpError{Op: "backup", Namespace: ns, Backend: bname, Err: err}
			}
			for _, key := range keys {
				e, ok, err := s.entry(ctx, n, bname, p, key, false)
				switch {
				case errors.Is(err, ErrIntegrity):
					s.log.Warn("record left out of backup", recordFields(ns, key, bname).With("err", err))
					continue
				case err != nil:
					return nil, err
				case !ok:
					continue
				}
				value, err := s.backupValue(e)
				if err != nil {
					return nil, &OpError{Op: "backup", Namespace: ns, Key: key, Backend: bname, Err: err}
				}
				var ttl int64
				if _, ok := e.Meta.ExpiresAt(); ok {
					ttl = max(envelope.TTLMillis(e.Meta.Remaining(now)), 1)
				}
				doc.Add(ns, snapshot.Entry{
					Key:       key,
					Value:     value,
					TTL:       ttl,
					Version:   e.Meta.Version,
					Backend:   bname,
					CreatedAt: e.Meta.CreatedAt,
				})
			}
		}
	}
	s.log.Info("backup taken", Fields{"id": doc.ID, "namespaces": len(nss), "records": doc.Len()})
	return doc.Marshal()
}

// backupValue renders a payload as JSON, verbatim when it already is.
func (s *store) backupValue(e Entry) (json.RawMessage, error) {
	if e.codec.Name() == "json" && json.Valid(e.payload) {
		return json.RawMessage(e.payload), nil
	}
	return json.Marshal(e.Value)
}

func (s *store) Restore(ctx context.Context, data []byte) (RestoreReport, error) {
	var rep RestoreReport
	if s.closed.Load() {
		return rep, ErrClosed
	}
	doc, err := snapshot.Parse(data)
	if err != nil {
		return rep, fmt.Errorf("%w: %v", ErrMalformedBackup, err)
	}

	var errs []error
	for _, ns := range doc.Names() {
		entries := doc.Namespaces[ns]
		if _, ok := s.namespaces[ns]; !ok {
			rep.SkippedNamespaces = append(rep.SkippedNamespaces, ns)
			s.hooks.RestoreSkipped(ns, len(entries))
			s.log.Warn("restore skipped unknown namespace", Fields{"ns": ns, "entries": len(entries), "backup": doc.ID})
			continue
		}
		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				return rep, errors.Join(append(errs, err)...)
			}
			value, err := s.restoreValue(e.Value)
			if err != nil {
				rep.Failed++
				errs = append(errs, &OpError{Op: "restore", Namespace: ns, Key: e.Key, Err: err})
				continue
			}
			opts := []SetOption{WithTTL(e.Lifetime())}
			if e.Version > 0 {
				opts = append(opts, WithVersion(e.Version))
			}
			if _, ok := s.backends[e.Backend]; ok {
				opts = append(opts, WithBackend(e.Backend))
			}
			if err := s.Set(ctx, ns, e.Key, value, opts...); err != nil {
				rep.Failed++
				errs = append(errs, err)
				continue
			}
			rep.Restored++
		}
	}
	s.log.Info("backup restored", Fields{"backup": doc.ID, "restored": rep.Restored, "failed": rep.Failed, "skipped": len(rep.SkippedNamespaces)})
	return rep, errors.Join(errs...)
}

func (s *store) restoreValue(raw json.RawMessage) (any, error) {
	if s.codec.Name() == "json" {
		return raw, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
