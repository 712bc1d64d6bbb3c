package udstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/unkn0wn-root/udstore/compress"
	"github.com/unkn0wn-root/udstore/internal/envelope"
	pr "github.com/unkn0wn-root/udstore/provider"
)

var errChecksum = errors.New("checksum mismatch")

// loaded is a record after the read pipeline: the serialized payload and
// the metadata it was stored with.
type loaded struct {
	payload []byte
	meta    Metadata
}

func checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func (s *store) encrypting(n Namespace, cfg setConfig) bool {
	if n.Sensitive {
		return true
	}
	if cfg.encrypt != nil {
		return *cfg.encrypt
	}
	return n.Encrypt
}

// writeLocked runs the write pipeline for a serialized payload. The caller
// holds the key lock.
func (s *store) writeLocked(ctx context.Context, n Namespace, bname string, p pr.Provider, key string, payload []byte, format string, cfg setConfig) (Metadata, error) {
	now := s.now()
	meta := Metadata{
		CreatedAt: now,
		UpdatedAt: now,
		Version:   cfg.version,
		TTL:       envelope.RoundTTL(cfg.ttl),
		Format:    format,
	}
	if prev, ok := s.peekMeta(ctx, p, n.Name, key); ok {
		if !prev.Expired(now) {
			meta.CreatedAt = prev.CreatedAt
		}
		if !meta.UpdatedAt.After(prev.UpdatedAt) {
			meta.UpdatedAt = prev.UpdatedAt.Add(time.Nanosecond)
		}
	}

	encrypt := s.encrypting(n, cfg)
	if encrypt && s.cipher == nil {
		if n.Sensitive {
			return Metadata{}, &OpError{Op: "set", Namespace: n.Name, Key: key, Backend: bname, Err: ErrEncryptionUnavailable}
		}
		if s.plainWarned.CompareAndSwap(false, true) {
			s.log.Warn("encryption unavailable; storing plaintext", Fields{"ns": n.Name})
		}
		encrypt = false
	}

	data := payload
	if encrypt {
		meta.Checksum = checksum(payload)
	}
	if cfg.compress {
		data, meta.Compressed = s.compress.Compress(data)
	}
	if encrypt {
		sealed, err := s.cipher.Seal(data)
		if err != nil {
			return Metadata{}, &OpError{Op: "seal", Namespace: n.Name, Key: key, Backend: bname, Err: err}
		}
		data, meta.Encrypted = sealed, true
	}

	if err := s.putRecord(ctx, n.Name, bname, p, key, envelope.Record{Meta: meta, Data: data}); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

// peekMeta returns the metadata of the stored record, if it has any.
func (s *store) peekMeta(ctx context.Context, p pr.Provider, ns, key string) (Metadata, bool) {
	it, ok, err := p.Get(ctx, ns, key)
	if err != nil || !ok {
		return Metadata{}, false
	}
	rec, err := envelope.Decode(it)
	if err != nil || rec.Kind == envelope.KindLegacy {
		return Metadata{}, false
	}
	return rec.Meta, true
}

func (s *store) putRecord(ctx context.Context, ns, bname string, p pr.Provider, key string, rec envelope.Record) error {
	it, err := envelope.Encode(rec, p.Capabilities().SeparateMetadata)
	if err != nil {
		return &OpError{Op: "set", Namespace: ns, Key: key, Backend: bname, Err: err}
	}
	return s.putItem(ctx, ns, bname, p, key, it)
}

// putItem writes an item, sweeping expired records and retrying once when
// the backend is full.
func (s *store) putItem(ctx context.Context, ns, bname string, p pr.Provider, key string, it pr.Item) error {
	err := p.Put(ctx, ns, key, it)
	if errors.Is(err, pr.ErrCapacityExceeded) {
		swept, serr := s.sweepBackend(ctx, bname, p, true)
		err = p.Put(ctx, ns, key, it)
		s.hooks.CapacityRetry(ns, key, bname, swept, err)
		f := recordFields(ns, key, bname).With("swept", swept)
		if serr != nil {
			f["sweepErr"] = serr
		}
		if err != nil {
			f["err"] = err
		}
		s.log.Warn("backend full; swept expired records and retried write", f)
	}
	if err != nil {
		return &OpError{Op: "set", Namespace: ns, Key: key, Backend: bname, Err: err}
	}
	return nil
}

// readLocked runs the read pipeline. The caller holds the key lock. A miss,
// an expired record and an unreadable record all return ok=false.
func (s *store) readLocked(ctx context.Context, n Namespace, bname string, p pr.Provider, key string, migrate bool) (loaded, bool, error) {
	it, ok, err := p.Get(ctx, n.Name, key)
	if err != nil {
		return loaded{}, false, &OpError{Op: "get", Namespace: n.Name, Key: key, Backend: bname, Err: err}
	}
	if !ok {
		return loaded{}, false, nil
	}
	rec, err := envelope.Decode(it)
	if err != nil {
		s.parseFault(n.Name, key, bname, err)
		return loaded{}, false, nil
	}

	if rec.Kind == envelope.KindLegacy {
		return s.readLegacy(ctx, n, bname, p, key, rec.Data, migrate), true, nil
	}

	if rec.Meta.Expired(s.now()) {
		if err := p.Delete(ctx, n.Name, key); err != nil {
			s.log.Warn("failed to delete expired record", recordFields(n.Name, key, bname).With("err", err))
		} else {
			s.hooks.Expired(n.Name, key, bname, true)
			s.log.Debug("expired record removed on read", recordFields(n.Name, key, bname))
		}
		return loaded{}, false, nil
	}

	if rec.Kind == envelope.KindPreMagic && migrate {
		if err := s.putRecord(ctx, n.Name, bname, p, key, rec); err != nil {
			s.log.Warn("pre-magic record upgrade failed", recordFields(n.Name, key, bname).With("err", err))
		} else {
			s.hooks.LegacyMigrated(n.Name, key, bname, envelope.KindPreMagic.String())
		}
	}

	data := rec.Data
	if rec.Meta.Encrypted {
		if s.cipher == nil {
			return s.integrityFault(n.Name, key, bname, ErrEncryptionUnavailable, nil, rec.Meta)
		}
		plain, err := s.cipher.Open(data)
		if err != nil {
			return s.integrityFault(n.Name, key, bname, err, nil, rec.Meta)
		}
		data = plain
	}

	data, err = s.inflate(n.Name, key, bname, data, rec.Meta.Compressed)
	if err != nil {
		s.parseFault(n.Name, key, bname, err)
		return loaded{}, false, nil
	}

	if rec.Meta.Checksum != "" && checksum(data) != rec.Meta.Checksum {
		return s.integrityFault(n.Name, key, bname, errChecksum, data, rec.Meta)
	}
	return loaded{payload: data, meta: rec.Meta}, true, nil
}

// inflate undoes compression. The marker is checked independently of the
// flag; a mismatch is reported and the marker wins unless it does not
// decode on a record that never claimed to be compressed.
func (s *store) inflate(ns, key, bname string, data []byte, flagged bool) ([]byte, error) {
	marked := compress.HasMarker(data)
	if marked != flagged {
		s.hooks.CompressionMismatch(ns, key, bname, flagged, marked)
		s.log.Warn("compression flag disagrees with payload marker", recordFields(ns, key, bname).With("flagged", flagged).With("marked", marked))
	}
	if !marked {
		return data, nil
	}
	out, _, err := s.compress.Decompress(data)
	if err != nil {
		if !flagged {
			return data, nil
		}
		return nil, err
	}
	return out, nil
}

func (s *store) readLegacy(ctx context.Context, n Namespace, bname string, p pr.Provider, key string, raw []byte, migrate bool) loaded {
	l := loaded{payload: raw, meta: Metadata{Version: 1, Format: "json"}}
	if !migrate {
		return l
	}
	cfg := setConfig{compress: true, version: 1, ttlSet: true}
	meta, err := s.writeLocked(ctx, n, bname, p, key, raw, "json", cfg)
	if err != nil {
		s.log.Warn("legacy record migration failed", recordFields(n.Name, key, bname).With("err", err))
		return l
	}
	s.hooks.LegacyMigrated(n.Name, key, bname, envelope.KindLegacy.String())
	s.log.Info("legacy record migrated", recordFields(n.Name, key, bname))
	l.meta = meta
	return l
}

func (s *store) integrityFault(ns, key, bname string, err error, recovered []byte, meta Metadata) (loaded, bool, error) {
	s.hooks.IntegrityFault(ns, key, bname, err)
	s.log.Error("integrity check failed", recordFields(ns, key, bname).With("err", err))
	switch s.integrity {
	case IntegrityReturn:
		if recovered == nil {
			return loaded{}, false, nil
		}
		return loaded{payload: recovered, meta: meta}, true, nil
	case IntegrityMissing:
		return loaded{}, false, nil
	default:
		return loaded{}, false, &IntegrityError{Namespace: ns, Key: key, Backend: bname, Err: err}
	}
}
