package sloghooks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/udstore"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	ExpiredEvery  uint64
	MigratedEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
	// QuietSweeps skips sweeps that removed nothing and did not fail.
	QuietSweeps bool
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	expiredCtr  atomic.Uint64
	migratedCtr atomic.Uint64
}

var _ udstore.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) IntegrityFault(ns, key, backend string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("udstore.integrity_fault",
		"ns", ns,
		"key", h.redact(key),
		"backend", backend,
		"err", err)
}

func (h *Hooks) ParseFault(ns, key, backend string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("udstore.parse_fault",
		"ns", ns,
		"key", h.redact(key),
		"backend", backend,
		"err", err)
}

func (h *Hooks) Expired(ns, key, backend string, lazy bool) {
	if h.l == nil || !sample(h.opts.ExpiredEvery, &h.expiredCtr) {
		return
	}
	h.l.Debug("udstore.expired",
		"ns", ns,
		"key", h.redact(key),
		"backend", backend,
		"lazy", lazy)
}

func (h *Hooks) CapacityRetry(ns, key, backend string, swept int, err error) {
	if h.l == nil {
		return
	}
	lvl := slog.LevelWarn
	if err != nil {
		lvl = slog.LevelError
	}
	h.l.Log(context.Background(), lvl, "udstore.capacity_retry",
		"ns", ns,
		"key", h.redact(key),
		"backend", backend,
		"swept", swept,
		"err", err)
}

func (h *Hooks) LegacyMigrated(ns, key, backend, kind string) {
	if h.l == nil || !sample(h.opts.MigratedEvery, &h.migratedCtr) {
		return
	}
	h.l.Info("udstore.legacy_migrated",
		"ns", ns,
		"key", h.redact(key),
		"backend", backend,
		"kind", kind)
}

func (h *Hooks) CompressionMismatch(ns, key, backend string, flagged, marked bool) {
	if h.l == nil {
		return
	}
	h.l.Warn("udstore.compression_mismatch",
		"ns", ns,
		"key", h.redact(key),
		"backend", backend,
		"flagged", flagged,
		"marked", marked)
}

func (h *Hooks) RestoreSkipped(ns string, entries int) {
	if h.l == nil {
		return
	}
	h.l.Warn("udstore.restore_skipped",
		"ns", ns,
		"entries", entries)
}

func (h *Hooks) EncryptionDisabled(err error) {
	if h.l == nil {
		return
	}
	h.l.Error("udstore.encryption_disabled",
		"err", err,
		"msg", "sensitive namespaces reject writes until restart")
}

func (h *Hooks) SweepCompleted(removed int, took time.Duration, err error) {
	if h.l == nil || (h.opts.QuietSweeps && removed == 0 && err == nil) {
		return
	}
	h.l.Info("udstore.sweep_completed",
		"removed", removed,
		"took", took,
		"err", err)
}
