package zap

import (
	"errors"
	"testing"

	"github.com/unkn0wn-root/udstore"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestFieldsAreTyped(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := New(zap.New(core))

	l.Warn("record left out of backup", udstore.Fields{
		"ns":  "user",
		"key": "u1",
		"err": errors.New("checksum mismatch"),
		"nil": nil,
	})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.LoggerName != "udstore" {
		t.Fatalf("logger name = %q", e.LoggerName)
	}
	ctx := e.ContextMap()
	if ctx["ns"] != "user" || ctx["err"] != "checksum mismatch" {
		t.Fatalf("context = %v", ctx)
	}
	if _, ok := ctx["nil"]; ok {
		t.Fatalf("nil field should be dropped: %v", ctx)
	}
}

func TestLevels(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	l := New(zap.New(core))
	l.Debug("hidden", nil)
	l.Info("a", nil)
	l.Error("b", nil)
	if n := logs.Len(); n != 2 {
		t.Fatalf("entries = %d, want 2", n)
	}
}
