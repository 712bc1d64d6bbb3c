package udstore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/unkn0wn-root/udstore/internal/envelope"
	pr "github.com/unkn0wn-root/udstore/provider"
	"github.com/unkn0wn-root/udstore/snapshot"
)

func TestMigrateMovesRecordsUnchanged(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	mustSet(t, e.s, "settings", "plain", smallProfile)
	mustSet(t, e.s, "settings", "sealed", bigProfile, WithEncrypt(true), WithTTL(time.Hour))
	mustSet(t, e.s, "settings", "gone", 1, WithTTL(time.Minute))
	putRaw(t, e.durable, "settings", "legacy", pr.Item{Value: []byte(`{"old":true}`)})
	mustSet(t, e.s, "user", "me", smallProfile)

	before := map[string]Metadata{
		"plain":  mustMeta(t, e.s, "settings", "plain"),
		"sealed": mustMeta(t, e.s, "settings", "sealed"),
	}
	e.clock.Advance(2 * time.Minute)

	rep, err := e.s.Migrate(ctx, BackendDurable, BackendStructured, "settings")
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if diff := cmp.Diff(MigrateReport{Moved: 3, Expired: 1}, rep); diff != "" {
		t.Fatalf("report (-want +got):\n%s", diff)
	}
	if n := e.durable.Len("settings"); n != 0 {
		t.Fatalf("%d keys left in the source", n)
	}
	if e.durable.Len("user") != 1 {
		t.Fatalf("namespaces not asked for were migrated")
	}

	for key, want := range before {
		got := mustMeta(t, e.s, "settings", key, FromBackend(BackendStructured))
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("%s metadata changed (-want +got):\n%s", key, diff)
		}
	}
	sealed, ok, err := GetAs[profile](ctx, e.s, "settings", "sealed", FromBackend(BackendStructured))
	if err != nil || !ok {
		t.Fatalf("GetAs sealed: %v %v", ok, err)
	}
	if diff := cmp.Diff(bigProfile, sealed); diff != "" {
		t.Fatalf("sealed value (-want +got):\n%s", diff)
	}
	it, _, _ := e.structured.Get(ctx, "settings", "sealed")
	if it.Meta == nil {
		t.Fatalf("structured destination did not receive separate metadata")
	}
	legacy, ok, err := GetAs[map[string]bool](ctx, e.s, "settings", "legacy", FromBackend(BackendStructured), WithMigrate(false))
	if err != nil || !ok || !legacy["old"] {
		t.Fatalf("legacy record: %v %v %v", legacy, ok, err)
	}
}

func TestMigrateLeavesUnreadableRecords(t *testing.T) {
	e := newEnv(t, nil)
	putRaw(t, e.durable, "settings", "junk", pr.Item{Value: []byte("{")})
	mustSet(t, e.s, "settings", "ok", 1)

	rep, err := e.s.Migrate(context.Background(), BackendDurable, BackendEphemeral)
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if rep.Moved != 1 || rep.Skipped != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if diff := cmp.Diff([]string{"junk"}, keysOf(t, e.durable, "settings")); diff != "" {
		t.Fatalf("source (-want +got):\n%s", diff)
	}
	if k := rawRecord(t, e.ephemeral, "settings", "ok").Kind; k != envelope.KindEnvelope {
		t.Fatalf("kind on flat destination = %v", k)
	}
}

func TestMigrateArguments(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	if _, err := e.s.Migrate(ctx, BackendDurable, BackendDurable); err == nil {
		t.Fatalf("expected error for identical backends")
	}
	if _, err := e.s.Migrate(ctx, BackendDurable, "tape"); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
	if _, err := e.s.Migrate(ctx, BackendDurable, BackendEphemeral, "nope"); !errors.Is(err, ErrUnknownNamespace) {
		t.Fatalf("expected ErrUnknownNamespace, got %v", err)
	}
}

func queryAll(t *testing.T, s Store, namespaces ...string) map[string]map[string]any {
	t.Helper()
	out := map[string]map[string]any{}
	for _, ns := range namespaces {
		entries, err := s.Query(context.Background(), ns, Query{})
		if err != nil {
			t.Fatalf("Query %s: %v", ns, err)
		}
		out[ns] = map[string]any{}
		for _, e := range entries {
			out[ns][e.Key] = e.Value
		}
	}
	return out
}

func TestBackupRestoreReproducesRecords(t *testing.T) {
	src := newEnv(t, nil)
	ctx := context.Background()
	mustSet(t, src.s, "settings", "theme", map[string]any{"mode": "dark"})
	mustSet(t, src.s, "settings", "lang", "en", WithVersion(3))
	mustSet(t, src.s, "jobs", "j1", job{Title: "eng", Score: intp(4)})
	mustSet(t, src.s, "jobs", "j2", job{Title: "ops", Score: intp(2)})
	mustSet(t, src.s, "user", "me", bigProfile)
	mustSet(t, src.s, "cache", "resp", []int{1, 2, 3})
	mustSet(t, src.s, "settings", "old", 1, WithTTL(time.Minute))
	src.clock.Advance(2 * time.Minute) // "old" is not live anymore

	b, err := src.s.Backup(ctx)
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	doc, err := snapshot.Parse(b)
	if err != nil {
		t.Fatalf("backup is not a valid document: %v", err)
	}
	if doc.Len() != 6 {
		t.Fatalf("backup holds %d records", doc.Len())
	}

	dst := newEnv(t, nil)
	rep, err := dst.s.Restore(ctx, b)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if rep.Restored != 6 || rep.Failed != 0 || len(rep.SkippedNamespaces) != 0 {
		t.Fatalf("report = %+v", rep)
	}

	nss := []string{"settings", "jobs", "user", "cache"}
	if diff := cmp.Diff(queryAll(t, src.s, nss...), queryAll(t, dst.s, nss...)); diff != "" {
		t.Fatalf("restored records differ (-src +dst):\n%s", diff)
	}
	// policy is applied afresh, placement and lifetime are kept
	if !rawRecord(t, dst.durable, "user", "me").Meta.Encrypted {
		t.Fatalf("restored sensitive record is not encrypted")
	}
	if m := mustMeta(t, dst.s, "cache", "resp"); m.TTL != time.Hour-2*time.Minute {
		t.Fatalf("restored ttl = %v", m.TTL)
	}
	if m := mustMeta(t, dst.s, "settings", "lang"); m.Version != 3 {
		t.Fatalf("restored version = %d", m.Version)
	}
	if dst.structured.Len("jobs") != 2 {
		t.Fatalf("jobs not restored to the structured backend")
	}
}

func TestRestoreSkipsUnknownNamespaces(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	mustSet(t, e.s, "settings", "theme", "dark")
	b, err := e.s.Backup(ctx, "settings")
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatal(err)
	}
	var nss map[string]json.RawMessage
	if err := json.Unmarshal(raw["namespaces"], &nss); err != nil {
		t.Fatal(err)
	}
	nss["ghost"] = json.RawMessage(`[{"key":"a","value":1,"createdAt":"2024-01-01T00:00:00Z"},{"key":"b","value":2,"createdAt":"2024-01-01T00:00:00Z"}]`)
	raw["namespaces"], _ = json.Marshal(nss)
	b, _ = json.Marshal(raw)

	if err := e.s.Clear(ctx, "settings"); err != nil {
		t.Fatal(err)
	}
	rep, err := e.s.Restore(ctx, b)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if diff := cmp.Diff(RestoreReport{Restored: 1, SkippedNamespaces: []string{"ghost"}}, rep); diff != "" {
		t.Fatalf("report (-want +got):\n%s", diff)
	}
	if !e.hooks.has("skipped ghost 2") {
		t.Fatalf("hooks: %v", e.hooks.events)
	}
	got, ok, _ := GetAs[string](ctx, e.s, "settings", "theme")
	if !ok || got != "dark" {
		t.Fatalf("theme = %q %v", got, ok)
	}
}

func TestRestoreRejectsMalformedBackups(t *testing.T) {
	e := newEnv(t, nil)
	for _, b := range []string{
		``,
		`{}`,
		`[1,2]`,
		`{"format":"udstore-backup","version":99,"id":"0190b8a0-0000-7000-8000-000000000000","createdAt":"2025-01-01T00:00:00Z","namespaces":{}}`,
	} {
		if _, err := e.s.Restore(context.Background(), []byte(b)); !errors.Is(err, ErrMalformedBackup) {
			t.Fatalf("Restore(%q): expected ErrMalformedBackup, got %v", b, err)
		}
	}
}
