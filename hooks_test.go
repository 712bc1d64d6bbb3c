package udstore

import (
	"context"
	"testing"
	"time"
)

func TestMultiHooksFansOut(t *testing.T) {
	a, b := newRecorder(), newRecorder()
	m := MultiHooks{a, b}
	m.Expired("cache", "k", "ephemeral", true)
	m.RestoreSkipped("ghost", 2)
	m.SweepCompleted(1, time.Millisecond, nil)

	for i, r := range []*recorder{a, b} {
		for _, ev := range []string{"expired cache/k lazy=true", "skipped ghost 2", "sweep 1"} {
			if !r.has(ev) {
				t.Fatalf("hook %d missing %q", i, ev)
			}
		}
	}
}

func TestMultiHooksWiredIntoStore(t *testing.T) {
	extra := newRecorder()
	e := newEnv(t, func(o *Options) {
		o.Hooks = MultiHooks{o.Hooks, extra}
	})
	ctx := context.Background()
	mustSet(t, e.s, "cache", "k", "v", WithTTL(time.Minute))
	e.clock.Advance(2 * time.Minute)
	if ok, err := e.s.Get(ctx, "cache", "k", nil); err != nil || ok {
		t.Fatalf("Get = %v, %v; want expired miss", ok, err)
	}
	if !e.hooks.has("expired cache/k lazy=true") || !extra.has("expired cache/k lazy=true") {
		t.Fatal("both hooks should see the lazy expiry")
	}
}
