package vars

import "testing"

func TestHandlePrecedence(t *testing.T) {
	global := NewGlobalStore()
	global.Set("x", "global")
	env := NewEnvStore(map[string]any{"x": "base-env"}, map[string]any{"x": "local-env"})
	chain := Chain{NewTempFrame(map[string]any{"x": "temp"}, true)}

	h := &Handle{Temp: chain, Env: env, Global: global, Writable: true}

	v, ok := h.Get("x")
	if !ok || v != "temp" {
		t.Fatalf("Get(x) = %v, %v; want temp, true", v, ok)
	}

	h.Temp = nil
	v, ok = h.Get("x")
	if !ok || v != "local-env" {
		t.Fatalf("Get(x) after dropping temp = %v, %v; want local-env, true (node-local wins)", v, ok)
	}
}

func TestHandleReadOnlyRejectsWrite(t *testing.T) {
	var warned string
	h := &Handle{
		Temp:     Chain{NewTempFrame(nil, true)},
		Writable: false,
		OnReadOnlyWrite: func(name string) {
			warned = name
		},
	}
	if err := h.Set(ScopeTemp, "y", 1, false); err == nil {
		t.Fatalf("expected error writing to read-only handle")
	}
	if warned != "y" {
		t.Fatalf("OnReadOnlyWrite callback not invoked with correct name, got %q", warned)
	}
}

func TestChainSetBoundary(t *testing.T) {
	inner := NewTempFrame(nil, false)
	boundary := NewTempFrame(nil, true)
	chain := Chain{inner, boundary}

	if err := chain.SetBoundary("z", 42); err != nil {
		t.Fatalf("SetBoundary: %v", err)
	}
	if _, ok := inner.values["z"]; ok {
		t.Fatalf("SetBoundary wrote to inner frame, want boundary frame")
	}
	if boundary.values["z"] != 42 {
		t.Fatalf("boundary frame missing write")
	}
}

func TestGlobalStoreIndependentOfEnvStore(t *testing.T) {
	g := NewGlobalStore()
	g.Set("k", "v")
	if v, ok := g.Get("k"); !ok || v != "v" {
		t.Fatalf("GlobalStore.Get = %v, %v", v, ok)
	}
	if _, ok := g.Get("missing"); ok {
		t.Fatalf("expected miss for unset key")
	}
}
