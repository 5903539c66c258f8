package template

import "testing"

func TestResolveNoTokensReturnsUnchanged(t *testing.T) {
	in := "plain text with no tokens"
	out := Resolve(in, func(string) (string, bool) { return "", false })
	if out != in {
		t.Fatalf("Resolve(%q) = %q, want unchanged", in, out)
	}
}

func TestResolveVarSubstitution(t *testing.T) {
	lookup := func(name string) (string, bool) {
		if name == "x" {
			return "hello", true
		}
		return "", false
	}
	out := Resolve("value={{x}}", lookup)
	if out != "value=hello" {
		t.Fatalf("Resolve = %q, want value=hello", out)
	}
}

func TestResolveJustOnceSameVariableIdenticalAcrossRun(t *testing.T) {
	calls := 0
	lookup := func(name string) (string, bool) {
		calls++
		return "v", true
	}
	out1 := Resolve("{{x}}-{{x}}", lookup)
	out2 := Resolve("{{x}}-{{x}}", lookup)
	if out1 != out2 {
		t.Fatalf("two resolutions of same text/state differ: %q vs %q", out1, out2)
	}
	if out1 != "v-v" {
		t.Fatalf("got %q, want v-v", out1)
	}
}

func TestResolveMockIndependentPerOccurrence(t *testing.T) {
	out := Resolve("{% mock 'integer',1,100 %}-{% mock 'integer',1,100 %}", nil)
	parts := []byte(out)
	if len(parts) == 0 {
		t.Fatalf("expected non-empty resolution")
	}
	// Not asserting the two draws differ (they legitimately can collide),
	// only that the mock tokens did not come back unresolved.
	if out == "{% mock 'integer',1,100 %}-{% mock 'integer',1,100 %}" {
		t.Fatalf("mock tokens were not resolved at all")
	}
}

func TestResolvePipeChain(t *testing.T) {
	lookup := func(name string) (string, bool) { return "HELLO", true }
	out := Resolve("{{x|lower}}", lookup)
	if out != "hello" {
		t.Fatalf("got %q, want hello", out)
	}
}

func TestUnknownPipeResolvesToNull(t *testing.T) {
	lookup := func(name string) (string, bool) { return "v", true }
	out := Resolve("{{x|not_a_real_pipe}}", lookup)
	if out != "null" {
		t.Fatalf("got %q, want null", out)
	}
}

func TestBase64RoundTrip(t *testing.T) {
	lookup := func(name string) (string, bool) { return "round trip me", true }
	encoded := Resolve("{{x|base64}}", lookup)
	decodeLookup := func(name string) (string, bool) { return encoded, true }
	decoded := Resolve("{{x|unbase64}}", decodeLookup)
	if decoded != "round trip me" {
		t.Fatalf("base64/unbase64 round trip failed: got %q", decoded)
	}
}

func TestLiteralToken(t *testing.T) {
	out := Resolve("{{'literal value'}}", nil)
	if out != "literal value" {
		t.Fatalf("got %q", out)
	}
}
