package template

import (
	"fmt"
	"strings"
)

// VarLookup resolves a variable name to its string form, as seen through a
// vars.Handle. It is an interface (not a concrete vars.Handle dependency)
// so template stays decoupled from the vars package.
type VarLookup func(name string) (string, bool)

// ResolutionMode selects whether a token is resolved once and substituted
// everywhere, or independently per occurrence (spec §4.4).
type ResolutionMode int

const (
	JustOnce ResolutionMode = iota
	ChangeEveryTime
)

// Resolve renders text by substituting every `{{..}}`/`{% mock .. %}` token.
// The resolution mode is selected automatically: JustOnce unless any token
// references a mock, in which case ChangeEveryTime is used and every
// occurrence (including repeated identical tokens) is drawn independently.
func Resolve(text string, lookup VarLookup) string {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return text
	}

	mode := JustOnce
	if HasMock(tokens) {
		mode = ChangeEveryTime
	}

	cache := make(map[string]string)
	var b strings.Builder
	last := 0
	for _, tok := range tokens {
		b.WriteString(text[last:tok.Start])
		if mode == JustOnce {
			if v, ok := cache[tok.Raw]; ok {
				b.WriteString(v)
				last = tok.End
				continue
			}
		}
		resolved := resolveToken(tok, lookup)
		if mode == JustOnce {
			cache[tok.Raw] = resolved
		}
		b.WriteString(resolved)
		last = tok.End
	}
	b.WriteString(text[last:])
	return b.String()
}

func resolveToken(tok Token, lookup VarLookup) string {
	switch tok.Kind {
	case KindLiteral:
		return ApplyPipes(tok.Name, tok.Pipes)
	case KindMock:
		return ResolveMock(tok.MockFn, tok.MockArgs, tok.Pipes)
	case KindVar:
		v, ok := lookup(tok.Name)
		if !ok {
			return "null"
		}
		return ApplyPipes(v, tok.Pipes)
	default:
		return "null"
	}
}

// ResolveAny is a convenience wrapper for non-string values: it stringifies
// via fmt.Sprint before template resolution, matching how the engine treats
// any scalar bound into text.
func ResolveAny(text string, lookup func(name string) (any, bool)) string {
	return Resolve(text, func(name string) (string, bool) {
		v, ok := lookup(name)
		if !ok {
			return "", false
		}
		return fmt.Sprint(v), true
	})
}
