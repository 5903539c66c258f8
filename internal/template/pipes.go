package template

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"net/url"
	"strconv"
	"strings"
)

// PipeFunc transforms a value given pipe arguments. The closed set below is
// spec'd in §4.4: hashing, encoding, casing, slicing, padding, concatenation,
// length. Unknown pipe names are handled by the resolver, which substitutes
// the literal "null" rather than calling into this table.
type PipeFunc func(value string, args []string) string

// Pipes is the closed table of pipe functions.
var Pipes = map[string]PipeFunc{
	"md5":    func(v string, _ []string) string { return hex(md5.Sum([]byte(v))[:]) },
	"sha1":   func(v string, _ []string) string { s := sha1.Sum([]byte(v)); return hex(s[:]) },
	"sha224": func(v string, _ []string) string { s := sha256.Sum224([]byte(v)); return hex(s[:]) },
	"sha256": func(v string, _ []string) string { s := sha256.Sum256([]byte(v)); return hex(s[:]) },
	"sha384": func(v string, _ []string) string { s := sha512.Sum384([]byte(v)); return hex(s[:]) },
	"sha512": func(v string, _ []string) string { s := sha512.Sum512([]byte(v)); return hex(s[:]) },

	"base64":   func(v string, _ []string) string { return base64.StdEncoding.EncodeToString([]byte(v)) },
	"unbase64": func(v string, _ []string) string {
		b, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return "null"
		}
		return string(b)
	},
	"encodeUriComponent": func(v string, _ []string) string { return url.QueryEscape(v) },
	"decodeUriComponent": func(v string, _ []string) string {
		s, err := url.QueryUnescape(v)
		if err != nil {
			return "null"
		}
		return s
	},

	"upper": func(v string, _ []string) string { return strings.ToUpper(v) },
	"lower": func(v string, _ []string) string { return strings.ToLower(v) },

	"slice": func(v string, args []string) string {
		start, end := 0, len(v)
		if len(args) > 0 {
			if n, err := strconv.Atoi(args[0]); err == nil {
				start = clampIndex(n, len(v))
			}
		}
		if len(args) > 1 {
			if n, err := strconv.Atoi(args[1]); err == nil {
				end = clampIndex(n, len(v))
			}
		} else {
			end = len(v)
		}
		if start > end {
			return ""
		}
		return v[start:end]
	},

	"padStart": func(v string, args []string) string { return pad(v, args, true) },
	"padEnd":   func(v string, args []string) string { return pad(v, args, false) },

	"concat": func(v string, args []string) string { return v + strings.Join(args, "") },
	"length":  func(v string, _ []string) string { return strconv.Itoa(len(v)) },

	"default": func(v string, args []string) string {
		if v == "" && len(args) > 0 {
			return args[0]
		}
		return v
	},
}

func hex(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexdigits[c>>4]
		out[i*2+1] = hexdigits[c&0xf]
	}
	return string(out)
}

func clampIndex(n, length int) int {
	if n < 0 {
		n += length
	}
	if n < 0 {
		return 0
	}
	if n > length {
		return length
	}
	return n
}

func pad(v string, args []string, start bool) string {
	if len(args) == 0 {
		return v
	}
	width, err := strconv.Atoi(args[0])
	if err != nil || width <= len(v) {
		return v
	}
	fill := " "
	if len(args) > 1 && args[1] != "" {
		fill = args[1]
	}
	need := width - len(v)
	var b strings.Builder
	for b.Len() < need {
		b.WriteString(fill)
	}
	padding := b.String()[:need]
	if start {
		return padding + v
	}
	return v + padding
}

// ApplyPipes runs value through a pipe chain in order. An unrecognized pipe
// name makes the whole chain resolve to the literal "null" per spec §4.4.
func ApplyPipes(value string, pipes []Pipe) string {
	cur := value
	for _, p := range pipes {
		fn, ok := Pipes[p.Name]
		if !ok {
			return "null"
		}
		cur = fn(cur, p.Args)
	}
	return cur
}
