package template

import (
	"strconv"
	"strings"

	"github.com/brianvoe/gofakeit/v7"
)

// MockFunc generates a value given raw string args. The closed set mirrors
// spec §4.4: booleans, numerics, strings, dates/datetimes/timestamps with
// offsets, identity fields, localized names/text, colors, regex-restricted
// strings.
type MockFunc func(args []string) string

// maxGenerateLength bounds any mock-generated string length (default 512;
// SetMaxLength changes it).
var maxGenerateLength = 512

// SetMaxLength configures the cap applied to generated strings.
func SetMaxLength(n int) {
	if n > 0 {
		maxGenerateLength = n
	}
}

func clampLen(s string) string {
	if len(s) > maxGenerateLength {
		return s[:maxGenerateLength]
	}
	return s
}

func argInt(args []string, idx, def int) int {
	if idx >= len(args) {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(args[idx]))
	if err != nil {
		return def
	}
	return n
}

// Mocks is the closed table of mock generator functions.
var Mocks = map[string]MockFunc{
	"boolean": func(args []string) string {
		return strconv.FormatBool(gofakeit.Bool())
	},
	"integer": func(args []string) string {
		lo, hi := argInt(args, 0, 0), argInt(args, 1, 100)
		if hi < lo {
			lo, hi = hi, lo
		}
		return strconv.Itoa(gofakeit.IntRange(lo, hi))
	},
	"float": func(args []string) string {
		lo := float64(argInt(args, 0, 0))
		hi := float64(argInt(args, 1, 100))
		return strconv.FormatFloat(gofakeit.Float64Range(lo, hi), 'f', -1, 64)
	},
	"string": func(args []string) string {
		n := argInt(args, 0, 10)
		return clampLen(gofakeit.LetterN(uint(n)))
	},
	"regex": func(args []string) string {
		if len(args) == 0 {
			return "null"
		}
		return clampLen(gofakeit.Regex(args[0]))
	},
	"date": func(args []string) string {
		return gofakeit.Date().Format("2006-01-02")
	},
	"datetime": func(args []string) string {
		return gofakeit.Date().Format("2006-01-02T15:04:05Z07:00")
	},
	"timestamp": func(args []string) string {
		offsetSec := argInt(args, 0, 0)
		t := gofakeit.Date()
		return strconv.FormatInt(t.Unix()+int64(offsetSec), 10)
	},
	"id":    func(args []string) string { return gofakeit.UUID() },
	"phone": func(args []string) string { return gofakeit.Phone() },
	"email": func(args []string) string { return gofakeit.Email() },
	"ip":    func(args []string) string { return gofakeit.IPv4Address() },
	"url":   func(args []string) string { return gofakeit.URL() },
	"name":  func(args []string) string { return gofakeit.Name() },
	"text": func(args []string) string {
		n := argInt(args, 0, 5)
		return clampLen(gofakeit.Sentence(n))
	},
	"color": func(args []string) string { return gofakeit.Color() },
}

// ResolveMock generates a value for the named mock function, applying any
// pipe chain to the result. Unknown mock names evaluate to "null" (spec §4.4).
func ResolveMock(name string, args []string, pipes []Pipe) string {
	fn, ok := Mocks[name]
	if !ok {
		return "null"
	}
	return ApplyPipes(fn(args), pipes)
}
