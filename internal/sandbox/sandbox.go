// Package sandbox wraps a goja.Runtime per script invocation, exposing only
// the capability surface spec §9 names and enforcing a source-level
// denylist plus a recursion-depth cap.
//
// Grounded on grafana-k6's use of goja as its user-script VM — k6 is
// itself a load-testing/scripted-execution engine, the closest
// architectural analog in the retrieval pack for "run untrusted
// user-authored test logic inside a bounded JS VM" — and on recovered
// detail from original_source/core/customer_script/*.
package sandbox

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dop251/goja"

	"execengine/internal/loopexpand"
	"execengine/internal/template"
	"execengine/internal/vars"
)

func resolveMock(name string, args []string) string {
	return template.ResolveMock(name, args, nil)
}

// denylistPattern matches the identifiers a script may not reference: process,
// filesystem, threading, serialization, network-shell, reflection
// primitives (spec §5 "Script sandbox"). Checked via a static source scan
// before the script ever runs.
var denylistPattern = regexp.MustCompile(`\b(require|eval|Function|process|child_process|fs|net|os|Reflect|Proxy|WebAssembly)\b`)

// MaxRecursionDepth bounds nested script-to-script invocation (spec §5's
// "recursion-depth cap... restored on exit").
var MaxRecursionDepth = 64

// ErrDenylisted is returned when a static scan rejects a script.
type ErrDenylisted struct{ Match string }

func (e *ErrDenylisted) Error() string {
	return fmt.Sprintf("sandbox: script references forbidden identifier %q", e.Match)
}

// ErrRecursionLimit is returned when a script's call depth exceeds MaxRecursionDepth.
var ErrRecursionLimit = fmt.Errorf("sandbox: recursion depth limit exceeded")

// Capabilities is the set of values a VM is built with (spec §9). install
// exposes only raiseError, get_position, get_main_case_index, `at` (get/set
// over Vars, when Vars is set) and `func` (mock generators) to a script's
// global scope. Request, Response, Database, OpenFile and OpenExcel are held
// here but not exposed to scripts, and there is no DataSet or pipeline
// helper.
type Capabilities struct {
	Vars     *vars.Handle
	Position func() string
	MainCaseIndex func() int

	// Request/Response are present only when the enclosing step is an
	// interface step; nil otherwise.
	Request  *RequestAccessor
	Response *ResponseAccessor

	// Database is present only for database-step scripts.
	Database DatabaseAccessor

	// File/Excel are narrow in-memory row accessors (concrete file formats
	// are out of this engine's scope; spec §1 "Out of scope").
	OpenFile  func(path string) (FileAccessor, error)
	OpenExcel func(path string) (ExcelAccessor, error)
}

// RequestAccessor lets a script mutate and regenerate the pending interface
// request (spec §9).
type RequestAccessor interface {
	SetBody(v any)
	SetHeader(k, v string)
	SetURL(u string)
	Regenerate()
}

// ResponseAccessor lazily exposes the last interface result.
type ResponseAccessor interface {
	StatusCode() int
	Body() []byte
	Header(k string) string
}

// DatabaseAccessor lets a script run a query against the step's bound
// connection.
type DatabaseAccessor interface {
	Query(sql string, args ...any) ([]map[string]any, error)
}

// FileAccessor / ExcelAccessor expose staged file contents as rows.
type FileAccessor interface {
	Rows() ([]map[string]any, error)
}
type ExcelAccessor interface {
	Sheet(name string) ([]map[string]any, error)
}

// Scan rejects a script source containing any denylisted identifier,
// before it is ever handed to a goja.Runtime.
func Scan(source string) error {
	if m := denylistPattern.FindString(source); m != "" {
		return &ErrDenylisted{Match: m}
	}
	return nil
}

// depthTracker is shared across nested Eval calls within one task run to
// enforce the recursion cap.
type depthTracker struct{ depth int }

// VM wraps one goja.Runtime configured with the engine's capability
// surface. A fresh VM is constructed per script invocation; depth is
// threaded through from the caller to support the script-calling-script
// recursion cap.
type VM struct {
	rt     *goja.Runtime
	depth  *depthTracker
	caps   Capabilities
}

// New constructs a VM bound to the given capabilities. depth, if nil,
// starts a fresh per-task-run tracker at zero.
func New(caps Capabilities, depth *depthTracker) (*VM, error) {
	if depth == nil {
		depth = &depthTracker{}
	}
	rt := goja.New()
	vm := &VM{rt: rt, depth: depth, caps: caps}
	if err := vm.install(); err != nil {
		return nil, err
	}
	return vm, nil
}

func (v *VM) install() error {
	rt := v.rt

	if err := rt.Set("raiseError", func(call goja.FunctionCall) goja.Value {
		msg := "script raised an error"
		if len(call.Arguments) > 0 {
			msg = call.Arguments[0].String()
		}
		panic(rt.ToValue(msg))
	}); err != nil {
		return err
	}

	if err := rt.Set("get_position", func(call goja.FunctionCall) goja.Value {
		if v.caps.Position == nil {
			return goja.Undefined()
		}
		return rt.ToValue(v.caps.Position())
	}); err != nil {
		return err
	}

	if err := rt.Set("get_main_case_index", func(call goja.FunctionCall) goja.Value {
		if v.caps.MainCaseIndex == nil {
			return rt.ToValue(0)
		}
		return rt.ToValue(v.caps.MainCaseIndex())
	}); err != nil {
		return err
	}

	if v.caps.Vars != nil {
		varsObj := rt.NewObject()
		_ = varsObj.Set("get", func(call goja.FunctionCall) goja.Value {
			if len(call.Arguments) == 0 {
				return goja.Undefined()
			}
			name := call.Arguments[0].String()
			val, ok := v.caps.Vars.Get(name)
			if !ok {
				return goja.Undefined()
			}
			return rt.ToValue(val)
		})
		_ = varsObj.Set("set", func(call goja.FunctionCall) goja.Value {
			if len(call.Arguments) < 2 {
				return rt.ToValue(false)
			}
			name := call.Arguments[0].String()
			val := call.Arguments[1].Export()
			if err := v.caps.Vars.Set(vars.ScopeTemp, name, val, false); err != nil {
				return rt.ToValue(false)
			}
			return rt.ToValue(true)
		})
		if err := rt.Set("at", varsObj); err != nil {
			return err
		}
	}

	if err := rt.Set("func", rt.ToValue(mockBridge(rt))); err != nil {
		return err
	}

	return nil
}

func mockBridge(rt *goja.Runtime) func(name string, args ...any) goja.Value {
	return func(name string, args ...any) goja.Value {
		strArgs := make([]string, len(args))
		for i, a := range args {
			strArgs[i] = fmt.Sprint(a)
		}
		return rt.ToValue(resolveMock(name, strArgs))
	}
}

// RunExpr evaluates a script body and returns its exported result, enforcing
// the recursion cap around entry/exit (spec §5).
func (v *VM) RunExpr(source string) (goja.Value, error) {
	if err := Scan(source); err != nil {
		return nil, err
	}
	v.depth.depth++
	defer func() { v.depth.depth-- }()
	if v.depth.depth > MaxRecursionDepth {
		return nil, ErrRecursionLimit
	}

	// The engine wraps user source in a synthetic function body, so goja
	// reports line numbers one higher than the user's own lines. adjustLine
	// does not change the numbers; it appends a note saying so.
	wrapped := "(function(){\n" + source + "\n})()"
	val, err := v.rt.RunString(wrapped)
	if err != nil {
		return nil, adjustLine(err)
	}
	return val, nil
}

func adjustLine(err error) error {
	msg := err.Error()
	// goja line numbers are 1-based within the wrapper; the leading "(function(){"
	// line means a reported "line 2" is the user's line 1.
	if idx := strings.Index(msg, "line "); idx >= 0 {
		return fmt.Errorf("sandbox: %s (line numbers reported relative to wrapper, subtract 1)", msg)
	}
	return fmt.Errorf("sandbox: %w", err)
}

// AsLoopResult converts a goja.Value returned from a loop-drive script into
// the loopexpand.ScriptResult shape.
func AsLoopResult(val goja.Value) loopexpand.ScriptResult {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return loopexpand.ScriptResult{}
	}
	exported := val.Export()
	switch x := exported.(type) {
	case int64:
		return loopexpand.ScriptResult{IsInt: true, Int: int(x)}
	case float64:
		return loopexpand.ScriptResult{IsInt: true, Int: int(x)}
	case []any:
		rows := make([]loopexpand.DatasetRow, len(x))
		for i, row := range x {
			m, _ := row.(map[string]any)
			rows[i] = loopexpand.DatasetRow{Variables: m}
		}
		return loopexpand.ScriptResult{Rows: rows}
	case string:
		return loopexpand.ScriptResult{IsSized: true, Len: len(x)}
	default:
		return loopexpand.ScriptResult{}
	}
}
