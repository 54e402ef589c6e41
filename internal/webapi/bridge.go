package webapi

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/cryguy/render/internal/core"
	"github.com/cryguy/render/internal/eventloop"
)

// helperBridgeJS lets Go call the functions a helper program defined.
// Results cross the boundary as JSON; promise results are parked in a
// pending table and polled with __settled until they settle.
const helperBridgeJS = `
(function() {
	var pending = {};
	var seq = 0;
	function errInfo(e) {
		if (e instanceof Error) {
			return { message: String(e.message), name: String(e.name || 'Error'), stack: String(e.stack || '') };
		}
		return { message: String(e), name: 'Error', stack: '' };
	}
	function encode(v) {
		try {
			var s = JSON.stringify(v === undefined ? null : v);
			return s === undefined ? 'null' : s;
		} catch (e) {
			return JSON.stringify(String(v));
		}
	}
	globalThis.__collectHelpers = function(found) {
		var out = {};
		for (var k in found) {
			if (typeof found[k] === 'function' && found[k] !== globalThis[k]) out[k] = found[k];
		}
		return out;
	};
	globalThis.__helperNames = function() {
		return JSON.stringify(Object.keys(globalThis.__helpers || {}));
	};
	globalThis.__callHelper = function(name, argsJSON) {
		var fn = (globalThis.__helpers || {})[name];
		if (typeof fn !== 'function') {
			return JSON.stringify({ error: { message: 'Helper ' + name + ' is not defined', name: 'ReferenceError', stack: '' } });
		}
		var r;
		try {
			r = fn.apply(globalThis.__helpers, JSON.parse(argsJSON));
		} catch (e) {
			return JSON.stringify({ error: errInfo(e) });
		}
		if (r !== null && (typeof r === 'object' || typeof r === 'function') && typeof r.then === 'function') {
			var id = ++seq;
			var slot = pending[id] = { state: 'pending' };
			Promise.resolve(r).then(
				function(v) { slot.state = 'fulfilled'; slot.value = v; },
				function(e) { slot.state = 'rejected'; slot.error = errInfo(e); });
			return '{"pending":' + id + '}';
		}
		return '{"value":' + encode(r) + '}';
	};
	globalThis.__settled = function(id) {
		var slot = pending[id];
		if (!slot) return '{"state":"missing"}';
		if (slot.state === 'pending') return '{"state":"pending"}';
		delete pending[id];
		if (slot.state === 'rejected') return JSON.stringify({ state: 'rejected', error: slot.error });
		return '{"state":"fulfilled","value":' + encode(slot.value) + '}';
	};
	globalThis.__bridgeReset = function() {
		pending = {};
		seq = 0;
		delete globalThis.__helpers;
	};
})();
`

// SetupHelperBridge installs the helper call bridge.
func SetupHelperBridge(rt core.JSRuntime, _ *eventloop.EventLoop) error {
	if err := rt.Eval(helperBridgeJS); err != nil {
		return fmt.Errorf("evaluating helper bridge: %w", err)
	}
	return nil
}

// HelperProgramPrefixLines is the number of lines HelperProgram places in
// front of the user code.
const HelperProgramPrefixLines = 1

var (
	funcDeclRe = regexp.MustCompile(`(?:^|[^.\w$])(?:async\s+)?function\s*\*?\s*([A-Za-z_$][\w$]*)\s*\(`)
	varDeclRe  = regexp.MustCompile(`(?:^|[^.\w$])(?:const|let|var)\s+([A-Za-z_$][\w$]*)\s*=`)
)

var reservedWords = map[string]bool{
	"break": true, "case": true, "catch": true, "class": true, "const": true, "continue": true,
	"debugger": true, "default": true, "delete": true, "do": true, "else": true, "export": true,
	"extends": true, "finally": true, "for": true, "function": true, "if": true, "import": true,
	"in": true, "instanceof": true, "new": true, "return": true, "super": true, "switch": true,
	"this": true, "throw": true, "try": true, "typeof": true, "var": true, "void": true,
	"while": true, "with": true, "yield": true, "let": true, "static": true, "enum": true,
	"await": true, "implements": true, "package": true, "protected": true, "interface": true,
	"private": true, "public": true, "null": true, "true": true, "false": true, "arguments": true,
	"eval": true, "require": true, "console": true,
}

// HelperCandidates scans code for names that may be top-level functions.
// The scan over-approximates; the VM keeps only names that resolve to a
// function in the program's top-level scope.
func HelperCandidates(code string) []string {
	seen := make(map[string]bool)
	for _, re := range []*regexp.Regexp{funcDeclRe, varDeclRe} {
		for _, m := range re.FindAllStringSubmatch(code, -1) {
			if name := m[1]; !reservedWords[name] {
				seen[name] = true
			}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HelperProgram wraps code in a function scope and stores its top-level
// functions in globalThis.__helpers.
func HelperProgram(code string) string {
	var b strings.Builder
	b.WriteString("globalThis.__helpers = (function(require, console) {\n")
	b.WriteString(code)
	b.WriteString("\n;return __collectHelpers({")
	for i, name := range HelperCandidates(code) {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s: typeof %s === 'undefined' ? undefined : %s", strconv.Quote(name), name, name)
	}
	b.WriteString("});\n})(globalThis.__require, globalThis.console);")
	return b.String()
}

// HelperNames lists the helpers the last evaluated program defined.
func HelperNames(rt core.JSRuntime) ([]string, error) {
	s, err := rt.EvalString("__helperNames()")
	if err != nil {
		return nil, err
	}
	var names []string
	if err := json.Unmarshal([]byte(s), &names); err != nil {
		return nil, fmt.Errorf("decoding helper names: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// JSError describes an exception thrown by helper code.
type JSError struct {
	Message string `json:"message"`
	Name    string `json:"name"`
	Stack   string `json:"stack"`
}

func (e *JSError) Error() string {
	if e.Name != "" && e.Name != "Error" {
		return e.Name + ": " + e.Message
	}
	return e.Message
}

// CallResult is the outcome of one helper invocation.
type CallResult struct {
	Value   json.RawMessage `json:"value"`
	Pending int             `json:"pending"`
	Error   *JSError        `json:"error"`
}

// CallHelper invokes helper name with JSON-encoded args.
func CallHelper(rt core.JSRuntime, name string, args []any) (*CallResult, error) {
	argsJSON, err := json.Marshal(normalizeArgs(args))
	if err != nil {
		return nil, fmt.Errorf("encoding arguments for %s: %w", name, err)
	}
	if err := rt.SetGlobal("__tmp_args", string(argsJSON)); err != nil {
		return nil, err
	}
	out, err := rt.EvalString(fmt.Sprintf("__callHelper(%s, globalThis.__tmp_args)", strconv.Quote(name)))
	if err != nil {
		return nil, err
	}
	var res CallResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		return nil, fmt.Errorf("decoding result of %s: %w", name, err)
	}
	return &res, nil
}

// normalizeArgs replaces values encoding/json cannot represent with their
// printed form.
func normalizeArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		if _, err := json.Marshal(a); err != nil {
			out[i] = fmt.Sprint(a)
			continue
		}
		out[i] = a
	}
	return out
}

// Settlement is the state of a pending helper result.
type Settlement struct {
	State string          `json:"state"`
	Value json.RawMessage `json:"value"`
	Error *JSError        `json:"error"`
}

// Settled polls the pending result id.
func Settled(rt core.JSRuntime, id int) (*Settlement, error) {
	out, err := rt.EvalString(fmt.Sprintf("__settled(%d)", id))
	if err != nil {
		return nil, err
	}
	var s Settlement
	if err := json.Unmarshal([]byte(out), &s); err != nil {
		return nil, fmt.Errorf("decoding settlement %d: %w", id, err)
	}
	return &s, nil
}

var stackLineRe = regexp.MustCompile(`:(\d+)(?::\d+)?\)?\s*$`)

// StackLine returns the line of the innermost frame in stack, or 0.
func StackLine(stack string) int {
	for _, line := range strings.Split(stack, "\n") {
		if !strings.Contains(line, "at ") {
			continue
		}
		if m := stackLineRe.FindStringSubmatch(line); m != nil {
			n, _ := strconv.Atoi(m[1])
			return n
		}
	}
	return 0
}
