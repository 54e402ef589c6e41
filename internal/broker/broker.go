// Package broker lets helpers return asynchronous results from a
// synchronous render pass.
//
// A wrapped helper that returns a core.Awaitable yields the placeholder
// "{#asyncHelperResult <token>}" instead. After the pass, Resolve awaits all
// pending values concurrently and substitutes them into the output.
package broker

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cryguy/render/internal/core"
)

// ErrUnresolvedToken reports a placeholder left in the output that the
// broker cannot account for.
var ErrUnresolvedToken = errors.New("unresolved async helper result")

const placeholderPrefix = "{#asyncHelperResult "

var placeholderRe = regexp.MustCompile(`\{#asyncHelperResult ([^{}]+)\}`)

// Placeholder returns the marker substituted for token.
func Placeholder(token string) string {
	return placeholderPrefix + token + "}"
}

// Broker collects the pending results of one render pass. A Broker is used
// by a single pass and is safe for concurrent helper calls.
type Broker struct {
	limit    int
	newToken func() string

	mu       sync.Mutex
	pending  map[string]core.Awaitable
	resolved map[string]string
}

// Option configures a Broker.
type Option func(*Broker)

// WithConcurrency bounds how many pending results are awaited at once.
// Zero or negative means unbounded.
func WithConcurrency(n int) Option {
	return func(b *Broker) { b.limit = n }
}

// WithTokenSource replaces the random token generator.
func WithTokenSource(fn func() string) Option {
	return func(b *Broker) { b.newToken = fn }
}

// New creates an empty Broker.
func New(opts ...Option) *Broker {
	b := &Broker{
		newToken: randomToken,
		pending:  make(map[string]core.Awaitable),
		resolved: make(map[string]string),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func randomToken() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:12]
}

// Wrap returns a helper that passes synchronous results through unchanged
// and turns awaitable results into placeholders.
func (b *Broker) Wrap(h core.Helper) core.Helper {
	return func(args ...any) (any, error) {
		v, err := h(args...)
		if err != nil {
			return v, err
		}
		aw, ok := v.(core.Awaitable)
		if !ok {
			return v, nil
		}
		if isNil(aw) {
			return nil, core.BrokerError(errors.New("helper returned a nil async result"))
		}
		token, err := b.register(aw)
		if err != nil {
			return nil, err
		}
		return Placeholder(token), nil
	}
}

func isNil(aw core.Awaitable) bool {
	rv := reflect.ValueOf(aw)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Func, reflect.Map, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// WrapAll wraps every helper in helpers into a new map.
func (b *Broker) WrapAll(helpers map[string]core.Helper) map[string]core.Helper {
	out := make(map[string]core.Helper, len(helpers))
	for name, h := range helpers {
		out[name] = b.Wrap(h)
	}
	return out
}

func (b *Broker) register(aw core.Awaitable) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for attempt := 0; attempt < 8; attempt++ {
		token := b.newToken()
		if token == "" || strings.ContainsAny(token, "{}") {
			return "", core.BrokerError(fmt.Errorf("invalid async helper token %q", token))
		}
		_, taken := b.pending[token]
		_, done := b.resolved[token]
		if !taken && !done {
			b.pending[token] = aw
			return token, nil
		}
	}
	return "", core.BrokerError(errors.New("could not allocate a unique async helper token"))
}

// Pending reports how many results are waiting to be resolved.
func (b *Broker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Resolve awaits every pending result and substitutes its placeholders in
// content. Results are awaited concurrently; the first failure cancels the
// rest and is returned unchanged.
func (b *Broker) Resolve(ctx context.Context, content string) (string, error) {
	for {
		b.mu.Lock()
		batch := b.pending
		b.pending = make(map[string]core.Awaitable)
		b.mu.Unlock()
		if len(batch) == 0 {
			break
		}
		if err := b.resolveBatch(ctx, batch); err != nil {
			return "", err
		}
	}
	return b.substitute(content)
}

func (b *Broker) resolveBatch(ctx context.Context, batch map[string]core.Awaitable) error {
	g, gctx := errgroup.WithContext(ctx)
	if b.limit > 0 {
		g.SetLimit(b.limit)
	}
	for token, aw := range batch {
		g.Go(func() error {
			v, err := aw.Await(gctx)
			if err != nil {
				return err
			}
			s := Stringify(v)
			b.mu.Lock()
			b.resolved[token] = s
			b.mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// substitute expands placeholders until none that the broker resolved
// remain. A resolved value may carry another helper's placeholder, for
// example when an async result was passed as an argument to a second async
// helper, so expanded text is scanned again. Passes are bounded by the
// number of resolved tokens, which stops self-referencing values. Any
// marker left afterwards is unresolved.
func (b *Broker) substitute(content string) (string, error) {
	if !strings.Contains(content, placeholderPrefix) {
		return content, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for pass := 0; pass <= len(b.resolved); pass++ {
		replaced := false
		content = placeholderRe.ReplaceAllStringFunc(content, func(m string) string {
			v, ok := b.resolved[m[len(placeholderPrefix):len(m)-1]]
			if !ok {
				return m
			}
			replaced = true
			return v
		})
		if !replaced {
			break
		}
	}
	if m := placeholderRe.FindStringSubmatch(content); m != nil {
		return "", core.BrokerError(fmt.Errorf("%w: token %q", ErrUnresolvedToken, m[1]))
	}
	return content, nil
}

// Stringify renders a resolved helper value as template output the way
// JavaScript string conversion does: arrays join their elements with
// commas and objects become "[object Object]". nil renders empty because
// values crossing the JSON bridge cannot tell null from undefined.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case fmt.Stringer:
		return x.String()
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = Stringify(e)
		}
		return strings.Join(parts, ",")
	case map[string]any:
		return "[object Object]"
	default:
		return fmt.Sprint(x)
	}
}
