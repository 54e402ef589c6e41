package broker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/cryguy/render/internal/core"
)

func TestWrap_SyncValuePassesThrough(t *testing.T) {
	b := New()
	obj := map[string]any{"a": 1}
	wrapped := b.Wrap(func(args ...any) (any, error) { return obj, nil })

	got, err := wrapped()
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprintf("%p", got) != fmt.Sprintf("%p", obj) {
		t.Error("synchronous value was not returned unchanged")
	}
	if b.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", b.Pending())
	}
}

func TestWrap_ErrorPassesThrough(t *testing.T) {
	b := New()
	boom := errors.New("boom")
	wrapped := b.Wrap(func(args ...any) (any, error) { return nil, boom })
	if _, err := wrapped(); err != boom {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestWrap_AwaitableBecomesPlaceholder(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := New()
	slowUpper := b.Wrap(func(args ...any) (any, error) {
		s := args[0].(string)
		return core.Defer(func(ctx context.Context) (any, error) {
			time.Sleep(10 * time.Millisecond)
			return strings.ToUpper(s), nil
		}), nil
	})

	v, err := slowUpper("abc")
	if err != nil {
		t.Fatal(err)
	}
	ph, ok := v.(string)
	if !ok || !strings.HasPrefix(ph, "{#asyncHelperResult ") || !strings.HasSuffix(ph, "}") {
		t.Fatalf("placeholder = %#v", v)
	}

	out, err := b.Resolve(context.Background(), "<"+ph+">")
	if err != nil {
		t.Fatal(err)
	}
	if out != "<ABC>" {
		t.Errorf("out = %q, want <ABC>", out)
	}
	if strings.Contains(out, "asyncHelperResult") {
		t.Error("residual placeholder in output")
	}
}

func TestResolve_RunsConcurrently(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := New()
	h := b.Wrap(func(args ...any) (any, error) {
		return core.Defer(func(ctx context.Context) (any, error) {
			time.Sleep(100 * time.Millisecond)
			return "x", nil
		}), nil
	})
	var sb strings.Builder
	for i := 0; i < 10; i++ {
		v, _ := h()
		sb.WriteString(v.(string))
	}

	start := time.Now()
	out, err := b.Resolve(context.Background(), sb.String())
	if err != nil {
		t.Fatal(err)
	}
	if out != strings.Repeat("x", 10) {
		t.Errorf("out = %q", out)
	}
	if elapsed := time.Since(start); elapsed > 600*time.Millisecond {
		t.Errorf("resolution took %v; pending results were awaited sequentially", elapsed)
	}
}

func TestResolve_OrderIndependent(t *testing.T) {
	defer goleak.VerifyNone(t)

	for round := 0; round < 5; round++ {
		b := New()
		h := b.Wrap(func(args ...any) (any, error) {
			i := args[0].(int)
			delay := time.Duration(rand.Intn(10)) * time.Millisecond
			return core.Defer(func(ctx context.Context) (any, error) {
				time.Sleep(delay)
				return fmt.Sprintf("v%d", i), nil
			}), nil
		})

		const n = 30
		var in, want strings.Builder
		for i := 0; i < n; i++ {
			v, _ := h(i)
			fmt.Fprintf(&in, "[%s]", v)
			fmt.Fprintf(&want, "[v%d]", i)
		}
		out, err := b.Resolve(context.Background(), in.String())
		if err != nil {
			t.Fatal(err)
		}
		if out != want.String() {
			t.Fatalf("round %d: out = %q, want %q", round, out, want.String())
		}
	}
}

func TestResolve_SamePlaceholderRepeated(t *testing.T) {
	b := New()
	h := b.Wrap(func(args ...any) (any, error) { return core.Resolved("r", nil), nil })
	v, _ := h()
	ph := v.(string)
	out, err := b.Resolve(context.Background(), ph+"-"+ph)
	if err != nil {
		t.Fatal(err)
	}
	if out != "r-r" {
		t.Errorf("out = %q", out)
	}
}

func TestResolve_FirstErrorWins(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := New()
	boom := errors.New("helper failed")
	var cancelled sync.WaitGroup
	cancelled.Add(1)
	_, _ = b.Wrap(func(args ...any) (any, error) {
		return core.Defer(func(ctx context.Context) (any, error) {
			defer cancelled.Done()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return "late", nil
			}
		}), nil
	})()
	_, _ = b.Wrap(func(args ...any) (any, error) { return core.Resolved(nil, boom), nil })()

	_, err := b.Resolve(context.Background(), "")
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
	cancelled.Wait()
}

func TestResolve_UnknownTokenIsFatal(t *testing.T) {
	b := New()
	_, err := b.Resolve(context.Background(), "a {#asyncHelperResult nope} b")
	var re *core.Error
	if !errors.As(err, &re) || re.Kind != core.KindBroker {
		t.Fatalf("err = %v, want broker error", err)
	}
	if !errors.Is(err, ErrUnresolvedToken) {
		t.Errorf("err does not wrap ErrUnresolvedToken: %v", err)
	}
}

func TestResolve_NestedAsyncComposition(t *testing.T) {
	b := New()
	fetchName := b.Wrap(func(args ...any) (any, error) {
		return core.Defer(func(ctx context.Context) (any, error) {
			time.Sleep(5 * time.Millisecond)
			return "Ann", nil
		}), nil
	})
	bold := b.Wrap(func(args ...any) (any, error) {
		s := args[0].(string)
		return core.Defer(func(ctx context.Context) (any, error) {
			return "<b>" + s + "</b>", nil
		}), nil
	})

	name, err := fetchName()
	if err != nil {
		t.Fatal(err)
	}
	v, err := bold(name)
	if err != nil {
		t.Fatal(err)
	}
	out, err := b.Resolve(context.Background(), "Hi "+v.(string)+"!")
	if err != nil {
		t.Fatal(err)
	}
	if out != "Hi <b>Ann</b>!" {
		t.Errorf("out = %q", out)
	}
}

func TestResolve_SelfReferenceStops(t *testing.T) {
	b := New(WithTokenSource(func() string { return "loop" }))
	h := b.Wrap(func(args ...any) (any, error) {
		return core.Resolved("again "+Placeholder("loop"), nil), nil
	})
	v, _ := h()
	_, err := b.Resolve(context.Background(), v.(string))
	if !errors.Is(err, ErrUnresolvedToken) {
		t.Errorf("err = %v, want %v", err, ErrUnresolvedToken)
	}
}

func TestResolve_MarkerInResolvedValueMustBeKnown(t *testing.T) {
	b := New()
	h := b.Wrap(func(args ...any) (any, error) {
		return core.Resolved("literal {#asyncHelperResult other}", nil), nil
	})
	v, _ := h()
	_, err := b.Resolve(context.Background(), v.(string))
	var re *core.Error
	if !errors.As(err, &re) || re.Kind != core.KindBroker {
		t.Errorf("err = %v, want broker error", err)
	}
}

func TestWrap_NilAwaitableIsError(t *testing.T) {
	b := New()
	h := b.Wrap(func(args ...any) (any, error) {
		var f *core.Future
		return f, nil
	})
	_, err := h()
	var re *core.Error
	if !errors.As(err, &re) || re.Kind != core.KindBroker {
		t.Fatalf("err = %v, want broker error", err)
	}
	if b.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", b.Pending())
	}
}

func TestRegister_TokenCollisionRetries(t *testing.T) {
	tokens := []string{"dup", "dup", "fresh"}
	var i int
	b := New(WithTokenSource(func() string {
		tok := tokens[i]
		i++
		return tok
	}))
	h := b.Wrap(func(args ...any) (any, error) { return core.Resolved("v", nil), nil })
	first, _ := h()
	second, _ := h()
	if first == second {
		t.Fatal("two pending results share a token")
	}
	if second != Placeholder("fresh") {
		t.Errorf("second = %v", second)
	}
}

func TestRegister_ExhaustedTokensFail(t *testing.T) {
	b := New(WithTokenSource(func() string { return "same" }))
	h := b.Wrap(func(args ...any) (any, error) { return core.Resolved("v", nil), nil })
	if _, err := h(); err != nil {
		t.Fatal(err)
	}
	if _, err := h(); err == nil {
		t.Error("expected error when no unique token can be allocated")
	}
}

func TestWithConcurrency_Bounds(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := New(WithConcurrency(2))
	var mu sync.Mutex
	var active, peak int
	h := b.Wrap(func(args ...any) (any, error) {
		return core.Defer(func(ctx context.Context) (any, error) {
			mu.Lock()
			active++
			if active > peak {
				peak = active
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			return "", nil
		}), nil
	})
	for i := 0; i < 8; i++ {
		_, _ = h()
	}
	if _, err := b.Resolve(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	if peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestStringify(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"s", "s"},
		{float64(3), "3"},
		{1.5, "1.5"},
		{true, "true"},
		{[]any{1.0, "a"}, "1,a"},
		{[]any{[]any{1.0, 2.0}, nil, 3.0}, "1,2,,3"},
		{map[string]any{"k": "v"}, "[object Object]"},
	}
	for _, tt := range tests {
		if got := Stringify(tt.in); got != tt.want {
			t.Errorf("Stringify(%#v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
