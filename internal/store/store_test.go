package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cryguy/render/internal/core"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		p, current, want string
	}{
		{"/a/b", "", "/a/b"},
		{"b", "", "/b"},
		{"b", "/reports/main", "/reports/b"},
		{"../shared/b", "/reports/q1/main", "/reports/shared/b"},
		{"./b", "/reports/main", "/reports/b"},
		{"/x/../y", "/reports/main", "/y"},
	}
	for _, tt := range tests {
		if got := Resolve(tt.p, tt.current); got != tt.want {
			t.Errorf("Resolve(%q, %q) = %q, want %q", tt.p, tt.current, got, tt.want)
		}
	}
}

func TestEntityPath(t *testing.T) {
	if got := EntityPath(&core.Entity{Name: "main"}); got != "/main" {
		t.Errorf("got %q", got)
	}
	if got := EntityPath(&core.Entity{Name: "main", Folder: "a/b"}); got != "/a/b/main" {
		t.Errorf("got %q", got)
	}
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	mem, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	file, err := OpenSQLite(filepath.Join(t.TempDir(), "entities.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		mem.Close()
		file.Close()
	})
	return map[string]Store{"memory": NewMemory(), "sqlite-mem": mem, "sqlite-file": file}
}

func TestStores(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			main := &core.Entity{ShortID: "t1", Name: "main", Folder: "/reports/", Engine: "pongo2",
				Content: strings.Repeat("Hello {{ name }} ", 50), Helpers: "function f() {}"}
			card := &core.Entity{ShortID: "c1", Name: "card", Folder: "reports/shared", Content: "card"}
			if err := s.Put(ctx, core.SetTemplates, main); err != nil {
				t.Fatal(err)
			}
			if err := s.Put(ctx, core.SetComponents, card); err != nil {
				t.Fatal(err)
			}

			got, err := s.Get(ctx, core.SetTemplates, "t1")
			if err != nil {
				t.Fatal(err)
			}
			want := &core.Entity{ShortID: "t1", Name: "main", Folder: "reports", Engine: "pongo2",
				Content: main.Content, Helpers: main.Helpers}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("Get mismatch (-want +got):\n%s", diff)
			}

			p, err := s.ResolvePath(ctx, main, core.SetTemplates)
			if err != nil || p != "/reports/main" {
				t.Errorf("ResolvePath = %q, %v", p, err)
			}

			found, err := s.ResolveFromPath(ctx, "shared/card", core.SetComponents, p)
			if err != nil || found == nil || found.ShortID != "c1" {
				t.Errorf("ResolveFromPath relative = %+v, %v", found, err)
			}
			found, err = s.ResolveFromPath(ctx, "/reports/shared/card", core.SetComponents, "")
			if err != nil || found == nil || found.ShortID != "c1" {
				t.Errorf("ResolveFromPath absolute = %+v, %v", found, err)
			}
			found, err = s.ResolveFromPath(ctx, "missing", core.SetComponents, p)
			if err != nil || found != nil {
				t.Errorf("ResolveFromPath missing = %+v, %v", found, err)
			}

			if _, err := s.Get(ctx, core.SetTemplates, "nope"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get missing err = %v", err)
			}
			if _, err := s.ResolvePath(ctx, &core.Entity{ShortID: "nope"}, core.SetTemplates); !errors.Is(err, ErrNotFound) {
				t.Errorf("ResolvePath missing err = %v", err)
			}

			main.Content = "updated"
			if err := s.Put(ctx, core.SetTemplates, main); err != nil {
				t.Fatal(err)
			}
			list, err := s.List(ctx, core.SetTemplates)
			if err != nil {
				t.Fatal(err)
			}
			if len(list) != 1 || list[0].Content != "updated" {
				t.Errorf("List = %+v", list)
			}
		})
	}
}

func TestPut_Validates(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	for _, e := range []*core.Entity{
		nil,
		{Name: "x"},
		{ShortID: "a"},
		{ShortID: "a", Name: "a/b"},
	} {
		if err := s.Put(ctx, core.SetTemplates, e); err == nil {
			t.Errorf("Put(%+v) succeeded", e)
		}
	}
	if err := s.Put(ctx, "", &core.Entity{ShortID: "a", Name: "a"}); err == nil {
		t.Error("Put with empty set succeeded")
	}
}

func TestCompressRoundTrip(t *testing.T) {
	in := strings.Repeat("<p>{{ x }}</p>", 100)
	data, err := compress(in)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) >= len(in) {
		t.Errorf("compressed %d bytes to %d", len(in), len(data))
	}
	out, err := decompress(data)
	if err != nil || out != in {
		t.Errorf("decompress mismatch: %v", err)
	}
}
