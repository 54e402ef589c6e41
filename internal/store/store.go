// Package store keeps template and component entities and resolves them by
// folder path.
package store

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/cryguy/render/internal/core"
)

// ErrNotFound is returned by Get when no entity has the requested id.
var ErrNotFound = errors.New("store: entity not found")

// Folders resolves entities to and from their folder paths.
type Folders interface {
	// ResolvePath returns the absolute path of e within set.
	ResolvePath(ctx context.Context, e *core.Entity, set string) (string, error)
	// ResolveFromPath finds the entity at p. Relative paths are resolved
	// against the folder of currentPath. A missing entity is (nil, nil).
	ResolveFromPath(ctx context.Context, p, set, currentPath string) (*core.Entity, error)
}

// Store persists entities by set.
type Store interface {
	Folders
	Put(ctx context.Context, set string, e *core.Entity) error
	Get(ctx context.Context, set, shortID string) (*core.Entity, error)
	List(ctx context.Context, set string) ([]*core.Entity, error)
	Close() error
}

// EntityPath is the absolute path of e: /<folder>/<name>.
func EntityPath(e *core.Entity) string {
	return path.Join("/", e.Folder, e.Name)
}

// Resolve turns p into an absolute, cleaned path. Relative paths start at
// the folder containing currentPath.
func Resolve(p, currentPath string) string {
	if strings.HasPrefix(p, "/") {
		return path.Clean(p)
	}
	dir := "/"
	if currentPath != "" {
		dir = path.Dir(path.Join("/", currentPath))
	}
	return path.Join(dir, p)
}

// split returns the folder (without leading slash) and name of an
// absolute path.
func split(abs string) (folder, name string) {
	dir, name := path.Split(abs)
	return strings.Trim(dir, "/"), name
}

func validate(set string, e *core.Entity) error {
	if set == "" {
		return fmt.Errorf("store: empty entity set")
	}
	if e == nil || e.ShortID == "" {
		return fmt.Errorf("store: entity requires a short id")
	}
	if e.Name == "" || strings.Contains(e.Name, "/") {
		return fmt.Errorf("store: invalid entity name %q", e.Name)
	}
	return nil
}

func normalize(e *core.Entity) *core.Entity {
	c := *e
	c.Folder = strings.Trim(path.Clean("/"+c.Folder), "/")
	return &c
}
