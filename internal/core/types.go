package core

import "time"

// Entity sets understood by the path resolver.
const (
	SetTemplates  = "templates"
	SetComponents = "components"
)

// AnonymousID labels entities that carry no short id.
const AnonymousID = "anonymous"

// Entity is a named template or component asset.
type Entity struct {
	ID      string `json:"id,omitempty" yaml:"id,omitempty"`
	ShortID string `json:"shortid,omitempty" yaml:"shortid,omitempty"`
	Name    string `json:"name" yaml:"name"`
	Folder  string `json:"folder,omitempty" yaml:"folder,omitempty"` // slash separated, "" for the root
	Engine  string `json:"engine" yaml:"engine"`
	Content string `json:"content" yaml:"content"`
	Helpers string `json:"helpers,omitempty" yaml:"helpers,omitempty"`
}

// Key returns the short id, falling back to AnonymousID.
func (e *Entity) Key() string {
	if e == nil || e.ShortID == "" {
		return AnonymousID
	}
	return e.ShortID
}

// Snapshot copies the identifying fields of e.
func (e *Entity) Snapshot() *EntitySnapshot {
	if e == nil {
		return nil
	}
	return &EntitySnapshot{ShortID: e.ShortID, Name: e.Name, Content: e.Content}
}

// EntitySnapshot identifies the entity that produced an error.
type EntitySnapshot struct {
	ShortID string `json:"shortid"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

// LogEntry is a single console.log/warn/error captured from helper code.
type LogEntry struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}
