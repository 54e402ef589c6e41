package core

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

const MaxLogEntries = 1000
const MaxLogMessageSize = 4096

// RequestState holds per-render mutable state shared with JS callbacks.
// Leased VMs carry the numeric id in globalThis.__requestID so Go-backed
// callbacks (console capture) can find it.
type RequestState struct {
	mu       sync.Mutex
	Logs     []LogEntry
	cleanups []func()
}

// RegisterCleanup adds a cleanup function to be called when the request state
// is cleared. Cleanups are called in reverse registration order.
func (rs *RequestState) RegisterCleanup(fn func()) {
	rs.mu.Lock()
	rs.cleanups = append(rs.cleanups, fn)
	rs.mu.Unlock()
}

// Entries returns a copy of the captured logs.
func (rs *RequestState) Entries() []LogEntry {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]LogEntry(nil), rs.Logs...)
}

var (
	requestCounter atomic.Uint64
	requestStates  sync.Map // uint64 -> *RequestState
)

// NewRequestState creates a new request state and returns its unique ID.
func NewRequestState() uint64 {
	id := requestCounter.Add(1)
	requestStates.Store(id, &RequestState{})
	return id
}

// GetRequestState returns the state for the given request ID, or nil.
func GetRequestState(id uint64) *RequestState {
	v, ok := requestStates.Load(id)
	if !ok {
		return nil
	}
	return v.(*RequestState)
}

// ClearRequestState removes the state for the given request ID and returns it
// after running its registered cleanups.
func ClearRequestState(id uint64) *RequestState {
	v, ok := requestStates.LoadAndDelete(id)
	if !ok {
		return nil
	}
	state := v.(*RequestState)

	state.mu.Lock()
	cleanups := state.cleanups
	state.cleanups = nil
	state.mu.Unlock()
	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
	return state
}

// AddLog appends a log entry to the request state identified by id.
// Several VMs may log into one request concurrently.
func AddLog(id uint64, level, message string) {
	state := GetRequestState(id)
	if state == nil {
		return
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	if len(state.Logs) >= MaxLogEntries {
		return
	}
	if len(message) > MaxLogMessageSize {
		message = message[:MaxLogMessageSize] + "...(truncated)"
	}
	state.Logs = append(state.Logs, LogEntry{
		Level:   level,
		Message: message,
		Time:    time.Now(),
	})
}

// ParseReqID parses a request ID string to uint64.
func ParseReqID(s string) uint64 {
	if s == "" || s == "undefined" {
		return 0
	}
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// JsEscape escapes a string for safe embedding in JavaScript source code.
func JsEscape(s string) string {
	return strconv.Quote(s)
}
