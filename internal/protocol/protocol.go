// Package protocol defines the wire contract between the preview host and a
// running preview server: the reserved HTTP paths, the reload broadcast
// payload, the diagnostics snapshot shape, and the stdout event frames a
// spawned server emits during startup.
package protocol

import (
	"encoding/json"
	"strings"
	"time"
)

// Reserved paths on every preview server, regardless of engine.
const (
	DiagnosticsPath = "/_diagnostics"
	SocketPath      = "/_lr_ws"
	ScriptPath      = "/_lr_script.js"
	ReloadPath      = "/_lr_reload"
)

// ReloadPayload is the literal text broadcast to every connected client.
const ReloadPayload = "reload"

// Environment allow-list for spawned servers. Nothing outside this set (plus
// PATH/HOME, which the runtime itself needs) is passed to the child.
const (
	EnvPort = "DENO_PORT"
	EnvFlag = "LIVE_PREVIEW"
	EnvFile = "LIVE_PREVIEW_FILE"
)

// DefaultPort is assumed by a spawned server when DENO_PORT is absent or not
// a valid number.
const DefaultPort = 8000

// Diagnostics is the read-only counter snapshot served at DiagnosticsPath.
// Field names are part of the wire contract; the health monitor parses them.
type Diagnostics struct {
	StartTime           time.Time `json:"startTime"`
	Connections         int64     `json:"connections"`
	ActiveConnections   int64     `json:"activeConnections"`
	WSConnections       int64     `json:"wsConnections"`
	ActiveWSConnections int64     `json:"activeWsConnections"`
	Requests            int64     `json:"requests"`
	Errors              int64     `json:"errors"`
	LastError           string    `json:"lastError"`
}

// Stdout event names emitted by a generated server as NDJSON frames.
const (
	EventListening = "listening"
	EventReload    = "reload"
	EventError     = "error"
)

// StdoutEvent is one line-delimited JSON frame on a spawned server's stdout.
// Lines that don't parse as a frame are plain log output and are forwarded
// to the host's output callback untouched.
type StdoutEvent struct {
	Event   string `json:"event"`
	Port    int    `json:"port,omitempty"`
	Root    string `json:"root,omitempty"`
	Clients int    `json:"clients,omitempty"`
	Message string `json:"message,omitempty"`
}

// LegacyReadyMarker is the substring a user-authored server is expected to
// print once it has bound its port. Generated servers emit an EventListening
// frame instead; this marker exists only for servers we did not generate.
const LegacyReadyMarker = "Server running"

// ParseStdoutEvent attempts to decode a stdout line as an event frame.
// Returns false for anything that isn't a JSON object with an "event" key.
func ParseStdoutEvent(line string) (StdoutEvent, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		return StdoutEvent{}, false
	}
	var ev StdoutEvent
	if err := json.Unmarshal([]byte(trimmed), &ev); err != nil {
		return StdoutEvent{}, false
	}
	if ev.Event == "" {
		return StdoutEvent{}, false
	}
	return ev, true
}
