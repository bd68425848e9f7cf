// Package session holds the preview session model: the single unit of
// orchestration tying a target file to its resolved root, port, child
// process, and connection status.
package session

import (
	"encoding/json"
	"time"

	"github.com/livepreview/previewd/internal/protocol"
)

// ConnectionStatus is the host's best-effort view of browser connectivity,
// derived from diagnostics polling.
type ConnectionStatus int

const (
	StatusUnknown ConnectionStatus = iota
	StatusConnected
	StatusDisconnected
	StatusError
)

var statusNames = map[ConnectionStatus]string{
	StatusUnknown:      "unknown",
	StatusConnected:    "connected",
	StatusDisconnected: "disconnected",
	StatusError:        "error",
}

var statusFromName = map[string]ConnectionStatus{
	"unknown":      StatusUnknown,
	"connected":    StatusConnected,
	"disconnected": StatusDisconnected,
	"error":        StatusError,
}

func (s ConnectionStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s ConnectionStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *ConnectionStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	if v, ok := statusFromName[name]; ok {
		*s = v
	}
	return nil
}

// Engine identifies how a session's server runs.
type Engine string

const (
	EngineDeno    Engine = "deno"    // generated source spawned under deno
	EngineUser    Engine = "user"    // user-authored server file spawned directly
	EngineBuiltin Engine = "builtin" // in-process Go server
)

// PreviewSession describes one run of "serve this project and push reloads".
// Exactly one session is active at a time; the orchestrator owns it and
// resets it on stop.
type PreviewSession struct {
	TargetFile string                `json:"targetFile"`
	Root       string                `json:"root"`
	Port       int                   `json:"port"`
	Engine     Engine                `json:"engine"`
	PreviewURL string                `json:"previewUrl,omitempty"`
	PID        int                   `json:"pid,omitempty"`
	Status     ConnectionStatus      `json:"status"`
	StartedAt  time.Time             `json:"startedAt"`
	Generation uint64                `json:"generation"`
	LastDiag   *protocol.Diagnostics `json:"lastDiagnostics,omitempty"`
	Usage      *ProcessUsage         `json:"usage,omitempty"`
}

// ProcessUsage is a resource snapshot of the spawned server process,
// sampled alongside each health poll. Absent for the builtin engine.
type ProcessUsage struct {
	PID        int     `json:"pid"`
	CPUPercent float64 `json:"cpuPercent"`
	RSSBytes   uint64  `json:"rssBytes"`
}

// Clone returns a copy safe to hand to callers while the orchestrator keeps
// mutating the original.
func (s *PreviewSession) Clone() *PreviewSession {
	if s == nil {
		return nil
	}
	out := *s
	if s.LastDiag != nil {
		d := *s.LastDiag
		out.LastDiag = &d
	}
	if s.Usage != nil {
		u := *s.Usage
		out.Usage = &u
	}
	return &out
}
