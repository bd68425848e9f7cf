// Package gen produces the source of a standalone preview server for one
// session. Generation is pure: the returned text is written to disk by the
// temp resource manager, never by this package.
package gen

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/livepreview/previewd/internal/protocol"
)

//go:embed assets/server.js.tmpl
var serverSource string

var serverTmpl = template.Must(template.New("server").Parse(serverSource))

// ServerFileName is the name the generated source is written under inside
// the session's temp directory.
const ServerFileName = "preview_server.js"

// serverMarkers are the substrings that identify a script as already
// implementing its own server: such files are run directly, not wrapped.
var serverMarkers = []string{"Deno.serve", "Deno.listen", "serveHttp"}

var scriptExts = map[string]bool{
	".js":  true,
	".mjs": true,
	".ts":  true,
	".jsx": true,
	".tsx": true,
}

// GenerationError wraps failures to read the target or render the source.
// It aborts the start attempt and is surfaced to the caller.
type GenerationError struct {
	Op  string
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generating preview server (%s): %v", e.Op, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// HasServerLogic reports whether path is a script that already implements a
// server. Non-script files never do; unreadable scripts are treated as not
// having server logic (the read error resurfaces later if it matters).
func HasServerLogic(path string) bool {
	if !scriptExts[strings.ToLower(filepath.Ext(path))] {
		return false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	content := string(data)
	for _, marker := range serverMarkers {
		if strings.Contains(content, marker) {
			return true
		}
	}
	return false
}

// Generate returns the server source for a session rooted at projectRoot on
// port, or the empty string when targetFile is a script that already
// implements a server and should be spawned directly.
func Generate(targetFile, projectRoot string, port int) (string, error) {
	if scriptExts[strings.ToLower(filepath.Ext(targetFile))] {
		data, err := os.ReadFile(targetFile)
		if err != nil {
			return "", &GenerationError{Op: "reading target", Err: err}
		}
		content := string(data)
		for _, marker := range serverMarkers {
			if strings.Contains(content, marker) {
				return "", nil
			}
		}
	}

	rootJSON, err := json.Marshal(projectRoot)
	if err != nil {
		return "", &GenerationError{Op: "encoding root", Err: err}
	}
	scriptJSON, err := json.Marshal(string(protocol.ClientScript))
	if err != nil {
		return "", &GenerationError{Op: "encoding client script", Err: err}
	}

	var out strings.Builder
	err = serverTmpl.Execute(&out, struct {
		RootJSON         string
		ClientScriptJSON string
		Port             int
	}{
		RootJSON:         string(rootJSON),
		ClientScriptJSON: string(scriptJSON),
		Port:             port,
	})
	if err != nil {
		return "", &GenerationError{Op: "rendering template", Err: err}
	}
	return out.String(), nil
}
