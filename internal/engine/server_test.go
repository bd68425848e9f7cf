package engine

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/livepreview/previewd/internal/protocol"
)

func newSiteServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"index.html": "<html><head><title>site</title></head><body>hello</body></html>",
		"style.css":  "body { color: red; }",
		"app.js":     "console.log('hi');",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(root, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	srv := New(root, "127.0.0.1", 0)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return resp, string(body)
}

func TestStaticHTMLInjectedExactlyOnce(t *testing.T) {
	_, ts := newSiteServer(t)

	// The injection must be idempotent across repeated requests.
	for i := 0; i < 2; i++ {
		resp, body := get(t, ts.URL+"/")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		if got := strings.Count(body, protocol.ScriptPath); got != 1 {
			t.Errorf("request %d: script references = %d, want 1", i+1, got)
		}
		if !strings.Contains(body, "hello") {
			t.Errorf("request %d: original body content missing", i+1)
		}
	}
}

func TestStaticNonHTMLServedVerbatim(t *testing.T) {
	_, ts := newSiteServer(t)

	resp, body := get(t, ts.URL+"/style.css")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if strings.Contains(body, protocol.ScriptPath) {
		t.Error("css body was injected")
	}
	if body != "body { color: red; }" {
		t.Errorf("css body = %q", body)
	}
}

func TestStaticNotFoundCountsError(t *testing.T) {
	srv, ts := newSiteServer(t)

	resp, _ := get(t, ts.URL+"/missing.html")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}

	diag := srv.Stats().Snapshot()
	if diag.Errors == 0 {
		t.Error("404 did not increment error counter")
	}
	if diag.LastError == "" {
		t.Error("404 did not record lastError")
	}
}

func TestStaticTraversalRejected(t *testing.T) {
	_, ts := newSiteServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/../../etc/passwd", nil)
	if err != nil {
		t.Fatal(err)
	}
	// Keep the raw path; the default client would clean it before sending.
	req.URL.Opaque = "//" + req.URL.Host + "/../../etc/passwd"
	resp, err := http.DefaultTransport.RoundTrip(req)
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		t.Error("traversal request served a file")
	}
}

func TestSocketPathNonUpgradeGets501(t *testing.T) {
	_, ts := newSiteServer(t)

	resp, _ := get(t, ts.URL+protocol.SocketPath)
	if resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", resp.StatusCode)
	}
}

func TestScriptEndpoint(t *testing.T) {
	_, ts := newSiteServer(t)

	resp, body := get(t, ts.URL+protocol.ScriptPath)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/javascript" {
		t.Errorf("content-type = %q", ct)
	}
	if body != string(protocol.ClientScript) {
		t.Error("script body differs from embedded client script")
	}
}

func TestDiagnosticsEndpoint(t *testing.T) {
	_, ts := newSiteServer(t)

	get(t, ts.URL+"/")
	resp, body := get(t, ts.URL+protocol.DiagnosticsPath)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %q", ct)
	}

	var diag protocol.Diagnostics
	if err := json.Unmarshal([]byte(body), &diag); err != nil {
		t.Fatalf("diagnostics json: %v", err)
	}
	if diag.Requests < 2 {
		t.Errorf("requests = %d, want >= 2", diag.Requests)
	}
	if diag.StartTime.IsZero() {
		t.Error("startTime is zero")
	}
}

func TestReloadEndpoint(t *testing.T) {
	srv, ts := newSiteServer(t)

	conn := dialWS(t, ts.URL)
	defer conn.Close()
	waitForClientCount(t, srv.Hub(), 1)

	resp, err := http.Post(ts.URL+protocol.ReloadPath, "", nil)
	if err != nil {
		t.Fatalf("POST reload: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(msg) != protocol.ReloadPayload {
		t.Errorf("payload = %q, want %q", msg, protocol.ReloadPayload)
	}
}

func TestReloadEndpointRejectsGet(t *testing.T) {
	_, ts := newSiteServer(t)

	resp, _ := get(t, ts.URL+protocol.ReloadPath)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name   string
		origin string
		host   string
		want   bool
	}{
		{"no origin", "", "127.0.0.1:8000", true},
		{"same host", "http://127.0.0.1:8000", "127.0.0.1:8000", true},
		{"localhost", "http://localhost:5173", "127.0.0.1:8000", true},
		{"loopback", "http://127.0.0.1:9999", "127.0.0.1:8000", true},
		{"remote", "http://evil.example.com", "127.0.0.1:8000", false},
		{"garbage", "::not-a-url", "127.0.0.1:8000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Host = tt.host
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := checkOrigin(req); got != tt.want {
				t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}
