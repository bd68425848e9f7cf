// Package engine is the in-process preview server: static files rooted at
// the project root, idempotent reload-script injection into HTML, the reload
// WebSocket hub, and the diagnostics endpoint. It implements the same wire
// surface a generated server exposes, so the host drives both identically.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/livepreview/previewd/internal/protocol"
)

type Server struct {
	root string
	addr string

	hub      *Hub
	stats    *Stats
	upgrader websocket.Upgrader

	httpServer *http.Server
}

func New(root, host string, port int) *Server {
	s := &Server{
		root:  root,
		addr:  fmt.Sprintf("%s:%d", host, port),
		stats: NewStats(),
	}
	s.hub = NewHub(s.stats)
	s.upgrader = websocket.Upgrader{CheckOrigin: checkOrigin}
	return s
}

func (s *Server) Hub() *Hub     { return s.hub }
func (s *Server) Stats() *Stats { return s.stats }

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(protocol.DiagnosticsPath, s.handleDiagnostics)
	mux.HandleFunc(protocol.SocketPath, s.handleWS)
	mux.HandleFunc(protocol.ScriptPath, s.handleScript)
	mux.HandleFunc(protocol.ReloadPath, s.handleReload)
	mux.HandleFunc("/", s.handleStatic)
	return mux
}

// Serve runs on an existing listener; the orchestrator pre-binds the port so
// "port already taken" surfaces before the session reports itself running.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler: s.Handler(),
		ConnState: func(_ net.Conn, state http.ConnState) {
			switch state {
			case http.StateNew:
				s.stats.ConnOpened()
			case http.StateClosed, http.StateHijacked:
				s.stats.ConnClosed()
			}
		},
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		s.hub.CloseAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("engine: serving %s at http://%s", s.root, s.addr)
	err := s.httpServer.Serve(ln)
	<-done
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	s.stats.Request()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.stats.Snapshot()); err != nil {
		log.Printf("engine: diagnostics encode: %v", err)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusNotImplemented)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.stats.RecordError(fmt.Sprintf("ws upgrade: %v", err))
		return
	}

	c := s.hub.Add(conn)
	go func() {
		defer s.hub.Remove(c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleScript(w http.ResponseWriter, r *http.Request) {
	s.stats.Request()
	w.Header().Set("Content-Type", "application/javascript")
	_, _ = w.Write(protocol.ClientScript)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	notified := s.hub.Broadcast()
	log.Printf("engine: reload broadcast to %d clients", notified)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	s.stats.Request()

	reqPath := path.Clean("/" + r.URL.Path)
	full := filepath.Join(s.root, filepath.FromSlash(reqPath))

	// The join above cannot escape the root after Clean, but keep the
	// invariant explicit: everything served lives under the project root.
	if full != s.root && !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		s.stats.RecordError("path escapes project root: " + reqPath)
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	info, err := os.Stat(full)
	if err == nil && info.IsDir() {
		full = filepath.Join(full, "index.html")
		info, err = os.Stat(full)
	}
	if err != nil {
		s.stats.RecordError("not found: " + reqPath)
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	ext := strings.ToLower(filepath.Ext(full))
	if ext == ".html" || ext == ".htm" {
		body, err := os.ReadFile(full)
		if err != nil {
			s.stats.RecordError(fmt.Sprintf("reading %s: %v", reqPath, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(InjectScript(body))
		return
	}

	http.ServeFile(w, r, full)
}

// checkOrigin accepts same-host and localhost origins only. The preview is
// a localhost tool; anything else is another page poking at the socket.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	host := parsed.Host
	if host == r.Host {
		return true
	}
	hostname := parsed.Hostname()
	return hostname == "localhost" || hostname == "127.0.0.1" || hostname == "::1"
}
