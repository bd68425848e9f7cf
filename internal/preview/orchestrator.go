// Package preview coordinates one live-preview session end to end:
// project resolution, server generation, process or in-process serving,
// file watching, reload fan-out and health polling.
package preview

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/livepreview/previewd/internal/config"
	"github.com/livepreview/previewd/internal/engine"
	"github.com/livepreview/previewd/internal/gen"
	"github.com/livepreview/previewd/internal/health"
	"github.com/livepreview/previewd/internal/project"
	"github.com/livepreview/previewd/internal/protocol"
	"github.com/livepreview/previewd/internal/session"
	"github.com/livepreview/previewd/internal/supervisor"
	"github.com/livepreview/previewd/internal/tempres"
	"github.com/livepreview/previewd/internal/watch"
)

// readyTimeout bounds how long Start waits for the server to announce
// its port before returning with the session still marked starting.
const readyTimeout = 10 * time.Second

// autoPortRange is how many ports above the configured one are probed
// when auto_port is enabled.
const autoPortRange = 100

// Orchestrator owns the single active preview session. All lifecycle
// operations are serialized; starting a new session always tears the
// previous one down completely first.
type Orchestrator struct {
	cfg      *config.Config
	events   session.Events
	resolver *project.Resolver
	monitor  *health.Monitor
	client   *http.Client

	opMu sync.Mutex // serializes Start and Stop

	mu         sync.Mutex // guards the fields below
	sess       *session.PreviewSession
	generation uint64
	sup        *supervisor.Supervisor
	watcher    *watch.Watcher
	tmp        *tempres.Manager
	cancel     context.CancelFunc
	engineDone chan struct{}
}

func NewOrchestrator(cfg *config.Config, events session.Events) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		events:   events,
		resolver: project.NewResolver(cfg.Project.Markers, cfg.Project.MaxDepth),
		client:   &http.Client{Timeout: 3 * time.Second},
	}
	o.monitor = health.NewMonitor(cfg.Health.Interval, o.onHealthStatus)
	return o
}

// Session returns a copy of the active session, or nil when idle.
func (o *Orchestrator) Session() *session.PreviewSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sess.Clone()
}

// Start launches a preview session for targetFile. Any previous session
// is stopped first, so at most one server ever runs.
func (o *Orchestrator) Start(targetFile string) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	o.stopLocked()

	absTarget, err := filepath.Abs(targetFile)
	if err != nil {
		return fmt.Errorf("resolving target path: %w", err)
	}
	if info, err := os.Stat(absTarget); err != nil {
		return fmt.Errorf("target file: %w", err)
	} else if info.IsDir() {
		return fmt.Errorf("target %s is a directory, want a file", absTarget)
	}

	root := o.resolver.ResolveRoot(absTarget)

	ln, port, err := o.bindPort()
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.generation++
	generation := o.generation
	o.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())

	sess := &session.PreviewSession{
		TargetFile: absTarget,
		Root:       root,
		Port:       port,
		Status:     session.StatusUnknown,
		StartedAt:  time.Now(),
		Generation: generation,
	}

	var sup *supervisor.Supervisor
	var tmp *tempres.Manager
	var engineDone chan struct{}

	if o.cfg.Server.Engine == "builtin" {
		sess.Engine = session.EngineBuiltin
		engineDone = o.startBuiltin(ctx, root, port, ln)
	} else {
		// The spawned runtime binds the port itself.
		ln.Close()
		sup, tmp, err = o.startDeno(ctx, sess, absTarget, root, port)
		if err != nil {
			cancel()
			if tmp != nil {
				tmp.Cleanup()
			}
			return err
		}
	}

	sess.PreviewURL = fmt.Sprintf("http://%s:%d/", o.cfg.Server.Host, port)

	watcher, err := watch.New(root, o.cfg.Watch.Debounce, o.cfg.Watch.Extensions)
	if err != nil {
		cancel()
		if sup != nil {
			sup.Stop()
		}
		if tmp != nil {
			tmp.Cleanup()
		}
		return fmt.Errorf("watching %s: %w", root, err)
	}

	o.mu.Lock()
	o.sess = sess
	o.sup = sup
	o.watcher = watcher
	o.tmp = tmp
	o.cancel = cancel
	o.engineDone = engineDone
	o.mu.Unlock()

	go o.watchLoop(ctx, watcher)

	o.monitor.SetTarget(
		fmt.Sprintf("http://%s:%d%s", o.cfg.Server.Host, port, protocol.DiagnosticsPath),
		generation,
	)
	go o.monitor.Run(ctx)

	log.Printf("preview: session %d serving %s at %s (engine=%s)",
		generation, absTarget, sess.PreviewURL, sess.Engine)
	o.events.EmitPreviewURL(sess.PreviewURL)
	return nil
}

// Stop tears down the active session: server, watcher, health polling
// and temporary resources. Stopping when idle is a no-op.
func (o *Orchestrator) Stop() {
	o.opMu.Lock()
	defer o.opMu.Unlock()
	o.stopLocked()
}

func (o *Orchestrator) stopLocked() {
	o.mu.Lock()
	sess := o.sess
	sup := o.sup
	watcher := o.watcher
	tmp := o.tmp
	cancel := o.cancel
	engineDone := o.engineDone
	o.sess = nil
	o.sup = nil
	o.watcher = nil
	o.tmp = nil
	o.cancel = nil
	o.engineDone = nil
	o.mu.Unlock()

	if sess == nil {
		return
	}

	o.monitor.ClearTarget()
	if watcher != nil {
		watcher.Close()
	}
	// Stop the child before cancelling the context: sup.Stop delivers
	// SIGTERM and honors the grace window, and marking the stop as
	// deliberate first keeps the exit from being reported as a crash.
	if sup != nil {
		sup.Stop()
	}
	if cancel != nil {
		cancel()
	}
	if engineDone != nil {
		select {
		case <-engineDone:
		case <-time.After(5 * time.Second):
			log.Printf("preview: builtin engine slow to shut down")
		}
	}
	if tmp != nil {
		tmp.Cleanup()
	}
	log.Printf("preview: session %d stopped", sess.Generation)
}

// bindPort claims the configured port, probing upward when auto_port is
// enabled. A bound port without auto_port is a spawn failure, never a
// silent substitution.
func (o *Orchestrator) bindPort() (net.Listener, int, error) {
	host := o.cfg.Server.Host
	base := o.cfg.Server.Port

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, base))
	if err == nil {
		return ln, base, nil
	}
	if !o.cfg.Server.AutoPort {
		return nil, 0, &supervisor.SpawnError{
			Detail: fmt.Sprintf("port %d already in use", base),
			Err:    err,
		}
	}

	for port := base + 1; port <= base+autoPortRange && port <= 65535; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
		if err == nil {
			log.Printf("preview: port %d busy, using %d", base, port)
			return ln, port, nil
		}
	}
	return nil, 0, &supervisor.SpawnError{
		Detail: fmt.Sprintf("no free port in %d-%d", base, base+autoPortRange),
	}
}

// startBuiltin serves the project in-process on the already bound
// listener. Returns a channel closed when the server has shut down.
func (o *Orchestrator) startBuiltin(ctx context.Context, root string, port int, ln net.Listener) chan struct{} {
	srv := engine.New(root, o.cfg.Server.Host, port)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ctx, ln); err != nil {
			log.Printf("preview: builtin engine: %v", err)
		}
	}()
	return done
}

// startDeno generates a server when the target has no server logic of
// its own, then spawns it under the sandboxed runtime and waits for the
// listening announcement.
func (o *Orchestrator) startDeno(ctx context.Context, sess *session.PreviewSession, target, root string, port int) (*supervisor.Supervisor, *tempres.Manager, error) {
	source, err := gen.Generate(target, root, port)
	if err != nil {
		return nil, nil, err
	}

	scriptPath := target
	var tmp *tempres.Manager
	if source == "" {
		sess.Engine = session.EngineUser
	} else {
		sess.Engine = session.EngineDeno
		tmp = tempres.NewManager()
		dir, err := tmp.CreateSessionDir()
		if err != nil {
			return nil, tmp, fmt.Errorf("session dir: %w", err)
		}
		scriptPath, err = tmp.CreateFile(dir, gen.ServerFileName, []byte(source))
		if err != nil {
			return nil, tmp, fmt.Errorf("writing server source: %w", err)
		}
	}

	sup := supervisor.New(supervisor.Options{
		Command:     o.cfg.Server.DenoBinary,
		ScriptPath:  scriptPath,
		Root:        root,
		Port:        port,
		Host:        o.cfg.Server.Host,
		TargetFile:  target,
		GracePeriod: o.cfg.Server.GracePeriod,
		OnOutput:    o.events.EmitOutput,
		OnExit:      o.onProcessExit,
	})

	if err := sup.Start(ctx); err != nil {
		return nil, tmp, err
	}
	sess.PID = sup.PID()

	select {
	case announced, ok := <-sup.Ready():
		if !ok {
			return nil, tmp, &supervisor.SpawnError{Detail: "process exited before listening"}
		}
		if announced != 0 && announced != port {
			log.Printf("preview: server announced port %d, expected %d", announced, port)
			sess.Port = announced
		}
	case <-time.After(readyTimeout):
		// The server may still come up; health polling will notice.
		log.Printf("preview: no listening announcement within %s, continuing", readyTimeout)
	}

	return sup, tmp, nil
}

func (o *Orchestrator) watchLoop(ctx context.Context, w *watch.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-w.Triggers():
			if !ok {
				return
			}
			log.Printf("preview: %d change(s) detected, reloading", len(batch))
			o.Refresh(true)
		}
	}
}

// Refresh asks the running server to push a reload to its clients. The
// post is retried with backoff because a freshly spawned server may not
// be accepting connections yet. When notify is false only the health
// monitor is poked.
func (o *Orchestrator) Refresh(notify bool) {
	o.mu.Lock()
	sess := o.sess
	o.mu.Unlock()
	if sess == nil {
		return
	}

	if notify {
		url := fmt.Sprintf("http://%s:%d%s", o.cfg.Server.Host, sess.Port, protocol.ReloadPath)
		backoff := protocol.NewBackoff()
		for attempt := 0; attempt < 3; attempt++ {
			resp, err := o.client.Post(url, "text/plain", nil)
			if err == nil {
				resp.Body.Close()
				if resp.StatusCode < 300 {
					break
				}
				log.Printf("preview: reload request returned %d", resp.StatusCode)
			} else {
				log.Printf("preview: reload request: %v", err)
			}
			time.Sleep(backoff.Next())
		}
	}

	o.monitor.Poke(context.Background())
}

func (o *Orchestrator) onHealthStatus(generation uint64, status session.ConnectionStatus, diag *protocol.Diagnostics) {
	o.mu.Lock()
	sess := o.sess
	sup := o.sup
	if sess == nil || sess.Generation != generation {
		o.mu.Unlock()
		return
	}
	changed := sess.Status != status
	sess.Status = status
	sess.LastDiag = diag
	if sup != nil {
		sess.Usage = sampleUsage(sup)
	}
	pid := sess.PID
	o.mu.Unlock()

	if status == session.StatusError && sup != nil {
		// A failed poll against a spawned server is ambiguous: the
		// process may be dead or just not accepting connections yet.
		if sup.Alive() {
			log.Printf("preview: server pid=%d alive but not answering diagnostics", pid)
		} else {
			log.Printf("preview: server pid=%d is gone", pid)
		}
	}

	if changed {
		log.Printf("preview: connection status %s", status)
		o.events.EmitStatus(status)
	}
}

// sampleUsage reads CPU and RSS of the spawned server. Nil when the
// process has already exited.
func sampleUsage(sup *supervisor.Supervisor) *session.ProcessUsage {
	stats, err := sup.Stats()
	if err != nil {
		return nil
	}
	return &session.ProcessUsage{
		PID:        stats.PID,
		CPUPercent: stats.CPUPercent,
		RSSBytes:   stats.RSSBytes,
	}
}

// onProcessExit handles a crash of the spawned server. The session is
// not restarted automatically; the failure is surfaced and the session
// marked errored so the caller can decide.
func (o *Orchestrator) onProcessExit(err error) {
	o.mu.Lock()
	sess := o.sess
	if sess != nil {
		sess.Status = session.StatusError
	}
	o.mu.Unlock()
	if sess == nil {
		return
	}
	log.Printf("preview: %v", err)
	o.events.EmitStatus(session.StatusError)
}
