package listener

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/ojdaemon/ojd/internal/config"
	"github.com/ojdaemon/ojd/internal/ipc"
	"github.com/ojdaemon/ojd/internal/oj"
	"github.com/ojdaemon/ojd/internal/ojerr"
	"github.com/ojdaemon/ojd/internal/state"
)

// Submitter commits one event through the write-ahead log and folds it
// into materialized state before returning, giving every mutation
// request read-after-write consistency.
type Submitter interface {
	Submit(ev oj.Event) error
}

// Reader runs fn with a consistent, read-locked view of state.
type Reader interface {
	Read(fn func(*state.State))
}

// Waker requests an immediate scheduler poll of one worker, bypassing
// its tick. A worker wake carries no state change of its own (nothing
// for the WAL to record) so it is delivered straight to the scheduler
// rather than through Submit.
type Waker interface {
	WakeWorker(name, namespace string)
}

// SessionPeeker captures a live session's current pane content for the
// CLI's `oj session peek` without routing through the event log, matching the
// read-only, side-effect-free nature of the operation.
type SessionPeeker interface {
	Peek(ctx context.Context, id oj.SessionID, withColor bool) (string, error)
}

// LogTailer serves a bounded window of a job/agent/worker/queue's
// activity log, keyed the same way activitylog.Logger files itself.
type LogTailer interface {
	Tail(kind, name string, lines int) ([]string, error)
}

// Listener is the daemon's unix-socket frontend.
type Listener struct {
	socketPath string
	submitter  Submitter
	reader     Reader
	waker      Waker
	peeker     SessionPeeker
	tailer     LogTailer
	cfg        *config.Config
	logger     *slog.Logger

	startedAt time.Time

	ln net.Listener
	wg sync.WaitGroup

	mu       sync.Mutex
	shutdown bool
	onShutdown func(kill bool)
}

// New returns a Listener bound to socketPath. onShutdown is invoked,
// from its own goroutine, for every shutdown request a client sends.
func New(socketPath string, submitter Submitter, reader Reader, waker Waker, peeker SessionPeeker, tailer LogTailer, cfg *config.Config, logger *slog.Logger, onShutdown func(kill bool)) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		socketPath: socketPath,
		submitter:  submitter,
		reader:     reader,
		waker:      waker,
		peeker:     peeker,
		tailer:     tailer,
		cfg:        cfg,
		logger:     logger.With("component", "listener"),
		startedAt:  time.Now(),
		onShutdown: onShutdown,
	}
}

// Serve removes any stale socket file, binds a new one, and accepts
// connections until ctx is cancelled. It blocks until shutdown
// completes.
func (l *Listener) Serve(ctx context.Context) error {
	if err := os.Remove(l.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket: %w", err)
	}

	ln, err := net.Listen("unix", l.socketPath)
	if err != nil {
		return fmt.Errorf("binding socket %s: %w", l.socketPath, err)
	}
	l.ln = ln
	l.logger.Info("listener started", "socket", l.socketPath)

	go l.acceptLoop(ctx)

	<-ctx.Done()
	return l.Close()
}

// Close stops accepting connections, waits for in-flight requests, and
// removes the socket file.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.shutdown {
		l.mu.Unlock()
		return nil
	}
	l.shutdown = true
	l.mu.Unlock()

	if l.ln != nil {
		if err := l.ln.Close(); err != nil {
			l.logger.Error("closing listener", "error", err)
		}
	}
	l.wg.Wait()

	if err := os.Remove(l.socketPath); err != nil && !os.IsNotExist(err) {
		l.logger.Error("removing socket", "error", err)
	}
	l.logger.Info("listener stopped")
	return nil
}

func (l *Listener) acceptLoop(ctx context.Context) {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			l.mu.Lock()
			stopped := l.shutdown
			l.mu.Unlock()
			if stopped {
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			l.logger.Error("accept error", "error", err)
			continue
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.handleConn(ctx, conn)
		}()
	}
}

func (l *Listener) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if d := l.cfg.Listener.RequestTimeout; d > 0 {
			conn.SetReadDeadline(time.Now().Add(d))
		}

		req, err := ipc.ReadRequest(conn)
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				l.logger.Debug("read error", "error", err)
			}
			return
		}

		resp := l.dispatch(req)

		if d := l.cfg.Listener.RequestTimeout; d > 0 {
			conn.SetWriteDeadline(time.Now().Add(d))
		}
		if err := ipc.WriteResponse(conn, resp); err != nil {
			l.logger.Error("write error", "error", err)
			return
		}
	}
}

func (l *Listener) dispatch(req *ipc.Request) *ipc.Response {
	switch req.Kind {
	case ipc.ReqPing:
		return &ipc.Response{Kind: ipc.RespPong}

	case ipc.ReqHello:
		return &ipc.Response{Kind: ipc.RespHello, Hello: &ipc.HelloResponse{Version: "1"}}

	case ipc.ReqStatus:
		return l.handleStatus()

	case ipc.ReqQuery:
		return l.handleQuery(req.Query)

	case ipc.ReqEvent:
		if req.Event == nil {
			return errResponse(ojerr.ProtocolMalformed("missing event payload"))
		}
		if err := l.submitter.Submit(*req.Event); err != nil {
			return errResponse(err)
		}
		return &ipc.Response{Kind: ipc.RespOK}

	case ipc.ReqShutdown:
		kill := req.Shutdown != nil && req.Shutdown.Kill
		if l.onShutdown != nil {
			go l.onShutdown(kill)
		}
		return &ipc.Response{Kind: ipc.RespOK}

	case ipc.ReqSessionSend:
		return l.handleSessionSend(req.SessionSend)

	case ipc.ReqAgentSend:
		return l.handleAgentSend(req.AgentSend)

	case ipc.ReqPipelineResume:
		return l.handlePipelineResume(req.PipelineResume)

	case ipc.ReqPipelineCancel:
		return l.handlePipelineCancel(req.PipelineCancel)

	case ipc.ReqWorkspaceDrop:
		return l.handleWorkspaceDrop(req.WorkspaceDrop)

	case ipc.ReqWorkspaceDropAll:
		return l.handleWorkspaceDropAll()

	case ipc.ReqWorkspacePrune:
		return l.handleWorkspacePrune(req.WorkspacePrune)

	case ipc.ReqWorkerStart:
		return l.handleWorkerStart(req.WorkerStart)

	case ipc.ReqRunCommand:
		return l.handleRunCommand(req.RunCommand)

	case ipc.ReqWorkerWake, ipc.ReqWorkerStop:
		return l.handleWorkerControl(req.Kind, req.WorkerWake, req.WorkerStop)

	case ipc.ReqQueuePush:
		return l.handleQueuePush(req.QueuePush)

	case ipc.ReqQueueDrop, ipc.ReqQueueRetry:
		return l.handleQueueItemControl(req.Kind, req.QueueDrop, req.QueueRetry)

	case ipc.ReqPeekSession:
		return l.handlePeekSession(req.PeekSession)

	case ipc.ReqOrphanDismiss:
		return l.handleOrphanDismiss(req.OrphanDismiss)

	default:
		return errResponse(ojerr.ProtocolUnknownRequest(string(req.Kind)))
	}
}

func errResponse(err error) *ipc.Response {
	if e, ok := ojerr.As(err); ok {
		return &ipc.Response{Kind: ipc.RespError, Error: &ipc.ErrorResponse{Code: e.Code, Message: e.Message}}
	}
	return &ipc.Response{Kind: ipc.RespError, Error: &ipc.ErrorResponse{Code: "UNKNOWN", Message: err.Error()}}
}

func (l *Listener) handleStatus() *ipc.Response {
	var resp ipc.StatusResponse
	resp.Uptime = time.Since(l.startedAt).Milliseconds()
	l.reader.Read(func(s *state.State) {
		resp.JobCount = len(s.Jobs)
		resp.AgentCount = len(s.Agents)
		resp.SessionCount = len(s.Sessions)
		for _, d := range s.Decisions {
			if !d.IsResolved() {
				resp.DecisionCount++
			}
		}
		resp.EscalatedCount = resp.DecisionCount
		resp.OrphanCount = len(s.Orphans)
	})
	return &ipc.Response{Kind: ipc.RespStatus, Status: &resp}
}
