package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"fabingest/internal/daemon"
	"fabingest/internal/dispatch"
	"fabingest/internal/logging"
	"fabingest/internal/plugin"
	"fabingest/internal/store"
	"fabingest/internal/workers"
)

// ServiceName is the RPC service prefix used by Client.
const ServiceName = "Fabingest"

// Controller is the daemon surface exposed over RPC.
type Controller interface {
	Start(ctx context.Context) error
	Stop()
	Status() daemon.Status
	Plugins() []plugin.Loaded
	ReloadPlugins() (plugin.LoadReport, error)
	History(ctx context.Context, filter store.HistoryFilter) ([]dispatch.Record, error)
}

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d Controller, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: ctx}
	if err := rpcServer.RegisterName(ServiceName, srv); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"),
				)
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually"),
		)
	}
}

type service struct {
	daemon Controller
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	s.logger.Debug("daemon start requested")
	if err := s.daemon.Start(s.ctx); err != nil {
		resp.Started = false
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = "daemon started"
	s.logger.Info("daemon started via IPC", logging.String(logging.FieldEventType, "daemon_start"))
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.logger.Debug("daemon stop requested")
	s.daemon.Stop()
	resp.Stopped = true
	s.logger.Info("daemon stopped via IPC", logging.String(logging.FieldEventType, "daemon_stop"))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	st := s.daemon.Status()
	resp.Running = st.Running
	resp.PID = st.PID
	resp.StartedAt = st.StartedAt
	resp.LockPath = st.LockPath
	resp.DatabasePath = st.DatabasePath
	resp.PluginDir = st.PluginDir
	resp.Roots = append(resp.Roots, st.Pipeline.Roots...)
	resp.Rules = st.Pipeline.Rules
	resp.Uploads = st.Pipeline.Uploads
	resp.Pending = st.Pipeline.Pending
	resp.Classified = st.Pipeline.Classified
	resp.Skipped = st.Pipeline.Skipped
	resp.CopyErrors = st.Pipeline.CopyErrors
	resp.WatchEvents = st.Pipeline.Watch.EventsDelivered
	resp.WatchRestarts = st.Pipeline.Watch.Restarts
	resp.WatchDegraded = st.Pipeline.Watch.Degraded
	resp.ClassifyPool = poolStats(st.Pipeline.ClassifyPool)
	resp.DispatchPool = poolStats(st.Pipeline.DispatchPool)
	resp.Plugins = make([]PluginActivity, 0, len(st.Pipeline.Plugins))
	for _, p := range st.Pipeline.Plugins {
		resp.Plugins = append(resp.Plugins, PluginActivity{
			Plugin:      p.Plugin,
			LastPath:    p.LastPath,
			LastAt:      p.LastAt,
			LastOutcome: string(p.LastOutcome),
			Dispatched:  p.Dispatched,
			Failures:    p.Failures,
		})
	}
	resp.ClockOffsetMS = st.ClockOffset.Milliseconds()
	resp.LastSync = st.LastSync
	resp.LastSyncError = st.LastSyncErr
	for _, disk := range st.Disks {
		resp.Disks = append(resp.Disks, Disk{
			Path:       disk.Path,
			TotalBytes: disk.TotalBytes,
			FreeBytes:  disk.FreeBytes,
			Error:      disk.Err,
		})
	}
	return nil
}

func poolStats(st workers.Stats) PoolStats {
	return PoolStats{Size: st.Size, Running: st.Running, Waiting: st.Waiting, Completed: st.Completed}
}

func (s *service) PluginList(_ PluginListRequest, resp *PluginListResponse) error {
	loaded := s.daemon.Plugins()
	resp.Plugins = make([]PluginInfo, 0, len(loaded))
	for _, p := range loaded {
		resp.Plugins = append(resp.Plugins, PluginInfo{
			Name:     p.Name,
			Version:  p.Version,
			Kind:     p.Kind,
			Source:   p.Source,
			Started:  p.Started,
			LoadedAt: p.LoadedAt,
		})
	}
	return nil
}

func (s *service) PluginReload(_ PluginReloadRequest, resp *PluginReloadResponse) error {
	s.logger.Debug("plugin reload requested")
	report, err := s.daemon.ReloadPlugins()
	if err != nil {
		return err
	}
	resp.Loaded = append(resp.Loaded, report.Loaded...)
	resp.Disabled = append(resp.Disabled, report.Disabled...)
	for _, f := range report.Failed {
		failure := PluginFailure{Source: f.Source, Name: f.Name}
		if f.Err != nil {
			failure.Error = f.Err.Error()
		}
		resp.Failed = append(resp.Failed, failure)
	}
	return nil
}

func (s *service) History(req HistoryRequest, resp *HistoryResponse) error {
	records, err := s.daemon.History(s.ctx, store.HistoryFilter{
		Plugin:  req.Plugin,
		Outcome: dispatch.Outcome(req.Outcome),
		Limit:   req.Limit,
	})
	if err != nil {
		return err
	}
	resp.Entries = make([]HistoryEntry, 0, len(records))
	for _, rec := range records {
		resp.Entries = append(resp.Entries, HistoryEntry{
			ID:         rec.ID,
			Path:       rec.Path,
			Plugin:     rec.Plugin,
			Outcome:    string(rec.Outcome),
			Error:      rec.Error,
			StartedAt:  rec.StartedAt,
			DurationMS: rec.Duration.Milliseconds(),
		})
	}
	return nil
}
