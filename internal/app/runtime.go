package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/meshkeeper/meshkeeper/internal/bus"
	"github.com/meshkeeper/meshkeeper/internal/config"
	"github.com/meshkeeper/meshkeeper/internal/discovery"
	"github.com/meshkeeper/meshkeeper/internal/httpapi"
	"github.com/meshkeeper/meshkeeper/internal/logging"
	"github.com/meshkeeper/meshkeeper/internal/mesh"
	"github.com/meshkeeper/meshkeeper/internal/notify"
	"github.com/meshkeeper/meshkeeper/internal/persistence"
	"github.com/meshkeeper/meshkeeper/internal/radio"
	"github.com/meshkeeper/meshkeeper/internal/transport"
	"github.com/meshkeeper/meshkeeper/internal/virtual"
)

// Runtime wires the whole daemon together: persistence, the radio
// session, the mesh manager, and the optional HTTP and virtual-node
// surfaces.
type Runtime struct {
	mu sync.Mutex

	Ctx    context.Context
	cancel context.CancelFunc

	Paths  Paths
	Config config.AppConfig

	LogManager *logging.Manager
	Bus        *bus.PubSubBus
	DB         *sql.DB

	Store       mesh.Store
	WriterQueue *persistence.WriterQueue

	Transport *transport.IPTransport
	Session   *radio.Session
	Manager   *mesh.Manager
	Notifier  notify.Sender

	HTTPServer  *httpapi.Server
	VirtualNode *virtual.Server

	retention *RetentionJob
}

func Initialize(parent context.Context) (*Runtime, error) {
	paths, err := ResolvePaths()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	ctx, cancel := context.WithCancel(parent)
	rt := &Runtime{
		Ctx:    ctx,
		cancel: cancel,
		Paths:  paths,
		Config: cfg,
	}

	logMgr := logging.NewManager()
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		cancel()
		_ = logMgr.Close()

		return nil, fmt.Errorf("configure logging: %w", err)
	}
	rt.LogManager = logMgr
	slog.Info("starting meshkeeper runtime", "version", BuildVersion(), "build_date", BuildDateYMD())

	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath = paths.DBFile
	}
	db, err := persistence.Open(ctx, dbPath)
	if err != nil {
		_ = rt.Close()

		return nil, err
	}
	rt.DB = db

	telemetryRepo := persistence.NewTelemetryRepo(db)
	packetLogRepo := persistence.NewPacketLogRepo(db)
	rt.Store = mesh.Store{
		Nodes:       persistence.NewNodeRepo(db),
		Messages:    persistence.NewMessageRepo(db),
		Channels:    persistence.NewChannelRepo(db),
		Telemetry:   telemetryRepo,
		Traceroutes: persistence.NewTracerouteRepo(db),
		Neighbors:   persistence.NewNeighborRepo(db),
		Settings:    persistence.NewSettingsRepo(db),
	}
	// Packet logging is opt-in; leaving the repo out of the store
	// disables capture while retention still covers old rows.
	if cfg.PacketLog {
		rt.Store.PacketLog = packetLogRepo
	}

	rt.Bus = bus.New(logMgr.Logger("bus"))

	writerQueue := persistence.NewWriterQueue(logMgr.Logger("persistence"), 512)
	writerQueue.Start(ctx)
	rt.WriterQueue = writerQueue
	rt.retention = NewRetentionJob(logMgr.Logger("retention"), clock.New(), writerQueue, telemetryRepo, packetLogRepo)

	codec, err := radio.NewMeshtasticCodec()
	if err != nil {
		_ = rt.Close()

		return nil, fmt.Errorf("initialize meshtastic codec: %w", err)
	}

	rt.Transport = transport.NewIPTransport(cfg.Radio.Host, cfg.Radio.Port)
	rt.Session = radio.NewSession(logMgr.Logger("radio"), rt.Bus, rt.Transport, codec)
	rt.Session.SetStaleTimeout(staleTimeout(cfg))

	if cfg.Notifications.Desktop {
		rt.Notifier = notify.NewDesktopSender(Name)
	} else {
		rt.Notifier = notify.NewLogSender(logMgr.Logger("notify"))
	}

	rt.Manager = mesh.NewManager(mesh.ManagerOptions{
		Logger:   logMgr.Logger("mesh"),
		Bus:      rt.Bus,
		Session:  rt.Session,
		Codec:    codec,
		Store:    rt.Store,
		Notifier: rt.Notifier,
		Version:  BuildVersion(),
	})

	if cfg.VirtualNode.Enabled {
		rt.VirtualNode = virtual.NewServer(logMgr.Logger("virtual"), rt.Manager)
		rt.Manager.RegisterBroadcaster(rt.VirtualNode)
	}
	if cfg.HTTP.Enabled {
		rt.HTTPServer = httpapi.NewServer(logMgr.Logger("httpapi"), rt.Manager, rt.Store, BuildVersion())
	}

	return rt, nil
}

// Start brings the daemon online: resolve the radio if needed, open the
// session, and start the serving surfaces.
func (r *Runtime) Start() error {
	if r.Transport.Host() == "" {
		radioFound, err := discovery.FindRadio(r.Ctx, r.LogManager.Logger("discovery"), discovery.DefaultTimeout)
		if err != nil {
			slog.Warn("radio discovery failed, waiting for configured host", "error", err)
		} else {
			r.Transport.SetHost(radioFound.Host)
		}
	}

	// The virtual node only makes sense once the init stream has been
	// captured; clients connecting earlier would get an empty replay.
	if r.VirtualNode != nil {
		r.Manager.OnConfigCaptureComplete(func() {
			if err := r.VirtualNode.Start(r.Ctx, r.Config.VirtualNode.Listen); err != nil {
				slog.Error("start virtual node", "error", err)
			}
		})
	}

	r.Manager.Start(r.Ctx)
	r.retention.Start(r.Ctx)
	if r.HTTPServer != nil {
		if err := r.HTTPServer.Start(r.Ctx, r.Config.HTTP.Listen); err != nil {
			return err
		}
	}

	return nil
}

func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}
	if r.VirtualNode != nil {
		_ = r.VirtualNode.Close()
	}
	if r.Manager != nil {
		r.Manager.Disconnect()
	}
	if r.Bus != nil {
		r.Bus.Close()
	}
	if r.DB != nil {
		if err := r.DB.Close(); err != nil {
			slog.Warn("close database", "error", err)
		}
	}
	if r.LogManager != nil {
		return r.LogManager.Close()
	}

	return nil
}

// SaveConfig persists the current configuration snapshot.
func (r *Runtime) SaveConfig() error {
	r.mu.Lock()
	cfg := r.Config
	r.mu.Unlock()

	return config.Save(r.Paths.ConfigFile, cfg)
}

func staleTimeout(cfg config.AppConfig) time.Duration {
	return time.Duration(cfg.Radio.StaleTimeoutSeconds) * time.Second
}
