package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/meshkeeper/meshkeeper/internal/app"
	"github.com/meshkeeper/meshkeeper/internal/bus"
	"github.com/meshkeeper/meshkeeper/internal/config"
	"github.com/meshkeeper/meshkeeper/internal/discovery"
	"github.com/meshkeeper/meshkeeper/internal/events"
	"github.com/meshkeeper/meshkeeper/internal/logging"
	"github.com/meshkeeper/meshkeeper/internal/radio"
	"github.com/meshkeeper/meshkeeper/internal/transport"
)

const (
	initialConfigWaitTimeout = 45 * time.Second
	maxHexPreviewLen         = 64
)

func main() {
	if err := run(); err != nil {
		slog.Error("run debug tool", "error", err)
		os.Exit(1)
	}
}

func run() error {
	host := flag.String("host", "", "radio ip/hostname (default: config, then mdns)")
	listenFor := flag.Duration("listen-for", 0, "listen duration after init, e.g. 30s")
	noSubscribe := flag.Bool("no-subscribe", false, "exit after initial config download completes")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	paths, err := app.ResolvePaths()
	if err != nil {
		return fmt.Errorf("resolve paths: %w", err)
	}
	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if strings.TrimSpace(*host) != "" {
		cfg.Radio.Host = strings.TrimSpace(*host)
	}

	logMgr := logging.NewManager()
	cfg.Logging.LogToFile = false
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer func() {
		if closeErr := logMgr.Close(); closeErr != nil {
			slog.Warn("close log manager", "error", closeErr)
		}
	}()
	logger := logMgr.Logger("cli")
	logger.Info("starting meshkeeper debug", "version", app.BuildVersion(), "build_date", app.BuildDateYMD())

	if strings.TrimSpace(cfg.Radio.Host) == "" {
		found, err := discovery.FindRadio(ctx, logger, discovery.DefaultTimeout)
		if err != nil {
			return fmt.Errorf("missing radio host and discovery failed: %w", err)
		}
		cfg.Radio.Host = found.Host
	}

	b := bus.New(logMgr.Logger("bus"))
	defer b.Close()

	codec, err := radio.NewMeshtasticCodec()
	if err != nil {
		return fmt.Errorf("initialize meshtastic codec: %w", err)
	}

	tr := transport.NewIPTransport(cfg.Radio.Host, cfg.Radio.Port)
	session := radio.NewSession(logMgr.Logger("radio"), b, tr, codec)

	var configComplete atomic.Bool
	configDone := make(chan struct{})
	session.SetFrameHandler(func(_ context.Context, payload []byte) {
		frame, err := codec.DecodeFromRadio(payload)
		if err != nil {
			logger.Warn("decode failed", "len", len(payload), "error", err)

			return
		}
		logFrame(logger, frame)
		if frame.ConfigCompleteID != 0 && configComplete.CompareAndSwap(false, true) {
			close(configDone)
		}
	})
	session.SetConnectHook(func(hookCtx context.Context) {
		payload, err := codec.EncodeWantConfig()
		if err != nil {
			logger.Error("encode want_config failed", "error", err)

			return
		}
		if err := session.Send(hookCtx, payload); err != nil {
			logger.Error("want_config send failed", "error", err)
		}
	})

	connSub := b.Subscribe(events.TopicConnStatus)
	rawInSub := b.Subscribe(events.TopicRawFrameIn)
	rawOutSub := b.Subscribe(events.TopicRawFrameOut)
	defer b.Unsubscribe(connSub, events.TopicConnStatus)
	defer b.Unsubscribe(rawInSub, events.TopicRawFrameIn)
	defer b.Unsubscribe(rawOutSub, events.TopicRawFrameOut)
	go watchRawTraffic(ctx, logger, connSub, rawInSub, rawOutSub)

	session.Start(ctx)

	logger.Info("waiting for initial config completion", "host", cfg.Radio.Host, "timeout", initialConfigWaitTimeout)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(initialConfigWaitTimeout):
		return fmt.Errorf("timeout waiting for config_complete_id response after %s", initialConfigWaitTimeout)
	case <-configDone:
	}
	logger.Info("initial config completed")

	if *noSubscribe {
		logger.Info("no-subscribe mode completed, exiting")

		return nil
	}

	if *listenFor > 0 {
		logger.Info("listen mode", "duration", *listenFor)
		select {
		case <-ctx.Done():
		case <-time.After(*listenFor):
		}

		return nil
	}

	logger.Info("listening until interrupt")
	<-ctx.Done()

	return nil
}

func logFrame(logger *slog.Logger, frame radio.DecodedFrame) {
	switch {
	case frame.MyInfo != nil:
		logger.Info("frame my_info", "node_num", frame.MyInfo.GetMyNodeNum())
	case frame.NodeInfo != nil:
		logger.Info("frame node_info", "num", frame.NodeInfo.GetNum(),
			"long_name", frame.NodeInfo.GetUser().GetLongName())
	case frame.Metadata != nil:
		logger.Info("frame metadata", "firmware", frame.Metadata.GetFirmwareVersion())
	case frame.Config != nil:
		logger.Info("frame config")
	case frame.ModuleConfig != nil:
		logger.Info("frame module_config")
	case frame.Channel != nil:
		logger.Info("frame channel", "index", frame.Channel.GetIndex(),
			"name", frame.Channel.GetSettings().GetName())
	case frame.ConfigCompleteID != 0:
		logger.Info("frame config_complete", "config_id", frame.ConfigCompleteID)
	case frame.Packet != nil:
		logger.Info("frame packet", "from", frame.Packet.GetFrom(), "to", frame.Packet.GetTo(),
			"port", frame.Packet.GetDecoded().GetPortnum().String())
	case frame.Rebooted:
		logger.Info("frame rebooted")
	}
}

func watchRawTraffic(ctx context.Context, logger *slog.Logger, connSub, rawInSub, rawOutSub bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-connSub:
			if !ok {
				return
			}
			if status, ok := raw.(events.ConnectionStatus); ok {
				logger.Info("conn status", "state", status.State, "target", status.Target, "error", status.Err)
			}
		case raw, ok := <-rawInSub:
			if !ok {
				return
			}
			if frame, ok := raw.(events.RawFrame); ok {
				logger.Debug("raw in", "len", frame.Len, "hex", previewHex(frame.Hex))
			}
		case raw, ok := <-rawOutSub:
			if !ok {
				return
			}
			if frame, ok := raw.(events.RawFrame); ok {
				logger.Debug("raw out", "len", frame.Len, "hex", previewHex(frame.Hex))
			}
		}
	}
}

func previewHex(s string) string {
	if len(s) <= maxHexPreviewLen {
		return s
	}

	return s[:maxHexPreviewLen] + "…"
}
