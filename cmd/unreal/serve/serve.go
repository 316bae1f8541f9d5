// Package servecmder provides the serve command for running the chat relay.
package servecmder

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chatunreal/unreal/pkg/backend"
	"github.com/chatunreal/unreal/pkg/config"
	"github.com/chatunreal/unreal/pkg/dotdir"
	"github.com/chatunreal/unreal/pkg/eventstream"
	"github.com/chatunreal/unreal/pkg/eventstream/kafka"
	"github.com/chatunreal/unreal/pkg/eventstream/nop"
	"github.com/chatunreal/unreal/pkg/logger"
	"github.com/chatunreal/unreal/pkg/memory"
	"github.com/chatunreal/unreal/pkg/memory/file"
	"github.com/chatunreal/unreal/pkg/memory/sqlite"
	"github.com/chatunreal/unreal/pkg/search"
	"github.com/chatunreal/unreal/pkg/tor"
	"github.com/chatunreal/unreal/server"
)

type ServeCommander struct {
	listen    string
	debug     bool
	configDir string
	logger    *zap.Logger
}

const serveLongDesc string = `Run the unreal chat relay server.

The relay serves POST /api/chat backed by the configured model endpoint,
with bounded per-session conversation memory and optional Tor-routed
web-search augmentation.

Configuration is read from .unreal/config.toml (see "unreal config") and
can be overridden per key with UNREAL_* environment variables.

Examples:
  unreal serve
  unreal serve --listen :4891`

const serveShortDesc string = "Run the chat relay server"

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			return cmder.run()
		},
	}

	cmd.Flags().StringVarP(&cmder.listen, "listen", "l", "", "Address to listen on (overrides config)")

	return cmd
}

func (c *ServeCommander) run() error {
	c.logger = logger.NewLogger(c.debug)
	defer c.logger.Sync()

	v, err := config.InitViper(c.configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg := config.ConfigFromViper(v)
	if c.listen != "" {
		cfg.Server.Listen = c.listen
	}

	dataDir, err := dotdir.NewManager().Target(c.configDir)
	if err != nil {
		return fmt.Errorf("resolving data directory: %w", err)
	}

	store, err := c.createStore(cfg, dataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	supervisor := tor.NewSupervisor(tor.Config{
		Enabled:      cfg.Tor.Enabled,
		BinaryPath:   cfg.Tor.Path,
		SocksHost:    cfg.Tor.SocksHost,
		SocksPort:    cfg.Tor.SocksPort,
		StartTimeout: time.Duration(cfg.Tor.StartTimeoutSeconds) * time.Second,
	}, c.logger)
	defer supervisor.Stop()

	augmenter := search.NewAugmenter(search.Config{
		Enabled:       cfg.Search.Enabled,
		Timeout:       time.Duration(cfg.Search.TimeoutSeconds) * time.Second,
		MaxSnippetLen: cfg.Search.MaxSnippetLen,
		CacheSize:     cfg.Search.CacheSize,
		CacheTTL:      time.Duration(cfg.Search.CacheTTLHours) * time.Hour,
	}, supervisor, c.logger)

	client := backend.NewClient(backend.Config{
		Upstream: cfg.Backend.Upstream,
		Model:    cfg.Backend.Model,
		Timeout:  time.Duration(cfg.Backend.TimeoutSeconds) * time.Second,
	}, c.logger)

	publisher, err := c.createPublisher(cfg)
	if err != nil {
		return err
	}
	defer publisher.Close()

	srv, err := server.New(server.Config{
		ListenAddr:    cfg.Server.Listen,
		QueueOverlap:  cfg.Server.Overlap == config.OverlapQueue,
		MaxMessageLen: cfg.Server.MaxMessageLen,
		SystemPrompt:  cfg.Backend.SystemPrompt,
		PromptTurns:   cfg.Memory.PromptTurns,
		HistoryTurns:  cfg.Memory.MaxTurns,
		IdleTimeout:   time.Duration(cfg.Backend.IdleTimeoutSeconds) * time.Second,
	}, store, client, augmenter, publisher, supervisor, c.logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	c.logger.Info("starting unreal",
		zap.String("listen", cfg.Server.Listen),
		zap.String("upstream", cfg.Backend.Upstream),
		zap.String("model", cfg.Backend.Model),
		zap.String("memory_driver", cfg.Memory.Driver),
		zap.Bool("tor", cfg.Tor.Enabled),
		zap.Bool("search", cfg.Search.Enabled),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// fiber's Listen returns nil after a graceful Shutdown.
		if err := srv.Run(); err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		c.logger.Info("shutting down")
		return srv.Close()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *ServeCommander) createStore(cfg *config.Config, dataDir string) (memory.Store, error) {
	switch cfg.Memory.Driver {
	case "sqlite":
		path := cfg.Memory.Path
		if path == "" {
			path = filepath.Join(dataDir, "memory.db")
		}
		c.logger.Info("using sqlite memory store", zap.String("path", path))
		return sqlite.NewStore(path, cfg.Memory.MaxTurns)

	case "", "file":
		path := cfg.Memory.Path
		if path == "" {
			path = filepath.Join(dataDir, "chat_memory.json")
		}
		c.logger.Info("using file memory store", zap.String("path", path))
		return file.NewStore(path, cfg.Memory.MaxTurns)

	default:
		return nil, fmt.Errorf("unknown memory driver %q", cfg.Memory.Driver)
	}
}

func (c *ServeCommander) createPublisher(cfg *config.Config) (eventstream.Publisher, error) {
	switch cfg.Events.Driver {
	case "kafka":
		if len(cfg.Events.Brokers) == 0 {
			return nil, fmt.Errorf("events driver %q requires events.brokers", cfg.Events.Driver)
		}
		c.logger.Info("publishing turn events to kafka",
			zap.Strings("brokers", cfg.Events.Brokers),
			zap.String("topic", cfg.Events.Topic),
		)
		return kafka.NewPublisher(cfg.Events.Brokers, cfg.Events.Topic), nil

	case "", "nop":
		return nop.NewPublisher(), nil

	default:
		return nil, fmt.Errorf("unknown events driver %q", cfg.Events.Driver)
	}
}
