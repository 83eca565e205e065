package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/urfave/cli/v2"

	"github.com/zde37/ringstore/internal/api"
	"github.com/zde37/ringstore/internal/config"
	"github.com/zde37/ringstore/internal/transport"
	"github.com/zde37/ringstore/pkg"
	"github.com/zde37/ringstore/pkg/chord"
)

var (
	Build = "head"
)

const leaveAttempts = 3

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "ringstore: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:            "ringstore",
		Usage:           fmt.Sprintf("build for %s on %s", runtime.GOARCH, runtime.GOOS),
		Version:         Build,
		HideHelpCommand: true,
		Description:     "in-memory key/value node of a Chord ring",
		Flags: []cli.Flag{
			&cli.PathFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML configuration file, flags override its values",
				EnvVars: []string{"RINGSTORE_CONFIG"},
			},
			&cli.StringFlag{
				Name:     "host",
				Value:    "127.0.0.1",
				Usage:    "Host address to bind to and advertise",
				Category: "Network Options",
			},
			&cli.IntFlag{
				Name:     "port",
				Value:    8440,
				Usage:    "Port for the node's gRPC endpoint",
				Category: "Network Options",
			},
			&cli.IntFlag{
				Name:     "http-port",
				Value:    8080,
				Usage:    "Port for the HTTP API, 0 disables it",
				Category: "Network Options",
			},
			&cli.StringFlag{
				Name:     "auth-token",
				Usage:    "Shared secret required from peers",
				EnvVars:  []string{"RINGSTORE_AUTH_TOKEN"},
				Category: "Network Options",
			},
			&cli.StringFlag{
				Name:        "node-id",
				DefaultText: "hash of host:port",
				Usage:       "Hex node identifier",
				Category:    "Ring Options",
			},
			&cli.StringFlag{
				Name:     "predecessor",
				Usage:    `Predecessor as "id=host:port" or "host:port"`,
				Category: "Ring Options",
			},
			&cli.StringSliceFlag{
				Name:     "successor",
				Usage:    `Successor as "id=host:port" or "host:port", repeatable`,
				Category: "Ring Options",
			},
			&cli.IntFlag{
				Name:     "successor-list-size",
				Value:    3,
				Usage:    "Number of successors to keep and replicate to",
				Category: "Ring Options",
			},
			&cli.IntFlag{
				Name:     "workers",
				Value:    16,
				Usage:    "Concurrent replication tasks",
				Category: "Ring Options",
			},
			&cli.DurationFlag{
				Name:     "rpc-timeout",
				Value:    5 * time.Second,
				Usage:    "Timeout for remote calls without a deadline",
				Category: "Ring Options",
			},
			&cli.StringFlag{
				Name:     "log-level",
				Value:    "info",
				Usage:    "Log level (trace, debug, info, warn, error)",
				Category: "Logging Options",
			},
			&cli.StringFlag{
				Name:     "log-format",
				Value:    "console",
				Usage:    "Log format (json, console)",
				Category: "Logging Options",
			},
			&cli.PathFlag{
				Name:     "log-file",
				Usage:    "Also write logs to this file, rotated",
				Category: "Logging Options",
			},
		},
		Action: run,
	}
}

// loadConfig reads the config file and applies explicitly set flags on top.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.Path("config"))
	if err != nil {
		return nil, err
	}

	if c.IsSet("host") {
		cfg.Host = c.String("host")
	}
	if c.IsSet("port") {
		cfg.Port = c.Int("port")
	}
	if c.IsSet("http-port") {
		cfg.HTTPPort = c.Int("http-port")
	}
	if c.IsSet("auth-token") {
		cfg.AuthToken = c.String("auth-token")
	}
	if c.IsSet("node-id") {
		cfg.NodeID = c.String("node-id")
	}
	if c.IsSet("predecessor") {
		cfg.Predecessor = c.String("predecessor")
	}
	if c.IsSet("successor") {
		cfg.Successors = c.StringSlice("successor")
	}
	if c.IsSet("successor-list-size") {
		cfg.SuccessorListSize = c.Int("successor-list-size")
	}
	if c.IsSet("workers") {
		cfg.ReplicationWorkers = c.Int("workers")
	}
	if c.IsSet("rpc-timeout") {
		cfg.RPCTimeout = c.Duration("rpc-timeout")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.LogFormat = c.String("log-format")
	}
	if c.IsSet("log-file") {
		cfg.LogFile = c.Path("log-file")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	logger, err := pkg.New(cfg.LoggerConfig())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Close()
	pkg.SetGlobal(logger)

	id, err := cfg.Identity()
	if err != nil {
		return err
	}

	logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Int("http_port", cfg.HTTPPort).
		Str("node_id", id.String()).
		Msg("Starting ringstore node")

	pool := chord.NewWorkerPool(cfg.ReplicationWorkers)
	hub := api.NewEventHub(logger)
	grpcClient := transport.NewGRPCClient(logger, cfg.RPCTimeout, cfg.AuthToken)

	node, err := chord.NewNode(chord.NodeConfig{
		ID:         id,
		Address:    cfg.Address(),
		References: chord.NewReferences(id, cfg.SuccessorListSize),
		Entries:    chord.NewEntries(),
		Executor:   pool,
		Callback:   hub,
		EndpointFactory: transport.NewEndpointFactory(grpcClient, transport.ServerConfig{
			AuthToken: cfg.AuthToken,
		}, logger),
		Logger: logger,
	})
	if err != nil {
		pool.Close()
		grpcClient.Close()
		return fmt.Errorf("failed to create node: %w", err)
	}

	if err := addStaticPeers(cfg, node, grpcClient); err != nil {
		cleanup(node, pool, grpcClient, nil, hub, cfg.RPCTimeout, logger)
		return err
	}

	var httpServer *api.Server
	if cfg.HTTPPort != 0 {
		httpServer, err = api.NewServer(node, hub, &api.Config{Host: cfg.Host, HTTPPort: cfg.HTTPPort}, logger)
		if err == nil {
			err = httpServer.Start()
		}
		if err != nil {
			cleanup(node, pool, grpcClient, nil, hub, cfg.RPCTimeout, logger)
			return fmt.Errorf("failed to start HTTP API: %w", err)
		}
	} else {
		go hub.Run()
	}

	node.AcceptEntries()
	logger.Info().Str("references", node.References().String()).Msg("Node is ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info().
		Str("signal", sig.String()).
		Msg("Received shutdown signal")

	cleanup(node, pool, grpcClient, httpServer, hub, cfg.RPCTimeout, logger)
	logger.Info().Msg("Node shutdown complete")
	return nil
}

// addStaticPeers installs the configured predecessor and successors.
func addStaticPeers(cfg *config.Config, node *chord.Node, client *transport.GRPCClient) error {
	pred, successors, err := cfg.StaticPeers()
	if err != nil {
		return err
	}
	refs := node.References()
	for _, s := range successors {
		refs.AddReference(client.Connect(s.ID, s.Address))
	}
	if pred != nil {
		refs.AddReferenceAsPredecessor(client.Connect(pred.ID, pred.Address))
	}
	return nil
}

// cleanup performs graceful shutdown of all components
func cleanup(node *chord.Node, pool *chord.WorkerPool, grpcClient *transport.GRPCClient, httpServer *api.Server, hub *api.EventHub, timeout time.Duration, logger *pkg.Logger) {
	logger.Info().Msg("Starting graceful shutdown")

	if httpServer != nil {
		if err := httpServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping HTTP server")
		}
	} else {
		hub.Stop()
	}

	leave(node, timeout, logger)

	if err := node.Disconnect(); err != nil {
		logger.Error().Err(err).Msg("Error disconnecting node")
	}

	pool.Close()

	if err := grpcClient.Close(); err != nil {
		logger.Error().Err(err).Msg("Error closing gRPC client")
	}
}

// leave hands this node's predecessor to its successor so the ring closes
// over the gap. Best effort.
func leave(node *chord.Node, timeout time.Duration, logger *pkg.Logger) {
	successors := node.References().GetSuccessors()
	if len(successors) == 0 {
		return
	}
	successor := successors[0]
	pred := node.References().GetPredecessor()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := retry.Do(func() error {
		return successor.LeavesNetwork(ctx, pred)
	},
		retry.Context(ctx),
		retry.Attempts(leaveAttempts),
		retry.Delay(100*time.Millisecond),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, pkg.ErrCommunication)
		}),
		retry.OnRetry(func(n uint, err error) {
			logger.Debug().Err(err).Uint("attempt", n+1).Msg("Retrying leave announcement")
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		logger.Warn().
			Err(err).
			Str("successor", successor.Address()).
			Msg("Failed to announce leave")
	}
}
