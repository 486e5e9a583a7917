package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/edgeoffload/dispatch/internal/config"
	"github.com/edgeoffload/dispatch/internal/node"
	"github.com/edgeoffload/dispatch/internal/utils"
)

func main() {
	defaultPath := os.Getenv(config.EnvConfigPath)
	if defaultPath == "" {
		defaultPath = "topology.yaml"
	}
	configPath := flag.String("config", defaultPath, "path to the topology file")
	transport := flag.String("transport", node.TransportLibp2p, "message transport: libp2p or memory")
	flag.Parse()

	topo, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Config error:", err)
		os.Exit(1)
	}

	level, err := utils.ParseLevel(topo.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Config error:", err)
		os.Exit(1)
	}
	logger := utils.NewLogger(utils.LoggerConfig{
		Level:     level,
		Component: "offload-node",
		Output:    os.Stdout,
		JSON:      topo.LogFormat == "json",
	})

	n, err := node.New(topo, *transport, logger)
	if err != nil {
		logger.Error("Node setup failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := n.Run(ctx); err != nil {
		logger.Error("Node stopped with error", "error", err)
		os.Exit(1)
	}
}
