// Copyright 2025 Philipp Hossner
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package main provides the CLI entrypoint for the leadership controller.
//
// The controller accepts configuration via CLI flags, environment variables,
// or a YAML config file:
//
//   - Config file: --config flag or CONFIG_FILE env var (optional)
//   - Node identity: --node-id flag, NODE_ID env var, or the hostname
//   - Metrics port: --metrics-port flag or METRICS_PORT env var
//   - Debug port: --debug-port flag or DEBUG_PORT env var (0 = disabled)
//
// The controller runs until receiving SIGTERM or SIGINT, at which point it
// performs graceful shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"syscall"

	_ "github.com/KimMachineGun/automemlimit"

	"controller-leadership/pkg/config"
)

func main() {
	var (
		configPath  string
		nodeID      string
		topicsFlag  string
		metricsPort int
		debugPort   int
	)

	flag.StringVar(&configPath, "config", "",
		"Path to the YAML configuration file (env: CONFIG_FILE)")
	flag.StringVar(&nodeID, "node-id", "",
		"Unique identity of this controller instance (env: NODE_ID, default: hostname)")
	flag.StringVar(&topicsFlag, "topics", "",
		"Comma-separated election topics to run for at startup (in addition to the config file)")
	flag.IntVar(&metricsPort, "metrics-port", 0,
		"Port for Prometheus metrics (env: METRICS_PORT)")
	flag.IntVar(&debugPort, "debug-port", 0,
		"Port for the introspection HTTP server (0 to disable, env: DEBUG_PORT)")
	flag.Parse()

	// Configuration priority: CLI flags > Environment variables > Config file > Defaults

	if configPath == "" {
		configPath = os.Getenv("CONFIG_FILE")
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadConfigFile(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config %s: %v\n", configPath, err)
			os.Exit(1)
		}
	} else {
		cfg = &config.Config{}
		config.SetDefaults(cfg)
	}

	// Node identity
	if nodeID == "" {
		nodeID = os.Getenv("NODE_ID")
	}
	if nodeID != "" {
		cfg.Node.ID = nodeID
	}
	if cfg.Node.ID == "" {
		hostname, _ := os.Hostname()
		cfg.Node.ID = hostname
	}

	// Ports
	if metricsPort == 0 {
		if envPort := os.Getenv("METRICS_PORT"); envPort != "" {
			if port, err := strconv.Atoi(envPort); err == nil {
				metricsPort = port
			}
		}
	}
	if metricsPort != 0 {
		cfg.Controller.MetricsPort = metricsPort
	}

	if debugPort == 0 {
		if envPort := os.Getenv("DEBUG_PORT"); envPort != "" {
			if port, err := strconv.Atoi(envPort); err == nil {
				debugPort = port
			}
		}
	}
	if debugPort != 0 {
		cfg.Controller.DebugPort = debugPort
	}

	// Startup topics
	if topicsFlag != "" {
		for _, topic := range strings.Split(topicsFlag, ",") {
			if topic = strings.TrimSpace(topic); topic != "" {
				cfg.Topics = append(cfg.Topics, topic)
			}
		}
	}

	if err := config.ValidateStructure(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Set up structured logging
	logLevel := slog.LevelInfo

	// Check VERBOSE environment variable for log level
	// 0 = WARNING, 1 = INFO (default), 2 = DEBUG
	switch os.Getenv("VERBOSE") {
	case "0":
		logLevel = slog.LevelWarn
	case "2":
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log detected resource limits for observability
	gomaxprocs := runtime.GOMAXPROCS(0)
	var gomemlimit string
	if limit := debug.SetMemoryLimit(-1); limit != math.MaxInt64 {
		gomemlimit = fmt.Sprintf("%d bytes (%.2f MiB)", limit, float64(limit)/(1024*1024))
	} else {
		gomemlimit = "unlimited"
	}

	logger.Info("Leadership controller starting",
		"version", "v0.1.0",
		"node", cfg.Node.ID,
		"backend", cfg.Coordination.Backend,
		"topics", cfg.Topics,
		"metrics_port", cfg.Controller.MetricsPort,
		"debug_port", cfg.Controller.DebugPort,
		"log_level", logLevel.String(),
		"gomaxprocs", gomaxprocs,
		"gomemlimit", gomemlimit)

	// Set up signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		if ctx.Err() == nil {
			logger.Error("Controller failed", "error", err)
			cancel()
			os.Exit(1) //nolint:gocritic // exitAfterDefer: cancel() called explicitly before exit
		}
	}

	logger.Info("Controller shutdown complete")
}
