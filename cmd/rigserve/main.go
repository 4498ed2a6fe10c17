// rigserve daemon - on-device conversational LLM backend over HTTP.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jeranaias/rigserve/internal/config"
	"github.com/jeranaias/rigserve/internal/engine"
	"github.com/jeranaias/rigserve/internal/runtime"
	"github.com/jeranaias/rigserve/internal/server"
	"github.com/jeranaias/rigserve/internal/storage"
	"github.com/jeranaias/rigserve/internal/tools"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (default: ~/.rigserve/config.toml)")
	addr := flag.String("addr", "", "listen address override (host:port)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("rigserve %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("MAIN: config load failed: %v", err)
	}
	if *addr != "" {
		if err := applyAddr(cfg, *addr); err != nil {
			log.Fatalf("MAIN: invalid -addr: %v", err)
		}
	}
	log.Printf("MAIN: config loaded | %s", cfg)

	rt, err := buildRuntime(cfg)
	if err != nil {
		log.Fatalf("MAIN: %v", err)
	}

	registry := tools.NewRegistry()
	if cfg.Tools.EnableBuiltins {
		if err := tools.RegisterBuiltins(registry); err != nil {
			log.Fatalf("MAIN: registering builtin tools failed: %v", err)
		}
	}

	dispatcher := engine.NewDispatcher(rt).
		WithExecutor(tools.NewExecutor(cfg.ToolExecTimeout())).
		WithToolResultWait(cfg.ToolResultWait())

	var store *storage.Store
	if cfg.Storage.Enabled {
		path, err := cfg.StoragePath()
		if err != nil {
			log.Fatalf("MAIN: resolving storage path failed: %v", err)
		}
		store, err = storage.Open(path, cfg.Storage.HistoryLimit)
		if err != nil {
			log.Fatalf("MAIN: opening conversation store failed: %v", err)
		}
		defer store.Close()
		log.Printf("MAIN: conversation store open | path=%s", path)
	}

	if err := run(cfg, dispatcher, registry, store, *configPath); err != nil {
		log.Fatalf("MAIN: %v", err)
	}
}

// run serves until a termination signal arrives. A config file change
// drains the listener gracefully and rebinds it with the new settings.
func run(cfg *config.Config, dispatcher *engine.Dispatcher, registry *tools.Registry, store *storage.Store, configPath string) error {
	reloads := make(chan *config.Config, 1)
	if watcher := watchConfig(configPath, reloads); watcher != nil {
		defer watcher.Close()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	for {
		srv := server.NewServer(cfg, dispatcher).WithToolRegistry(registry)
		if store != nil {
			srv = srv.WithStore(store)
		}

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		select {
		case sig := <-stop:
			log.Printf("MAIN: received %v, shutting down", sig)
			return shutdown(srv, cfg)

		case next := <-reloads:
			log.Printf("MAIN: config changed, restarting listener")
			if err := shutdown(srv, cfg); err != nil {
				log.Printf("MAIN: shutdown during reload: %v", err)
			}
			if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			cfg = next

		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}
	}
}

func shutdown(srv *server.Server, cfg *config.Config) error {
	timeout := time.Duration(cfg.Server.ShutdownTimeoutSecs) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

// loadConfig loads from the explicit path when given, otherwise from the
// default locations.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

// watchConfig begins watching the effective config file. Returns nil when
// no file exists to watch.
func watchConfig(configPath string, reloads chan<- *config.Config) *config.Watcher {
	path := configPath
	if path == "" {
		var err error
		path, err = config.ConfigPathTOML()
		if err != nil {
			return nil
		}
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	watcher, err := config.NewWatcher(path, func(c *config.Config) {
		select {
		case reloads <- c:
		default:
		}
	})
	if err != nil {
		log.Printf("MAIN: config watch unavailable: %v", err)
		return nil
	}
	if err := watcher.Watch(); err != nil {
		log.Printf("MAIN: config watch failed: %v", err)
		watcher.Close()
		return nil
	}
	return watcher
}

func applyAddr(cfg *config.Config, addr string) error {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("port %q: %w", portStr, err)
	}
	cfg.Server.Host = host
	cfg.Server.Port = port
	return cfg.Validate()
}

// buildRuntime selects the model backend. Only the simulated on-device
// backend ships today; config validation rejects anything else.
func buildRuntime(cfg *config.Config) (runtime.ModelRuntime, error) {
	switch cfg.Model.Backend {
	case "sim":
		return runtime.NewSim(runtime.SimConfig{
			ChunkDelay: time.Duration(cfg.Model.SimChunkDelayMS) * time.Millisecond,
		}), nil
	default:
		return nil, fmt.Errorf("unknown model backend %q", cfg.Model.Backend)
	}
}
