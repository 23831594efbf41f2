package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/novaide/nova-debug/internal/config"
	"github.com/novaide/nova-debug/internal/dapserver"
)

var (
	version = "0.1.0"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	listen := flag.String("listen", "", "Serve DAP over TCP on this address instead of stdio")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	showVersion := flag.Bool("version", false, "Show version and exit")
	help := flag.Bool("help", false, "Show help and exit")

	flag.Parse()

	if *showVersion {
		fmt.Printf("nova-dap version %s\n", version)
		os.Exit(0)
	}

	if *help {
		printHelp()
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
	}

	// Logs go to stderr: stdout carries the protocol in stdio mode.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slogLevel(cfg.LogLevel),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *listen != "" {
		err = serveTCP(ctx, *listen, cfg, logger)
	} else {
		err = serveStdio(ctx, cfg, logger)
	}
	if err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}

func serveStdio(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("serving DAP over stdio", "target", cfg.Address())
	t := dapserver.NewStdioTransport(os.Stdin, os.Stdout)
	defer t.Close()
	return dapserver.NewSession(t, cfg, logger).Run(ctx)
}

func serveTCP(ctx context.Context, addr string, cfg *config.Config, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close()
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	logger.Info("serving DAP over TCP", "listen", addr, "target", cfg.Address())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go func() {
			t := dapserver.NewTransport(conn)
			defer t.Close()
			if err := dapserver.NewSession(t, cfg, logger).Run(ctx); err != nil {
				logger.Error("session ended with error", "err", err)
			}
		}()
	}
}

func slogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func printHelp() {
	fmt.Println(`nova-dap: Debug Adapter for JVM targets

A Debug Adapter Protocol (DAP) server that attaches to a running VM over
its binary debug wire protocol and exposes breakpoints, stepping,
inspection, evaluation, and field watchpoints to any DAP client.

USAGE:
    nova-dap [OPTIONS]

OPTIONS:
    -config <path>     Path to configuration file (JSON)
    -listen <addr>     Serve DAP over TCP on this address instead of stdio
    -log-level <lvl>   Log level: debug, info, warn, error
    -version           Show version and exit
    -help              Show this help message

CONFIGURATION:
    Create a JSON configuration file to customize behavior:

    {
        "host": "localhost",
        "port": 5005,
        "attachTimeout": 30000000000,
        "requestTimeout": 10000000000,
        "pageSize": 256,
        "breakOnUncaught": true,
        "logLevel": "info"
    }

    Durations are nanoseconds. The attach request may override host, port,
    and breakOnUncaught per session.

TARGET:
    Start the VM with its debug agent listening, e.g.:

    java -agentlib:jdwp=transport=dt_socket,server=y,suspend=n,address=5005 Main`)
}
