// Command hapt-ctl is an interactive HAPT client console.
//
// This command demonstrates a complete HAPT client with:
//   - CLI argument parsing
//   - Configuration file support (YAML)
//   - Server discovery via mDNS
//   - Interactive command interface
//   - Sensor subscriptions and actuator control
//   - Structured and binary trace logging
//
// Usage:
//
//	hapt-ctl [flags]
//
// Flags:
//
//	-config string     Configuration file path (YAML)
//	-url string        Server websocket URL (e.g. ws://192.168.1.20:12345)
//	-name string       Client name announced during the handshake
//	-log-level string  Log level: debug, info, warn, error (default "info")
//	-trace string      Write a binary protocol trace to this file
//	-discover          Find a server via mDNS and connect to it
//
// Examples:
//
//	# Connect to a known server
//	hapt-ctl -url ws://192.168.1.20:12345
//
//	# Find a server on the local network and connect
//	hapt-ctl -discover
//
//	# Record a protocol trace for later inspection
//	hapt-ctl -url ws://hub.local:12345 -trace session.trace
//
// Interactive Commands:
//
//	connect [url]   - Connect to a server
//	discover        - Find servers via mDNS
//	scan start|stop - Control device scanning
//	devices         - List known devices
//	subscribe <idx> <feature> <type> - Subscribe to a sensor stream
//	output <idx> <feature> <type> <value> - Send an output command
//	stats           - Show keepalive statistics
//	quit            - Exit
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hapt-protocol/hapt-go/cmd/hapt-ctl/interactive"
	"github.com/hapt-protocol/hapt-go/pkg/client"
	"github.com/hapt-protocol/hapt-go/pkg/discovery"
	"github.com/hapt-protocol/hapt-go/pkg/log"
)

// Config holds the hapt-ctl configuration, merged from the YAML config
// file and command-line flags. Flags override file values.
// It implements interactive.ClientConfig.
type Config struct {
	ConfigFile string
	URL        string
	ClientName string
	LogLevel   string
	TraceFile  string
	Interface  string
	Discover   bool

	RequestTimeout time.Duration

	Reconnect ReconnectConfig
}

// ReconnectConfig holds the reconnection settings.
type ReconnectConfig struct {
	Disabled     bool
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
}

// fileConfig is the YAML shape of the config file. Durations are
// strings in Go duration syntax ("10s", "1m30s").
type fileConfig struct {
	ServerURL      string `yaml:"server_url"`
	ClientName     string `yaml:"client_name"`
	LogLevel       string `yaml:"log_level"`
	TraceFile      string `yaml:"trace_file"`
	Interface      string `yaml:"interface"`
	RequestTimeout string `yaml:"request_timeout"`

	Reconnect struct {
		Disabled     bool   `yaml:"disabled"`
		InitialDelay string `yaml:"initial_delay"`
		MaxDelay     string `yaml:"max_delay"`
		MaxAttempts  int    `yaml:"max_attempts"`
	} `yaml:"reconnect"`
}

// ServerURL implements interactive.ClientConfig.
func (c *Config) ServerURL() string {
	return c.URL
}

var config Config

func init() {
	flag.StringVar(&config.ConfigFile, "config", "", "Configuration file path (YAML)")
	flag.StringVar(&config.URL, "url", "", "Server websocket URL")
	flag.StringVar(&config.ClientName, "name", "", "Client name announced during the handshake")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&config.TraceFile, "trace", "", "Write a binary protocol trace to this file")
	flag.StringVar(&config.Interface, "interface", "", "Network interface for mDNS discovery")
	flag.BoolVar(&config.Discover, "discover", false, "Find a server via mDNS and connect to it")
}

func main() {
	flag.Parse()

	if config.ConfigFile != "" {
		if err := loadConfigFile(config.ConfigFile, &config); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		// Re-apply flags so they win over file values.
		flag.Parse()
	}

	// Log output is switched to the readline writer once the console
	// exists, so log lines do not mangle the prompt.
	output := &switchingWriter{w: os.Stderr}
	slogger := slog.New(slog.NewTextHandler(output, &slog.HandlerOptions{
		Level: parseLogLevel(config.LogLevel),
	}))

	var protoLogger log.Logger = log.NewSlogAdapter(slogger)

	var trace *log.FileLogger
	if config.TraceFile != "" {
		var err error
		trace, err = log.NewFileLogger(config.TraceFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: open trace file: %v\n", err)
			os.Exit(1)
		}
		defer trace.Close()
		protoLogger = log.NewMultiLogger(protoLogger, trace)
		slogger.Info("writing protocol trace", "file", config.TraceFile)
	}

	clientConfig := client.DefaultConfig()
	clientConfig.Logger = protoLogger
	if config.ClientName != "" {
		clientConfig.ClientName = config.ClientName
	}
	if config.RequestTimeout > 0 {
		clientConfig.RequestTimeout = config.RequestTimeout
	}
	if config.Reconnect.Disabled {
		clientConfig.AutoReconnect = false
	}
	if config.Reconnect.InitialDelay > 0 {
		clientConfig.ReconnectInitialDelay = config.Reconnect.InitialDelay
	}
	if config.Reconnect.MaxDelay > 0 {
		clientConfig.ReconnectMaxDelay = config.Reconnect.MaxDelay
	}
	if config.Reconnect.MaxAttempts > 0 {
		clientConfig.ReconnectMaxAttempts = config.Reconnect.MaxAttempts
	}

	c := client.New(clientConfig)
	browser := discovery.NewBrowser(discovery.BrowserConfig{Interface: config.Interface})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Resolve the server via mDNS before entering the console.
	if config.Discover && config.URL == "" {
		slogger.Info("discovering server via mDNS")
		svc, err := browser.FindFirst(ctx)
		if err != nil {
			slogger.Error("discovery failed", "err", err)
			os.Exit(1)
		}
		config.URL = svc.URL()
		slogger.Info("found server", "name", svc.ServerName, "url", config.URL)
	}

	if config.URL != "" {
		connectCtx, connectCancel := context.WithTimeout(ctx, 30*time.Second)
		err := c.Connect(connectCtx, config.URL)
		connectCancel()
		if err != nil {
			slogger.Error("initial connect failed", "url", config.URL, "err", err)
		} else if info := c.ServerInfo(); info != nil {
			slogger.Info("connected",
				"server", info.ServerName,
				"protocol", fmt.Sprintf("v%d.%d", info.MajorVersion, info.MinorVersion),
				"devices", len(c.Devices()))
		}
	}

	console, err := interactive.New(c, browser, &config)
	if err != nil {
		slogger.Error("failed to create console", "err", err)
		os.Exit(1)
	}
	output.Set(console.Stdout())
	go console.Run(ctx, cancel)

	// Wait for shutdown signal or context cancellation.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slogger.Info("received signal", "signal", sig.String())
	case <-ctx.Done():
		// Cancelled by the interactive quit command.
	}

	cancel()

	if c.Connected() {
		if err := c.Disconnect(); err != nil {
			slogger.Error("error disconnecting", "err", err)
		}
	}

	slogger.Info("goodbye")
}

// loadConfigFile reads a YAML configuration file into cfg.
func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	cfg.URL = fc.ServerURL
	cfg.ClientName = fc.ClientName
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
	cfg.TraceFile = fc.TraceFile
	cfg.Interface = fc.Interface

	if cfg.RequestTimeout, err = parseDuration(fc.RequestTimeout); err != nil {
		return fmt.Errorf("config request_timeout: %w", err)
	}

	cfg.Reconnect.Disabled = fc.Reconnect.Disabled
	cfg.Reconnect.MaxAttempts = fc.Reconnect.MaxAttempts
	if cfg.Reconnect.InitialDelay, err = parseDuration(fc.Reconnect.InitialDelay); err != nil {
		return fmt.Errorf("config reconnect.initial_delay: %w", err)
	}
	if cfg.Reconnect.MaxDelay, err = parseDuration(fc.Reconnect.MaxDelay); err != nil {
		return fmt.Errorf("config reconnect.max_delay: %w", err)
	}

	return nil
}

// parseDuration parses an optional duration string, returning zero for
// the empty string.
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// switchingWriter lets the log destination change after the readline
// console takes over the terminal.
type switchingWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *switchingWriter) Set(w io.Writer) {
	s.mu.Lock()
	s.w = w
	s.mu.Unlock()
}

func (s *switchingWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
