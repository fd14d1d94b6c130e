// Package interactive provides the interactive command-line interface
// for hapt-ctl.
package interactive

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/hapt-protocol/hapt-go/pkg/client"
	"github.com/hapt-protocol/hapt-go/pkg/device"
	"github.com/hapt-protocol/hapt-go/pkg/discovery"
	"github.com/hapt-protocol/hapt-go/pkg/transport"
	"github.com/hapt-protocol/hapt-go/pkg/wire"
)

// ClientConfig provides configuration information to the interactive
// console. This interface allows the interactive layer to access
// settings without depending on the main package's config structure.
type ClientConfig interface {
	// ServerURL returns the configured server URL, empty if none.
	ServerURL() string
}

// Console handles interactive mode for hapt-ctl.
type Console struct {
	client  *client.Client
	browser *discovery.Browser
	config  ClientConfig
	rl      *readline.Instance

	// Results of the last discover command, addressable by number.
	discovered []*discovery.ServerService
}

// New creates a new interactive console.
func New(c *client.Client, browser *discovery.Browser, cfg ClientConfig) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "hapt> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	con := &Console{
		client:  c,
		browser: browser,
		config:  cfg,
		rl:      rl,
	}
	con.subscribeEvents()

	return con, nil
}

// Stdout returns a writer that properly coordinates with the readline
// input. Use this for log output to avoid interfering with the prompt.
func (con *Console) Stdout() io.Writer {
	return con.rl.Stdout()
}

// Stderr returns a writer that properly coordinates with the readline
// input.
func (con *Console) Stderr() io.Writer {
	return con.rl.Stderr()
}

// Run starts the interactive command loop.
func (con *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer con.rl.Close()

	con.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := con.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(con.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			con.printHelp()

		case "connect", "c":
			con.cmdConnect(ctx, args)

		case "disconnect", "dc":
			con.cmdDisconnect()

		case "discover", "d":
			con.cmdDiscover(ctx)

		case "scan":
			con.cmdScan(ctx, args)

		case "devices", "list", "l":
			con.cmdDevices()

		case "device", "dev":
			con.cmdDevice(args)

		case "refresh":
			con.cmdRefresh(ctx)

		case "subscribe", "sub":
			con.cmdSubscribe(ctx, args)

		case "unsubscribe", "unsub":
			con.cmdUnsubscribe(ctx, args)

		case "subs":
			con.cmdSubs()

		case "output", "o":
			con.cmdOutput(ctx, args)

		case "ping":
			con.cmdPing(ctx)

		case "stats":
			con.cmdStats()

		case "status", "s":
			con.cmdStatus()

		case "quit", "exit", "q":
			fmt.Fprintln(con.rl.Stdout(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(con.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (con *Console) printHelp() {
	fmt.Fprintln(con.rl.Stdout(), `
HAPT Client Commands:
  Connection:
    connect [url|#n]   - Connect to a server (configured URL, explicit URL,
                         or #n from the last discover)
    disconnect         - Disconnect from the server
    discover           - Find servers on the local network via mDNS
    ping               - Round trip a keepalive ping
    status             - Show session status

  Devices:
    scan start|stop    - Start or stop device scanning
    devices            - List known devices
    device <idx>       - Show one device with its capabilities
    refresh            - Re-request the device list

  Sensors:
    subscribe <idx> <feature> <type>   - Subscribe to a sensor stream
    unsubscribe <idx> <feature> <type> - End a sensor subscription
    subs               - List active subscriptions

  Actuators:
    output <idx> <feature> <type> <value> - Send an output command

  General:
    stats              - Show keepalive statistics
    help               - Show this help
    quit               - Exit`)
}

// cmdConnect handles the connect command.
func (con *Console) cmdConnect(ctx context.Context, args []string) {
	url := con.config.ServerURL()
	if len(args) > 0 {
		url = args[0]
	}

	// "#2" refers to the second entry of the last discover run.
	if strings.HasPrefix(url, "#") {
		n, err := strconv.Atoi(url[1:])
		if err != nil || n < 1 || n > len(con.discovered) {
			fmt.Fprintf(con.rl.Stdout(), "No discovered server %s (run 'discover' first)\n", url)
			return
		}
		url = con.discovered[n-1].URL()
	}

	if url == "" {
		fmt.Fprintln(con.rl.Stdout(), "Usage: connect <url>")
		fmt.Fprintln(con.rl.Stdout(), "  No server URL configured. Try 'discover' to find one.")
		return
	}

	fmt.Fprintf(con.rl.Stdout(), "Connecting to %s...\n", url)
	if err := con.client.Connect(ctx, url); err != nil {
		fmt.Fprintf(con.rl.Stdout(), "Connect failed: %v\n", err)
		return
	}

	info := con.client.ServerInfo()
	fmt.Fprintf(con.rl.Stdout(), "Connected to %q (protocol v%d.%d, %d device(s))\n",
		info.ServerName, info.MajorVersion, info.MinorVersion, len(con.client.Devices()))
}

// cmdDisconnect handles the disconnect command.
func (con *Console) cmdDisconnect() {
	if !con.client.Connected() {
		fmt.Fprintln(con.rl.Stdout(), "Not connected")
		return
	}
	if err := con.client.Disconnect(); err != nil {
		fmt.Fprintf(con.rl.Stdout(), "Disconnect failed: %v\n", err)
		return
	}
	fmt.Fprintln(con.rl.Stdout(), "Disconnected")
}

// cmdDiscover browses for servers and remembers the results so that
// 'connect #n' can address them.
func (con *Console) cmdDiscover(ctx context.Context) {
	if con.browser == nil {
		fmt.Fprintln(con.rl.Stdout(), "Discovery not available")
		return
	}

	fmt.Fprintln(con.rl.Stdout(), "Browsing for servers (3s)...")

	browseCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	results, err := con.browser.Browse(browseCtx)
	if err != nil {
		fmt.Fprintf(con.rl.Stdout(), "Browse failed: %v\n", err)
		return
	}

	con.discovered = con.discovered[:0]
	for svc := range results {
		con.discovered = append(con.discovered, svc)
		fmt.Fprintf(con.rl.Stdout(), "  #%d %s (v%d) at %s\n",
			len(con.discovered), svc.ServerName, svc.MajorVersion, svc.URL())
	}

	if len(con.discovered) == 0 {
		fmt.Fprintln(con.rl.Stdout(), "No servers found")
	} else {
		fmt.Fprintf(con.rl.Stdout(), "Found %d server(s). Use 'connect #n' to connect.\n", len(con.discovered))
	}
}

// cmdScan handles the scan command.
func (con *Console) cmdScan(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(con.rl.Stdout(), "Usage: scan start|stop")
		return
	}

	var err error
	switch strings.ToLower(args[0]) {
	case "start":
		err = con.client.StartScanning(ctx)
		if err == nil {
			fmt.Fprintln(con.rl.Stdout(), "Scanning started")
		}
	case "stop":
		err = con.client.StopScanning(ctx)
		if err == nil {
			fmt.Fprintln(con.rl.Stdout(), "Scanning stopped")
		}
	default:
		fmt.Fprintln(con.rl.Stdout(), "Usage: scan start|stop")
		return
	}

	if err != nil {
		fmt.Fprintf(con.rl.Stdout(), "Scan command failed: %v\n", err)
	}
}

// cmdDevices handles the devices command.
func (con *Console) cmdDevices() {
	devices := con.client.Devices()
	if len(devices) == 0 {
		fmt.Fprintln(con.rl.Stdout(), "No devices (try 'scan start' or 'refresh')")
		return
	}

	fmt.Fprintf(con.rl.Stdout(), "\nDevices (%d):\n", len(devices))
	fmt.Fprintln(con.rl.Stdout(), "-------------------------------------------")
	for _, d := range devices {
		fmt.Fprintf(con.rl.Stdout(), "  [%d] %s (%d input(s), %d output(s))\n",
			d.Index, d.DisplayLabel(), len(d.Inputs), len(d.Outputs))
	}
	fmt.Fprintln(con.rl.Stdout())
}

// cmdDevice handles the device command.
func (con *Console) cmdDevice(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(con.rl.Stdout(), "Usage: device <idx>")
		return
	}

	index, err := parseIndex(args[0])
	if err != nil {
		fmt.Fprintf(con.rl.Stdout(), "Invalid device index: %v\n", err)
		return
	}

	d, ok := con.client.Device(index)
	if !ok {
		fmt.Fprintf(con.rl.Stdout(), "No device with index %d\n", index)
		return
	}

	fmt.Fprintf(con.rl.Stdout(), "\nDevice [%d] %s\n", d.Index, d.DisplayLabel())
	fmt.Fprintln(con.rl.Stdout(), "-------------------------------------------")
	if d.DisplayName != "" && d.DisplayName != d.Name {
		fmt.Fprintf(con.rl.Stdout(), "  Name:        %s\n", d.Name)
	}
	if d.MessageGap > 0 {
		fmt.Fprintf(con.rl.Stdout(), "  Message gap: %s\n", d.MessageGap)
	}

	printCapabilities := func(label string, caps []device.Capability) {
		if len(caps) == 0 {
			return
		}
		fmt.Fprintf(con.rl.Stdout(), "  %s:\n", label)
		for _, c := range caps {
			fmt.Fprintf(con.rl.Stdout(), "    feature %d  %-12s range [%g, %g]\n",
				c.FeatureIndex, c.Type, c.Min, c.Max)
		}
	}
	printCapabilities("Outputs", d.Outputs)
	printCapabilities("Inputs", d.Inputs)
	fmt.Fprintln(con.rl.Stdout())
}

// cmdRefresh handles the refresh command.
func (con *Console) cmdRefresh(ctx context.Context) {
	devices, err := con.client.RefreshDevices(ctx)
	if err != nil {
		fmt.Fprintf(con.rl.Stdout(), "Refresh failed: %v\n", err)
		return
	}
	fmt.Fprintf(con.rl.Stdout(), "Device list refreshed (%d device(s))\n", len(devices))
}

// cmdSubscribe handles the subscribe command.
func (con *Console) cmdSubscribe(ctx context.Context, args []string) {
	if len(args) < 3 {
		fmt.Fprintln(con.rl.Stdout(), "Usage: subscribe <idx> <feature> <type>")
		fmt.Fprintln(con.rl.Stdout(), "  Example: subscribe 0 1 Pressure")
		return
	}

	deviceIndex, featureIndex, sensorType, err := parseSensorArgs(args)
	if err != nil {
		fmt.Fprintf(con.rl.Stdout(), "Invalid arguments: %v\n", err)
		return
	}

	err = con.client.SubscribeSensor(ctx, deviceIndex, featureIndex, sensorType,
		func(value float64) {
			fmt.Fprintf(con.rl.Stdout(), "\n[%s] Device %d feature %d %s = %g\n",
				time.Now().Format("15:04:05"), deviceIndex, featureIndex, sensorType, value)
			con.rl.Refresh()
		})
	if err != nil {
		fmt.Fprintf(con.rl.Stdout(), "Subscribe failed: %v\n", err)
		return
	}

	fmt.Fprintf(con.rl.Stdout(), "Subscribed to %s on device %d feature %d\n",
		sensorType, deviceIndex, featureIndex)
}

// cmdUnsubscribe handles the unsubscribe command.
func (con *Console) cmdUnsubscribe(ctx context.Context, args []string) {
	if len(args) < 3 {
		fmt.Fprintln(con.rl.Stdout(), "Usage: unsubscribe <idx> <feature> <type>")
		return
	}

	deviceIndex, featureIndex, sensorType, err := parseSensorArgs(args)
	if err != nil {
		fmt.Fprintf(con.rl.Stdout(), "Invalid arguments: %v\n", err)
		return
	}

	if err := con.client.UnsubscribeSensor(ctx, deviceIndex, featureIndex, sensorType); err != nil {
		fmt.Fprintf(con.rl.Stdout(), "Unsubscribe failed: %v\n", err)
		return
	}

	fmt.Fprintln(con.rl.Stdout(), "Unsubscribed")
}

// cmdSubs handles the subs command.
func (con *Console) cmdSubs() {
	subs := con.client.Subscriptions()
	if len(subs) == 0 {
		fmt.Fprintln(con.rl.Stdout(), "No active subscriptions")
		return
	}

	fmt.Fprintf(con.rl.Stdout(), "\nSubscriptions (%d):\n", len(subs))
	for _, key := range subs {
		fmt.Fprintf(con.rl.Stdout(), "  device %d feature %d %s\n",
			key.DeviceIndex, key.FeatureIndex, key.SensorType)
	}
	fmt.Fprintln(con.rl.Stdout())
}

// cmdOutput handles the output command.
func (con *Console) cmdOutput(ctx context.Context, args []string) {
	if len(args) < 4 {
		fmt.Fprintln(con.rl.Stdout(), "Usage: output <idx> <feature> <type> <value>")
		fmt.Fprintln(con.rl.Stdout(), "  Example: output 0 0 Vibrate 0.5")
		return
	}

	deviceIndex, featureIndex, outputType, err := parseSensorArgs(args)
	if err != nil {
		fmt.Fprintf(con.rl.Stdout(), "Invalid arguments: %v\n", err)
		return
	}

	value, err := strconv.ParseFloat(args[3], 64)
	if err != nil {
		fmt.Fprintf(con.rl.Stdout(), "Invalid value: %v\n", err)
		return
	}

	if err := con.client.SendOutput(ctx, deviceIndex, featureIndex, outputType, value); err != nil {
		fmt.Fprintf(con.rl.Stdout(), "Output failed: %v\n", err)
		return
	}

	fmt.Fprintln(con.rl.Stdout(), "OK")
}

// cmdPing handles the ping command.
func (con *Console) cmdPing(ctx context.Context) {
	start := time.Now()
	if err := con.client.Ping(ctx); err != nil {
		fmt.Fprintf(con.rl.Stdout(), "Ping failed: %v\n", err)
		return
	}
	fmt.Fprintf(con.rl.Stdout(), "Pong (%s)\n", time.Since(start).Round(time.Millisecond))
}

// cmdStats shows keepalive statistics.
func (con *Console) cmdStats() {
	stats := con.client.PingStats()

	fmt.Fprintln(con.rl.Stdout(), "\nKeepalive Statistics")
	fmt.Fprintln(con.rl.Stdout(), "-------------------------------------------")
	fmt.Fprintf(con.rl.Stdout(), "  Pings sent:    %d\n", stats.PingsSent)
	fmt.Fprintf(con.rl.Stdout(), "  Pings acked:   %d\n", stats.PingsAcked)
	fmt.Fprintf(con.rl.Stdout(), "  Pings skipped: %d\n", stats.PingsSkipped)
	fmt.Fprintf(con.rl.Stdout(), "  Pings failed:  %d\n", stats.PingsFailed)
	if stats.PingsAcked > 0 {
		fmt.Fprintf(con.rl.Stdout(), "  RTT last/min/max: %s / %s / %s\n",
			stats.LastRTT.Round(time.Millisecond),
			stats.MinRTT.Round(time.Millisecond),
			stats.MaxRTT.Round(time.Millisecond))
		fmt.Fprintf(con.rl.Stdout(), "  Last ack:      %s\n", stats.LastAckTime.Format("15:04:05"))
	}
	fmt.Fprintln(con.rl.Stdout())
}

// cmdStatus shows the session status.
func (con *Console) cmdStatus() {
	fmt.Fprintln(con.rl.Stdout(), "\nSession Status")
	fmt.Fprintln(con.rl.Stdout(), "-------------------------------------------")

	if !con.client.Connected() {
		fmt.Fprintln(con.rl.Stdout(), "  Connection:    disconnected")
		fmt.Fprintln(con.rl.Stdout())
		return
	}

	info := con.client.ServerInfo()
	fmt.Fprintln(con.rl.Stdout(), "  Connection:    connected")
	if info != nil {
		fmt.Fprintf(con.rl.Stdout(), "  Server:        %s\n", info.ServerName)
		fmt.Fprintf(con.rl.Stdout(), "  Protocol:      v%d.%d\n", info.MajorVersion, info.MinorVersion)
		if info.MaxPingTime > 0 {
			fmt.Fprintf(con.rl.Stdout(), "  Max ping time: %dms\n", info.MaxPingTime)
		} else {
			fmt.Fprintln(con.rl.Stdout(), "  Max ping time: disabled")
		}
	}
	fmt.Fprintf(con.rl.Stdout(), "  Devices:       %d\n", len(con.client.Devices()))
	fmt.Fprintf(con.rl.Stdout(), "  Subscriptions: %d\n", len(con.client.Subscriptions()))
	fmt.Fprintln(con.rl.Stdout())
}

// subscribeEvents wires client events to the console so asynchronous
// changes show up above the prompt.
func (con *Console) subscribeEvents() {
	events := con.client.Events()

	events.OnConnected(func(info *wire.ServerInfo) {
		con.printEvent("Session established with %q (protocol v%d.%d)",
			info.ServerName, info.MajorVersion, info.MinorVersion)
	})
	events.OnDeviceAdded(func(d *device.Device) {
		con.printEvent("Device added: [%d] %s", d.Index, d.DisplayLabel())
	})
	events.OnDeviceUpdated(func(d *device.Device) {
		con.printEvent("Device updated: [%d] %s", d.Index, d.DisplayLabel())
	})
	events.OnDeviceRemoved(func(d *device.Device) {
		con.printEvent("Device removed: [%d] %s", d.Index, d.DisplayLabel())
	})
	events.OnScanningFinished(func() {
		con.printEvent("Scanning finished")
	})
	events.OnSensorReading(func(reading *wire.SensorReading) {
		for sensorType, v := range reading.Reading {
			con.printEvent("Unclaimed reading: device %d feature %d %s = %g",
				reading.DeviceIndex, reading.FeatureIndex, sensorType, v.Value)
		}
	})
	events.OnServerError(func(e *wire.Error) {
		con.printEvent("Server error (code %d): %s", e.ErrorCode, e.ErrorMessage)
	})
	events.OnDisconnected(func(info transport.CloseInfo) {
		con.printEvent("Disconnected: %s (code %d)", info.Reason, info.Code)
	})
	events.OnReconnecting(func(attempt client.ReconnectAttempt) {
		con.printEvent("Reconnecting (attempt %d, waiting %s)", attempt.Attempt, attempt.Delay)
	})
	events.OnReconnected(func() {
		con.printEvent("Reconnected")
	})
	events.OnReconnectFailed(func(err error) {
		con.printEvent("Reconnection gave up: %v", err)
	})
}

// printEvent prints an asynchronous event line and restores the prompt.
func (con *Console) printEvent(format string, args ...any) {
	fmt.Fprintf(con.rl.Stdout(), "\n[%s] %s\n",
		time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	con.rl.Refresh()
}

// parseSensorArgs parses the common <idx> <feature> <type> triple.
func parseSensorArgs(args []string) (deviceIndex, featureIndex uint32, kind string, err error) {
	deviceIndex, err = parseIndex(args[0])
	if err != nil {
		return 0, 0, "", fmt.Errorf("device index: %w", err)
	}
	featureIndex, err = parseIndex(args[1])
	if err != nil {
		return 0, 0, "", fmt.Errorf("feature index: %w", err)
	}
	return deviceIndex, featureIndex, args[2], nil
}

func parseIndex(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}
