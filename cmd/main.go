package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Riboost-Studio/print-queue-agent/internal/control"
	"github.com/Riboost-Studio/print-queue-agent/internal/link"
	"github.com/Riboost-Studio/print-queue-agent/internal/model"
	"github.com/Riboost-Studio/print-queue-agent/internal/services"
	"github.com/Riboost-Studio/print-queue-agent/internal/utils"
)

const (
	appName       = "Print Queue Agent"
	appVersion    = "1.0.0"
	configFile    = "config/config.yaml"
	shutdownGrace = 10 * time.Second
)

const usage = `Usage: print-agent <command> [flags]

Commands:
  run      serve the control API and run the agent
  start    start the agent of a running instance
  stop     stop the agent of a running instance
  status   show the agent status
  watch    stream agent events
  preview  render a payload to PNG
  check    check host requirements
  init     write the agent section of the config file
  scan     find the printer and store its address
`

// printerDriver is what both link drivers provide.
type printerDriver interface {
	link.Driver
	link.Scanner
}

// --- Main ---

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx := context.Background()
	ctx = context.WithValue(ctx, model.ContextAppName, appName)
	ctx = context.WithValue(ctx, model.ContextAppVersion, appVersion)

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "run":
		err = runCmd(ctx, args)
	case "start", "stop", "status":
		err = controlCmd(ctx, cmd, args)
	case "watch":
		err = watchCmd(ctx, args)
	case "preview":
		err = previewCmd(ctx, args)
	case "check":
		err = checkCmd(ctx, args)
	case "init":
		err = initCmd(args)
	case "scan":
		err = scanCmd(ctx, args)
	case "version":
		fmt.Printf("%s %s\n", appName, appVersion)
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*model.Config, *zap.Logger, error) {
	cfg, err := utils.LoadConfig(path)
	if err != nil {
		return nil, nil, err
	}
	if err := utils.ValidateConfig(cfg); err != nil {
		return nil, nil, fmt.Errorf("config error: %w", err)
	}
	logger, err := utils.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newDriver(cfg *model.Config, log *zap.Logger) printerDriver {
	if cfg.Link.Driver == utils.DriverSerial {
		return link.NewSerialDriver(cfg.Link.SerialBaud, log.Named("serial"))
	}
	return link.NewGATTDriver(log.Named("gatt"))
}

func runCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	path := fs.String("config", configFile, "config file")
	fs.Parse(args)

	cfg, logger, err := loadConfig(*path)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("starting",
		zap.String("version", appVersion),
		zap.String("driver", cfg.Link.Driver),
		zap.String("control_addr", cfg.Control.ListenAddr),
	)

	bus := services.NewEventBus()
	agent := services.NewAgent(ctx, newDriver(cfg, logger), cfg.Settings(), bus, logger.Named("agent"))

	preview, err := services.NewPreviewRenderer(cfg.Preview)
	if err != nil {
		return err
	}
	server := control.NewServer(agent, bus, preview, logger.Named("control"))

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.Control.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if cfg.Agent.Complete() {
		if err := agent.Start(cfg.Agent); err != nil {
			logger.Error("auto-start failed", zap.Error(err))
		}
	} else {
		logger.Info("agent section incomplete, waiting for POST /start")
	}

	// Wait for interrupt to exit cleanly
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case s := <-sig:
		logger.Info("shutting down", zap.Stringer("signal", s))
	case err := <-serverErr:
		logger.Error("control server failed", zap.Error(err))
		agent.Stop()
		return err
	}

	agent.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func controlCmd(ctx context.Context, cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	addr := fs.String("addr", "", "control address (default: control.listen_addr)")
	path := fs.String("config", configFile, "config file")
	fs.Parse(args)

	cfg, err := utils.LoadConfig(*path)
	if err != nil {
		return err
	}
	if *addr == "" {
		*addr = cfg.Control.ListenAddr
	}
	client := control.NewClient(*addr, nil)

	var st services.Status
	switch cmd {
	case "start":
		st, err = client.Start(ctx, cfg.Agent)
	case "stop":
		st, err = client.Stop(ctx)
	default:
		st, err = client.Status(ctx)
	}
	if err != nil {
		return err
	}
	printStatus(st)
	return nil
}

func printStatus(st services.Status) {
	if !st.Running {
		fmt.Printf("Agent: stopped\nLink:  %s\n", st.LinkState)
		return
	}
	fmt.Printf("Agent:  running (run %s)\n", st.RunID)
	fmt.Printf("Org:    %s\n", st.OrgID)
	fmt.Printf("Device: %s\n", st.DeviceAddress)
	fmt.Printf("Link:   %s\n", st.LinkState)
}

func watchCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	addr := fs.String("addr", "", "control address (default: control.listen_addr)")
	path := fs.String("config", configFile, "config file")
	fs.Parse(args)

	cfg, logger, err := loadConfig(*path)
	if err != nil {
		return err
	}
	defer logger.Sync()
	if *addr == "" {
		*addr = cfg.Control.ListenAddr
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = control.NewClient(*addr, logger).Watch(ctx, func(e model.Event) {
		line := fmt.Sprintf("%s %-16s", e.Timestamp.Local().Format(time.TimeOnly), e.Type)
		if e.JobID != "" {
			line += " job=" + e.JobID
		}
		if e.State != "" {
			line += " state=" + e.State
		}
		if e.Error != "" {
			line += " error=" + e.Error
		}
		fmt.Println(line)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func previewCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("preview", flag.ExitOnError)
	in := fs.String("in", "", "payload file (required)")
	out := fs.String("out", "preview.png", "output PNG")
	path := fs.String("config", configFile, "config file")
	fs.Parse(args)

	if *in == "" {
		return errors.New("-in is required")
	}
	cfg, err := utils.LoadConfig(*path)
	if err != nil {
		return err
	}
	content, err := os.ReadFile(*in)
	if err != nil {
		return err
	}

	renderer, err := services.NewPreviewRenderer(cfg.Preview)
	if err != nil {
		return err
	}
	png, err := renderer.Render(ctx, string(content))
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, png, 0644); err != nil {
		return fmt.Errorf("failed saving image: %w", err)
	}
	fmt.Printf("Preview written to %s\n", *out)
	return nil
}

func checkCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	path := fs.String("config", configFile, "config file")
	fs.Parse(args)

	cfg, err := utils.LoadConfig(*path)
	if err != nil {
		return err
	}

	sysInfo := utils.DetectSystem()
	fmt.Printf("System Information:\n")
	fmt.Printf("  OS: %s\n", sysInfo.OS)
	fmt.Printf("  Architecture: %s\n", sysInfo.Architecture)
	fmt.Printf("  Link driver: %s\n\n", cfg.Link.Driver)

	results := utils.RunChecks(ctx, cfg.Link.Driver)
	for _, r := range results {
		mark := "✓"
		if !r.OK {
			mark = "✗"
		}
		fmt.Printf("%s %s: %s\n", mark, r.Name, r.Detail)
		if !r.OK && r.Hint != "" {
			fmt.Printf("  %s\n", r.Hint)
		}
	}

	if err := cfg.Agent.Validate(); err != nil {
		fmt.Printf("✗ agent config: %v\n", err)
	} else {
		fmt.Printf("✓ agent config: org %s, device %s\n", cfg.Agent.OrgID, cfg.Agent.DeviceAddress)
	}

	if utils.Failed(results) {
		return errors.New("host requirements not met")
	}
	return nil
}

func initCmd(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	path := fs.String("config", configFile, "config file")
	fs.Parse(args)

	cfg, err := utils.LoadConfig(*path)
	if err != nil {
		return err
	}
	if err := utils.SetupAgentConfig(cfg, os.Stdin, os.Stdout); err != nil {
		return err
	}
	if err := utils.SaveConfig(*path, cfg); err != nil {
		return err
	}
	fmt.Printf("Configuration saved to %s.\n", *path)
	return nil
}

func scanCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	path := fs.String("config", configFile, "config file")
	duration := fs.Duration("duration", services.DefaultScanDuration, "how long to scan")
	save := fs.Bool("save", true, "store the chosen address in the config file")
	fs.Parse(args)

	cfg, logger, err := loadConfig(*path)
	if err != nil {
		return err
	}
	defer logger.Sync()

	addr, err := services.DiscoverPrinter(ctx, newDriver(cfg, logger), *duration, os.Stdin, os.Stdout, logger.Named("scan"))
	if err != nil {
		return err
	}
	fmt.Printf("Selected %s\n", addr)
	if !*save {
		return nil
	}

	cfg.Agent.DeviceAddress = addr
	if err := utils.SaveConfig(*path, cfg); err != nil {
		return err
	}
	fmt.Printf("Configuration saved to %s.\n", *path)
	return nil
}
