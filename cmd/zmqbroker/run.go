package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ido50/Net-Server-ZMQ/internal/applog"
	"github.com/ido50/Net-Server-ZMQ/internal/broker"
	"github.com/ido50/Net-Server-ZMQ/internal/config"
	"github.com/ido50/Net-Server-ZMQ/internal/metrics"
	"github.com/ido50/Net-Server-ZMQ/internal/procname"
	"github.com/ido50/Net-Server-ZMQ/internal/signals"
	"github.com/ido50/Net-Server-ZMQ/internal/supervisor"
	"github.com/ido50/Net-Server-ZMQ/internal/transport"
	zmqtransport "github.com/ido50/Net-Server-ZMQ/internal/transport/zmq"
)

func buildRunCommand() *cobra.Command {
	var (
		minServers      int
		maxServers      int
		minSpareServers int
		maxSpareServers int
		maxRequests     int
		userName        string
		groupName       string
		logLevel        string
		configFile      string
		drainTimeout    time.Duration
		malformedBurst  int
		metricsAddr     string
		checkForWaiting time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run [frontend_port backend_port]",
		Short: "Start the broker and its worker pool",
		Args:  cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Default()
			if err != nil {
				return &config.Error{Reason: err.Error()}
			}
			if configFile != "" {
				if err := config.LoadFile(cfg, configFile); err != nil {
					return err
				}
			}

			switch len(args) {
			case 2:
				frontendPort, err := strconv.Atoi(args[0])
				if err != nil {
					return &config.Error{Reason: fmt.Sprintf("invalid frontend_port %q: %v", args[0], err)}
				}
				backendPort, err := strconv.Atoi(args[1])
				if err != nil {
					return &config.Error{Reason: fmt.Sprintf("invalid backend_port %q: %v", args[1], err)}
				}
				cfg.FrontendPort, cfg.BackendPort = frontendPort, backendPort
			case 1:
				return &config.Error{Reason: "expected both frontend_port and backend_port, or neither"}
			}

			if cmd.Flags().Changed("min_servers") {
				cfg.MinServers = minServers
			}
			if cmd.Flags().Changed("max_servers") {
				cfg.MaxServers = maxServers
			}
			if cmd.Flags().Changed("min_spare_servers") {
				cfg.MinSpareServers = minSpareServers
			}
			if cmd.Flags().Changed("max_spare_servers") {
				cfg.MaxSpareServers = maxSpareServers
			}
			if cmd.Flags().Changed("max_requests") {
				cfg.MaxRequestsPerWorker = maxRequests
			}
			if cmd.Flags().Changed("user") {
				cfg.User = userName
			}
			if cmd.Flags().Changed("group") {
				cfg.Group = groupName
			}
			if cmd.Flags().Changed("log_level") {
				cfg.LogLevel = logLevel
			}
			if cmd.Flags().Changed("drain_timeout") {
				cfg.DrainTimeout = drainTimeout
			}
			if cmd.Flags().Changed("malformed_burst") {
				cfg.MalformedBurst = malformedBurst
			}
			if cmd.Flags().Changed("metrics_addr") {
				cfg.MetricsAddr = metricsAddr
			}
			if cmd.Flags().Changed("check_for_waiting") {
				cfg.CheckForWaiting = checkForWaiting
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			return runBroker(cfg)
		},
	}

	cmd.Flags().IntVar(&minServers, "min_servers", 0, "minimum worker pool size")
	cmd.Flags().IntVar(&maxServers, "max_servers", 0, "maximum worker pool size")
	cmd.Flags().IntVar(&minSpareServers, "min_spare_servers", 0, "minimum idle workers to keep warm")
	cmd.Flags().IntVar(&maxSpareServers, "max_spare_servers", 0, "maximum idle workers before culling")
	cmd.Flags().IntVar(&maxRequests, "max_requests", 0, "requests a worker serves before recycling; 0 is unbounded")
	cmd.Flags().StringVar(&userName, "user", "", "user account, checked to exist at startup; workers run as the invoking user")
	cmd.Flags().StringVar(&groupName, "group", "", "group, checked to exist at startup; workers run with the invoking group")
	cmd.Flags().StringVar(&logLevel, "log_level", "", "log severity: 1 fatal, 2 drop, 3 info, 4 trace")
	cmd.Flags().StringVar(&configFile, "config", "", "optional YAML config file, overridden by flags")
	cmd.Flags().DurationVar(&drainTimeout, "drain_timeout", 0, "grace period for in-flight requests during shutdown")
	cmd.Flags().IntVar(&malformedBurst, "malformed_burst", 0, "malformed frames from one identity before further ones are dropped silently")
	cmd.Flags().StringVar(&metricsAddr, "metrics_addr", "", "address to serve Prometheus /metrics on, e.g. :9090")
	cmd.Flags().DurationVar(&checkForWaiting, "check_for_waiting", 0, "housekeeping poll cadence when idle")

	return cmd
}

func runBroker(cfg *config.Config) error {
	level, err := applog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return &config.Error{Reason: err.Error()}
	}
	logger, err := applog.New(level)
	if err != nil {
		return fmt.Errorf("zmqbroker: build logger: %w", err)
	}
	defer logger.Sync()

	// cfg.Validate() (called by the caller before runBroker) already
	// confirmed cfg.User and cfg.Group resolve to real accounts.

	procname.SetBroker(cfg.FrontendPort, cfg.BackendPort)

	ctx, err := zmqtransport.NewContext()
	if err != nil {
		return &config.RuntimeError{Reason: fmt.Sprintf("create context: %v", err)}
	}
	defer ctx.Close()

	frontend, err := ctx.NewSocket(transport.Router)
	if err != nil {
		return &config.RuntimeError{Reason: fmt.Sprintf("create frontend socket: %v", err)}
	}
	defer frontend.Close()
	if err := frontend.Bind(fmt.Sprintf("tcp://*:%d", cfg.FrontendPort)); err != nil {
		return &config.RuntimeError{Reason: fmt.Sprintf("bind frontend: %v", err)}
	}

	backend, err := ctx.NewSocket(transport.Router)
	if err != nil {
		return &config.RuntimeError{Reason: fmt.Sprintf("create backend socket: %v", err)}
	}
	defer backend.Close()
	if err := backend.Bind(fmt.Sprintf("tcp://*:%d", cfg.BackendPort)); err != nil {
		return &config.RuntimeError{Reason: fmt.Sprintf("bind backend: %v", err)}
	}

	statusAddr := fmt.Sprintf("ipc:///tmp/zmqbroker-%d-status.sock", cfg.BackendPort)
	statusSocket, err := ctx.NewSocket(transport.Pull)
	if err != nil {
		return &config.RuntimeError{Reason: fmt.Sprintf("create status socket: %v", err)}
	}
	defer statusSocket.Close()
	if err := statusSocket.Bind(statusAddr); err != nil {
		return &config.RuntimeError{Reason: fmt.Sprintf("bind status socket: %v", err)}
	}

	dispatcher := signals.New()
	dispatcher.Start()
	defer dispatcher.Stop()

	var collector *metrics.Collector
	if cfg.MetricsAddr != "" {
		collector = metrics.NewCollector()
		go func() {
			if err := metrics.Serve(cfg.MetricsAddr); err != nil {
				logger.Warnw("zmqbroker: metrics server stopped", "error", err)
			}
		}()
	}

	idleQueue := broker.NewIdleQueue()

	sup := supervisor.New(supervisor.Config{
		Launcher: &supervisor.ExecLauncher{Args: []string{
			"--status_addr", statusAddr,
			"--max_requests", fmt.Sprint(cfg.MaxRequestsPerWorker),
			"--log_level", cfg.LogLevel,
		}},
		IdleQueue:       idleQueue,
		StatusSocket:    statusSocket,
		Signals:         dispatcher,
		Logger:          logger,
		Metrics:         collector,
		BackendPort:     cfg.BackendPort,
		MinServers:      cfg.MinServers,
		MaxServers:      cfg.MaxServers,
		MinSpareServers: cfg.MinSpareServers,
		MaxSpareServers: cfg.MaxSpareServers,
		DrainTimeout:    cfg.DrainTimeout,
	})

	router := broker.NewRouter(broker.Config{
		Frontend:       frontend,
		Backend:        backend,
		IdleQueue:      idleQueue,
		Housekeeper:    sup,
		Logger:         logger,
		Metrics:        collector,
		PollInterval:   cfg.CheckForWaiting,
		MalformedBurst: cfg.MalformedBurst,
	})

	logger.Infow("zmqbroker: listening",
		"frontend_port", cfg.FrontendPort,
		"backend_port", cfg.BackendPort,
		"min_servers", cfg.MinServers,
		"max_servers", cfg.MaxServers,
	)
	if err := router.Run(); err != nil {
		return &config.RuntimeError{Reason: err.Error()}
	}
	logger.Info("zmqbroker: shut down cleanly")
	return nil
}
