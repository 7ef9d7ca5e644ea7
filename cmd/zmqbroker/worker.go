package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ido50/Net-Server-ZMQ/internal/app"
	"github.com/ido50/Net-Server-ZMQ/internal/applog"
	"github.com/ido50/Net-Server-ZMQ/internal/supervisor"
	zmqtransport "github.com/ido50/Net-Server-ZMQ/internal/transport/zmq"
	"github.com/ido50/Net-Server-ZMQ/internal/worker"
)

// buildWorkerCommand builds the hidden entry point the supervisor's
// ExecLauncher re-execs into. It reads its backend port from the
// environment and its status address, request cap and log level from
// flags, all set by the parent at Launch time, rather than inheriting
// anything from the parent's address space directly.
func buildWorkerCommand() *cobra.Command {
	var (
		statusAddr  string
		maxRequests int
		logLevel    string
	)

	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Run one worker child process (internal use, launched by the supervisor)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			backendPortStr := os.Getenv(supervisor.EnvBackendPort)
			backendPort, err := strconv.Atoi(backendPortStr)
			if err != nil {
				return fmt.Errorf("zmqbroker worker: invalid %s=%q: %w", supervisor.EnvBackendPort, backendPortStr, err)
			}

			level, err := applog.ParseLevel(logLevel)
			if err != nil {
				level = applog.LevelInfo
			}
			logger, err := applog.New(level)
			if err != nil {
				return fmt.Errorf("zmqbroker worker: build logger: %w", err)
			}
			defer logger.Sync()

			ctx, err := zmqtransport.NewContext()
			if err != nil {
				return fmt.Errorf("zmqbroker worker: create context: %w", err)
			}
			defer ctx.Close()

			// The re-exec model means a worker child never sees the
			// parent's config.Config.App value — a func can't cross an
			// exec boundary. app.Echo is the only handler reachable
			// from the real binary; app.Uppercase exists for the
			// in-process inproc tests, where Runtime is built directly
			// with the config the test wants.
			rt := worker.New(worker.Config{
				BackendPort: backendPort,
				BackendAddr: fmt.Sprintf("tcp://localhost:%d", backendPort),
				StatusAddr:  statusAddr,
				Context:     ctx,
				App:         app.Echo,
				Logger:      logger,
				MaxRequests: maxRequests,
			})
			return rt.Serve()
		},
	}

	cmd.Flags().StringVar(&statusAddr, "status_addr", "", "status socket address to report lifecycle transitions to")
	cmd.Flags().IntVar(&maxRequests, "max_requests", 0, "requests to serve before exiting; 0 is unbounded")
	cmd.Flags().StringVar(&logLevel, "log_level", "3", "log severity: 1 fatal, 2 drop, 3 info, 4 trace")

	return cmd
}
