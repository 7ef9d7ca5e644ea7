// Command zmqbroker runs the preforking ZeroMQ job broker, or (via its
// hidden "worker" subcommand) one worker child process re-exec'd by the
// supervisor.
//
// Grounded on ChuLiYu-raft-recovery/internal/cli.go's cobra root command
// shape (a "run" subcommand doing the real work, one persistent
// --config flag, Execute()/os.Exit(1) in main).
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ido50/Net-Server-ZMQ/internal/config"
)

func main() {
	err := buildRootCommand().Execute()
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)

	var runtimeErr *config.RuntimeError
	if errors.As(err, &runtimeErr) {
		os.Exit(2)
	}
	os.Exit(1)
}

func buildRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "zmqbroker",
		Short: "A preforking ZeroMQ request/reply job broker",
		Long: `zmqbroker load-balances client requests over a pool of worker
child processes it forks and supervises, using ZeroMQ ROUTER sockets on
both the client-facing and worker-facing side.`,
		Version: "1.0.0",
	}

	root.AddCommand(buildRunCommand())
	root.AddCommand(buildWorkerCommand())
	root.AddCommand(buildStatusCommand())

	return root
}
