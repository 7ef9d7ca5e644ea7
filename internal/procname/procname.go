// Package procname sets the OS process title spec.md §6 requires:
// "zmq broker <fport>-<bport>" for the supervisor, "zmq worker <bport>"
// for each child. Nothing in the retrieved corpus sets a process title,
// so this wraps the ecosystem's standard argv-rewriting library
// (github.com/erikdubbelboer/gspt) rather than inventing one; see
// DESIGN.md for why this is the one place the corpus offers no
// precedent to ground against.
package procname

import (
	"fmt"

	"github.com/erikdubbelboer/gspt"
)

// SetBroker titles the supervisor process.
func SetBroker(frontendPort, backendPort int) {
	gspt.SetProcTitle(fmt.Sprintf("zmq broker %d-%d", frontendPort, backendPort))
}

// SetWorker titles a worker child process.
func SetWorker(backendPort int) {
	gspt.SetProcTitle(fmt.Sprintf("zmq worker %d", backendPort))
}
