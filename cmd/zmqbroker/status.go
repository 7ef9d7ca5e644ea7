package main

import (
	"fmt"
	"net/http"

	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
)

// buildStatusCommand queries a running broker's Prometheus endpoint and
// prints the worker pool tally, mirroring
// huaban-periodic/cmd/periodic/subcmd/status.go's operator-facing
// "connect and print a summary" shape, adapted from that repo's raw
// line-oriented wire protocol to a text-format /metrics scrape.
func buildStatusCommand() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the worker pool tally of a running broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printStatus(metricsAddr)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics_addr", "http://localhost:9090", "base URL of the broker's metrics endpoint")

	return cmd
}

var wantedMetrics = []string{
	"zmqbroker_workers_ready",
	"zmqbroker_workers_processing",
	"zmqbroker_worker_forks_total",
	"zmqbroker_worker_reaps_total",
	"zmqbroker_requests_dispatched_total",
	"zmqbroker_replies_forwarded_total",
}

func printStatus(metricsAddr string) error {
	resp, err := http.Get(metricsAddr + "/metrics")
	if err != nil {
		return fmt.Errorf("zmqbroker status: fetch %s/metrics: %w", metricsAddr, err)
	}
	defer resp.Body.Close()

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return fmt.Errorf("zmqbroker status: parse metrics: %w", err)
	}

	for _, name := range wantedMetrics {
		fam, ok := families[name]
		if !ok || len(fam.GetMetric()) == 0 {
			continue
		}
		m := fam.GetMetric()[0]
		var value float64
		switch {
		case m.GetGauge() != nil:
			value = m.GetGauge().GetValue()
		case m.GetCounter() != nil:
			value = m.GetCounter().GetValue()
		}
		fmt.Printf("%-40s %v\n", name, value)
	}
	return nil
}
