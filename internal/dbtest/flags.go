package dbtest

import (
	"flag"
	"os"
	"os/signal"
	"testing"
)

// Inspect keeps the container of a failed test running until Ctrl+C. The
// testcontainers reaper still removes it eventually.
var Inspect = flag.Bool("dbtest.inspect", false, "keep the container of a failed test running for inspection")

// inspectOnFailure registers a cleanup that, for a failed test run with
// -dbtest.inspect, logs how to reach the container and blocks until SIGINT.
//
// Register it after the cleanups closing clients and containers: cleanups run
// last-in first-out, so this one runs before them.
func inspectOnFailure(t *testing.T, containerID string, details ...string) {
	t.Cleanup(func() {
		if !t.Failed() || !*Inspect {
			return
		}
		t.Logf("Container %v is still running for inspection (Ctrl+C to terminate)...", containerID)
		for _, d := range details {
			t.Log(d)
		}
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt)
		defer signal.Stop(c)
		<-c
	})
}
