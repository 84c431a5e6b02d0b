package dbtest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/log"
	"github.com/testcontainers/testcontainers-go/wait"
)

// containerOptions prepends a logger writing to tb to the given options.
func containerOptions(tb testing.TB, opts ...testcontainers.ContainerCustomizer) []testcontainers.ContainerCustomizer {
	return append([]testcontainers.ContainerCustomizer{testcontainers.WithLogger(log.TestLogger(tb))}, opts...)
}

// WithWaitForExposedPort makes the container wait for its exposed port to
// accept connections, in addition to any wait strategy already set.
//
// Use it with single-port containers whose image answers health checks before
// the port is published to the host.
func WithWaitForExposedPort() testcontainers.CustomizeRequestOption {
	return func(req *testcontainers.GenericContainerRequest) error {
		strategies := []wait.Strategy{wait.ForExposedPort()}
		if req.WaitingFor != nil {
			strategies = append(strategies, req.WaitingFor)
		}
		return testcontainers.WithWaitStrategy(strategies...).Customize(req)
	}
}

// terminateOnCleanup tears the container down once the test completes.
func terminateOnCleanup(t *testing.T, name string, c testcontainers.Container) {
	t.Cleanup(func() {
		t.Logf("Terminating %s container %q...", name, c.GetContainerID())
		if err := c.Terminate(context.Background()); err != nil {
			t.Error("Encountered an error during cleanup; terminate container:", err)
		}
	})
}

// untilReady calls ready up to retries+1 times, pausing between attempts,
// and returns the last error. Servers inside freshly started containers often
// refuse the first connections.
func untilReady(t *testing.T, ctx context.Context, name string, ready func(context.Context) error) error {
	t.Helper()

	const (
		retries = 5
		pause   = 100 * time.Millisecond
	)
	err := ready(ctx)
	for r := 1; err != nil && r <= retries; r++ {
		t.Logf("Retrying [%d/%d] the %s readiness check: %v", r, retries, name, err)
		select {
		case <-time.After(pause):
		case <-ctx.Done():
			return fmt.Errorf("retry pause interrupted: %w", ctx.Err())
		}
		err = ready(ctx)
	}
	return err
}
