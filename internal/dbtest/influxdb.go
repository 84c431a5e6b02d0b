package dbtest

import (
	"context"
	"fmt"
	"testing"

	"github.com/docker/go-connections/nat"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// InfluxDBImage exposes the image to use for the InfluxDB container.
//
// See <https://hub.docker.com/_/influxdb> for more images.
const InfluxDBImage = "docker.io/influxdb:2.7"

// Default port of the InfluxDB HTTP API.
const influxHTTP = nat.Port("8086/tcp")

// The organisation, bucket and token the InfluxDB container is set up with.
const (
	InfluxDBOrg    = "ecr"
	InfluxDBBucket = "metrics"
	InfluxDBToken  = "dbtest-token"
)

// SetupInfluxDB spins up a new InfluxDB 2 Docker container, set up with
// InfluxDBOrg, InfluxDBBucket and InfluxDBToken, and returns a client connected
// to it. The returned client is closed during cleanup of the provided
// [*testing.T].
//
// Like SetupNeo4j, it skips under -short and marks t parallel.
func SetupInfluxDB(t *testing.T) influxdb2.Client {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping container-based test in short mode...")
	}
	t.Parallel()

	ctx := context.Background()

	// There is no testcontainers module for InfluxDB 2, so we run a generic
	// container with the image's automated setup.
	req := testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        InfluxDBImage,
			ExposedPorts: []string{string(influxHTTP)},
			Env: map[string]string{
				"DOCKER_INFLUXDB_INIT_MODE":        "setup",
				"DOCKER_INFLUXDB_INIT_USERNAME":    "dbtest",
				"DOCKER_INFLUXDB_INIT_PASSWORD":    "dbtest-password",
				"DOCKER_INFLUXDB_INIT_ORG":         InfluxDBOrg,
				"DOCKER_INFLUXDB_INIT_BUCKET":      InfluxDBBucket,
				"DOCKER_INFLUXDB_INIT_ADMIN_TOKEN": InfluxDBToken,
			},
			WaitingFor: wait.ForHTTP("/health").WithPort(influxHTTP),
		},
		Started: true,
	}
	for _, opt := range containerOptions(t, WithWaitForExposedPort()) {
		if err := opt.Customize(&req); err != nil {
			t.Fatal("Failed to customize influxdb container:", err)
		}
	}

	container, err := testcontainers.GenericContainer(ctx, req)
	if err != nil {
		t.Fatal("Failed to run influxdb container:", err)
	}
	terminateOnCleanup(t, "influxdb", container)

	endpoint, err := container.PortEndpoint(ctx, influxHTTP, "http")
	if err != nil {
		t.Fatal("Failed to get http endpoint:", err)
	}

	client := influxdb2.NewClient(endpoint, InfluxDBToken)
	t.Cleanup(client.Close)

	// The automated setup completes after the server starts answering health
	// checks, so wait until the setup is done as well.
	ready := func(ctx context.Context) error {
		_, err := client.Ready(ctx)
		return err
	}
	if err := untilReady(t, ctx, "influxdb", ready); err != nil {
		t.Fatal("InfluxDB is not ready:", err)
	}

	inspectOnFailure(t, container.GetContainerID(),
		fmt.Sprintf("HTTP URL = %s (token %q, org %q, bucket %q)", endpoint, InfluxDBToken, InfluxDBOrg, InfluxDBBucket),
	)
	return client
}
