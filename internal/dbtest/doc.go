/*
Package dbtest starts the databases an ECR deployment talks to, Neo4j for the
entity graph and InfluxDB for entity metrics, as throwaway containers for
tests.

Each Setup function skips the calling test under -short, marks it parallel and
returns a connected client that is closed, together with its container, when
the test completes. Tests needing a customised server should use
testcontainers-go directly.

A failed test can keep its container alive for a post-mortem:

	go test ./neo4jgraph -run TestGraph -dbtest.inspect

The container then runs until the test binary receives SIGINT.
*/
package dbtest
