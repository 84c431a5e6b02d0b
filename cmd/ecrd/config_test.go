package main

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/go-digitaltwin/go-ecr/timeseries"
	"github.com/go-digitaltwin/go-ecr/timeseries/influxdb"
)

func TestParseConfig(t *testing.T) {
	const doc = `
log:
  level: debug
  format: json
neo4j:
  uri: neo4j://graph:7687
  username: neo4j
  password: secret
  database: ecr
influxdb:
  url: http://influxdb:8086
  token: t0ken
  org: ecr
  bucket: metrics
writer:
  batchSize: 500
  flushInterval: 2s
  overflow: drop-newest
catalog:
  bucket: file:///etc/ecr
  key: catalog.yaml
events:
  topic: nats://ecr.changes
ingest:
  subscription: nats://ecr.metrics
admin:
  address: :9090
`
	got, err := ParseConfig(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("ParseConfig() = %v", err)
	}
	want := Config{
		Log:   LogConfig{Level: "debug", Format: "json"},
		Neo4j: Neo4jConfig{URI: "neo4j://graph:7687", Username: "neo4j", Password: "secret", Database: "ecr"},
		InfluxDB: &influxdb.Config{
			URL:    "http://influxdb:8086",
			Token:  "t0ken",
			Org:    "ecr",
			Bucket: "metrics",
		},
		Writer: timeseries.Config{
			BatchSize:     500,
			FlushInterval: 2 * time.Second,
			FlushTimeout:  10 * time.Second,
			MaxBuffered:   100_000,
			Overflow:      timeseries.DropNewest,
		},
		Catalog: CatalogConfig{Bucket: "file:///etc/ecr", Key: "catalog.yaml"},
		Events:  EventsConfig{Topic: "nats://ecr.changes"},
		Ingest:  IngestConfig{Subscription: "nats://ecr.metrics"},
		Admin:   AdminConfig{Address: ":9090", ShutdownTimeout: 10 * time.Second},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseConfig() mismatch (-want +got)\n%v", diff)
	}
}

func TestParseConfig_empty(t *testing.T) {
	got, err := ParseConfig(strings.NewReader(""))
	if err != nil {
		t.Fatalf("ParseConfig() = %v", err)
	}
	if diff := cmp.Diff(DefaultConfig(), got); diff != "" {
		t.Errorf("ParseConfig(empty) mismatch (-want +got)\n%v", diff)
	}
}

func TestParseConfig_invalid(t *testing.T) {
	tests := map[string]string{
		"UnknownKey":         "neo4j:\n  url: neo4j://graph:7687\n",
		"BadLevel":           "log:\n  level: verbose\n",
		"NoDatabase":         "neo4j:\n  database: \"\"\n",
		"BadInfluxURL":       "influxdb:\n  url: not a url\n  token: t\n  org: o\n  bucket: b\n",
		"IncompleteInfluxDB": "influxdb:\n  url: http://influxdb:8086\n",
		"BadOverflow":        "writer:\n  overflow: drop-all\n",
		"BadDuration":        "writer:\n  flushInterval: soon\n",
		"CatalogWithoutKey":  "catalog:\n  bucket: file:///etc/ecr\n",
		"IngestWithoutStore": "ingest:\n  subscription: mem://metrics\n",
		"NoAdminAddress":     "admin:\n  address: \"\"\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseConfig(strings.NewReader(doc)); err == nil {
				t.Errorf("ParseConfig() succeeded, want error")
			}
		})
	}
}

func TestLoadConfig_missingFile(t *testing.T) {
	if _, err := LoadConfig(t.TempDir() + "/ecrd.yaml"); err == nil {
		t.Error("LoadConfig() succeeded, want error")
	}
}
