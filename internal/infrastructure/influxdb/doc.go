// Package influxdb exports per-request telemetry to an InfluxDB v2
// bucket. The stats collector feeds it one point per handled primitive;
// points are batched and written asynchronously so the dispatch path
// never waits on the metrics backend. The exporter is optional and the
// CSE runs identically with it disabled.
package influxdb
