package telemetry

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/fieldbus-sim/rtusim/internal/events"
)

// InfluxConfig configures the time-series telemetry sink.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// InfluxWriter implements events.Sink, writing one point per
// registers-changed event with each register as a field, tagged by
// device id.
type InfluxWriter struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	log      events.Logger
}

// NewInfluxWriter dials cfg.URL and returns a writer using the
// non-blocking batched write API.
func NewInfluxWriter(cfg InfluxConfig, log events.Logger) (*InfluxWriter, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Health(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("influx telemetry: health check: %w", err)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	w := &InfluxWriter{client: client, writeAPI: writeAPI, log: log}

	errCh := writeAPI.Errors()
	go func() {
		for err := range errCh {
			w.log.Warnf("influx telemetry: write error: %v", err)
		}
	}()

	return w, nil
}

// Publish implements events.Sink.
func (w *InfluxWriter) Publish(ev events.Event) {
	if ev.Kind != events.KindRegistersChanged || ev.DeviceID == nil {
		return
	}

	fields := make(map[string]interface{}, len(ev.Data))
	for k, v := range ev.Data {
		fields[k] = v
	}
	if len(fields) == 0 {
		return
	}

	point := influxdb2.NewPoint(
		"register",
		map[string]string{"device_id": fmt.Sprintf("%d", *ev.DeviceID)},
		fields,
		ev.Timestamp,
	)
	w.writeAPI.WritePoint(point)
}

// Close flushes pending points and releases the client.
func (w *InfluxWriter) Close() error {
	w.writeAPI.Flush()
	w.client.Close()
	return nil
}
