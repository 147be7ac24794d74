// Package metrics exports the sensor views as Prometheus gauges.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/jgoulah/bchydro/internal/coordinator"
	"github.com/jgoulah/bchydro/internal/sensor"
)

const namespace = "bchydro"

// StatusProvider reports the outcome of the last refresh
type StatusProvider interface {
	Status() coordinator.Status
}

// Collector reads the views on every scrape
type Collector struct {
	views  []*sensor.View
	status StatusProvider

	valueDesc       *prometheus.Desc
	successDesc     *prometheus.Desc
	lastUpdatedDesc *prometheus.Desc
}

// NewCollector creates a collector over the views
func NewCollector(views []*sensor.View, status StatusProvider) *Collector {
	return &Collector{
		views:  views,
		status: status,
		valueDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "sensor", "value"),
			"Current reading of a BC Hydro sensor.",
			[]string{"unique_id", "unit", "device_class", "state_class"}, nil,
		),
		successDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "last_update_success"),
			"Whether the last refresh from BC Hydro succeeded.",
			nil, nil,
		),
		lastUpdatedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "last_update_timestamp_seconds"),
			"Unix time of the last successful refresh.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.valueDesc
	ch <- c.successDesc
	ch <- c.lastUpdatedDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, v := range c.views {
		value, ok := v.Value()
		if !ok {
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.valueDesc, prometheus.GaugeValue, value,
			v.UniqueID(), v.Unit, v.DeviceClass, v.StateClass)
	}

	st := c.status.Status()
	success := 0.0
	if st.LastUpdateSuccess {
		success = 1
	}
	ch <- prometheus.MustNewConstMetric(c.successDesc, prometheus.GaugeValue, success)
	if !st.LastUpdated.IsZero() {
		ch <- prometheus.MustNewConstMetric(c.lastUpdatedDesc, prometheus.GaugeValue,
			float64(st.LastUpdated.UnixNano())/1e9)
	}
}

// Handler serves the registry on /metrics
func Handler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}

// Serve listens on addr until ctx is cancelled
func Serve(ctx context.Context, addr string, handler http.Handler, log logrus.FieldLogger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("Serving metrics")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
