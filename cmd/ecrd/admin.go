package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/go-digitaltwin/go-ecr/timeseries"
)

// A healthCheck reports whether a dependency of the daemon is usable.
type healthCheck struct {
	name  string
	check func(ctx context.Context) error
}

// healthTimeout bounds every health check of a single /healthz request.
const healthTimeout = 2 * time.Second

// newRegistry returns the Prometheus registry served on /metrics, holding the
// runtime collectors and, when w is not nil, the gauge of buffered points.
func newRegistry(w *timeseries.Writer) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if w != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "ecr",
			Subsystem: "timeseries",
			Name:      "buffered_points",
			Help:      "The number of points waiting for the next flush.",
		}, func() float64 { return float64(w.Len()) }))
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "ecr",
			Subsystem: "timeseries",
			Name:      "buffer_capacity",
			Help:      "The number of points the buffer holds before applying its overflow policy.",
		}, func() float64 { return float64(w.Config().MaxBuffered) }))
	}
	return reg
}

type healthStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// newAdmin returns the HTTP server of the admin endpoint.
func newAdmin(reg *prometheus.Registry, checks ...healthCheck) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	e.GET("/healthz", func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()

		status := healthStatus{Status: "ok", Checks: make(map[string]string, len(checks))}
		code := http.StatusOK
		for _, h := range checks {
			if err := h.check(ctx); err != nil {
				status.Status = "unavailable"
				status.Checks[h.name] = err.Error()
				code = http.StatusServiceUnavailable
				continue
			}
			status.Checks[h.name] = "ok"
		}
		return c.JSON(code, status)
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	return e
}
