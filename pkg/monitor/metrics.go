package monitor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/itohio/gowindfarm/pkg/command"
	"github.com/itohio/gowindfarm/pkg/daq"
)

// Metrics are the node's prometheus collectors.
type Metrics struct {
	LinesEmitted     prometheus.Counter
	Commands         *prometheus.CounterVec
	SampleErrors     prometheus.Counter
	Running          prometheus.Gauge
	TimestampRetries prometheus.Counter

	lastRetries uint64
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LinesEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "windfarm_lines_emitted_total",
			Help: "Data lines written to the serial stream.",
		}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "windfarm_commands_total",
			Help: "Commands applied, by command.",
		}, []string{"command"}),
		SampleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "windfarm_sample_errors_total",
			Help: "Control loop passes that failed to sample or emit.",
		}),
		Running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "windfarm_daq_running",
			Help: "1 while acquisition is running.",
		}),
		TimestampRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "windfarm_timestamp_retries_total",
			Help: "Timestamp reads repeated because a tick boundary was crossed.",
		}),
	}

	reg.MustRegister(
		m.LinesEmitted,
		m.Commands,
		m.SampleErrors,
		m.Running,
		m.TimestampRetries,
	)
	return m
}

// Command counts an applied command.
func (m *Metrics) Command(cmd command.Command) {
	m.Commands.WithLabelValues(cmd.String()).Inc()
}

// State tracks the acquisition state.
func (m *Metrics) State(s daq.State) {
	if s == daq.Running {
		m.Running.Set(1)
	} else {
		m.Running.Set(0)
	}
}

// Line counts an emitted line.
func (m *Metrics) Line([]byte) {
	m.LinesEmitted.Inc()
}

// Error counts a failed control loop pass.
func (m *Metrics) Error(error) {
	m.SampleErrors.Inc()
}

// Retries advances the retry counter to total. Not safe for concurrent use.
func (m *Metrics) Retries(total uint64) {
	if total > m.lastRetries {
		m.TimestampRetries.Add(float64(total - m.lastRetries))
		m.lastRetries = total
	}
}

// Handler returns the HTTP handler serving /metrics and /health.
func Handler(g prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

// Serve runs the metrics HTTP server on addr until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, log logrus.FieldLogger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(g),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Infof("Metrics server listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
