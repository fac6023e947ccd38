package metrics

import (
	"cmp"
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	Transactions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txaction_transactions_total",
			Help: "Total number of assembled transactions by pipeline and source",
		},
		[]string{"pipeline", "source"},
	)

	MatchedTransactions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txaction_matched_transactions_total",
			Help: "Total number of transactions classified by action",
		},
		[]string{"pipeline", "action"},
	)

	// DispatchErrors counts transactions that produced no result, by reason
	// (no_match, ambiguous, validation, transform).
	DispatchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txaction_dispatch_errors_total",
			Help: "Total number of transactions that could not be dispatched by reason",
		},
		[]string{"pipeline", "reason"},
	)

	TransformationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txaction_transformation_errors_total",
			Help: "Total number of pre-match transformation errors by stage and pipeline",
		},
		[]string{"stage", "pipeline", "source"},
	)

	PublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txaction_publish_errors_total",
			Help: "Total number of publish errors by sink",
		},
		[]string{"sink"},
	)

	DeadLetters = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txaction_dead_letters_total",
			Help: "Total number of transactions sent to the dead letter peer",
		},
		[]string{"pipeline", "reason"},
	)

	ProcessedResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txaction_processed_results_total",
			Help: "Total number of results handed to sinks by pipeline",
		},
		[]string{"pipeline", "source", "sink"},
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "txaction_dispatch_duration_seconds",
			Help:    "Duration of transaction transformation and dispatch",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"pipeline", "source"},
	)
)

// ServerOpts configures the metrics endpoint. Zero values take defaults.
type ServerOpts struct {
	Addr              string        // defaults to ":9100"
	Path              string        // defaults to "/metrics"
	ShutdownTimeout   time.Duration // defaults to 5s
	ReadHeaderTimeout time.Duration // defaults to 3s
	Logger            *zap.Logger
}

func (o *ServerOpts) setDefaults() {
	o.Addr = cmp.Or(o.Addr, ":9100")
	o.Path = cmp.Or(o.Path, "/metrics")
	o.ShutdownTimeout = cmp.Or(o.ShutdownTimeout, 5*time.Second)
	o.ReadHeaderTimeout = cmp.Or(o.ReadHeaderTimeout, 3*time.Second)
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Serve exposes the default registry over HTTP until ctx is canceled, then
// shuts the server down gracefully. wg is released once the server stopped.
func Serve(ctx context.Context, wg *sync.WaitGroup, opts ServerOpts) {
	opts.setDefaults()
	logger := opts.Logger.With(zap.String("addr", opts.Addr))

	mux := http.NewServeMux()
	mux.Handle(opts.Path, promhttp.Handler())
	server := &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: opts.ReadHeaderTimeout,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		served := make(chan struct{})
		shutdown := make(chan struct{})
		go func() {
			defer close(shutdown)
			select {
			case <-ctx.Done():
			case <-served:
				return
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics server shutdown", zap.Error(err))
			}
		}()

		logger.Info("serving metrics", zap.String("path", opts.Path))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
		close(served)
		<-shutdown
	}()
}
