package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"PostkasseVision/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

var (
	PID process.Process

	registry = prometheus.NewRegistry()

	memUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memory_usage_Megabytes",
		Help: "Memory usage in Megabytes",
	})
	cpuUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cpu_usage_percent",
		Help: "CPU usage in percent",
	})

	GRPCTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "grpc_requests_total",
		Help: "Total number of gRPC requests processed",
	})
	FramesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_frames_received_total",
		Help: "Frames delivered by the camera",
	})
	FramesSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_frames_submitted_total",
		Help: "Frames handed to the detector",
	})
	FramesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_frames_dropped_total",
		Help: "Frames dropped because a detection was in flight or the session was not streaming",
	})
	DetectorErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_detector_errors_total",
		Help: "Detector invocations that returned an error",
	})
	DetectLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pipeline_detect_seconds",
		Help:    "Detector latency",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
	})
	GuidanceTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_guidance_total",
		Help: "Overlay models published, by guidance state",
	}, []string{"state"})
	CapturesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "capture_total",
		Help: "Capture attempts by result",
	}, []string{"result"})
	UploadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "upload_total",
		Help: "Still uploads by result",
	}, []string{"result"})
	AnalysesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "analysis_requests_total",
		Help: "Still images analysed by the analysis server",
	})
	DeliveryDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_decisions_total",
		Help: "Simulated parcel deliveries by outcome",
	}, []string{"outcome"})
)

func init() {
	registry.MustRegister(memUsage, cpuUsage, GRPCTotal,
		FramesReceived, FramesSubmitted, FramesDropped, DetectorErrors, DetectLatency, GuidanceTotal,
		CapturesTotal, UploadsTotal, AnalysesTotal, DeliveryDecisions)
}

// Handler serves the metrics registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

func prom(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log().Error("prometheus server stopped", zap.Error(err))
		}
	}()
	return srv
}

func CheckProcessInfo() {
	memInfo, err := PID.MemoryInfo()
	if err == nil {
		memUsage.Set(float64(memInfo.RSS / 1024 / 1024))
	}
	cpuPercent, err := PID.CPUPercent()
	if err == nil {
		cpuUsage.Set(math.Round(cpuPercent*100) / 100)
	}
}

func GotPID() {
	PID.Pid = int32(os.Getpid())
}

// StartMon serves /metrics on port and samples process usage until ctx is
// cancelled.
func StartMon(port int, ctx context.Context) {
	PID = process.Process{}
	GotPID()
	srv := prom(port)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
checkPcs:
	for {
		select {
		case <-ctx.Done():
			break checkPcs
		case <-ticker.C:
			CheckProcessInfo()
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log().Warn("prometheus server shutdown", zap.Error(err))
	}
}
