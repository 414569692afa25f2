// Package metrics defines the prometheus metrics exported by the policing
// detector, and a couple of small HTTP/panic-handling helpers shared across
// the driver and CLI.
package metrics

import (
	"fmt"
	"log"
	"math"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FrameCount counts frames read from captures, by how far parsing got.
	//
	// Provides metrics:
	//   policing_frame_count{result}
	// Example usage:
	//   metrics.FrameCount.WithLabelValues("ok").Inc()
	FrameCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policing_frame_count",
			Help: "Number of frames read from capture files, by parse result.",
		},
		// ok, truncated_ethernet, truncated_ip, not_ipv4, not_tcp, other
		[]string{"result"},
	)

	// FlowCount counts TCP flows assembled from a capture.
	//
	// Provides metrics:
	//   policing_flow_count
	FlowCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "policing_flow_count",
			Help: "Number of TCP flows assembled from capture files.",
		},
	)

	// SegmentCount counts request/response segments split out of flows.
	//
	// Provides metrics:
	//   policing_segment_count{direction}
	SegmentCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policing_segment_count",
			Help: "Number of request/response segments split out of flows.",
		},
		[]string{"direction"},
	)

	// VerdictCount counts policing-detector verdicts by result code.
	//
	// Provides metrics:
	//   policing_verdict_count{direction, cutoff, code}
	// Example usage:
	//   metrics.VerdictCount.WithLabelValues("a2b", "0", "0").Inc()
	VerdictCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policing_verdict_count",
			Help: "Number of policing-detector verdicts, by direction/cutoff/result code.",
		},
		[]string{"direction", "cutoff", "code"},
	)

	// GoodputBpsHistogram provides a histogram of estimated policing rate
	// (bits per second) for OK verdicts.
	//
	// Provides metrics:
	//   policing_goodput_bps_bucket{le="..."}
	GoodputBpsHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "policing_goodput_bps",
			Help: "Estimated policing rate distribution, in bits per second.",
			Buckets: []float64{
				1e5, 2.5e5, 5e5, 1e6, 2e6, 4e6, 8e6, 1.6e7, 3.2e7, 6.4e7, 1.28e8, math.Inf(+1),
			},
		},
	)

	// BurstSizeHistogram provides a histogram of estimated policing burst
	// size, in bytes, for OK verdicts.
	//
	// Provides metrics:
	//   policing_burst_bytes_bucket{le="..."}
	BurstSizeHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "policing_burst_bytes",
			Help: "Estimated policing burst size distribution, in bytes.",
			Buckets: []float64{
				1460, 14600, 73000, 146000, 730000, 1460000, 7300000, math.Inf(+1),
			},
		},
	)

	// PacketCount provides a histogram of packets per processed capture.
	//
	// Provides metrics:
	//   policing_capture_packet_count_bucket{le="..."}
	PacketCount = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "policing_capture_packet_count",
			Help: "Number of packets observed per processed capture file.",
			Buckets: []float64{
				10, 100, 1000, 10000, 100000, 1000000, math.Inf(+1),
			},
		},
	)

	// CaptureDuration provides a histogram of capture processing time.
	//
	// Provides metrics:
	//   policing_capture_duration_seconds_bucket{le="..."}
	CaptureDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "policing_capture_duration_seconds",
			Help: "Wall-clock time spent analyzing one capture file.",
			Buckets: []float64{
				0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300, math.Inf(+1),
			},
		},
	)

	// WarningCount counts non-fatal anomalies encountered while reconstructing flows.
	//
	// Provides metrics:
	//   policing_warning_count{kind}
	WarningCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policing_warning_count",
			Help: "Non-fatal anomalies encountered while reconstructing flows.",
		},
		[]string{"kind"},
	)

	// PanicCount counts the number of panics encountered in the pipeline.
	//
	// Provides metrics:
	//   policing_panic_count{source}
	PanicCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policing_panic_count",
			Help: "Number of panics encountered.",
		},
		[]string{"source"},
	)

	// RequestDuration records handler latency for the HTTP handler that
	// serves the Prometheus metrics.
	//
	// Provides metrics:
	//   policing_request_duration_seconds{name, status}
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "policing_request_duration_seconds",
			Help: "Duration of debug HTTP handler calls.",
		},
		[]string{"name", "status"},
	)
)

// catchStatus wraps the native http.ResponseWriter and captures any written HTTP status codes.
type catchStatus struct {
	http.ResponseWriter
	status int
}

func (cw *catchStatus) WriteHeader(code int) {
	cw.ResponseWriter.WriteHeader(code)
	cw.status = code
}

// DurationHandler wraps the call of an inner http.HandlerFunc and records the runtime.
func DurationHandler(name string, inner http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t := time.Now()
		cw := &catchStatus{w, http.StatusOK} // Default status is OK.
		inner.ServeHTTP(cw, r)
		RequestDuration.WithLabelValues(name, http.StatusText(cw.status)).Observe(
			time.Since(t).Seconds())
	}
}

// CountPanics updates the PanicCount metric, then repanics. Must be wrapped in a defer.
func CountPanics(r interface{}, tag string) {
	if r != nil {
		err, ok := r.(error)
		if !ok {
			log.Println("bad recovery conversion")
			err = fmt.Errorf("pkg: %v", r)
		}
		log.Println("Adding metrics for panic:", err)
		PanicCount.WithLabelValues(tag).Inc()
		debug.PrintStack()
		panic(r)
	}
}

// PanicToErr captures panics and converts them to errors. Must be wrapped in a defer.
func PanicToErr(err error, r interface{}, tag string) error {
	if r != nil {
		var ok bool
		err, ok = r.(error)
		if !ok {
			log.Println("bad recovery conversion")
			err = fmt.Errorf("pkg: %v", r)
		}
		log.Println("Recovered from panic:", err)
		PanicCount.WithLabelValues(tag).Inc()
		debug.PrintStack()
	}
	return err
}
