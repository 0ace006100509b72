package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

var (
	briefStartedTotal   atomic.Uint64
	briefCompletedTotal atomic.Uint64
	briefFailedTotal    atomic.Uint64
	imageSkippedTotal   atomic.Uint64

	briefDuration = newHistogram([]float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000, 180000})
)

// IncBriefStarted increments the started counter.
func IncBriefStarted() {
	briefStartedTotal.Add(1)
}

// IncBriefCompleted increments the completed counter.
func IncBriefCompleted() {
	briefCompletedTotal.Add(1)
}

// IncBriefFailed increments the failed counter.
func IncBriefFailed() {
	briefFailedTotal.Add(1)
}

// AddImagesSkipped records images that were skipped on a completed brief.
func AddImagesSkipped(n int) {
	if n > 0 {
		imageSkippedTotal.Add(uint64(n))
	}
}

// ObserveBriefDurationMs records one pipeline run's duration in milliseconds.
func ObserveBriefDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	briefDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "brief_started_total", "Total brief pipeline runs started", briefStartedTotal.Load())
	writeCounter(&buf, "brief_completed_total", "Total briefs completed", briefCompletedTotal.Load())
	writeCounter(&buf, "brief_failed_total", "Total briefs failed", briefFailedTotal.Load())
	writeCounter(&buf, "brief_images_skipped_total", "Total images skipped on completed briefs", imageSkippedTotal.Load())
	writeHistogram(&buf, "brief_duration_ms", "Pipeline run duration in milliseconds", briefDuration.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
	return out
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// NowMillis returns current time in milliseconds, useful for callers without time utilities.
func NowMillis() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Millisecond)
}
