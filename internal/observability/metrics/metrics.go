// Package metrics keeps in-memory counters for HTTP traffic and the
// transcode pipeline and renders them in Prometheus text format.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder aggregates request and transcode counters. All methods are
// safe for concurrent use.
type Recorder struct {
	mu                sync.RWMutex
	requestCount      map[requestLabel]uint64
	requestDuration   map[requestLabel]time.Duration
	uploadsReceived   uint64
	transcodeCount    map[string]uint64
	transcodeDuration map[string]time.Duration
	activeTranscodes  atomic.Int64
}

var defaultRecorder = New()

func New() *Recorder {
	return &Recorder{
		requestCount:      make(map[requestLabel]uint64),
		requestDuration:   make(map[requestLabel]time.Duration),
		transcodeCount:    make(map[string]uint64),
		transcodeDuration: make(map[string]time.Duration),
	}
}

// Default returns the shared process-wide recorder.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest accumulates request count and cumulative duration by
// method, normalized path, and status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// UploadReceived counts an accepted upload.
func (r *Recorder) UploadReceived() {
	r.mu.Lock()
	r.uploadsReceived++
	r.mu.Unlock()
}

// TranscodeStarted increments the active transcode gauge.
func (r *Recorder) TranscodeStarted() {
	r.activeTranscodes.Add(1)
}

// TranscodeFinished records the outcome of a transcode job and
// decrements the active gauge, guarding against going negative.
func (r *Recorder) TranscodeFinished(outcome string, duration time.Duration) {
	normalized := normalizeName(outcome)
	r.mu.Lock()
	r.transcodeCount[normalized]++
	r.transcodeDuration[normalized] += duration
	r.mu.Unlock()
	r.decrementGauge(&r.activeTranscodes)
}

// ActiveTranscodes reports how many encoder jobs are currently running.
func (r *Recorder) ActiveTranscodes() int64 {
	return r.activeTranscodes.Load()
}

// TranscodeCounts returns a copy of the per-outcome counters for tests
// and reporting.
func (r *Recorder) TranscodeCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]uint64, len(r.transcodeCount))
	for k, v := range r.transcodeCount {
		out[k] = v
	}
	return out
}

// Reset clears all counters and gauges. Intended for test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.uploadsReceived = 0
	r.transcodeCount = make(map[string]uint64)
	r.transcodeDuration = make(map[string]time.Duration)
	r.mu.Unlock()
	r.activeTranscodes.Store(0)
}

// Handler exposes the recorder as an http.Handler in Prometheus text
// exposition format.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the metrics with label sets sorted for stable output.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	outcomes := r.sortedTranscodeOutcomes()

	fmt.Fprintln(w, "# HELP lanstream_http_requests_total Total number of HTTP requests processed")
	fmt.Fprintln(w, "# TYPE lanstream_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "lanstream_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP lanstream_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE lanstream_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "lanstream_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}

	fmt.Fprintln(w, "# HELP lanstream_uploads_received_total Uploads accepted by the intake endpoint")
	fmt.Fprintln(w, "# TYPE lanstream_uploads_received_total counter")
	fmt.Fprintf(w, "lanstream_uploads_received_total %d\n", r.uploadsReceived)

	fmt.Fprintln(w, "# HELP lanstream_transcode_jobs_total Transcode jobs by outcome")
	fmt.Fprintln(w, "# TYPE lanstream_transcode_jobs_total counter")
	for _, outcome := range outcomes {
		fmt.Fprintf(w, "lanstream_transcode_jobs_total{outcome=\"%s\"} %d\n", outcome, r.transcodeCount[outcome])
	}

	fmt.Fprintln(w, "# HELP lanstream_transcode_duration_seconds_sum Cumulative encoder runtime by outcome")
	fmt.Fprintln(w, "# TYPE lanstream_transcode_duration_seconds_sum counter")
	for _, outcome := range outcomes {
		fmt.Fprintf(w, "lanstream_transcode_duration_seconds_sum{outcome=\"%s\"} %f\n", outcome, r.transcodeDuration[outcome].Seconds())
	}

	fmt.Fprintln(w, "# HELP lanstream_transcode_active_jobs Encoder processes currently running")
	fmt.Fprintln(w, "# TYPE lanstream_transcode_active_jobs gauge")
	fmt.Fprintf(w, "lanstream_transcode_active_jobs %d\n", r.activeTranscodes.Load())
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedTranscodeOutcomes() []string {
	outcomes := make([]string, 0, len(r.transcodeCount))
	for outcome := range r.transcodeCount {
		outcomes = append(outcomes, outcome)
	}
	sort.Strings(outcomes)
	return outcomes
}

// normalizePath collapses likely identifiers so the label cardinality
// stays bounded.
func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 8 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
