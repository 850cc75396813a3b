package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder aggregates in-memory counters for HTTP requests, media uploads,
// link attachment outcomes, and present-era draws. It is safe for concurrent
// use; a nil Recorder ignores all observations so instrumentation call sites
// never need a guard.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	uploadsByEra    map[string]uint64
	linkOutcomes    map[string]uint64
	presentDraws    uint64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		uploadsByEra:    make(map[string]uint64),
		linkOutcomes:    make(map[string]uint64),
	}
}

// Default returns the singleton Recorder shared by packages that do not carry
// their own instrumentation pipeline.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest accumulates request count and cumulative duration by HTTP
// method, normalized path, and status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	if r == nil {
		return
	}
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

// RecordUpload counts a stored media binary by era.
func (r *Recorder) RecordUpload(era string) {
	if r == nil {
		return
	}
	normalized := normalizeName(era)
	r.mu.Lock()
	r.uploadsByEra[normalized]++
	r.mu.Unlock()
}

// RecordLinkOutcome counts a link attachment by outcome. Rejections and
// duplicates are indistinguishable to HTTP callers, so this counter is the
// only place that traffic stays visible.
func (r *Recorder) RecordLinkOutcome(outcome string) {
	if r == nil {
		return
	}
	normalized := normalizeName(outcome)
	r.mu.Lock()
	r.linkOutcomes[normalized]++
	r.mu.Unlock()
}

// RecordPresentDraw counts a successful present-era selection.
func (r *Recorder) RecordPresentDraw() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.presentDraws++
	r.mu.Unlock()
}

// LinkOutcomeCounts returns a copy of the link outcome counters for tests and
// reporting.
func (r *Recorder) LinkOutcomeCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]uint64, len(r.linkOutcomes))
	for k, v := range r.linkOutcomes {
		counts[k] = v
	}
	return counts
}

// Reset clears all counters on the recorder. It is intended for test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.uploadsByEra = make(map[string]uint64)
	r.linkOutcomes = make(map[string]uint64)
	r.presentDraws = 0
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the metrics in Prometheus text format, sorting label sets so
// scrapes and tests see stable output.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	eras := sortedKeys(r.uploadsByEra)
	outcomes := sortedKeys(r.linkOutcomes)

	fmt.Fprintln(w, "# HELP keepsake_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE keepsake_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "keepsake_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP keepsake_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE keepsake_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "keepsake_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}

	fmt.Fprintln(w, "# HELP keepsake_media_uploads_total Stored media binaries by era")
	fmt.Fprintln(w, "# TYPE keepsake_media_uploads_total counter")
	for _, era := range eras {
		fmt.Fprintf(w, "keepsake_media_uploads_total{era=\"%s\"} %d\n", era, r.uploadsByEra[era])
	}

	fmt.Fprintln(w, "# HELP keepsake_media_link_outcomes_total Link attachment attempts by outcome")
	fmt.Fprintln(w, "# TYPE keepsake_media_link_outcomes_total counter")
	for _, outcome := range outcomes {
		fmt.Fprintf(w, "keepsake_media_link_outcomes_total{outcome=\"%s\"} %d\n", outcome, r.linkOutcomes[outcome])
	}

	fmt.Fprintln(w, "# HELP keepsake_present_draws_total Successful present-era media selections")
	fmt.Fprintln(w, "# TYPE keepsake_present_draws_total counter")
	fmt.Fprintf(w, "keepsake_present_draws_total %d\n", r.presentDraws)
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

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// normalizePath collapses identifier-looking segments so per-record paths do
// not explode the label cardinality.
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

// Handler exposes the default recorder over HTTP.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
