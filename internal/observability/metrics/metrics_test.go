package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRecorderWritesPrometheusText(t *testing.T) {
	recorder := New()
	recorder.ObserveRequest("get", "/api/media/0123456789abcdef", 200, 150*time.Millisecond)
	recorder.RecordUpload("present")
	recorder.RecordUpload("present")
	recorder.RecordUpload("past")
	recorder.RecordLinkOutcome("created")
	recorder.RecordLinkOutcome("rejected")
	recorder.RecordPresentDraw()

	var output strings.Builder
	recorder.Write(&output)
	text := output.String()

	expected := []string{
		`keepsake_http_requests_total{method="GET",path="/api/media/:id",status="200"} 1`,
		`keepsake_media_uploads_total{era="past"} 1`,
		`keepsake_media_uploads_total{era="present"} 2`,
		`keepsake_media_link_outcomes_total{outcome="created"} 1`,
		`keepsake_media_link_outcomes_total{outcome="rejected"} 1`,
		`keepsake_present_draws_total 1`,
	}
	for _, line := range expected {
		if !strings.Contains(text, line) {
			t.Fatalf("expected output to contain %q\n%s", line, text)
		}
	}
}

func TestRecorderHandlerContentType(t *testing.T) {
	recorder := New()
	rec := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if got := rec.Header().Get("Content-Type"); got != "text/plain; version=0.0.4" {
		t.Fatalf("unexpected content type %q", got)
	}
}

func TestNilRecorderIgnoresObservations(t *testing.T) {
	var recorder *Recorder
	recorder.ObserveRequest("GET", "/", 200, time.Millisecond)
	recorder.RecordUpload("past")
	recorder.RecordLinkOutcome("created")
	recorder.RecordPresentDraw()
}

func TestLinkOutcomeCounts(t *testing.T) {
	recorder := New()
	recorder.RecordLinkOutcome("created")
	recorder.RecordLinkOutcome("Duplicate")
	recorder.RecordLinkOutcome("duplicate")

	counts := recorder.LinkOutcomeCounts()
	if counts["created"] != 1 || counts["duplicate"] != 2 {
		t.Fatalf("unexpected counts %#v", counts)
	}
}

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"/":                         "/",
		"/healthz":                  "/healthz",
		"/api/media":                "/api/media",
		"/api/media/0a1b2c3d4e5f":   "/api/media/:id",
		"/api/devices/get/0/10":     "/api/devices/get/0/10",
		"/api/media/links/12345678": "/api/media/links/:id",
	}
	for input, want := range cases {
		if got := normalizePath(input); got != want {
			t.Fatalf("normalizePath(%q) = %q, want %q", input, got, want)
		}
	}
}
