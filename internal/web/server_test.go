package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JonMunkholm/cycler/internal/config"
	"github.com/JonMunkholm/cycler/internal/core"
	_ "github.com/JonMunkholm/cycler/internal/core/drivers"
	"github.com/JonMunkholm/cycler/internal/harvester"
)

const iviumFile = "Ivium datafile\n" +
	"Title=cell 3\n" +
	"start=2021-07-05 16:47:26\n" +
	"primary_data\n" +
	"3\n" +
	"3\n" +
	"  0.000000E+00  0.000000E+00  1.000000E+00\n" +
	"  1.000000E+00  2.000000E+00  1.000000E+00\n" +
	"  2.000000E+00  4.000000E+00  1.000000E+00\n"

type fakeHarvester struct {
	roots   []string
	running bool
	passes  atomic.Int32
	ran     chan struct{}
}

func (h *fakeHarvester) RunPass(context.Context) (harvester.PassResult, error) {
	h.passes.Add(1)
	if h.ran != nil {
		close(h.ran)
	}
	return harvester.PassResult{RunID: "run-1"}, nil
}

func (h *fakeHarvester) Status(context.Context) (harvester.Status, error) {
	return harvester.Status{Name: "rig", Roots: h.roots, PassRunning: h.running}, nil
}

func (h *fakeHarvester) Overrides(string) core.Overrides { return core.Overrides{} }
func (h *fakeHarvester) Roots() []string                 { return h.roots }

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fixture struct {
	srv   *Server
	h     *fakeHarvester
	root  string
	cell  string
	limit *core.Limiter
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	root := t.TempDir()
	cell := filepath.Join(root, "cell3.txt")
	if err := os.WriteFile(cell, []byte(iviumFile), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		Server: config.ServerConfig{RequestTimeout: 5 * time.Second},
	}
	if mutate != nil {
		mutate(cfg)
	}
	h := &fakeHarvester{roots: []string{root}}
	limit := core.NewLimiter(1, 50*time.Millisecond)
	srv := NewServer(cfg, h, limit, nil)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return &fixture{srv: srv, h: h, root: root, cell: cell, limit: limit}
}

func (f *fixture) do(t *testing.T, method, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(rec, req)
	return rec
}

func query(path string, extra ...string) string {
	v := url.Values{"path": {path}}
	for i := 0; i+1 < len(extra); i += 2 {
		v.Set(extra[i], extra[i+1])
	}
	return v.Encode()
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}

	f.srv.db = fakePinger{err: errors.New("connection refused")}
	rec = f.do(t, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestIdentify(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/files/identify?"+query(f.cell), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	resp := decode[IdentifyResponse](t, rec)
	if !resp.Ingestible || resp.Driver != "ivium_text" {
		t.Errorf("resp = %+v", resp)
	}
	want := core.NewTagSet(core.TagIvium, core.TagText)
	if got := core.NewTagSet(toTags(resp.Tags)...); !got.Equal(want) {
		t.Errorf("tags = %v, want %s", resp.Tags, want)
	}
}

func toTags(names []string) []core.FormatTag {
	out := make([]core.FormatTag, len(names))
	for i, n := range names {
		out[i] = core.FormatTag(n)
	}
	return out
}

func TestIdentify_SettingsFile(t *testing.T) {
	f := newFixture(t, nil)
	path := filepath.Join(f.root, "cell3.mps.txt")
	if err := os.WriteFile(path, []byte("settings"), 0o644); err != nil {
		t.Fatal(err)
	}
	rec := f.do(t, http.MethodGet, "/api/files/identify?"+query(path), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp := decode[IdentifyResponse](t, rec); resp.Ingestible || len(resp.Tags) != 0 {
		t.Errorf("resp = %+v, want not ingestible", resp)
	}
}

func TestPathConfinement(t *testing.T) {
	f := newFixture(t, nil)
	outside := filepath.Join(t.TempDir(), "cell.txt")
	if err := os.WriteFile(outside, []byte(iviumFile), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		target string
		status int
		code   string
	}{
		{"missing param", "/api/files/identify", http.StatusBadRequest, "REQ001"},
		{"outside roots", "/api/files/identify?" + query(outside), http.StatusNotFound, "FILE001"},
		{"dot dot escape", "/api/files/metadata?" + query(filepath.Join(f.root, "..", filepath.Base(filepath.Dir(outside)), "cell.txt")), http.StatusNotFound, "FILE001"},
		{"missing file", "/api/files/labels?" + query(filepath.Join(f.root, "nope.txt")), http.StatusNotFound, "FILE001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, tt.target, nil)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body)
			}
			if resp := decode[ErrorResponse](t, rec); resp.Code != tt.code {
				t.Errorf("code = %q, want %q", resp.Code, tt.code)
			}
		})
	}
}

func TestMetadata(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/api/files/metadata?"+query(f.cell), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	resp := decode[MetadataResponse](t, rec)
	if resp.TestStartDate == nil || !resp.TestStartDate.Equal(time.Date(2021, 7, 5, 16, 47, 26, 0, time.UTC)) {
		t.Errorf("test_start_date = %v", resp.TestStartDate)
	}
	if resp.Metadata["Title"] != "cell 3" {
		t.Errorf("metadata = %v", resp.Metadata)
	}
	if len(resp.Columns) != 3 {
		t.Errorf("columns = %v, want 3", resp.Columns)
	}
}

func TestLabels(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/api/files/labels?"+query(f.cell), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	resp := decode[LabelsResponse](t, rec)
	want := []string{"E/V (volts)", "I/A (amps)", "time/s (test_time)"}
	if len(resp.Labels) != len(want) {
		t.Fatalf("labels = %v, want %v", resp.Labels, want)
	}
	for i := range want {
		if resp.Labels[i] != want[i] {
			t.Errorf("labels[%d] = %q, want %q", i, resp.Labels[i], want[i])
		}
	}
}

func TestExportTSV(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/api/export?"+query(f.cell, "columns", "sample_no,capacity,power"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	want := "1\t0\t0\n2\t1\t2\n3\t4\t4\n"
	if got := rec.Body.String(); got != want {
		t.Errorf("body = %q, want %q", got, want)
	}
	if got := rec.Header().Get("X-Columns"); got != "sample_no,capacity,power" {
		t.Errorf("X-Columns = %q", got)
	}
	if st := f.limit.Status(); st.Active != 0 {
		t.Errorf("export slot not released: %+v", st)
	}
}

func TestExportParquet(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/api/export?"+query(f.cell, "format", "parquet"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("PAR1")) {
		t.Error("body is not a Parquet file")
	}
}

func TestExportErrors(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name   string
		target string
		status int
		code   string
	}{
		{"bad format", "/api/export?" + query(f.cell, "format", "xml"), http.StatusBadRequest, "REQ001"},
		{"unknown column", "/api/export?" + query(f.cell, "columns", "sample_no,wattage"), http.StatusUnprocessableEntity, "COL001"},
		{"column not in file", "/api/export?" + query(f.cell, "columns", "cycle_no"), http.StatusUnprocessableEntity, "COL001"},
		{"experiment id without data set", "/api/export?" + query(f.cell, "columns", "experiment_id"), http.StatusUnprocessableEntity, "COL001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, tt.target, nil)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body)
			}
			if resp := decode[ErrorResponse](t, rec); resp.Code != tt.code {
				t.Errorf("code = %q, want %q", resp.Code, tt.code)
			}
		})
	}
}

func TestExportBusy(t *testing.T) {
	f := newFixture(t, nil)
	if !f.limit.TryAcquire() {
		t.Fatal("could not take the only slot")
	}
	defer f.limit.Release()

	rec := f.do(t, http.MethodGet, "/api/export?"+query(f.cell), nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if resp := decode[ErrorResponse](t, rec); resp.Code != "HRV001" {
		t.Errorf("code = %q, want HRV001", resp.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
}

func TestHarvestTrigger(t *testing.T) {
	f := newFixture(t, nil)
	f.h.ran = make(chan struct{})

	rec := f.do(t, http.MethodPost, "/api/harvest", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	select {
	case <-f.h.ran:
	case <-time.After(2 * time.Second):
		t.Fatal("pass was not started")
	}

	f.h.running = true
	rec = f.do(t, http.MethodPost, "/api/harvest", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestHarvestStatus(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/api/harvest/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if st := decode[harvester.Status](t, rec); st.Name != "rig" {
		t.Errorf("status = %+v", st)
	}
}

func TestRateLimited(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1, Burst: 1}
	})
	if rec := f.do(t, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/healthz", nil); rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", rec.Code)
	}
}
