package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"runview/internal/feed"
	"runview/internal/history"
	"runview/internal/model"
	"runview/internal/normalize"
	"runview/internal/view"
)

type fakeFetcher struct {
	mu      sync.Mutex
	info    history.RunInfo
	logs    []normalize.RawRecord
	logsErr error
}

func (f *fakeFetcher) FetchRun(ctx context.Context, runID string) (history.RunInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.info, nil
}

func (f *fakeFetcher) FetchRunLogs(ctx context.Context, runID string) ([]normalize.RawRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.logsErr != nil {
		return nil, f.logsErr
	}
	return f.logs, nil
}

func newTestFetcher() *fakeFetcher {
	return &fakeFetcher{
		info: history.RunInfo{
			ID:     "run-1",
			Status: model.StatusRunning,
			Pipeline: model.Pipeline{
				ID:    "pl-1",
				Tasks: []model.Task{{ID: "A", Name: "extract"}, {ID: "B", Name: "load"}},
			},
		},
		logs: []normalize.RawRecord{
			{Timestamp: "2025-03-14T09:00:00Z", Level: "INFO", TaskID: "A", Message: "start"},
			{Timestamp: "2025-03-14T09:00:02Z", Level: "ERROR", TaskID: "B", Message: "boom"},
		},
	}
}

func newTestServer(t *testing.T, fetcher Fetcher) (*ViewServer, *httptest.Server, *feed.Broker) {
	t.Helper()
	broker := feed.NewBroker(nil)
	vs := NewViewServer(fetcher, broker, nil)
	ts := httptest.NewServer(vs.Router())
	t.Cleanup(func() {
		ts.Close()
		vs.sessions.CloseAll()
		broker.Close()
	})
	return vs, ts, broker
}

func openView(t *testing.T, ts *httptest.Server, runID string) {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/views/"+runID, "application/json", nil)
	if err != nil {
		t.Fatalf("open view: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("open view status = %d, want 201", resp.StatusCode)
	}
}

func waitReady(t *testing.T, ts *httptest.Server, runID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(ts.URL + "/api/views/" + runID + "/status")
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		var body struct {
			Ready bool `json:"ready"`
		}
		json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if body.Ready {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("view never became ready")
}

func getRows(t *testing.T, ts *httptest.Server, runID, query string) []view.Row {
	t.Helper()
	resp, err := http.Get(ts.URL + "/api/views/" + runID + "/rows" + query)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rows status = %d, want 200", resp.StatusCode)
	}
	var rows []view.Row
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		t.Fatalf("decode rows: %v", err)
	}
	return rows
}

func waitRowCount(t *testing.T, ts *httptest.Server, runID string, n int) []view.Row {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rows := getRows(t, ts, runID, "")
		if len(rows) >= n {
			return rows
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d rows", n)
	return nil
}

func TestOpenViewAndReadRows(t *testing.T) {
	_, ts, _ := newTestServer(t, newTestFetcher())

	openView(t, ts, "run-1")
	waitReady(t, ts, "run-1")

	rows := getRows(t, ts, "run-1", "")
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0].SequenceID != 0 || rows[1].SequenceID != 1 {
		t.Errorf("sequence ids wrong: %d, %d", rows[0].SequenceID, rows[1].SequenceID)
	}
	if rows[0].HasDelta {
		t.Error("first row must carry the no-predecessor sentinel")
	}
	if rows[1].Delta != 2*time.Second {
		t.Errorf("delta = %v, want 2s", rows[1].Delta)
	}
	if rows[0].Color == rows[1].Color {
		t.Error("tasks A and B must get distinct palette colors")
	}
}

func TestFilterEndpoints(t *testing.T) {
	_, ts, _ := newTestServer(t, newTestFetcher())
	openView(t, ts, "run-1")
	waitReady(t, ts, "run-1")

	// Patch the level axis via the filter endpoint.
	body := bytes.NewBufferString(`{"levels":["ERROR"]}`)
	req, _ := http.NewRequest(http.MethodPatch, ts.URL+"/api/views/run-1/filter", body)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("filter patch: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("filter status = %d, want 204", resp.StatusCode)
	}

	rows := getRows(t, ts, "run-1", "")
	if len(rows) != 1 || rows[0].TaskID != "B" {
		t.Fatalf("filtered rows = %+v, want only the B/ERROR record", rows)
	}
	if rows[0].HasDelta {
		t.Error("only visible row must carry the sentinel")
	}

	// Query params patch axes too; an empty value clears the axis.
	rows = getRows(t, ts, "run-1", "?levels=")
	if len(rows) != 2 {
		t.Errorf("rows after clearing level axis = %d, want 2", len(rows))
	}

	rows = getRows(t, ts, "run-1", "?tasks=A")
	if len(rows) != 1 || rows[0].TaskID != "A" {
		t.Errorf("rows with task filter = %+v, want only the A record", rows)
	}
}

func TestIngestPublishesLiveRecords(t *testing.T) {
	_, ts, _ := newTestServer(t, newTestFetcher())
	openView(t, ts, "run-1")
	waitReady(t, ts, "run-1")

	// Single object.
	resp, err := http.Post(ts.URL+"/api/runs/run-1/logs", "application/json",
		strings.NewReader(`{"timestamp":"2025-03-14T09:00:04Z","level":"INFO","task_id":"A","message":"live one"}`))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	resp.Body.Close()

	// Batch array, including one undecodable element that must be dropped
	// without disturbing its neighbors.
	resp, err = http.Post(ts.URL+"/api/runs/run-1/logs", "application/json",
		strings.NewReader(`[
			{"level":"INFO","task_id":"A","message":"no timestamp"},
			{"timestamp":"2025-03-14T09:00:06Z","level":"WARNING","task_id":"B","message":"live two"}
		]`))
	if err != nil {
		t.Fatalf("ingest batch: %v", err)
	}
	resp.Body.Close()

	rows := waitRowCount(t, ts, "run-1", 4)
	if rows[2].Message != "live one" || rows[3].Message != "live two" {
		t.Errorf("live records missing or misordered: %+v", rows)
	}
	if rows[3].SequenceID != 3 {
		t.Errorf("sequence id = %d, want 3", rows[3].SequenceID)
	}
}

func TestBulkFetchFailure(t *testing.T) {
	fetcher := newTestFetcher()
	fetcher.logsErr = errors.New("upstream unavailable")
	_, ts, _ := newTestServer(t, fetcher)

	openView(t, ts, "run-1")

	// The failure is surfaced as a blocking error state on the row read.
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(ts.URL + "/api/views/run-1/rows")
		if err != nil {
			t.Fatalf("rows: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusBadGateway {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("rows status = %d, want 502", resp.StatusCode)
		}
		time.Sleep(time.Millisecond)
	}

	// A refetch with a healthy upstream recovers via full replace.
	fetcher.mu.Lock()
	fetcher.logsErr = nil
	fetcher.mu.Unlock()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/views/run-1/refresh", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh status = %d, want 200", resp.StatusCode)
	}

	rows := getRows(t, ts, "run-1", "")
	if len(rows) != 2 {
		t.Errorf("rows after refetch = %d, want 2", len(rows))
	}
}

func TestCloseView(t *testing.T) {
	_, ts, _ := newTestServer(t, newTestFetcher())
	openView(t, ts, "run-1")
	waitReady(t, ts, "run-1")

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/views/run-1", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("close status = %d, want 204", resp.StatusCode)
	}

	resp, _ = http.Get(ts.URL + "/api/views/run-1/rows")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("rows after close = %d, want 404", resp.StatusCode)
	}
}

func TestViewStatusAndStats(t *testing.T) {
	_, ts, _ := newTestServer(t, newTestFetcher())
	openView(t, ts, "run-1")
	waitReady(t, ts, "run-1")

	resp, err := http.Get(ts.URL + "/api/views/run-1/status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var status struct {
		Live    bool  `json:"live"`
		Records int   `json:"records"`
		Dropped int64 `json:"dropped"`
	}
	json.NewDecoder(resp.Body).Decode(&status)
	resp.Body.Close()

	if !status.Live {
		t.Error("live = false for a running run")
	}
	if status.Records != 2 {
		t.Errorf("records = %d, want 2", status.Records)
	}

	resp, err = http.Get(ts.URL + "/api/stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	var stats struct {
		OpenViews int   `json:"open_views"`
		Appended  int64 `json:"appended"`
	}
	json.NewDecoder(resp.Body).Decode(&stats)
	resp.Body.Close()

	if stats.OpenViews != 1 {
		t.Errorf("open_views = %d, want 1", stats.OpenViews)
	}
	if stats.Appended != 2 {
		t.Errorf("appended = %d, want 2", stats.Appended)
	}
}
