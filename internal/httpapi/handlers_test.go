package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agent-racer/relaybroker/internal/broker"
	"github.com/agent-racer/relaybroker/internal/relay"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	b := broker.New(broker.Config{
		StaleAfter:         relay.StaleAfter,
		TimingCleanupDelay: relay.TimingCleanupDelay,
		ScanDataDir:        t.TempDir(),
	})
	return NewServer(b, nil, nil, t.TempDir())
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decoding response body %q: %v", rec.Body.String(), err)
	}
}

// S2: device offline enqueue.
func TestEnqueueRejectedWhenDeviceOffline(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/remote-command", map[string]any{
		"function":   "ping",
		"parameters": []any{},
	})

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}

	var body map[string]string
	decodeBody(t, rec, &body)
	if body["error"] != "TV_NOT_CONNECTED" {
		t.Fatalf("expected TV_NOT_CONNECTED sentinel, got %+v", body)
	}
}

// S1: happy path — enqueue, dispatch, post result, drain (twice).
func TestHappyPathEnqueueDispatchPostDrain(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	doJSON(t, router, http.MethodPost, "/api/keepalive", map[string]any{})

	rec := doJSON(t, router, http.MethodPost, "/api/remote-command", map[string]any{
		"function":   "ping",
		"parameters": []any{},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 enqueueing, got %d: %s", rec.Code, rec.Body.String())
	}
	var enqueued enqueueCommandResponse
	decodeBody(t, rec, &enqueued)
	if enqueued.CommandID == "" {
		t.Fatal("expected a commandId")
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/remote-command", nil))
	var dispatch dispatchSingleResponse
	decodeBody(t, rec, &dispatch)
	if !dispatch.HasCommand || dispatch.Command == nil || dispatch.Command.ID != enqueued.CommandID {
		t.Fatalf("expected dispatched command to match enqueued id, got %+v", dispatch)
	}

	tv := 4.0
	rec = doJSON(t, router, http.MethodPost, "/api/execute-response", map[string]any{
		"commandId":          enqueued.CommandID,
		"success":            true,
		"data":               "pong",
		"tvProcessingTimeMs": tv,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 posting result, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/execute-response/"+enqueued.CommandID, nil))
	var drained drainResultResponse
	decodeBody(t, rec, &drained)
	if drained.Waiting || !drained.Success || drained.Data != "pong" {
		t.Fatalf("unexpected first drain: %+v", drained)
	}
	if drained.TVProcessingMs == nil || *drained.TVProcessingMs != tv {
		t.Fatalf("expected tvProcessingTimeMs passthrough, got %+v", drained.TVProcessingMs)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/execute-response/"+enqueued.CommandID, nil))
	var second drainResultResponse
	decodeBody(t, rec, &second)
	if !second.Waiting {
		t.Fatalf("expected second drain to report waiting, got %+v", second)
	}
}

// S3: batch dispatch.
func TestBatchDispatchOverTwoPages(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	doJSON(t, router, http.MethodPost, "/api/keepalive", map[string]any{})

	for i := 0; i < 15; i++ {
		rec := doJSON(t, router, http.MethodPost, "/api/remote-command", map[string]any{
			"function":   "fn",
			"parameters": []any{},
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("enqueue %d: expected 200, got %d", i, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/remote-command-batch?batchSize=10", nil))
	var first dispatchBatchResponse
	decodeBody(t, rec, &first)
	if len(first.Commands) != 10 || first.RemainingInQueue != 5 {
		t.Fatalf("expected 10 commands/5 remaining, got %d/%d", len(first.Commands), first.RemainingInQueue)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/remote-command-batch", nil))
	var second dispatchBatchResponse
	decodeBody(t, rec, &second)
	if len(second.Commands) != 5 || second.RemainingInQueue != 0 {
		t.Fatalf("expected remaining 5 commands/0 remaining, got %d/%d", len(second.Commands), second.RemainingInQueue)
	}
}

// S5: custom code path is opaque to the relay.
func TestCustomCodePathRelaysVerbatim(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	doJSON(t, router, http.MethodPost, "/api/keepalive", map[string]any{})

	rec := doJSON(t, router, http.MethodPost, "/api/remote-command", map[string]any{
		"function":      "__CUSTOM_CODE__",
		"parameters":    []any{"return 1+2"},
		"executionMode": "custom",
	})
	var enqueued enqueueCommandResponse
	decodeBody(t, rec, &enqueued)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/remote-command", nil))
	var dispatch dispatchSingleResponse
	decodeBody(t, rec, &dispatch)
	if dispatch.Command.Function != "__CUSTOM_CODE__" || dispatch.Command.Parameters[0] != "return 1+2" {
		t.Fatalf("expected custom code passthrough, got %+v", dispatch.Command)
	}

	doJSON(t, router, http.MethodPost, "/api/execute-response", map[string]any{
		"commandId": enqueued.CommandID,
		"success":   true,
		"data":      3.0,
	})

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/execute-response/"+enqueued.CommandID, nil))
	var drained drainResultResponse
	decodeBody(t, rec, &drained)
	if !drained.Success || drained.Data != 3.0 {
		t.Fatalf("expected custom code result, got %+v", drained)
	}
}

// S6: unknown-id drain.
func TestDrainUnknownIDReportsWaitingWhileAlive(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()
	doJSON(t, router, http.MethodPost, "/api/keepalive", map[string]any{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/execute-response/nonexistent", nil))
	var body drainResultResponse
	decodeBody(t, rec, &body)
	if !body.Waiting {
		t.Fatalf("expected waiting=true, got %+v", body)
	}
}

// Function registry is gated on liveness, and uploads are device ingress.
func TestFunctionRegistryGatedOnLiveness(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/functions", nil))
	var before map[string]any
	decodeBody(t, rec, &before)
	if funcs, ok := before["functions"].([]any); !ok || len(funcs) != 0 {
		t.Fatalf("expected empty function list before any upload, got %+v", before["functions"])
	}

	doJSON(t, router, http.MethodPost, "/api/functions", map[string]any{
		"functions": []map[string]any{{"name": "doThing", "parameters": []string{}}},
		"deviceInfo": map[string]any{
			"model": "tv-1",
		},
	})

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/functions", nil))
	var after map[string]any
	decodeBody(t, rec, &after)
	funcs, ok := after["functions"].([]any)
	if !ok || len(funcs) != 1 {
		t.Fatalf("expected one uploaded function, got %+v", after["functions"])
	}
}

// S4: session merge.
func TestSessionSaveMergeAndLoadOverHTTP(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/scan/session/save", map[string]any{
		"sessionId": "s1",
		"action":    "create",
		"data": map[string]any{
			"results": []map[string]any{
				{"path": "/a", "status": "success", "isBinary": false, "content": "A", "timestamp": time.Now().Format(time.RFC3339Nano)},
			},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on create save, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/api/scan/session/save", map[string]any{
		"sessionId": "s1",
		"action":    "merge",
		"runId":     2,
		"data": map[string]any{
			"results": []map[string]any{
				{"path": "/a", "status": "failed", "timestamp": time.Now().Format(time.RFC3339Nano)},
				{"path": "/b", "status": "success", "isBinary": true, "content": "xx", "timestamp": time.Now().Format(time.RFC3339Nano)},
			},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on merge save, got %d: %s", rec.Code, rec.Body.String())
	}
	var saveResp sessionSaveResponse
	decodeBody(t, rec, &saveResp)
	if saveResp.TotalFiles != 2 {
		t.Fatalf("expected totalFiles=2, got %d", saveResp.TotalFiles)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/scan/session/load/s1", nil))
	var loaded sessionLoadResponse
	decodeBody(t, rec, &loaded)

	if loaded.Metadata.TotalRuns != 2 || loaded.Metadata.BinaryCount != 1 {
		t.Fatalf("unexpected metadata: %+v", loaded.Metadata)
	}

	byPath := make(map[string]int)
	for i, rec := range loaded.Data.Results {
		byPath[rec.Path] = i
	}
	a := loaded.Data.Results[byPath["/a"]]
	b := loaded.Data.Results[byPath["/b"]]

	if a.Status != "success" {
		t.Errorf("expected /a status to stay success (sticky), got %q", a.Status)
	}
	if len(a.ScanHistory) != 2 {
		t.Errorf("expected 2 scanHistory entries for /a, got %d", len(a.ScanHistory))
	}
	if !b.IsBinary || b.Content != nil {
		t.Errorf("expected /b binary with stripped content, got isBinary=%v content=%v", b.IsBinary, b.Content)
	}
}

// S8: ID sanitization.
func TestSessionSaveSanitizesID(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/scan/session/save", map[string]any{
		"sessionId": "weird name/with:stuff",
		"action":    "create",
		"data": map[string]any{
			"results": []map[string]any{{"path": "/a", "status": "success", "timestamp": time.Now().Format(time.RFC3339Nano)}},
		},
	})
	var resp sessionSaveResponse
	decodeBody(t, rec, &resp)
	if resp.SessionID != "weird_name_with_stuff" {
		t.Fatalf("expected sanitized id, got %q", resp.SessionID)
	}
}

func TestSessionDeleteNotFound(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/scan/session/delete/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
