package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"execengine/internal/specmodel"
)

type fakeSubmitter struct {
	taskID string
	err    error
	got    specmodel.Submission
}

func (f *fakeSubmitter) Submit(ctx context.Context, sub specmodel.Submission) (string, error) {
	f.got = sub
	return f.taskID, f.err
}

type fakeRPC struct{}

func (fakeRPC) FetchList(ctx context.Context, recordBackupIndex, key, sibling string) (any, error) {
	return []string{"a", "b"}, nil
}
func (fakeRPC) FetchBlob(ctx context.Context, recordBackupIndex, key string) (any, error) {
	return map[string]string{"value": "blob"}, nil
}
func (fakeRPC) FetchBatch(ctx context.Context, recordBackupIndex string, keys []string) (any, error) {
	return map[string]string{"count": "2"}, nil
}

func newTestServer() (*Server, *fakeSubmitter) {
	sub := &fakeSubmitter{taskID: "task-42"}
	s := &Server{Submitter: sub, RPC: fakeRPC{}}
	return s, sub
}

func TestHandleExecuteAccepted(t *testing.T) {
	s, sub := newTestServer()
	body, _ := json.Marshal(map[string]any{"exec": map[string]any{}, "record": map[string]any{}})

	req := httptest.NewRequest(http.MethodPost, "/execute", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	var resp executeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.TaskID != "task-42" {
		t.Fatalf("task id = %q, want task-42", resp.TaskID)
	}
	_ = sub
}

func TestHandleExecuteBadBody(t *testing.T) {
	s, _ := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/execute", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleRecordRPCUnknownName(t *testing.T) {
	s, _ := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/rpc/record?name=bogus&record_backup_index=rec1", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleRecordRPCFetchList(t *testing.T) {
	s, _ := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/rpc/record?name=fetch_list&record_backup_index=rec1&key=k", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body=%s", rec.Code, http.StatusOK, rec.Body.String())
	}
}
