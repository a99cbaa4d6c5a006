package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/erauner12/daykeep/internal/engine"
	"github.com/erauner12/daykeep/internal/event"
	"github.com/erauner12/daykeep/internal/model"
	"github.com/erauner12/daykeep/internal/store"
)

type stubRemote struct{}

func (stubRemote) Push(context.Context, model.QueueType, []byte) error { return nil }

func (stubRemote) FetchChanges(context.Context, int64) (map[model.EntityType][]map[string]any, error) {
	return map[model.EntityType][]map[string]any{}, nil
}

type stubConn struct{ online bool }

func (c *stubConn) Online() bool    { return c.online }
func (c *stubConn) SetOnline(v bool) { c.online = v }

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "daykeep.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	bus := event.NewBus()
	conn := &stubConn{online: true}
	eng := engine.New(st, stubRemote{}, bus, conn, time.Hour)

	return &Server{Store: st, Engine: eng, Bus: bus, Conn: conn}, st
}

func doJSON(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s.Routes(), http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Errorf("healthz: %d %q", w.Code, w.Body.String())
	}
}

func TestCreateGetDeleteRecord(t *testing.T) {
	s, st := newTestServer(t)
	h := s.Routes()

	w := doJSON(t, h, http.MethodPost, "/v1/task", `{"title":"pack bags","dueDate":"2024-05-01"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	var created map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatal("create did not assign an id")
	}
	if created["updatedAt"] == "" || created["updatedAt"] == nil {
		t.Error("create did not stamp updatedAt")
	}

	// The mutation entered the durable queue.
	pending, _ := st.ListPending(context.Background(), "")
	if len(pending) != 1 || pending[0].Type != model.QueueTask {
		t.Errorf("queue after create: %+v", pending)
	}

	w = doJSON(t, h, http.MethodGet, "/v1/task/"+id, "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "pack bags") {
		t.Errorf("get: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, h, http.MethodDelete, "/v1/task/"+id, "")
	if w.Code != http.StatusOK {
		t.Fatalf("delete: %d", w.Code)
	}
	w = doJSON(t, h, http.MethodGet, "/v1/task/"+id, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete: %d", w.Code)
	}

	// The delete intent is its own queue entry.
	pending, _ = st.ListPending(context.Background(), model.QueueTaskDelete)
	if len(pending) != 1 {
		t.Errorf("delete queue entries: %+v", pending)
	}
}

func TestCreateDuplicateConflicts(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Routes()

	if w := doJSON(t, h, http.MethodPost, "/v1/task", `{"id":"t1","title":"a"}`); w.Code != http.StatusCreated {
		t.Fatalf("create: %d", w.Code)
	}
	if w := doJSON(t, h, http.MethodPost, "/v1/task", `{"id":"t1","title":"b"}`); w.Code != http.StatusConflict {
		t.Errorf("duplicate create: %d", w.Code)
	}
}

func TestUpsertRecord(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Routes()

	// Upsert creates when absent and replaces when present.
	if w := doJSON(t, h, http.MethodPut, "/v1/expense/e1", `{"amount":12.5,"category":"food","date":"2024-05-01"}`); w.Code != http.StatusOK {
		t.Fatalf("upsert create: %d %s", w.Code, w.Body.String())
	}
	if w := doJSON(t, h, http.MethodPut, "/v1/expense/e1", `{"amount":20,"category":"food","date":"2024-05-01"}`); w.Code != http.StatusOK {
		t.Fatalf("upsert replace: %d", w.Code)
	}

	w := doJSON(t, h, http.MethodGet, "/v1/expense/e1", "")
	if !strings.Contains(w.Body.String(), `"amount":20`) {
		t.Errorf("replace not applied: %s", w.Body.String())
	}
}

func TestUnknownEntityRejected(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Routes()

	if w := doJSON(t, h, http.MethodPost, "/v1/widget", `{"id":"w1"}`); w.Code != http.StatusBadRequest {
		t.Errorf("unknown entity: %d", w.Code)
	}
	// Analytics has a merge endpoint, not generic CRUD.
	if w := doJSON(t, h, http.MethodPost, "/v1/analytics", `{"id":"2024-05-01"}`); w.Code != http.StatusBadRequest {
		t.Errorf("analytics via CRUD: %d", w.Code)
	}
}

func TestListRecordsWithRange(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Routes()

	for _, d := range []string{"2024-05-01", "2024-05-02", "2024-05-10"} {
		body := `{"id":"e-` + d + `","amount":1,"category":"misc","date":"` + d + `"}`
		if w := doJSON(t, h, http.MethodPost, "/v1/expense", body); w.Code != http.StatusCreated {
			t.Fatalf("create %s: %d", d, w.Code)
		}
	}

	w := doJSON(t, h, http.MethodGet, "/v1/expense?from=2024-05-01&to=2024-05-05", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list range: %d", w.Code)
	}
	var items []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("range returned %d items", len(items))
	}

	w = doJSON(t, h, http.MethodGet, "/v1/expense", "")
	_ = json.Unmarshal(w.Body.Bytes(), &items)
	if len(items) != 3 {
		t.Errorf("full list returned %d items", len(items))
	}
}

func TestOverdueTasksEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Routes()

	doJSON(t, h, http.MethodPost, "/v1/task", `{"id":"t1","title":"late","dueDate":"2024-04-01"}`)
	doJSON(t, h, http.MethodPost, "/v1/task", `{"id":"t2","title":"done","dueDate":"2024-04-01","completed":true}`)

	w := doJSON(t, h, http.MethodGet, "/v1/tasks/overdue?today=2024-05-01", "")
	if w.Code != http.StatusOK {
		t.Fatalf("overdue: %d", w.Code)
	}
	var tasks []model.Task
	if err := json.Unmarshal(w.Body.Bytes(), &tasks); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "t1" {
		t.Errorf("overdue tasks: %+v", tasks)
	}
}

func TestSummariesRequirePeriod(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Routes()

	if w := doJSON(t, h, http.MethodGet, "/v1/expenses/summary", ""); w.Code != http.StatusBadRequest {
		t.Errorf("expense summary without period: %d", w.Code)
	}
	if w := doJSON(t, h, http.MethodGet, "/v1/journal/summary?from=2024-05-01", ""); w.Code != http.StatusBadRequest {
		t.Errorf("journal summary with half a period: %d", w.Code)
	}

	w := doJSON(t, h, http.MethodGet, "/v1/expenses/summary?from=2024-05-01&to=2024-05-07", "")
	if w.Code != http.StatusOK {
		t.Errorf("expense summary: %d %s", w.Code, w.Body.String())
	}
}

func TestCompleteHabitEndpoint(t *testing.T) {
	s, st := newTestServer(t)
	h := s.Routes()

	doJSON(t, h, http.MethodPost, "/v1/habit", `{"id":"h1","name":"read"}`)

	w := doJSON(t, h, http.MethodPost, "/v1/habits/h1/complete?date=2024-05-01", "")
	if w.Code != http.StatusOK {
		t.Fatalf("complete: %d %s", w.Code, w.Body.String())
	}
	var habit model.Habit
	if err := json.Unmarshal(w.Body.Bytes(), &habit); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if habit.CurrentStreak != 1 || habit.LastCompleted != "2024-05-01" {
		t.Errorf("habit after completion: %+v", habit)
	}

	// Consecutive day extends the streak.
	w = doJSON(t, h, http.MethodPost, "/v1/habits/h1/complete?date=2024-05-02", "")
	_ = json.Unmarshal(w.Body.Bytes(), &habit)
	if habit.CurrentStreak != 2 {
		t.Errorf("streak after consecutive day: %d", habit.CurrentStreak)
	}

	// Completions enter the queue alongside the create.
	pending, _ := st.ListPending(context.Background(), model.QueueHabit)
	if len(pending) != 3 {
		t.Errorf("queue entries: %d", len(pending))
	}

	if w := doJSON(t, h, http.MethodPost, "/v1/habits/nope/complete", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown habit: %d", w.Code)
	}
	if w := doJSON(t, h, http.MethodPost, "/v1/habits/h1/complete?date=May+1st", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad date: %d", w.Code)
	}
}

func TestAnalyticsEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Routes()

	w := doJSON(t, h, http.MethodPost, "/v1/analytics/2024-05-01", `{"metrics":{"tasksCompleted":3}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("merge: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, h, http.MethodGet, "/v1/analytics/2024-05-01", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"tasksCompleted":3`) {
		t.Errorf("get analytics: %d %s", w.Code, w.Body.String())
	}

	if w := doJSON(t, h, http.MethodPost, "/v1/analytics/2024-05-01", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("empty metrics: %d", w.Code)
	}
}

func TestSyncStatusAndForce(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Routes()

	w := doJSON(t, h, http.MethodGet, "/v1/sync/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	var status map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status["online"] != true {
		t.Errorf("online flag: %v", status["online"])
	}
	if status["lastSync"] != nil {
		t.Errorf("lastSync before first cycle: %v", status["lastSync"])
	}

	if w := doJSON(t, h, http.MethodPost, "/v1/sync/force", ""); w.Code != http.StatusOK {
		t.Fatalf("force: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, h, http.MethodGet, "/v1/sync/status", "")
	_ = json.Unmarshal(w.Body.Bytes(), &status)
	if status["lastSync"] == nil {
		t.Error("lastSync not set after a clean cycle")
	}
}

func TestForceSyncOffline(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Routes()
	s.Conn.SetOnline(false)

	if w := doJSON(t, h, http.MethodPost, "/v1/sync/force", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("force while offline: %d", w.Code)
	}
}

func TestFailedQueueEndpoints(t *testing.T) {
	s, st := newTestServer(t)
	h := s.Routes()

	w := doJSON(t, h, http.MethodGet, "/v1/sync/queue/failed", "")
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("empty failed list: %d %q", w.Code, w.Body.String())
	}

	ctx := context.Background()
	id, _ := st.Enqueue(ctx, model.QueueTask, []byte(`{"id":"t1"}`))
	_ = st.MarkFailed(ctx, id)

	w = doJSON(t, h, http.MethodGet, "/v1/sync/queue/failed", "")
	var entries []model.QueueEntry
	if err := json.Unmarshal(w.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != id {
		t.Errorf("failed entries: %+v", entries)
	}

	w = doJSON(t, h, http.MethodPost, "/v1/sync/queue/clear-failed", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"cleared":1`) {
		t.Errorf("clear failed: %d %s", w.Code, w.Body.String())
	}
}

func TestBackupEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Routes()

	doJSON(t, h, http.MethodPost, "/v1/task", `{"id":"t1","title":"keep me"}`)

	w := doJSON(t, h, http.MethodGet, "/v1/backup/export", "")
	if w.Code != http.StatusOK {
		t.Fatalf("export: %d", w.Code)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Errorf("content disposition: %q", cd)
	}
	exported := w.Body.String()
	if !strings.Contains(exported, "keep me") {
		t.Errorf("export missing record: %s", exported)
	}

	if w := doJSON(t, h, http.MethodPost, "/v1/backup/import", `{"app":"other"}`); w.Code != http.StatusBadRequest {
		t.Errorf("foreign import: %d", w.Code)
	}

	if w := doJSON(t, h, http.MethodPost, "/v1/backup/import", exported); w.Code != http.StatusOK {
		t.Errorf("round-trip import: %d %s", w.Code, w.Body.String())
	}
	if w := doJSON(t, h, http.MethodGet, "/v1/task/t1", ""); w.Code != http.StatusOK {
		t.Errorf("record after import: %d", w.Code)
	}

	// No remote transport configured: remote backup endpoints decline.
	if w := doJSON(t, h, http.MethodPost, "/v1/backup/remote", ""); w.Code != http.StatusNotImplemented {
		t.Errorf("remote upload without transport: %d", w.Code)
	}
	if w := doJSON(t, h, http.MethodGet, "/v1/backup/remote/latest", ""); w.Code != http.StatusNotImplemented {
		t.Errorf("remote fetch without transport: %d", w.Code)
	}
}

func TestEventsStream(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/events")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type: %s", ct)
	}

	// The handler subscribes after the headers go out; keep publishing
	// until the stream delivers.
	stopPublishing := make(chan struct{})
	defer close(stopPublishing)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stopPublishing:
				return
			case <-ticker.C:
				s.Bus.Publish(event.SyncComplete, "")
			}
		}
	}()

	scanner := bufio.NewScanner(resp.Body)
	deadline := time.AfterFunc(2*time.Second, func() { resp.Body.Close() })
	defer deadline.Stop()

	var gotEvent bool
	for scanner.Scan() {
		line := scanner.Text()
		if line == "event: syncComplete" {
			gotEvent = true
		}
		if gotEvent && strings.HasPrefix(line, "data: ") {
			return
		}
	}
	t.Fatal("event stream never delivered the signal")
}
