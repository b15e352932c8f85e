package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/md-rashed-zaman/freeslots/services/availability-service/internal/availability"
	"github.com/md-rashed-zaman/freeslots/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/freeslots/services/availability-service/internal/storage"
	"github.com/md-rashed-zaman/freeslots/services/availability-service/internal/store"
)

type brokenPersister struct{}

func (brokenPersister) Load(context.Context) (model.Snapshot, error) { return model.Snapshot{}, nil }
func (brokenPersister) Save(context.Context, model.Snapshot) error  { return errors.New("read-only fs") }

func newServer(t *testing.T, p store.Persister) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if p == nil {
		p = storage.NewFileSnapshots(filepath.Join(t.TempDir(), "students_busy.json"))
	}
	st := store.New(p, nil, logger)
	if err := st.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	mux := http.NewServeMux()
	New(st, logger).Register(mux)
	return mux
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	return rw
}

func decodeBody[T any](t *testing.T, rw *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(bytes.NewReader(rw.Body.Bytes())).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rw.Body.String(), err)
	}
	return v
}

func TestStudentsLifecycle(t *testing.T) {
	h := newServer(t, nil)

	rw := do(t, h, http.MethodPost, "/students", `{"name":"john smith"}`)
	if rw.Code != http.StatusOK || strings.TrimSpace(rw.Body.String()) != `{"ok":true}` {
		t.Fatalf("unexpected add response %d %s", rw.Code, rw.Body.String())
	}
	_ = do(t, h, http.MethodPost, "/students", `{"name":"Ann"}`)

	list := decodeBody[studentsResponse](t, do(t, h, http.MethodGet, "/students", ""))
	if !slices.Equal(list.Students, []string{"Ann", "John Smith"}) {
		t.Fatalf("unexpected students %v", list.Students)
	}

	rw = do(t, h, http.MethodDelete, "/students/john%20smith", "")
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200 on delete, got %d", rw.Code)
	}
	rw = do(t, h, http.MethodDelete, "/students/Nobody", "")
	if rw.Code != http.StatusOK {
		t.Fatalf("deleting an unknown student must succeed, got %d", rw.Code)
	}

	list = decodeBody[studentsResponse](t, do(t, h, http.MethodGet, "/students", ""))
	if !slices.Equal(list.Students, []string{"Ann"}) {
		t.Fatalf("unexpected students after delete %v", list.Students)
	}
}

func TestEmptyStudentListIsArray(t *testing.T) {
	rw := do(t, newServer(t, nil), http.MethodGet, "/students", "")
	if strings.TrimSpace(rw.Body.String()) != `{"students":[]}` {
		t.Fatalf("unexpected body %s", rw.Body.String())
	}
}

func TestAddStudentValidation(t *testing.T) {
	h := newServer(t, nil)
	for _, body := range []string{`{}`, `{"name":""}`, `{"name":"   "}`, `not json`} {
		rw := do(t, h, http.MethodPost, "/students", body)
		if rw.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, rw.Code)
		}
		if decodeBody[map[string]string](t, rw)["detail"] == "" {
			t.Fatalf("body %s: expected detail message", body)
		}
	}
}

func TestAddBusyAndReadBack(t *testing.T) {
	h := newServer(t, nil)

	for _, body := range []string{
		`{"name":"ann","day":"Mon","start":"09:00","end":"10:00"}`,
		`{"name":"Ann","day":"monday","start":"09:30","end":"11:00"}`,
	} {
		if rw := do(t, h, http.MethodPost, "/busy", body); rw.Code != http.StatusOK {
			t.Fatalf("add busy %s: %d %s", body, rw.Code, rw.Body.String())
		}
	}

	rw := do(t, h, http.MethodGet, "/students/ann/busy", "")
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	got := decodeBody[studentBusyResponse](t, rw)
	if got.Name != "Ann" || len(got.Busy) != 7 {
		t.Fatalf("unexpected response %+v", got)
	}
	if !slices.Equal(got.Busy[model.Mon], []busyInterval{{Start: "09:00", End: "11:00"}}) {
		t.Fatalf("expected merged 09:00-11:00, got %v", got.Busy[model.Mon])
	}

	if rw := do(t, h, http.MethodGet, "/students/nobody/busy", ""); rw.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown student, got %d", rw.Code)
	}
}

func TestAddBusyInvalidInput(t *testing.T) {
	h := newServer(t, nil)
	cases := map[string]string{
		`{"name":"Ann","day":"Funday","start":"09:00","end":"10:00"}`: "Invalid day 'Funday'",
		`{"name":"Ann","day":"Mon","start":"9","end":"10:00"}`:        "Time must be HH:MM",
		`{"name":"Ann","day":"Mon","start":"10:00","end":"09:00"}`:    "End <= Start",
		`{"name":"Ann","day":"Mon","start":"09:00"}`:                  "end is required",
	}
	for body, detail := range cases {
		rw := do(t, h, http.MethodPost, "/busy", body)
		if rw.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, rw.Code)
		}
		if got := decodeBody[map[string]string](t, rw)["detail"]; got != detail {
			t.Fatalf("body %s: expected detail %q, got %q", body, detail, got)
		}
	}
	list := decodeBody[studentsResponse](t, do(t, h, http.MethodGet, "/students", ""))
	if len(list.Students) != 0 {
		t.Fatalf("failed requests must not create students: %v", list.Students)
	}
}

func TestPersistFailure(t *testing.T) {
	h := newServer(t, brokenPersister{})

	if rw := do(t, h, http.MethodPost, "/students", `{"name":"Ann"}`); rw.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 when the store cannot be saved, got %d", rw.Code)
	}
	if rw := do(t, h, http.MethodDelete, "/students/Ann", ""); rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a failed delete, got %d", rw.Code)
	}
	list := decodeBody[studentsResponse](t, do(t, h, http.MethodGet, "/students", ""))
	if len(list.Students) != 0 {
		t.Fatalf("expected rollback, got %v", list.Students)
	}
}

func TestAvailabilityGrid(t *testing.T) {
	h := newServer(t, nil)
	_ = do(t, h, http.MethodPost, "/students", `{"name":"Ann"}`)
	_ = do(t, h, http.MethodPost, "/busy", `{"name":"Bob","day":"Mon","start":"09:30","end":"10:00"}`)

	rw := do(t, h, http.MethodPost, "/availability-grid", `{"days":["mon","Tue"],"start_time":"09:00","end_time":"11:00","slot_minutes":60,"mode":"free"}`)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rw.Code, rw.Body.String())
	}
	grid := decodeBody[availability.Grid](t, rw)
	if !slices.Equal(grid.Days, []model.Weekday{model.Mon, model.Tue}) {
		t.Fatalf("unexpected days %v", grid.Days)
	}
	mon := grid.Grid[model.Mon]
	if len(mon) != 2 || !slices.Equal(mon[0].Names, []string{"Ann"}) || !slices.Equal(mon[1].Names, []string{"Ann", "Bob"}) {
		t.Fatalf("unexpected Monday row %+v", mon)
	}
	if tue := grid.Grid[model.Tue]; !slices.Equal(tue[0].Names, []string{"Ann", "Bob"}) {
		t.Fatalf("unexpected Tuesday row %+v", tue)
	}
}

func TestAvailabilityGridDefaults(t *testing.T) {
	h := newServer(t, nil)
	_ = do(t, h, http.MethodPost, "/students", `{"name":"Ann"}`)

	grid := decodeBody[availability.Grid](t, do(t, h, http.MethodPost, "/availability-grid", `{"days":["Fri"]}`))
	row := grid.Grid[model.Fri]
	if len(row) != 44 || row[0].Start != "09:00" || row[len(row)-1].End != "20:00" {
		t.Fatalf("expected 15 minute slots from 09:00 to 20:00, got %d slots", len(row))
	}
}

func TestAvailabilityGridErrors(t *testing.T) {
	h := newServer(t, nil)
	for _, body := range []string{
		`{"days":["Mon","Funday"]}`,
		`{"days":["Mon"],"start_time":"nine"}`,
		`{"days":["Mon"],"slot_minutes":0}`,
		`{"start_time":"09:00"}`,
	} {
		rw := do(t, h, http.MethodPost, "/availability-grid", body)
		if rw.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, rw.Code)
		}
		if strings.Contains(rw.Body.String(), `"grid"`) {
			t.Fatalf("body %s: partial grid returned", body)
		}
	}
}

func TestAvailabilityGridInvertedWindow(t *testing.T) {
	h := newServer(t, nil)
	rw := do(t, h, http.MethodPost, "/availability-grid", `{"days":["Sat"],"start_time":"18:00","end_time":"09:00"}`)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	if !strings.Contains(rw.Body.String(), `"Sat":[]`) {
		t.Fatalf("expected empty slot list, got %s", rw.Body.String())
	}
}

func TestUnknownMethod(t *testing.T) {
	rw := do(t, newServer(t, nil), http.MethodPut, "/students", `{}`)
	if rw.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rw.Code)
	}
}
