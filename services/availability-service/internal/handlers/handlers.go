package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/md-rashed-zaman/freeslots/libs/httpx"
	"github.com/md-rashed-zaman/freeslots/services/availability-service/internal/availability"
	"github.com/md-rashed-zaman/freeslots/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/freeslots/services/availability-service/internal/normalize"
	"github.com/md-rashed-zaman/freeslots/services/availability-service/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Handler struct {
	store    *store.Store
	logger   *slog.Logger
	validate *validator.Validate
	tracer   trace.Tracer
}

func New(st *store.Store, logger *slog.Logger) *Handler {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		store:    st,
		logger:   logger,
		validate: v,
		tracer:   otel.Tracer("availability-service/handlers"),
	}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /students", h.ListStudents)
	mux.HandleFunc("POST /students", h.AddStudent)
	mux.HandleFunc("DELETE /students/{name}", h.RemoveStudent)
	mux.HandleFunc("GET /students/{name}/busy", h.StudentBusy)
	mux.HandleFunc("POST /busy", h.AddBusy)
	mux.HandleFunc("POST /availability-grid", h.AvailabilityGrid)
}

type okResponse struct {
	OK bool `json:"ok"`
}

type studentsResponse struct {
	Students []string `json:"students"`
}

type createStudentRequest struct {
	Name string `json:"name" validate:"required"`
}

type busyRequest struct {
	Name  string `json:"name" validate:"required"`
	Day   string `json:"day" validate:"required"`
	Start string `json:"start" validate:"required"`
	End   string `json:"end" validate:"required"`
}

type gridRequest struct {
	Days        []string `json:"days" validate:"required"`
	StartTime   *string  `json:"start_time"`
	EndTime     *string  `json:"end_time"`
	SlotMinutes *int     `json:"slot_minutes"`
	Mode        *string  `json:"mode"`
	Students    []string `json:"students"`
}

type busyInterval struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type studentBusyResponse struct {
	Name string                           `json:"name"`
	Busy map[model.Weekday][]busyInterval `json:"busy"`
}

func (h *Handler) ListStudents(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, studentsResponse{Students: h.store.Students()})
}

func (h *Handler) AddStudent(w http.ResponseWriter, r *http.Request) {
	var req createStudentRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.store.AddStudent(r.Context(), req.Name); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, okResponse{OK: true})
}

// RemoveStudent is idempotent; every failure is reported as a client error.
func (h *Handler) RemoveStudent(w http.ResponseWriter, r *http.Request) {
	if err := h.store.RemoveStudent(r.Context(), r.PathValue("name")); err != nil {
		h.logger.Warn("remove student failed", "request_id", httpx.RequestIDFromContext(r.Context()), "err", err)
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	httpx.WriteJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *Handler) StudentBusy(w http.ResponseWriter, r *http.Request) {
	name, week, ok, err := h.store.Week(r.PathValue("name"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !ok {
		httpx.WriteError(w, http.StatusNotFound, "Student not found")
		return
	}

	resp := studentBusyResponse{Name: name, Busy: make(map[model.Weekday][]busyInterval, len(model.Weekdays))}
	for _, d := range model.Weekdays {
		out := make([]busyInterval, 0, len(week[d]))
		for _, iv := range week[d] {
			out = append(out, busyInterval{Start: normalize.FormatTime(iv.Start), End: normalize.FormatTime(iv.End)})
		}
		resp.Busy[d] = out
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) AddBusy(w http.ResponseWriter, r *http.Request) {
	var req busyRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.store.AddBusy(r.Context(), req.Name, req.Day, req.Start, req.End); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *Handler) AvailabilityGrid(w http.ResponseWriter, r *http.Request) {
	var req gridRequest
	if !h.decode(w, r, &req) {
		return
	}

	q := availability.Query{
		Days:        req.Days,
		StartTime:   valueOr(req.StartTime, availability.DefaultStartTime),
		EndTime:     valueOr(req.EndTime, availability.DefaultEndTime),
		SlotMinutes: valueOr(req.SlotMinutes, availability.DefaultSlotMinutes),
		Mode:        valueOr(req.Mode, availability.DefaultMode),
		Students:    req.Students,
	}

	_, span := h.tracer.Start(r.Context(), "availability.BuildGrid")
	span.SetAttributes(
		attribute.StringSlice("days", q.Days),
		attribute.Int("slot_minutes", q.SlotMinutes),
	)
	grid, err := availability.BuildGrid(h.store.Snapshot(), q)
	if err != nil {
		span.RecordError(err)
	}
	span.End()

	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, grid)
}

// decode reads a JSON body into dst and validates it, answering 400 itself
// when either step fails.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			httpx.WriteError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func (h *Handler) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, model.ErrInvalidInput) {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.Error("request failed", "request_id", httpx.RequestIDFromContext(r.Context()), "path", r.URL.Path, "err", err)
	httpx.WriteError(w, http.StatusInternalServerError, "could not save availability")
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request"
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return strings.Join(msgs, "; ")
}

func valueOr[T any](p *T, fallback T) T {
	if p == nil {
		return fallback
	}
	return *p
}
