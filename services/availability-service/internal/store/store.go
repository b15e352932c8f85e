// Package store keeps every student's merged weekly busy intervals in memory
// and writes the whole state through a Persister after each mutation.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/freeslots/services/availability-service/internal/availability"
	"github.com/md-rashed-zaman/freeslots/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/freeslots/services/availability-service/internal/normalize"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Persister saves and restores the full store state. Load returns an empty
// snapshot and no error when nothing has been saved yet.
type Persister interface {
	Load(ctx context.Context) (model.Snapshot, error)
	Save(ctx context.Context, snap model.Snapshot) error
}

// Notifier receives applied changes in mutation order. Notify must not block.
type Notifier interface {
	Notify(ctx context.Context, change model.Change)
}

type Store struct {
	mu        sync.RWMutex
	students  model.Snapshot
	persister Persister
	notifier  Notifier
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

func New(persister Persister, notifier Notifier, logger *slog.Logger) *Store {
	if notifier == nil {
		notifier = discardNotifier{}
	}
	return &Store{
		students:  model.Snapshot{},
		persister: persister,
		notifier:  notifier,
		logger:    logger,
		tracer:    otel.Tracer("availability-service/store"),
		now:       time.Now,
	}
}

// Load replaces the in-memory state with the persisted one. Names are
// re-normalized, intervals outside a day are skipped and every day is merged
// again, so a hand-edited file cannot break the store invariants.
func (s *Store) Load(ctx context.Context) error {
	raw, err := s.persister.Load(ctx)
	if err != nil {
		return fmt.Errorf("load availability: %w", err)
	}

	loaded := model.Snapshot{}
	skipped := 0
	for rawName, rawWeek := range raw {
		name, err := normalize.Name(rawName)
		if err != nil {
			s.logger.Warn("skipping stored student with invalid name", "name", rawName)
			skipped++
			continue
		}
		week, ok := loaded[name]
		if !ok {
			week = model.NewWeek()
			loaded[name] = week
		}
		for _, d := range model.Weekdays {
			for _, iv := range rawWeek[d] {
				if !iv.Valid() {
					s.logger.Warn("skipping invalid stored interval", "student", name, "day", d, "start", iv.Start, "end", iv.End)
					skipped++
					continue
				}
				week[d] = append(week[d], iv)
			}
			week[d] = availability.Merge(week[d])
		}
	}

	s.mu.Lock()
	s.students = loaded
	s.mu.Unlock()

	s.logger.Info("availability loaded", "students", len(loaded), "skipped", skipped)
	return nil
}

// AddStudent registers a student with an empty week. Adding an existing
// student changes nothing.
func (s *Store) AddStudent(ctx context.Context, rawName string) error {
	ctx, span := s.tracer.Start(ctx, "store.AddStudent")
	defer span.End()

	name, err := normalize.Name(rawName)
	if err != nil {
		return fail(span, err)
	}
	span.SetAttributes(attribute.String("student", name))

	s.mu.Lock()
	defer s.mu.Unlock()

	var changes []model.Change
	if _, ok := s.students[name]; !ok {
		changes = append(changes, s.change(model.ChangeStudentAdded, name))
	}
	return fail(span, s.commit(ctx, name, s.weekOrNew(name), changes))
}

// AddBusy records a busy interval for the student on the given day, creating
// the student when needed, and re-merges that day.
func (s *Store) AddBusy(ctx context.Context, rawName, rawDay, rawStart, rawEnd string) error {
	ctx, span := s.tracer.Start(ctx, "store.AddBusy")
	defer span.End()

	name, err := normalize.Name(rawName)
	if err != nil {
		return fail(span, err)
	}
	day, err := normalize.Day(rawDay)
	if err != nil {
		return fail(span, err)
	}
	start, err := normalize.ParseTime(rawStart)
	if err != nil {
		return fail(span, err)
	}
	end, err := normalize.ParseTime(rawEnd)
	if err != nil {
		return fail(span, err)
	}
	if end <= start {
		return fail(span, model.InvalidInput("End <= Start"))
	}
	span.SetAttributes(
		attribute.String("student", name),
		attribute.String("day", string(day)),
		attribute.Int("start", start),
		attribute.Int("end", end),
	)

	s.mu.Lock()
	defer s.mu.Unlock()

	var changes []model.Change
	if _, ok := s.students[name]; !ok {
		changes = append(changes, s.change(model.ChangeStudentAdded, name))
	}
	week := s.weekOrNew(name).Clone()
	before := week[day]
	week[day] = availability.Merge(append(slices.Clone(before), model.Interval{Start: start, End: end}))
	if !slices.Equal(before, week[day]) {
		c := s.change(model.ChangeBusyAdded, name)
		c.Day = day
		c.Start = normalize.FormatTime(start)
		c.End = normalize.FormatTime(end)
		changes = append(changes, c)
	}
	return fail(span, s.commit(ctx, name, week, changes))
}

// RemoveStudent deletes the student and all of their intervals. Removing an
// unknown student is not an error.
func (s *Store) RemoveStudent(ctx context.Context, rawName string) error {
	ctx, span := s.tracer.Start(ctx, "store.RemoveStudent")
	defer span.End()

	name, err := normalize.Name(rawName)
	if err != nil {
		return fail(span, err)
	}
	span.SetAttributes(attribute.String("student", name))

	s.mu.Lock()
	defer s.mu.Unlock()

	var changes []model.Change
	if _, ok := s.students[name]; ok {
		changes = append(changes, s.change(model.ChangeStudentRemoved, name))
	}
	return fail(span, s.commit(ctx, name, nil, changes))
}

// Students lists every student name in ascending order.
func (s *Store) Students() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.students))
	for name := range s.students {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Busy returns a copy of the merged busy intervals of one student and day;
// empty when the student is unknown.
func (s *Store) Busy(rawName, rawDay string) ([]model.Interval, error) {
	name, err := normalize.Name(rawName)
	if err != nil {
		return nil, err
	}
	day, err := normalize.Day(rawDay)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Interval{}, s.students[name][day]...), nil
}

// Week returns the canonical name and a copy of the student's whole week.
// ok is false for unknown students.
func (s *Store) Week(rawName string) (name string, week model.Week, ok bool, err error) {
	name, err = normalize.Name(rawName)
	if err != nil {
		return "", nil, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.students[name]
	if !ok {
		return name, nil, false, nil
	}
	return name, w.Clone(), true, nil
}

// Snapshot returns a deep copy of the whole store, consistent with a single
// point between mutations.
func (s *Store) Snapshot() model.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.students.Clone()
}

// commit installs week for name (nil removes the student), persists, and
// publishes changes. On a persist failure the previous state is restored.
// Caller holds the write lock.
func (s *Store) commit(ctx context.Context, name string, week model.Week, changes []model.Change) error {
	prev, existed := s.students[name]
	if week == nil {
		delete(s.students, name)
	} else {
		s.students[name] = week
	}

	if err := s.persister.Save(ctx, s.students); err != nil {
		if existed {
			s.students[name] = prev
		} else {
			delete(s.students, name)
		}
		s.logger.Error("persist failed; change rolled back", "student", name, "err", err)
		return fmt.Errorf("%w: %w", model.ErrPersist, err)
	}

	for _, c := range changes {
		s.notifier.Notify(ctx, c)
	}
	return nil
}

// weekOrNew returns the stored week or a fresh one. Caller holds the lock.
func (s *Store) weekOrNew(name string) model.Week {
	if w, ok := s.students[name]; ok {
		return w
	}
	return model.NewWeek()
}

func (s *Store) change(t model.ChangeType, name string) model.Change {
	return model.Change{
		EventID:    uuid.NewString(),
		Type:       t,
		Student:    name,
		OccurredAt: s.now().UTC(),
	}
}

func fail(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

type discardNotifier struct{}

func (discardNotifier) Notify(context.Context, model.Change) {}
