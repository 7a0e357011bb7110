package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"omnibot/internal/config"
	"omnibot/internal/domain"
)

// Appointment is one booked calendar slot.
type Appointment struct {
	ID    string
	Name  string
	Notes string
	Start time.Time
	End   time.Time
}

// CalendarStore persists appointments for the calendar tool-set.
type CalendarStore interface {
	Add(ctx context.Context, appt Appointment) error
	Get(ctx context.Context, id string) (*Appointment, error)
	ListDay(ctx context.Context, day time.Time) ([]Appointment, error)
	Update(ctx context.Context, appt Appointment) error
	Delete(ctx context.Context, id string) error
}

// MemoryCalendarStore is the default in-process store.
type MemoryCalendarStore struct {
	mu    sync.RWMutex
	appts map[string]Appointment
}

func NewMemoryCalendarStore() *MemoryCalendarStore {
	return &MemoryCalendarStore{appts: make(map[string]Appointment)}
}

func (s *MemoryCalendarStore) Add(ctx context.Context, appt Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appts[appt.ID] = appt
	return nil
}

func (s *MemoryCalendarStore) Get(ctx context.Context, id string) (*Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	appt, ok := s.appts[id]
	if !ok {
		return nil, nil
	}
	return &appt, nil
}

func (s *MemoryCalendarStore) ListDay(ctx context.Context, day time.Time) ([]Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Appointment
	for _, a := range s.appts {
		if a.Start.Year() == day.Year() && a.Start.YearDay() == day.YearDay() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (s *MemoryCalendarStore) Update(ctx context.Context, appt Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.appts[appt.ID]; !ok {
		return fmt.Errorf("appointment %s not found", appt.ID)
	}
	s.appts[appt.ID] = appt
	return nil
}

func (s *MemoryCalendarStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.appts[id]; !ok {
		return fmt.Errorf("appointment %s not found", id)
	}
	delete(s.appts, id)
	return nil
}

// calendarBase holds the shared store and schedule parameters for the
// calendar tool-set.
type calendarBase struct {
	store CalendarStore
	loc   *time.Location
	open  int // opening hour
	close int // closing hour
	slot  time.Duration
	now   func() time.Time
}

// NewCalendarTools builds the calendar tool-set (availability check, book,
// view, modify, cancel) over one shared store, parameterized by the
// agent's calendar configuration.
func NewCalendarTools(cfg *config.CalendarConfig, store CalendarStore) []domain.Tool {
	base := &calendarBase{
		store: store,
		loc:   time.UTC,
		open:  9,
		close: 17,
		slot:  30 * time.Minute,
		now:   time.Now,
	}
	if cfg != nil {
		if loc, err := time.LoadLocation(cfg.Timezone); err == nil && cfg.Timezone != "" {
			base.loc = loc
		}
		if cfg.OpenHour > 0 {
			base.open = cfg.OpenHour
		}
		if cfg.CloseHour > base.open {
			base.close = cfg.CloseHour
		}
		if cfg.SlotMinutes > 0 {
			base.slot = time.Duration(cfg.SlotMinutes) * time.Minute
		}
	}
	return []domain.Tool{
		&availabilityTool{base},
		&bookTool{base},
		&viewTool{base},
		&modifyTool{base},
		&cancelTool{base},
	}
}

func (b *calendarBase) parseDay(date string) (time.Time, error) {
	day, err := time.ParseInLocation("2006-01-02", date, b.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", date)
	}
	return day, nil
}

func (b *calendarBase) parseSlot(date, clock string) (time.Time, error) {
	start, err := time.ParseInLocation("2006-01-02 15:04", date+" "+clock, b.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q, expected HH:MM", clock)
	}
	return start, nil
}

// freeSlots returns the open slots for a day after removing booked ones.
func (b *calendarBase) freeSlots(ctx context.Context, day time.Time) ([]time.Time, error) {
	booked, err := b.store.ListDay(ctx, day)
	if err != nil {
		return nil, err
	}
	var free []time.Time
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), b.open, 0, 0, 0, b.loc)
	dayEnd := time.Date(day.Year(), day.Month(), day.Day(), b.close, 0, 0, 0, b.loc)
	for t := dayStart; t.Add(b.slot).Before(dayEnd) || t.Add(b.slot).Equal(dayEnd); t = t.Add(b.slot) {
		taken := false
		for _, appt := range booked {
			if t.Before(appt.End) && appt.Start.Before(t.Add(b.slot)) {
				taken = true
				break
			}
		}
		if !taken {
			free = append(free, t)
		}
	}
	return free, nil
}

func apptView(a Appointment) map[string]any {
	return map[string]any{
		"id":    a.ID,
		"name":  a.Name,
		"notes": a.Notes,
		"start": a.Start.Format("2006-01-02 15:04"),
		"end":   a.End.Format("15:04"),
	}
}

type availabilityTool struct{ *calendarBase }

func (t *availabilityTool) Name() string { return "check_availability" }
func (t *availabilityTool) Description() string {
	return "List open appointment slots for a given date."
}
func (t *availabilityTool) SystemPrompt() string { return "" }
func (t *availabilityTool) Parameters() map[string]any {
	return Parameters(
		map[string]Param{
			"date": {Type: "string", Description: "Date to check, format YYYY-MM-DD"},
		},
		[]string{"date"},
	)
}

func (t *availabilityTool) Execute(ctx context.Context, args map[string]any, chctx *domain.ChannelContext) (any, error) {
	day, err := t.parseDay(ArgString(args, "date"))
	if err != nil {
		return nil, err
	}
	free, err := t.freeSlots(ctx, day)
	if err != nil {
		return nil, err
	}
	slots := make([]string, len(free))
	for i, s := range free {
		slots[i] = s.Format("15:04")
	}
	return map[string]any{"date": day.Format("2006-01-02"), "available_slots": slots}, nil
}

type bookTool struct{ *calendarBase }

func (t *bookTool) Name() string { return "book_appointment" }
func (t *bookTool) Description() string {
	return "Book an appointment at a specific date and time. Check availability first."
}
func (t *bookTool) SystemPrompt() string { return "" }
func (t *bookTool) Parameters() map[string]any {
	return Parameters(
		map[string]Param{
			"date":  {Type: "string", Description: "Date, format YYYY-MM-DD"},
			"time":  {Type: "string", Description: "Start time, format HH:MM"},
			"name":  {Type: "string", Description: "Name the booking is for"},
			"notes": {Type: "string", Description: "Optional notes for the appointment"},
		},
		[]string{"date", "time", "name"},
	)
}

func (t *bookTool) Execute(ctx context.Context, args map[string]any, chctx *domain.ChannelContext) (any, error) {
	start, err := t.parseSlot(ArgString(args, "date"), ArgString(args, "time"))
	if err != nil {
		return nil, err
	}
	if start.Hour() < t.open || start.Add(t.slot).Hour() > t.close {
		return nil, fmt.Errorf("requested time is outside opening hours (%02d:00-%02d:00)", t.open, t.close)
	}

	free, err := t.freeSlots(ctx, start)
	if err != nil {
		return nil, err
	}
	available := false
	for _, s := range free {
		if s.Equal(start) {
			available = true
			break
		}
	}
	if !available {
		return nil, fmt.Errorf("slot %s is not available", start.Format("2006-01-02 15:04"))
	}

	appt := Appointment{
		ID:    uuid.NewString()[:8],
		Name:  ArgString(args, "name"),
		Notes: ArgString(args, "notes"),
		Start: start,
		End:   start.Add(t.slot),
	}
	if err := t.store.Add(ctx, appt); err != nil {
		return nil, err
	}
	return map[string]any{"booked": true, "appointment": apptView(appt)}, nil
}

type viewTool struct{ *calendarBase }

func (t *viewTool) Name() string { return "view_appointments" }
func (t *viewTool) Description() string {
	return "List booked appointments for a given date."
}
func (t *viewTool) SystemPrompt() string { return "" }
func (t *viewTool) Parameters() map[string]any {
	return Parameters(
		map[string]Param{
			"date": {Type: "string", Description: "Date to list, format YYYY-MM-DD"},
		},
		[]string{"date"},
	)
}

func (t *viewTool) Execute(ctx context.Context, args map[string]any, chctx *domain.ChannelContext) (any, error) {
	day, err := t.parseDay(ArgString(args, "date"))
	if err != nil {
		return nil, err
	}
	appts, err := t.store.ListDay(ctx, day)
	if err != nil {
		return nil, err
	}
	views := make([]map[string]any, len(appts))
	for i, a := range appts {
		views[i] = apptView(a)
	}
	return map[string]any{"date": day.Format("2006-01-02"), "appointments": views}, nil
}

type modifyTool struct{ *calendarBase }

func (t *modifyTool) Name() string { return "modify_appointment" }
func (t *modifyTool) Description() string {
	return "Move an existing appointment to a new date and time."
}
func (t *modifyTool) SystemPrompt() string { return "" }
func (t *modifyTool) Parameters() map[string]any {
	return Parameters(
		map[string]Param{
			"id":   {Type: "string", Description: "Appointment id to modify"},
			"date": {Type: "string", Description: "New date, format YYYY-MM-DD"},
			"time": {Type: "string", Description: "New start time, format HH:MM"},
		},
		[]string{"id", "date", "time"},
	)
}

func (t *modifyTool) Execute(ctx context.Context, args map[string]any, chctx *domain.ChannelContext) (any, error) {
	appt, err := t.store.Get(ctx, ArgString(args, "id"))
	if err != nil {
		return nil, err
	}
	if appt == nil {
		return nil, fmt.Errorf("appointment %s not found", ArgString(args, "id"))
	}
	start, err := t.parseSlot(ArgString(args, "date"), ArgString(args, "time"))
	if err != nil {
		return nil, err
	}
	appt.Start = start
	appt.End = start.Add(t.slot)
	if err := t.store.Update(ctx, *appt); err != nil {
		return nil, err
	}
	return map[string]any{"modified": true, "appointment": apptView(*appt)}, nil
}

type cancelTool struct{ *calendarBase }

func (t *cancelTool) Name() string { return "cancel_appointment" }
func (t *cancelTool) Description() string {
	return "Cancel a booked appointment by id."
}
func (t *cancelTool) SystemPrompt() string { return "" }
func (t *cancelTool) Parameters() map[string]any {
	return Parameters(
		map[string]Param{
			"id": {Type: "string", Description: "Appointment id to cancel"},
		},
		[]string{"id"},
	)
}

func (t *cancelTool) Execute(ctx context.Context, args map[string]any, chctx *domain.ChannelContext) (any, error) {
	id := ArgString(args, "id")
	if err := t.store.Delete(ctx, id); err != nil {
		return nil, err
	}
	return map[string]any{"cancelled": true, "id": id}, nil
}
