package tool

import (
	"context"
	"testing"

	"omnibot/internal/config"
	"omnibot/internal/domain"
)

func calendarToolByName(t *testing.T, tools []domain.Tool, name string) domain.Tool {
	t.Helper()
	for _, tl := range tools {
		if tl.Name() == name {
			return tl
		}
	}
	t.Fatalf("tool %s not found", name)
	return nil
}

func TestCalendarBookingFlow(t *testing.T) {
	cfg := &config.CalendarConfig{OpenHour: 9, CloseHour: 17, SlotMinutes: 30}
	tools := NewCalendarTools(cfg, NewMemoryCalendarStore())
	ctx := context.Background()

	check := calendarToolByName(t, tools, "check_availability")
	book := calendarToolByName(t, tools, "book_appointment")
	view := calendarToolByName(t, tools, "view_appointments")
	cancel := calendarToolByName(t, tools, "cancel_appointment")

	res, err := check.Execute(ctx, map[string]any{"date": "2026-09-07"}, nil)
	if err != nil {
		t.Fatalf("check_availability: %v", err)
	}
	slots := res.(map[string]any)["available_slots"].([]string)
	// 9:00-17:00 in 30-minute slots.
	if len(slots) != 16 {
		t.Fatalf("got %d free slots, want 16", len(slots))
	}

	res, err = book.Execute(ctx, map[string]any{
		"date": "2026-09-07", "time": "10:00", "name": "Dana",
	}, nil)
	if err != nil {
		t.Fatalf("book_appointment: %v", err)
	}
	booked := res.(map[string]any)
	if booked["booked"] != true {
		t.Fatalf("booked = %v, want true", booked["booked"])
	}
	apptID := booked["appointment"].(map[string]any)["id"].(string)

	// The slot is now taken.
	if _, err := book.Execute(ctx, map[string]any{
		"date": "2026-09-07", "time": "10:00", "name": "Eve",
	}, nil); err == nil {
		t.Error("double booking succeeded, want error")
	}

	res, err = view.Execute(ctx, map[string]any{"date": "2026-09-07"}, nil)
	if err != nil {
		t.Fatalf("view_appointments: %v", err)
	}
	appts := res.(map[string]any)["appointments"].([]map[string]any)
	if len(appts) != 1 {
		t.Fatalf("got %d appointments, want 1", len(appts))
	}

	if _, err := cancel.Execute(ctx, map[string]any{"id": apptID}, nil); err != nil {
		t.Fatalf("cancel_appointment: %v", err)
	}
	res, _ = check.Execute(ctx, map[string]any{"date": "2026-09-07"}, nil)
	if got := len(res.(map[string]any)["available_slots"].([]string)); got != 16 {
		t.Errorf("slots after cancel = %d, want 16", got)
	}
}

func TestCalendarRejectsOutsideHours(t *testing.T) {
	cfg := &config.CalendarConfig{OpenHour: 9, CloseHour: 17, SlotMinutes: 30}
	tools := NewCalendarTools(cfg, NewMemoryCalendarStore())
	book := calendarToolByName(t, tools, "book_appointment")

	for _, clock := range []string{"08:00", "17:00", "22:30"} {
		_, err := book.Execute(context.Background(), map[string]any{
			"date": "2026-09-07", "time": clock, "name": "Dana",
		}, nil)
		if err == nil {
			t.Errorf("booking at %s succeeded, want rejection", clock)
		}
	}
}

func TestCalendarModifyMovesAppointment(t *testing.T) {
	tools := NewCalendarTools(nil, NewMemoryCalendarStore())
	book := calendarToolByName(t, tools, "book_appointment")
	modify := calendarToolByName(t, tools, "modify_appointment")
	ctx := context.Background()

	res, err := book.Execute(ctx, map[string]any{"date": "2026-09-08", "time": "11:00", "name": "Kim"}, nil)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	id := res.(map[string]any)["appointment"].(map[string]any)["id"].(string)

	res, err = modify.Execute(ctx, map[string]any{"id": id, "date": "2026-09-09", "time": "14:00"}, nil)
	if err != nil {
		t.Fatalf("modify: %v", err)
	}
	moved := res.(map[string]any)["appointment"].(map[string]any)
	if moved["start"] != "2026-09-09 14:00" {
		t.Errorf("start = %v, want 2026-09-09 14:00", moved["start"])
	}

	if _, err := modify.Execute(ctx, map[string]any{"id": "missing", "date": "2026-09-09", "time": "14:00"}, nil); err == nil {
		t.Error("modifying unknown appointment succeeded, want error")
	}
}
