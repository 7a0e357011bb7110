package tool

import (
	"context"
	"time"

	"omnibot/internal/domain"
)

// DatetimeTool reports the current date and time, optionally in a given
// IANA timezone.
type DatetimeTool struct {
	now func() time.Time
}

func NewDatetimeTool() *DatetimeTool {
	return &DatetimeTool{now: time.Now}
}

func (t *DatetimeTool) Name() string { return "current_datetime" }
func (t *DatetimeTool) Description() string {
	return "Get the current date and time. Use when the user asks about today's date, the current time, or needs date calculations."
}
func (t *DatetimeTool) SystemPrompt() string { return "" }

func (t *DatetimeTool) Parameters() map[string]any {
	return Parameters(
		map[string]Param{
			"timezone": {Type: "string", Description: "IANA timezone name (e.g. America/New_York). Defaults to UTC."},
		},
		nil,
	)
}

func (t *DatetimeTool) Execute(ctx context.Context, args map[string]any, chctx *domain.ChannelContext) (any, error) {
	loc := time.UTC
	if tz := ArgString(args, "timezone"); tz != "" {
		parsed, err := time.LoadLocation(tz)
		if err == nil {
			loc = parsed
		}
	}
	now := t.now().In(loc)
	return map[string]any{
		"datetime": now.Format(time.RFC3339),
		"weekday":  now.Weekday().String(),
		"timezone": loc.String(),
	}, nil
}
