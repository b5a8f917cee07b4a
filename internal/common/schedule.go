package common

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// ScheduleParser accepts five-field cron expressions plus an optional leading
// seconds field. Entity schedules need second precision for the immediate
// ("* * * * * *") schedule.
var ScheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSchedule validates a cron schedule expression
func ValidateSchedule(schedule string) error {
	if schedule == "" {
		return fmt.Errorf("schedule cannot be empty")
	}
	if _, err := ScheduleParser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}
