package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/retrack-dev/engine/internal/retrackerr"
)

// cronParser accepts the 5-field standard dialect, an optional
// leading seconds field, and the "@hourly"/"@daily"/"@every ..."
// sugar described in §6.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseCron parses a cron expression in Retrack's accepted dialect.
func ParseCron(expr string) (cron.Schedule, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, retrackerr.Wrapf(retrackerr.KindValidation, err, "invalid cron expression %q", expr)
	}
	return schedule, nil
}

// ValidateFloor rejects cron expressions whose minimum inter-fire gap
// is below minInterval (§6: "Validator rejects expressions whose
// minimum inter-fire gap is below the configured floor"). It samples
// only the first two fires after the reference time and checks that
// one gap; for an expression whose fires are unevenly spaced (a list
// or range of minutes, hours or days) a shorter gap elsewhere in its
// cycle is not detected.
func ValidateFloor(expr string, minInterval time.Duration, from time.Time) error {
	schedule, err := ParseCron(expr)
	if err != nil {
		return err
	}
	first := schedule.Next(from)
	second := schedule.Next(first)
	if gap := second.Sub(first); gap < minInterval {
		return retrackerr.Newf(retrackerr.KindValidation, "cron %q fires every %s, below the configured minimum of %s", expr, gap, minInterval)
	}
	return nil
}

// buildRetryCron builds a one-shot cron expression firing at exactly
// at, second-precision. It deliberately carries no year field — a
// preserved quirk (§4.6, §9 open question): if the process is down
// across the fire time and comes back up in a later year, the
// day/month/hour/minute/second combination fires again on the next
// matching calendar date rather than never.
func buildRetryCron(at time.Time) string {
	return fmt.Sprintf("%d %d %d %d %d *", at.Second(), at.Minute(), at.Hour(), at.Day(), int(at.Month()))
}
