/**
 * @description
 * Schedule expression evaluator for recurring transfers. It parses the
 * human-readable recurrence grammar used on transfer instructions and computes
 * the next occurrence date. Pure functions, no I/O.
 *
 * Supported grammar:
 *   "every month on day <1..31>"
 *   "every week on <weekday-name>"
 */

package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MalformedScheduleError reports an unparseable or out-of-range schedule
// expression. It is surfaced at transfer creation/update time; expressions
// reaching the batch engine have already been validated.
type MalformedScheduleError struct {
	Expr   string
	Reason string
}

func (e *MalformedScheduleError) Error() string {
	return fmt.Sprintf("malformed schedule %q: %s", e.Expr, e.Reason)
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// rule is the parsed form of a schedule expression. Exactly one of the two
// shapes is populated.
type rule struct {
	monthly    bool
	dayOfMonth int
	weekday    time.Weekday
}

func parse(expr string) (rule, error) {
	fields := strings.Fields(strings.ToLower(expr))
	if len(fields) < 2 || fields[0] != "every" {
		return rule{}, &MalformedScheduleError{Expr: expr, Reason: "expected \"every month\" or \"every week\" prefix"}
	}

	switch fields[1] {
	case "month":
		// every month on day <n>
		if len(fields) != 5 || fields[2] != "on" || fields[3] != "day" {
			return rule{}, &MalformedScheduleError{Expr: expr, Reason: "expected form \"every month on day <1..31>\""}
		}
		day, err := strconv.Atoi(fields[4])
		if err != nil {
			return rule{}, &MalformedScheduleError{Expr: expr, Reason: "day of month is not a number"}
		}
		if day < 1 || day > 31 {
			return rule{}, &MalformedScheduleError{Expr: expr, Reason: "day of month must be between 1 and 31"}
		}
		return rule{monthly: true, dayOfMonth: day}, nil

	case "week":
		// every week on <weekday-name>
		if len(fields) != 4 || fields[2] != "on" {
			return rule{}, &MalformedScheduleError{Expr: expr, Reason: "expected form \"every week on <weekday>\""}
		}
		wd, ok := weekdays[fields[3]]
		if !ok {
			return rule{}, &MalformedScheduleError{Expr: expr, Reason: fmt.Sprintf("unknown weekday %q", fields[3])}
		}
		return rule{weekday: wd}, nil

	default:
		return rule{}, &MalformedScheduleError{Expr: expr, Reason: fmt.Sprintf("unsupported recurrence unit %q", fields[1])}
	}
}

// Validate checks an expression against the supported grammar without
// evaluating it. Used by the CRUD surface so bad schedules are rejected on
// input rather than discovered during a batch run.
func Validate(expr string) error {
	_, err := parse(expr)
	return err
}

// NextOccurrence computes the next occurrence of a schedule strictly after
// `from`. The returned date is never equal to `from`: a monthly schedule whose
// day matches `from` advances a full month, a weekly schedule whose weekday
// matches advances seven days.
func NextOccurrence(expr string, from time.Time) (time.Time, error) {
	r, err := parse(expr)
	if err != nil {
		return time.Time{}, err
	}

	y, m, d := from.UTC().Date()
	if r.monthly {
		// Clamp the target day to this month's length before comparing, so
		// "day 31" seen from Apr 30 counts as already occurred and advances
		// to May rather than returning `from` itself.
		day := r.dayOfMonth
		if last := daysInMonth(y, m); day > last {
			day = last
		}
		// Target day already passed (or is today): roll to next month.
		if day <= d {
			m++
		}
		return clampedDate(y, m, r.dayOfMonth), nil
	}

	offset := (int(r.weekday) - int(from.UTC().Weekday()) + 7) % 7
	if offset == 0 {
		offset = 7
	}
	return time.Date(y, m, d+offset, 0, 0, 0, 0, time.UTC), nil
}

// clampedDate builds the date year/month/day, clamping the day to the length
// of the (normalized) month so "day 31" lands on Feb 29 rather than Mar 2.
func clampedDate(year int, month time.Month, day int) time.Time {
	// Normalize a possible month overflow first (December + 1).
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := daysInMonth(first.Year(), first.Month())
	if day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}

func daysInMonth(year int, month time.Month) int {
	// Day zero of the following month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
