// Package scheduler runs the follow-up scanner: a tick loop gated by a cron
// window and a file lock, delivering due promises with bounded concurrency.
package scheduler

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
	"time"
)

// fieldSet is a bitset of allowed values for one cron field (0..63).
type fieldSet uint64

func (f fieldSet) has(v int) bool { return v >= 0 && v < 64 && f&(1<<uint(v)) != 0 }

// Values lists the set members in ascending order.
func (f fieldSet) Values() []int {
	out := make([]int, 0, bits.OnesCount64(uint64(f)))
	for rest := uint64(f); rest != 0; rest &= rest - 1 {
		out = append(out, bits.TrailingZeros64(rest))
	}
	return out
}

// CronExpr is a parsed 5-field cron expression:
// minute, hour, day-of-month, month, day-of-week.
type CronExpr struct {
	expr       string
	minute     fieldSet
	hour       fieldSet
	dayOfMonth fieldSet
	month      fieldSet
	dayOfWeek  fieldSet
}

var cronMacros = map[string]string{
	"@hourly":  "0 * * * *",
	"@daily":   "0 0 * * *",
	"@weekly":  "0 0 * * 0",
	"@monthly": "0 0 1 * *",
}

type fieldSpec struct {
	name     string
	min, max int
}

var cronFields = [5]fieldSpec{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// ParseCron parses a 5-field cron expression or one of @hourly, @daily,
// @weekly, @monthly. Fields accept *, */N, N, N-M, N-M/S and comma lists.
func ParseCron(expr string) (*CronExpr, error) {
	src := strings.TrimSpace(expr)
	if m, ok := cronMacros[src]; ok {
		src = m
	}
	fields := strings.Fields(src)
	if len(fields) != len(cronFields) {
		return nil, fmt.Errorf("cron: expected 5 fields, got %d", len(fields))
	}
	var sets [5]fieldSet
	for i, spec := range cronFields {
		set, err := parseField(fields[i], spec.min, spec.max)
		if err != nil {
			return nil, fmt.Errorf("cron: %s: %w", spec.name, err)
		}
		sets[i] = set
	}
	return &CronExpr{
		expr:       strings.TrimSpace(expr),
		minute:     sets[0],
		hour:       sets[1],
		dayOfMonth: sets[2],
		month:      sets[3],
		dayOfWeek:  sets[4],
	}, nil
}

// MustParseCron is ParseCron for expressions known to be valid.
func MustParseCron(expr string) *CronExpr {
	c, err := ParseCron(expr)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *CronExpr) String() string { return c.expr }

// Matches reports whether t's minute falls inside the expression.
func (c *CronExpr) Matches(t time.Time) bool {
	return c.minute.has(t.Minute()) &&
		c.hour.has(t.Hour()) &&
		c.dayOfMonth.has(t.Day()) &&
		c.month.has(int(t.Month())) &&
		c.dayOfWeek.has(int(t.Weekday()))
}

// Next returns the first matching minute strictly after t, searching up to
// two years ahead. It returns the zero time when nothing matches.
func (c *CronExpr) Next(t time.Time) time.Time {
	candidate := t.Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(2, 0, 0)
	loc := candidate.Location()

	for candidate.Before(limit) {
		y, mo, d := candidate.Date()
		switch {
		case !c.month.has(int(mo)):
			candidate = time.Date(y, mo+1, 1, 0, 0, 0, 0, loc)
		case !c.dayOfMonth.has(d) || !c.dayOfWeek.has(int(candidate.Weekday())):
			candidate = time.Date(y, mo, d+1, 0, 0, 0, 0, loc)
		case !c.hour.has(candidate.Hour()):
			candidate = time.Date(y, mo, d, candidate.Hour()+1, 0, 0, 0, loc)
		case !c.minute.has(candidate.Minute()):
			candidate = candidate.Add(time.Minute)
		default:
			return candidate
		}
	}
	return time.Time{}
}

func parseField(field string, min, max int) (fieldSet, error) {
	var set fieldSet
	for _, part := range strings.Split(field, ",") {
		lo, hi, step, err := parsePart(part, min, max)
		if err != nil {
			return 0, err
		}
		for v := lo; v <= hi; v += step {
			set |= 1 << uint(v)
		}
	}
	return set, nil
}

// parsePart resolves one comma-separated part to an inclusive stepped range.
func parsePart(part string, min, max int) (lo, hi, step int, err error) {
	base, stepText, hasStep := strings.Cut(part, "/")
	step = 1
	if hasStep {
		step, err = strconv.Atoi(stepText)
		if err != nil || step <= 0 {
			return 0, 0, 0, fmt.Errorf("invalid step %q", part)
		}
	}

	switch {
	case base == "*":
		return min, max, step, nil
	case strings.Contains(base, "-"):
		loText, hiText, _ := strings.Cut(base, "-")
		if lo, err = strconv.Atoi(loText); err != nil {
			return 0, 0, 0, fmt.Errorf("invalid range start %q", loText)
		}
		if hi, err = strconv.Atoi(hiText); err != nil {
			return 0, 0, 0, fmt.Errorf("invalid range end %q", hiText)
		}
		if lo < min || hi > max || lo > hi {
			return 0, 0, 0, fmt.Errorf("range %d-%d out of bounds [%d,%d]", lo, hi, min, max)
		}
		return lo, hi, step, nil
	}

	if hasStep {
		return 0, 0, 0, fmt.Errorf("step needs a range in %q", part)
	}
	v, err := strconv.Atoi(base)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid value %q", part)
	}
	if v < min || v > max {
		return 0, 0, 0, fmt.Errorf("value %d out of bounds [%d,%d]", v, min, max)
	}
	return v, v, 1, nil
}
