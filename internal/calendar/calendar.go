// Package calendar converts instants into the bot's fixed local time and
// derives the dates used for streak bookkeeping.
package calendar

import (
	"fmt"
	"time"
)

// JST is a fixed UTC+9 zone. It is not loaded from tzdata so results never
// depend on the host's zone database.
var JST = time.FixedZone("JST", 9*60*60)

// GraceHours is the number of hours after local midnight that still count
// toward the previous day's exercise.
const GraceHours = 3

type DayPart string

const (
	Morning   DayPart = "morning"
	Afternoon DayPart = "afternoon"
	Evening   DayPart = "evening"
)

// Label returns the Japanese label used in prompts.
func (p DayPart) Label() string {
	switch p {
	case Morning:
		return "朝"
	case Afternoon:
		return "昼"
	default:
		return "夜"
	}
}

// Date is a calendar date without a time of day.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func (d Date) IsZero() bool { return d.Year == 0 && d.Month == 0 && d.Day == 0 }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Midnight returns 00:00 of d in JST.
func (d Date) Midnight() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, JST)
}

func (d Date) AddDays(n int) Date {
	return DateOf(d.Midnight().AddDate(0, 0, n))
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.ParseInLocation("2006-01-02", s, JST)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// DateOf returns the calendar date of t as seen in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ToLocal converts an instant to JST.
func ToLocal(t time.Time) time.Time {
	return t.In(JST)
}

// PartOfDay buckets a local time: morning [06:00,11:00), afternoon
// [11:00,18:00), evening otherwise.
func PartOfDay(local time.Time) DayPart {
	h := local.Hour()
	switch {
	case h >= 6 && h < 11:
		return Morning
	case h >= 11 && h < 18:
		return Afternoon
	default:
		return Evening
	}
}

// ExerciseDate is the local date, except that [00:00,03:00) belongs to the
// previous day.
func ExerciseDate(local time.Time) Date {
	local = local.In(JST)
	if local.Hour() < GraceHours {
		return DateOf(local.AddDate(0, 0, -1))
	}
	return DateOf(local)
}

// DaysBetween returns b - a in whole days.
func DaysBetween(a, b Date) int {
	return int(b.Midnight().Sub(a.Midnight()).Hours() / 24)
}

// FormatLocal renders t in JST the way prompts show "current time".
func FormatLocal(t time.Time) string {
	return ToLocal(t).Format("2006/1/2 15:04:05")
}

// Weekday returns the Japanese weekday name of t in JST.
func Weekday(t time.Time) string {
	return [...]string{"日", "月", "火", "水", "木", "金", "土"}[ToLocal(t).Weekday()]
}
