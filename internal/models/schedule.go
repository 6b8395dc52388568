package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Weekday is an upper-case English day name as stored in section_schedules.
type Weekday string

const (
	Monday    Weekday = "MONDAY"
	Tuesday   Weekday = "TUESDAY"
	Wednesday Weekday = "WEDNESDAY"
	Thursday  Weekday = "THURSDAY"
	Friday    Weekday = "FRIDAY"
	Saturday  Weekday = "SATURDAY"
	Sunday    Weekday = "SUNDAY"
)

// ParseWeekday normalises a day name, accepting any case and three-letter forms.
func ParseWeekday(raw string) (Weekday, error) {
	value := strings.ToUpper(strings.TrimSpace(raw))
	for _, day := range weekOrder {
		if value == string(day) || (len(value) == 3 && strings.HasPrefix(string(day), value)) {
			return day, nil
		}
	}
	return "", fmt.Errorf("invalid day of week %q", raw)
}

var weekOrder = []Weekday{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}

// Index returns the position of the day in the week starting Monday, or -1.
func (d Weekday) Index() int {
	for i, day := range weekOrder {
		if day == d {
			return i
		}
	}
	return -1
}

// Title returns the day in title case for messages.
func (d Weekday) Title() string {
	if d == "" {
		return ""
	}
	lower := strings.ToLower(string(d))
	return strings.ToUpper(lower[:1]) + lower[1:]
}

// ClockTime is a time of day in minutes since midnight.
type ClockTime int

// Clock builds a ClockTime from hours and minutes.
func Clock(hour, minute int) ClockTime {
	return ClockTime(hour*60 + minute)
}

// ParseClockTime accepts "HH:MM" or "HH:MM:SS".
func ParseClockTime(raw string) (ClockTime, error) {
	raw = strings.TrimSpace(raw)
	layouts := []string{"15:04", "15:04:05"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return Clock(t.Hour(), t.Minute()), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q", raw)
}

// String renders the time as HH:MM.
func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// MarshalJSON encodes the time as "HH:MM".
func (c ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON decodes "HH:MM" or "HH:MM:SS".
func (c *ClockTime) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseClockTime(raw)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Scan implements sql.Scanner for TIME columns.
func (c *ClockTime) Scan(src interface{}) error {
	switch v := src.(type) {
	case time.Time:
		*c = Clock(v.Hour(), v.Minute())
		return nil
	case []byte:
		return c.scanString(string(v))
	case string:
		return c.scanString(v)
	case int64:
		*c = ClockTime(v)
		return nil
	case nil:
		*c = 0
		return nil
	default:
		return fmt.Errorf("cannot scan %T into ClockTime", src)
	}
}

func (c *ClockTime) scanString(raw string) error {
	// TIME values may carry fractional seconds.
	if idx := strings.IndexByte(raw, '.'); idx >= 0 {
		raw = raw[:idx]
	}
	parsed, err := ParseClockTime(raw)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Value implements driver.Valuer.
func (c ClockTime) Value() (driver.Value, error) {
	return c.String() + ":00", nil
}

// ScheduleEntry is one weekly meeting of a section.
type ScheduleEntry struct {
	ID        string    `db:"id" json:"id"`
	SectionID string    `db:"section_id" json:"section_id"`
	DayOfWeek Weekday   `db:"day_of_week" json:"day_of_week"`
	StartTime ClockTime `db:"start_time" json:"start_time"`
	EndTime   ClockTime `db:"end_time" json:"end_time"`
	Room      string    `db:"room" json:"room"`
}

// SlotSource tells whether a slot comes from attending or teaching a section.
type SlotSource string

const (
	SlotEnrolled SlotSource = "ENROLLED"
	SlotTeaching SlotSource = "TEACHING"
)

// ScheduleSlot is a schedule entry annotated for clash reporting.
type ScheduleSlot struct {
	ScheduleEntry
	SubjectCode   string     `db:"subject_code" json:"subject_code"`
	SectionNumber int        `db:"section_number" json:"section_number"`
	Source        SlotSource `db:"source" json:"source"`
}

// Describe renders the slot as e.g. "CS101 section 2 (Wednesday 15:00-17:00)".
func (s ScheduleSlot) Describe() string {
	return fmt.Sprintf("%s section %d (%s %s-%s)", s.SubjectCode, s.SectionNumber, s.DayOfWeek.Title(), s.StartTime, s.EndTime)
}

// ScheduleClash reports a candidate slot colliding with an existing one.
type ScheduleClash struct {
	Party     string       `json:"party,omitempty"`
	Candidate ScheduleSlot `json:"candidate"`
	Existing  ScheduleSlot `json:"existing"`
}

// Error implements the error interface for clashes.
func (c *ScheduleClash) Error() string {
	if c == nil {
		return "<nil>"
	}
	verb := "clashes with"
	if c.Existing.Source == SlotTeaching {
		verb = "clashes with teaching duty"
	}
	msg := fmt.Sprintf("%s %s %s", c.Candidate.Describe(), verb, c.Existing.Describe())
	if c.Party != "" {
		msg = c.Party + ": " + msg
	}
	return msg
}

// Timetable is a student's weekly schedule read model.
type Timetable struct {
	StudentID   string             `json:"student_id"`
	Enrollments []EnrollmentDetail `json:"enrollments"`
	Slots       []ScheduleSlot     `json:"slots"`
}
