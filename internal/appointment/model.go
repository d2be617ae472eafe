package appointment

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusFailed    AppointmentStatus = "failed"
	StatusCancelled AppointmentStatus = "cancelled"
)

// Active reports whether the appointment still holds its slot.
func (s AppointmentStatus) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

type SlotStatus string

const (
	SlotOpen      SlotStatus = "open"
	SlotReserved  SlotStatus = "reserved"
	SlotBooked    SlotStatus = "booked"
	SlotCancelled SlotStatus = "cancelled"
)

// ClockTime is a wall clock time of day in UTC with minute precision.
type ClockTime struct {
	Hour   int
	Minute int
}

func ParseClockTime(s string) (ClockTime, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil || len(s) != len(TimeLayout) {
		return ClockTime{}, fmt.Errorf("time %q must be HH:MM", s)
	}
	return ClockTime{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Minutes returns minutes since midnight.
func (c ClockTime) Minutes() int {
	return c.Hour*60 + c.Minute
}

func (c ClockTime) Before(o ClockTime) bool {
	return c.Minutes() < o.Minutes()
}

// ParseDate parses a YYYY-MM-DD calendar date into UTC midnight.
func ParseDate(s string) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil || len(s) != len(DateLayout) {
		return time.Time{}, fmt.Errorf("date %q must be YYYY-MM-DD", s)
	}
	return d, nil
}

// NormalizeDate drops the clock part of t and pins it to UTC midnight.
func NormalizeDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CombineUTC joins a calendar date and a clock time into one UTC instant.
func CombineUTC(date time.Time, at ClockTime) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, at.Hour, at.Minute, 0, 0, time.UTC)
}

type Slot struct {
	ID         uuid.UUID
	DoctorID   string
	Date       time.Time
	Time       ClockTime
	Status     SlotStatus
	ReservedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (s Slot) StartsAt() time.Time {
	return CombineUTC(s.Date, s.Time)
}

func (s Slot) Key() SlotKey {
	return SlotKey{Date: s.Date, Time: s.Time, ID: s.ID}
}

// SlotKey is the ordering key of a slot within one doctor's calendar. A
// cancelled slot and its re-created twin share date and time, so ID breaks
// the tie.
type SlotKey struct {
	Date time.Time
	Time ClockTime
	ID   uuid.UUID
}

func (k SlotKey) IsZero() bool {
	return k.Date.IsZero()
}

func (k SlotKey) Less(o SlotKey) bool {
	if !k.Date.Equal(o.Date) {
		return k.Date.Before(o.Date)
	}
	if k.Time != o.Time {
		return k.Time.Before(o.Time)
	}
	return bytes.Compare(k.ID[:], o.ID[:]) < 0
}

type Appointment struct {
	ID            uuid.UUID
	DoctorID      string
	PatientID     string
	SlotID        uuid.UUID
	ScheduledAt   time.Time
	Status        AppointmentStatus
	MeetingLink   *string
	IssueAttempts int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	SlotID        *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// DaySlots is one calendar date of a doctor's slot listing.
type DaySlots struct {
	Date  time.Time
	Slots []Slot
}
