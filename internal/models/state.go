package models

import "fmt"

type SelectionState int

const (
	SelectionEmpty SelectionState = iota
	SelectionHourSet
	SelectionMinuteSet
	SelectionComplete
)

func (s SelectionState) String() string {
	switch s {
	case SelectionEmpty:
		return "empty"
	case SelectionHourSet:
		return "hour_set"
	case SelectionMinuteSet:
		return "minute_set"
	case SelectionComplete:
		return "complete"
	}
	return fmt.Sprintf("SelectionState(%d)", int(s))
}

// Slot names the half of a reminder time a button fills.
type Slot int

const (
	SlotHour Slot = iota
	SlotMinute
)

// Selection is a reminder time being picked through a two-select prompt.
// Values are stored zero-padded ("09", "05").
type Selection struct {
	Hour   string
	Minute string
}

func (s *Selection) State() SelectionState {
	switch {
	case s.Hour != "" && s.Minute != "":
		return SelectionComplete
	case s.Hour != "":
		return SelectionHourSet
	case s.Minute != "":
		return SelectionMinuteSet
	}
	return SelectionEmpty
}

// Set overwrites one slot and reports the resulting state.
func (s *Selection) Set(slot Slot, value string) SelectionState {
	if slot == SlotHour {
		s.Hour = value
	} else {
		s.Minute = value
	}
	return s.State()
}

// Clock returns the canonical "HH:MM" once both slots are filled.
func (s *Selection) Clock() (string, bool) {
	if s.State() != SelectionComplete {
		return "", false
	}
	return s.Hour + ":" + s.Minute, true
}
