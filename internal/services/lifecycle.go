package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/models"
)

type AssignmentEvent string

const (
	EventAccept   AssignmentEvent = "accept"
	EventDecline  AssignmentEvent = "decline"
	EventComplete AssignmentEvent = "complete"
	EventApprove  AssignmentEvent = "approve"
	EventReject   AssignmentEvent = "reject"
)

var assignmentTransitions = map[string]map[AssignmentEvent]string{
	models.AssignmentAssigned: {
		EventAccept:  models.AssignmentAccepted,
		EventDecline: models.AssignmentDeclined,
	},
	models.AssignmentAccepted: {
		EventComplete: models.AssignmentPhotoPending,
	},
	models.AssignmentPhotoPending: {
		EventApprove: models.AssignmentApproved,
		EventReject:  models.AssignmentRejected,
	},
}

// NextAssignmentStatus returns the status an assignment moves to when ev
// happens in state current. Declined, approved and rejected are terminal.
func NextAssignmentStatus(current string, ev AssignmentEvent) (string, error) {
	next, ok := assignmentTransitions[current][ev]
	if !ok {
		return "", fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, current)
	}
	return next, nil
}

func IsTerminalAssignment(status string) bool {
	_, ok := assignmentTransitions[status]
	return !ok
}

// ParseClock parses an "HH:MM" time of day into minutes since midnight.
func ParseClock(s string) (int, error) {
	h, m, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("%w: time %q", ErrInvalidInput, s)
	}
	hh, err := strconv.Atoi(h)
	if err != nil || hh < 0 || hh > 23 {
		return 0, fmt.Errorf("%w: hour %q", ErrInvalidInput, h)
	}
	mm, err := strconv.Atoi(m)
	if err != nil || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("%w: minute %q", ErrInvalidInput, m)
	}
	return hh*60 + mm, nil
}

func FormatHour(hour int) string {
	return fmt.Sprintf("%02d:00", hour)
}

// DateOnly truncates t to a calendar date stored as midnight UTC, which is
// how deadline dates are persisted.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// TaskExpired reports whether now is past the task's deadline: either the
// calendar date in now's location is after the deadline date, or it is the
// deadline date and the clock is past the end time.
func TaskExpired(task *models.Task, now time.Time) bool {
	today := DateOnly(now)
	deadline := DateOnly(task.DeadlineDate)
	if today.After(deadline) {
		return true
	}
	if today.Before(deadline) {
		return false
	}
	end, err := ParseClock(task.EndTime)
	if err != nil {
		return false
	}
	return now.Hour()*3600+now.Minute()*60+now.Second() > end*60
}
