// Package prompt assembles the system prompt handed to the agent.
package prompt

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // zone lookups must work in minimal containers
)

// TimeLayout is how the caller's local time is rendered.
const TimeLayout = "2006-01-02 15:04 (Monday) MST"

// Context carries the optional per-request values that add fragments to the
// base instruction.
type Context struct {
	CurrentDateTime   string // ISO-8601, UTC
	Timezone          string // IANA name, UTC when empty
	GraphAccessToken  string
	UserEmail         string
	UserPrincipalName string
}

// Build concatenates the base instruction with the fragments that apply.
// It never fails: fields that are missing or unusable drop their fragment.
func Build(base string, c Context) string {
	fragments := []string{strings.TrimSpace(base)}

	if local, ok := LocalTime(c.CurrentDateTime, c.Timezone); ok {
		fragments = append(fragments, fmt.Sprintf(
			"The user's current local date and time is %s. Interpret relative dates such as \"today\" or \"tomorrow\" in this timezone.",
			local))
	}

	if identity := c.identity(); c.GraphAccessToken != "" && identity != "" {
		fragments = append(fragments, fmt.Sprintf(
			"When calling calendar tools (get_calendar, get_busy_slots, create_event), always pass accessToken=%q and userEmail=%q.",
			c.GraphAccessToken, identity))
	}

	var b strings.Builder
	for _, f := range fragments {
		if f == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(f)
	}
	return b.String()
}

// LocalTime converts an ISO-8601 timestamp into the named zone and formats
// it with TimeLayout.
func LocalTime(timestamp, zone string) (string, bool) {
	timestamp = strings.TrimSpace(timestamp)
	if timestamp == "" {
		return "", false
	}

	t, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return "", false
	}

	loc := time.UTC
	if zone = strings.TrimSpace(zone); zone != "" {
		loc, err = time.LoadLocation(zone)
		if err != nil {
			return "", false
		}
	}

	return t.In(loc).Format(TimeLayout), true
}

func (c Context) identity() string {
	if c.UserEmail != "" {
		return c.UserEmail
	}
	return c.UserPrincipalName
}
