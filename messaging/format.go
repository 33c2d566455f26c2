package messaging

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/dhamidi/skillswap/store"
)

// UnknownUser is shown for identities without a profile.
const UnknownUser = "Unknown User"

// DisplayName returns "First Last", falling back to the username.
func DisplayName(p *Profile) string {
	if p == nil {
		return UnknownUser
	}
	if name := strings.TrimSpace(p.FirstName + " " + p.LastName); name != "" {
		return name
	}
	if p.Username != "" {
		return p.Username
	}
	return UnknownUser
}

// Initials returns up to two upper-case initials of the display name.
func Initials(p *Profile) string {
	var initials []rune
	for _, word := range strings.Fields(DisplayName(p)) {
		r, _ := utf8.DecodeRuneInString(word)
		initials = append(initials, unicode.ToUpper(r))
		if len(initials) == 2 {
			break
		}
	}
	return string(initials)
}

// FormatRelative renders t relative to now: "Just now", "5 min ago",
// "2 hours ago", "3 days ago", and a plain date for anything older than a week.
func FormatRelative(t, now time.Time) string {
	d := now.Sub(t)
	mins := int(d / time.Minute)
	hours := int(d / time.Hour)
	days := int(d / (24 * time.Hour))
	switch {
	case mins < 1:
		return "Just now"
	case mins < 60:
		return fmt.Sprintf("%d min ago", mins)
	case hours < 24:
		return plural(hours, "hour") + " ago"
	case days < 7:
		return plural(days, "day") + " ago"
	}
	return t.Local().Format("2006-01-02")
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// UserMessage turns an error from this package into a message for the user.
// Stale view errors are not meant to be shown and yield "".
func UserMessage(err error) string {
	var invalid *InvalidContentError
	var constraint *store.ConstraintError
	switch {
	case err == nil, errors.Is(err, ErrStaleView):
		return ""
	case errors.As(err, &invalid):
		return invalid.Reason
	case errors.Is(err, ErrUnauthenticated):
		return "Please sign in to continue"
	case errors.Is(err, ErrUnauthorized):
		return "You are not a participant in this conversation"
	case errors.Is(err, ErrInvalidParticipant):
		return "You cannot message yourself"
	case errors.Is(err, ErrSendInFlight):
		return "A message is already being sent"
	case errors.Is(err, ErrNoThread):
		return "Select a conversation first"
	case errors.Is(err, ErrCreateFailed):
		return "Could not start the conversation. Please try again."
	case errors.As(err, &constraint):
		switch constraint.Constraint {
		case store.ConstraintUnique:
			return "This conversation already exists"
		case store.ConstraintCheck:
			return "Message content is invalid"
		}
		return "Invalid user or conversation reference"
	case errors.Is(err, ErrNotFound):
		return "No data found"
	case errors.Is(err, ErrTransientStore):
		return "An error occurred. Please try again."
	}
	return "An unexpected error occurred"
}
