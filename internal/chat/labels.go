package chat

import (
	"time"

	"github.com/midlaj1055/live-chat/internal/models"
)

const (
	clockLayout = "3:04 PM"
	dateLayout  = "02-01-2006"
)

// Clock returns the current time. Components take one so tests can pin "now".
type Clock func() time.Time

// daysBetween counts calendar days from t to now in loc; 0 is the same day.
func daysBetween(t, now time.Time, loc *time.Location) int {
	ty, tm, td := t.In(loc).Date()
	ny, nm, nd := now.In(loc).Date()
	from := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	to := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	return int(to.Sub(from).Hours() / 24)
}

// FormatClock renders the wall-clock time of t, e.g. "3:04 PM".
func FormatClock(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(clockLayout)
}

// DayLabel is the date divider label of an instant: "Today", "Yesterday"
// or DD-MM-YYYY. A zero instant has no label.
func DayLabel(t, now time.Time, loc *time.Location) string {
	if t.IsZero() {
		return ""
	}
	switch daysBetween(t, now, loc) {
	case 0:
		return "Today"
	case 1:
		return "Yesterday"
	default:
		return t.In(loc).Format(dateLayout)
	}
}

// LastSeenPhrase renders a participant's presence for the directory.
func LastSeenPhrase(online bool, lastSeen *time.Time, now time.Time, loc *time.Location) string {
	if online {
		return "Active now"
	}
	if lastSeen == nil || lastSeen.IsZero() {
		return "last seen recently"
	}
	clock := FormatClock(*lastSeen, loc)
	switch daysBetween(*lastSeen, now, loc) {
	case 0:
		return "last seen today at " + clock
	case 1:
		return "last seen yesterday at " + clock
	default:
		return "last seen " + lastSeen.In(loc).Format(dateLayout) + " at " + clock
	}
}

// ParticipantStatus is LastSeenPhrase for a directory record.
func ParticipantStatus(p models.Participant, now time.Time, loc *time.Location) string {
	return LastSeenPhrase(p.Online, p.LastSeen, now, loc)
}
