// Package chat is the conversation core: presence, directory, timeline
// reconciliation, composing and notifications for one local participant.
package chat

import (
	"sort"
	"strings"
)

// KeySeparator joins the two participant ids of a conversation key.
// Participant ids are UUIDs and never contain it.
const KeySeparator = "_"

// ConversationKey returns the channel key shared by a and b. The result
// does not depend on argument order.
func ConversationKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, KeySeparator)
}

// Participants splits a conversation key back into its two ids.
func Participants(key string) (a, b string, ok bool) {
	a, b, ok = strings.Cut(key, KeySeparator)
	if !ok || a == "" || b == "" || strings.Contains(b, KeySeparator) {
		return "", "", false
	}
	return a, b, true
}

// HasParticipant reports whether id is one of the two parties of key.
func HasParticipant(key, id string) bool {
	a, b, ok := Participants(key)
	return ok && (a == id || b == id)
}
