package bus

import "path/filepath"

// MatchesEventPattern reports whether eventType matches a glob pattern
// such as "task_*" or "*_failed". Supports the same glob vocabulary as
// the coordination store's pattern subscriptions so callers can filter
// within a single decoded Envelope stream by event name rather than by
// whole channel.
func MatchesEventPattern(eventType EventType, pattern string) bool {
	matched, err := filepath.Match(pattern, string(eventType))
	if err != nil {
		return false
	}
	return matched
}
