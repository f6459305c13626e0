package session

import "strings"

var headlessMarkers = []string{"Headless", "headless"}

// NormalizeUserAgent strips the first headless marker found from ua.
// The bool reports whether anything changed.
func NormalizeUserAgent(ua string) (string, bool) {
	for _, marker := range headlessMarkers {
		if strings.Contains(ua, marker) {
			return strings.ReplaceAll(ua, marker, ""), true
		}
	}
	return ua, false
}
