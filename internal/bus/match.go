package bus

import "strings"

// Matches reports whether topic matches an MQTT topic filter. "+" matches a
// single level and a trailing "#" matches any number of remaining levels.
func Matches(filter, topic string) bool {
	if filter == topic {
		return true
	}

	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")

	for i, f := range fs {
		if f == "#" {
			return i == len(fs)-1
		}
		if i >= len(ts) {
			return false
		}
		if f != "+" && f != ts[i] {
			return false
		}
	}
	return len(fs) == len(ts)
}
