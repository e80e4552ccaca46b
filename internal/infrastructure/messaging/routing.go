package messaging

import "strings"

// topicMatch reports whether an AMQP topic binding pattern matches key.
// "*" matches exactly one word, "#" matches zero or more.
func topicMatch(pattern, key string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchWords(pattern, key []string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case "#":
			if len(pattern) == 1 {
				return true
			}
			for i := 0; i <= len(key); i++ {
				if matchWords(pattern[1:], key[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(key) == 0 {
				return false
			}
		default:
			if len(key) == 0 || pattern[0] != key[0] {
				return false
			}
		}
		pattern, key = pattern[1:], key[1:]
	}
	return len(key) == 0
}

func routes(kind, pattern, key string) bool {
	switch kind {
	case ExchangeFanout:
		return true
	case ExchangeTopic:
		return topicMatch(pattern, key)
	default:
		return pattern == key
	}
}
