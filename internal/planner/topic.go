package planner

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Topic length bounds, in Unicode code points after trimming.
const (
	MinTopicLength = 2
	MaxTopicLength = 100
)

var (
	// ErrTopicMissing is returned when no topic string was supplied.
	ErrTopicMissing = errors.New("please provide a valid study topic")
	// ErrTopicLength is returned when the trimmed topic is out of bounds.
	ErrTopicLength = fmt.Errorf("topic must be between %d and %d characters", MinTopicLength, MaxTopicLength)
)

// NormalizeTopic trims raw and checks its length.
func NormalizeTopic(raw string) (string, error) {
	topic := strings.TrimSpace(raw)
	if topic == "" && raw == "" {
		return "", ErrTopicMissing
	}
	n := utf8.RuneCountInString(topic)
	if n < MinTopicLength || n > MaxTopicLength {
		return "", ErrTopicLength
	}
	return topic, nil
}
