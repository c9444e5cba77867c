package types

import (
	"fmt"
	"time"
)

// DurationSeconds is a time.Duration that (de)serializes as a plain number
// of seconds in YAML/JSON, so operators can write `failure_timeout: 60`
// instead of a Go duration literal.
type DurationSeconds time.Duration

// Duration returns the value as a time.Duration.
func (d DurationSeconds) Duration() time.Duration {
	return time.Duration(d)
}

func (d DurationSeconds) MarshalYAML() (interface{}, error) {
	return time.Duration(d).Seconds(), nil
}

func (d *DurationSeconds) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var secs float64
	if err := unmarshal(&secs); err == nil {
		*d = DurationSeconds(time.Duration(secs * float64(time.Second)))
		return nil
	}
	var s string
	if err := unmarshal(&s); err != nil {
		return fmt.Errorf("duration: expected a number of seconds or a duration string: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	*d = DurationSeconds(parsed)
	return nil
}
