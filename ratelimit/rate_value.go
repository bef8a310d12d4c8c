/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RateValue is a number of requests per window, written as "N/(s|m|h)" or "N/<duration>" (e.g. 100/m, 10/30s).
type RateValue struct {
	Count    int
	Duration time.Duration
}

// String returns a string representation of the rate value.
// Implements fmt.Stringer interface.
func (rv RateValue) String() string {
	if rv.Duration == 0 && rv.Count == 0 {
		return ""
	}
	var d string
	switch rv.Duration {
	case time.Second:
		d = "s"
	case time.Minute:
		d = "m"
	case time.Hour:
		d = "h"
	default:
		d = rv.Duration.String()
	}
	return fmt.Sprintf("%d/%s", rv.Count, d)
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (rv *RateValue) UnmarshalText(text []byte) error {
	return rv.unmarshal(string(text))
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (rv *RateValue) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return err
	}
	return rv.unmarshal(text)
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (rv *RateValue) UnmarshalYAML(value *yaml.Node) error {
	var text string
	if err := value.Decode(&text); err != nil {
		return err
	}
	return rv.unmarshal(text)
}

func (rv *RateValue) unmarshal(rate string) error {
	rate = strings.TrimSpace(rate)
	if rate == "" {
		*rv = RateValue{}
		return nil
	}
	incorrectFormatErr := fmt.Errorf(
		"incorrect format for rate %q, should be N/(s|m|h) or N/<duration>, for example 10/s, 100/m, 20/30s", rate)
	countStr, durStr, found := strings.Cut(rate, "/")
	if !found {
		return incorrectFormatErr
	}
	count, err := strconv.Atoi(strings.TrimSpace(countStr))
	if err != nil || count <= 0 {
		return incorrectFormatErr
	}
	var dur time.Duration
	switch durStr = strings.ToLower(strings.TrimSpace(durStr)); durStr {
	case "s":
		dur = time.Second
	case "m":
		dur = time.Minute
	case "h":
		dur = time.Hour
	default:
		if dur, err = time.ParseDuration(durStr); err != nil || dur <= 0 {
			return incorrectFormatErr
		}
	}
	*rv = RateValue{Count: count, Duration: dur}
	return nil
}

// MarshalText implements the encoding.TextMarshaler interface.
func (rv RateValue) MarshalText() ([]byte, error) {
	return []byte(rv.String()), nil
}

// MarshalJSON implements the json.Marshaler interface.
func (rv RateValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(rv.String())
}

// MarshalYAML implements the yaml.Marshaler interface.
func (rv RateValue) MarshalYAML() (interface{}, error) {
	return rv.String(), nil
}
