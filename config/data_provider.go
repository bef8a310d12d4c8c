/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cast"
)

// DataType is a type of data format in which configuration may be described.
type DataType string

// Supported data formats.
const (
	DataTypeYAML DataType = "yaml"
	DataTypeJSON DataType = "json"
)

// DataProvider is an interface for providing configuration data
// from different sources (files, reader, environment variables).
type DataProvider interface {
	UseEnvVars(prefix string)

	Set(key string, value interface{})
	SetDefault(key string, value interface{})

	SetFromFile(path string, dataType DataType) error
	SetFromReader(reader io.Reader, dataType DataType) error

	IsSet(key string) bool

	Get(key string) interface{}
	GetBool(key string) (bool, error)
	GetInt(key string) (int, error)
	GetString(key string) (string, error)
	GetStringFromSet(key string, set []string, ignoreCase bool) (string, error)
	GetStringSlice(key string) ([]string, error)
	GetDuration(key string) (time.Duration, error)
	GetByteSize(key string) (ByteSize, error)

	Unmarshal(rawVal interface{}, opts ...DecoderConfigOption) error
	UnmarshalKey(key string, rawVal interface{}, opts ...DecoderConfigOption) error

	WrapKeyErr(key string, err error) error
}

// A DecoderConfigOption can be passed to UnmarshalKey to configure
// mapstructure.DecoderConfig options
type DecoderConfigOption func(*mapstructure.DecoderConfig)

// WithDecodeHook returns a DecoderConfigOption that makes mapstructure understand
// durations, types implementing encoding.TextUnmarshaler (e.g. TimeDuration, ByteSize)
// and trims spaces in string slices.
func WithDecodeHook() DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.DecodeHook = MapstructureDecodeHook()
	}
}

// MapstructureDecodeHook returns a DecodeHookFunc for mapstructure to handle custom types.
func MapstructureDecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		secondsToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
		trimSpaceStringsHookFunc(),
	)
}

// secondsToTimeDurationHookFunc treats numbers decoded into TimeDuration as seconds.
func secondsToTimeDurationHookFunc() mapstructure.DecodeHookFuncType {
	timeDurationType := reflect.TypeOf(TimeDuration(0))
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if t != timeDurationType || f == timeDurationType {
			return data, nil
		}
		switch f.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
			reflect.Float32, reflect.Float64:
			secs, err := cast.ToFloat64E(data)
			if err != nil {
				return nil, err
			}
			if secs < 0 {
				return nil, fmt.Errorf("negative duration is not allowed: %v", data)
			}
			return TimeDuration(secs * float64(time.Second)), nil
		}
		return data, nil
	}
}

func trimSpaceStringsHookFunc() mapstructure.DecodeHookFunc {
	return func(f reflect.Kind, t reflect.Kind, data interface{}) (interface{}, error) {
		if f != reflect.Slice || t != reflect.Slice {
			return data, nil
		}
		switch items := data.(type) {
		case []string:
			res := make([]string, 0, len(items))
			for _, s := range items {
				res = append(res, strings.TrimSpace(s))
			}
			return res, nil
		case []interface{}:
			res := make([]interface{}, 0, len(items))
			for _, item := range items {
				if s, ok := item.(string); ok {
					item = strings.TrimSpace(s)
				}
				res = append(res, item)
			}
			return res, nil
		}
		return data, nil
	}
}

// WrapKeyErrIfNeeded wraps error adding information about a key where this error occurs.
// If error is nil, it does nothing.
func WrapKeyErrIfNeeded(key string, err error) error {
	if err == nil {
		return nil
	}
	return WrapKeyErr(key, err)
}

// WrapKeyErr wraps error adding information about a key where this error occurs.
func WrapKeyErr(key string, err error) error {
	return fmt.Errorf("%s: %w", key, err)
}
