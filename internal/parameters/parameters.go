// Package parameters handles the configuration string given to the GA3C network and tools:
// a flat map of "key=value" pairs, e.g. "rnn,cells=128,learning_rate=3e-4".
//
// Values are parsed lazily and typed by the default value given by the caller, so each
// component declares its own keys and defaults.
package parameters

import (
	"github.com/pkg/errors"
	"slices"
	"strconv"
	"strings"
)

// Params represent generic configuration parameters.
type Params map[string]string

// Value types supported by GetParamOr and PopParamOr.
type Value interface {
	bool | int | int64 | float32 | float64 | string
}

// NewFromConfigString create params from user's configuration string.
// Empty entries are ignored, and a key without "=" is stored with an empty value, which
// parses as true for booleans.
func NewFromConfigString(config string) Params {
	params := make(Params)
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		params[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return params
}

// Clone returns a shallow copy, so that popping parameters doesn't affect the original.
func (p Params) Clone() Params {
	clone := make(Params, len(p))
	for key, value := range p {
		clone[key] = value
	}
	return clone
}

// CheckAllUsed returns an error listing the keys still in params: used after all components
// popped their parameters, to catch typos in the configuration.
func (p Params) CheckAllUsed() error {
	if len(p) == 0 {
		return nil
	}
	keys := make([]string, 0, len(p))
	for key := range p {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return errors.Errorf("unknown configuration parameter(s): %q", keys)
}

// PopParamOr is like GetParamOr, but it also deletes from the params map the retrieved parameter.
func PopParamOr[T Value](params Params, key string, defaultValue T) (T, error) {
	value, err := GetParamOr(params, key, defaultValue)
	if err != nil {
		return value, err
	}
	delete(params, key)
	return value, nil
}

// GetParamOr attempts to parse a parameter to the type of defaultValue if the key is present,
// or returns the defaultValue if not.
//
// For bool types, a key without a value is interpreted as true.
func GetParamOr[T Value](params Params, key string, defaultValue T) (T, error) {
	value, found := params[key]
	if !found {
		return defaultValue, nil
	}
	parsed, err := parse(value, any(defaultValue))
	if err != nil {
		return defaultValue, errors.WithMessagef(err, "failed to parse configuration %s=%q as %T", key, value, defaultValue)
	}
	return parsed.(T), nil
}

// parse value to the same type as typeOf.
func parse(value string, typeOf any) (any, error) {
	switch typeOf.(type) {
	case string:
		return value, nil
	case bool:
		switch strings.ToLower(value) {
		case "", "true", "1", "yes":
			return true, nil
		case "false", "0", "no":
			return false, nil
		}
		return nil, errors.New("invalid bool")
	}
	if value == "" {
		return nil, errors.New("missing value")
	}
	switch typeOf.(type) {
	case int:
		return strconv.Atoi(value)
	case int64:
		return strconv.ParseInt(value, 10, 64)
	case float32:
		f, err := strconv.ParseFloat(value, 32)
		return float32(f), err
	case float64:
		return strconv.ParseFloat(value, 64)
	}
	return nil, errors.Errorf("unsupported parameter type %T", typeOf)
}
