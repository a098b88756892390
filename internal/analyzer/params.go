package analyzer

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/agencyhub/api/pkg/domain/shared"
)

// ErrInvalidParams is returned for job input an analyzer cannot use.
// Retrying such a job never helps.
var ErrInvalidParams = shared.NewDomainError("INVALID_ANALYSIS_INPUT", "invalid analysis input", shared.ErrValidation)

func numberParam(params map[string]any, key string) (float64, bool, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch n := v.(type) {
	case float64:
		return n, true, nil
	case float32:
		return float64(n), true, nil
	case int:
		return float64(n), true, nil
	case int64:
		return float64(n), true, nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false, fmt.Errorf("%w: %s must be a number", ErrInvalidParams, key)
		}
		return f, true, nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false, fmt.Errorf("%w: %s must be a number", ErrInvalidParams, key)
		}
		return f, true, nil
	}
	return 0, false, fmt.Errorf("%w: %s must be a number", ErrInvalidParams, key)
}

// intParam reads an integer parameter in [lo, hi], returning def when absent.
func intParam(params map[string]any, key string, def, lo, hi int) (int, error) {
	f, ok, err := numberParam(params, key)
	if err != nil || !ok {
		return def, err
	}
	n := int(f)
	if float64(n) != f || n < lo || n > hi {
		return 0, fmt.Errorf("%w: %s must be an integer between %d and %d", ErrInvalidParams, key, lo, hi)
	}
	return n, nil
}

// floatParam reads a float parameter in [lo, hi], returning def when absent.
func floatParam(params map[string]any, key string, def, lo, hi float64) (float64, error) {
	f, ok, err := numberParam(params, key)
	if err != nil || !ok {
		return def, err
	}
	if f < lo || f > hi {
		return 0, fmt.Errorf("%w: %s must be between %g and %g", ErrInvalidParams, key, lo, hi)
	}
	return f, nil
}

// stringParam reads a string parameter, returning "" when absent.
func stringParam(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}
