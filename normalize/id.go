package normalize

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"docbridge/domain"
)

// IDStrategy tries to find a job identifier in an unwrapped payload.
type IDStrategy func(v any) (domain.JobID, bool)

// IDStrategies are tried in order by ExtractID.
var IDStrategies = []IDStrategy{
	directNumber,
	numericString,
	idField,
	numericOutput,
	firstDigitRun,
}

var digitRun = regexp.MustCompile(`\d+`)

// ExtractID returns the job identifier carried by raw. The boolean is false when none is
// found; the returned id is then invalid, never a silent zero.
func ExtractID(raw any) (domain.JobID, bool) {
	v := Unwrap(raw, PayloadDepth)
	for _, s := range IDStrategies {
		if id, ok := s(v); ok {
			return id, true
		}
	}
	return domain.JobID{}, false
}

func directNumber(v any) (domain.JobID, bool) {
	switch t := v.(type) {
	case json.Number:
		return fromNumberString(t.String())
	case float64:
		return fromFloat(t)
	case int:
		return domain.NewJobID(int64(t)), true
	case int64:
		return domain.NewJobID(t), true
	}
	return domain.JobID{}, false
}

func numericString(v any) (domain.JobID, bool) {
	s, ok := v.(string)
	if !ok {
		return domain.JobID{}, false
	}
	return fromNumberString(strings.TrimSpace(s))
}

func idField(v any) (domain.JobID, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return domain.JobID{}, false
	}
	for _, k := range []string{"id", "ID", "Id"} {
		f, ok := m[k]
		if !ok || f == nil {
			continue
		}
		if id, ok := directNumber(f); ok {
			return id, true
		}
		if id, ok := numericString(f); ok {
			return id, true
		}
	}
	return domain.JobID{}, false
}

func numericOutput(v any) (domain.JobID, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return domain.JobID{}, false
	}
	out := Unwrap(m["output"], FieldDepth)
	if id, ok := directNumber(out); ok {
		return id, true
	}
	return numericString(out)
}

func firstDigitRun(v any) (domain.JobID, bool) {
	s, ok := v.(string)
	if !ok {
		b, err := json.Marshal(v)
		if err != nil {
			return domain.JobID{}, false
		}
		s = string(b)
	}
	m := digitRun.FindString(s)
	if m == "" {
		return domain.JobID{}, false
	}
	return fromNumberString(m)
}

func fromNumberString(s string) (domain.JobID, bool) {
	if s == "" {
		return domain.JobID{}, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return domain.NewJobID(n), true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return domain.JobID{}, false
	}
	return fromFloat(f)
}

// fromFloat accepts only integral, finite values.
func fromFloat(f float64) (domain.JobID, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) > math.MaxInt64 {
		return domain.JobID{}, false
	}
	return domain.NewJobID(int64(f)), true
}
