package mapper

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Layouts accepted for ISO-8601 timestamps. Zone-less layouts are read as UTC.
var (
	zonedLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999999Z0700",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02T15:04Z07:00",
	}
	naiveLayouts = []string{
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02T15:04",
		"2006-01-02",
	}
)

// epochMillisThreshold separates epoch seconds from epoch milliseconds.
const epochMillisThreshold = 1e12

// ScalarString renders a JSON scalar as a string. Containers and nil give "".
func ScalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

// ParseTimestamp interprets a create_time value. Strings are ISO-8601;
// numbers are Unix seconds, or milliseconds when larger than 1e12. An
// absent or empty value yields nil without error. The result is in UTC.
func ParseTimestamp(v any) (*time.Time, error) {
	var t time.Time
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		if strings.TrimSpace(x) == "" {
			return nil, nil
		}
		parsed, err := parseISO(x)
		if err != nil {
			return nil, err
		}
		t = parsed
	case time.Time:
		t = x
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("parse create_time %q: %w", x, err)
		}
		t = fromEpoch(f)
	case float64:
		t = fromEpoch(x)
	case int:
		t = fromEpoch(float64(x))
	case int32:
		t = fromEpoch(float64(x))
	case int64:
		t = fromEpoch(float64(x))
	default:
		return nil, fmt.Errorf("unsupported create_time type %T", v)
	}
	t = t.UTC()
	return &t, nil
}

func parseISO(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse create_time %q: not an ISO-8601 timestamp", s)
}

func fromEpoch(f float64) time.Time {
	if math.Abs(f) > epochMillisThreshold {
		return time.UnixMilli(int64(f))
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// NormalizeReferList coerces a refer_list payload into a list of message ids.
// A lone value becomes a one-element list; objects contribute their
// message_id; nils and empty values are dropped.
func NormalizeReferList(v any) []string {
	out := []string{}
	switch t := v.(type) {
	case nil:
		return out
	case []string:
		for _, s := range t {
			if s != "" {
				out = append(out, s)
			}
		}
		return out
	case map[string]any:
		if id := ScalarString(t["message_id"]); id != "" {
			out = append(out, id)
		}
		return out
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		for i := 0; i < rv.Len(); i++ {
			out = append(out, NormalizeReferList(rv.Index(i).Interface())...)
		}
		return out
	}

	if s := ScalarString(v); s != "" {
		out = append(out, s)
	}
	return out
}
