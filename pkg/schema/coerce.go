package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// NullMarker is the literal written for absent or unparsable values.
// Views normalize it back to a real NULL at query time.
const NullMarker = `\N`

// DatetimeLayout is the fixed, locale-independent rendering of datetime
// values. Microsecond precision matches the data already in the lake.
const DatetimeLayout = "2006-01-02 15:04:05.000000"

// datetimeParseLayouts are the layouts accepted when coercing textual
// values into datetimes
var datetimeParseLayouts = []string{
	DatetimeLayout,
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02",
}

// FormatValue renders a raw source value in the fixed textual form of
// the given semantic type. A nil value renders as the null marker. An
// unparsable value also renders as the null marker, with malformed set
// so the caller can count the degradation instead of failing the row.
func FormatValue(t FieldType, value interface{}) (rendered string, malformed bool) {
	if value == nil {
		return NullMarker, false
	}
	if b, ok := value.([]byte); ok {
		value = string(b)
	}

	switch t {
	case TypeInteger:
		return formatInteger(value)
	case TypeFloat:
		return formatFloat(value)
	case TypeDatetime:
		return formatDatetime(value)
	case TypeBoolean:
		return formatBoolean(value)
	default:
		return formatString(value), false
	}
}

func formatString(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case time.Time:
		return v.Format(DatetimeLayout)
	default:
		return fmt.Sprint(v)
	}
}

func formatInteger(value interface{}) (string, bool) {
	switch v := value.(type) {
	case int:
		return strconv.FormatInt(int64(v), 10), false
	case int8:
		return strconv.FormatInt(int64(v), 10), false
	case int16:
		return strconv.FormatInt(int64(v), 10), false
	case int32:
		return strconv.FormatInt(int64(v), 10), false
	case int64:
		return strconv.FormatInt(v, 10), false
	case uint8:
		return strconv.FormatUint(uint64(v), 10), false
	case uint16:
		return strconv.FormatUint(uint64(v), 10), false
	case uint32:
		return strconv.FormatUint(uint64(v), 10), false
	case uint64:
		return strconv.FormatUint(v, 10), false
	case float32:
		return integerFromFloat(float64(v))
	case float64:
		return integerFromFloat(v)
	case bool:
		if v {
			return "1", false
		}
		return "0", false
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return strconv.FormatInt(n, 10), false
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return integerFromFloat(f)
		}
		return NullMarker, true
	default:
		return NullMarker, true
	}
}

func integerFromFloat(f float64) (string, bool) {
	if f != math.Trunc(f) || math.IsNaN(f) || math.IsInf(f, 0) {
		return NullMarker, true
	}
	return strconv.FormatInt(int64(f), 10), false
}

func formatFloat(value interface{}) (string, bool) {
	switch v := value.(type) {
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 64), false
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), false
	case int:
		return strconv.FormatInt(int64(v), 10), false
	case int32:
		return strconv.FormatInt(int64(v), 10), false
	case int64:
		return strconv.FormatInt(v, 10), false
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return NullMarker, true
		}
		return strconv.FormatFloat(f, 'g', -1, 64), false
	default:
		return NullMarker, true
	}
}

func formatDatetime(value interface{}) (string, bool) {
	switch v := value.(type) {
	case time.Time:
		return v.Format(DatetimeLayout), false
	case string:
		for _, layout := range datetimeParseLayouts {
			if ts, err := time.Parse(layout, v); err == nil {
				return ts.Format(DatetimeLayout), false
			}
		}
		return NullMarker, true
	default:
		return NullMarker, true
	}
}

func formatBoolean(value interface{}) (string, bool) {
	switch v := value.(type) {
	case bool:
		return strconv.FormatBool(v), false
	case int, int8, int16, int32, int64:
		n, _ := formatInteger(v)
		switch n {
		case "0":
			return "false", false
		case "1":
			return "true", false
		}
		return NullMarker, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return NullMarker, true
		}
		return strconv.FormatBool(b), false
	default:
		return NullMarker, true
	}
}
