package store

import (
	"fmt"
	"sort"
	"strings"
)

// Apply filters, sorts and limits records according to q. It is shared by
// the stores that evaluate queries client-side.
func Apply(records []Record, q Query) []Record {
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		if matches(rec, q.Filter) {
			out = append(out, rec)
		}
	}

	if field, desc := parseSort(q.Sort); field != "" {
		sort.SliceStable(out, func(i, j int) bool {
			c := compareValues(out[i][field], out[j][field])
			if desc {
				return c > 0
			}
			return c < 0
		})
	}

	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	return out
}

func matches(rec Record, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := rec[k]
		if want == nil {
			if ok && got != nil {
				return false
			}
			continue
		}
		if !ok || got == nil || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func parseSort(s string) (field string, desc bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "-") {
		return s[1:], true
	}
	return strings.TrimPrefix(s, "+"), false
}

// compareValues orders nil first, numbers numerically and everything else
// by its string form.
func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum && bNum {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}
