package behavior

import (
	"encoding/json"
	"math"
)

// MaxPathPoints bounds the work done on a submitted interaction path.
const MaxPathPoints = 512

// Point is one sample of an interaction path.
type Point struct {
	X, Y float64
	T    float64
}

// Telemetry is the decoded client meta map. Pointer fields distinguish an
// omitted signal from a zero one.
type Telemetry struct {
	Version      int
	LatencyMS    *float64
	Entropy      *float64
	Hesitations  *float64
	Reselections *float64
	Path         []Point
}

// Empty reports whether no usable signal was supplied.
func (t Telemetry) Empty() bool {
	return t.LatencyMS == nil && t.Entropy == nil && t.Hesitations == nil &&
		t.Reselections == nil && len(t.Path) == 0
}

// ParseMeta decodes the open meta map. Unknown keys are ignored and values of
// the wrong type are treated as absent.
func ParseMeta(meta map[string]any) Telemetry {
	var t Telemetry
	if len(meta) == 0 {
		return t
	}

	if v, ok := number(meta["v"]); ok {
		t.Version = int(v)
	}
	if v, ok := number(meta["time_ms"]); ok {
		t.LatencyMS = &v
	} else if v, ok := number(meta["latency_ms"]); ok {
		t.LatencyMS = &v
	}
	if v, ok := number(meta["entropy"]); ok {
		t.Entropy = &v
	}
	if v, ok := number(meta["hesitations"]); ok {
		t.Hesitations = &v
	}
	if v, ok := number(meta["reselections"]); ok {
		t.Reselections = &v
	}

	if raw, ok := meta["path"].([]any); ok {
		if len(raw) > MaxPathPoints {
			raw = raw[:MaxPathPoints]
		}
		t.Path = make([]Point, 0, len(raw))
		for _, item := range raw {
			if p, ok := point(item); ok {
				t.Path = append(t.Path, p)
			}
		}
	}

	return t
}

func point(v any) (Point, bool) {
	switch p := v.(type) {
	case map[string]any:
		x, okX := number(p["x"])
		y, okY := number(p["y"])
		if !okX || !okY {
			return Point{}, false
		}
		ts, _ := number(p["t"])
		return Point{X: x, Y: y, T: ts}, true
	case []any:
		if len(p) < 2 {
			return Point{}, false
		}
		x, okX := number(p[0])
		y, okY := number(p[1])
		if !okX || !okY {
			return Point{}, false
		}
		var ts float64
		if len(p) > 2 {
			ts, _ = number(p[2])
		}
		return Point{X: x, Y: y, T: ts}, true
	default:
		return Point{}, false
	}
}

func number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
