package pitch

import (
	"fmt"
	"strconv"
	"strings"
)

// Parse builds a Func from a textual description:
//
//	1.5                    constant
//	constant:1.5
//	linear:1,2,10          start, end, duration
//	oscillate:1,0.05,4     base, amplitude, hz
//	steps:2:1,1.5,2        step duration, then values
func Parse(s string) (Func, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Constant(1), nil
	}

	kind, args, found := strings.Cut(s, ":")
	if !found {
		v, err := strconv.ParseFloat(kind, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid pitch %q: %w", s, err)
		}
		return Constant(float32(v)), nil
	}

	switch strings.ToLower(kind) {
	case "constant":
		vals, err := parseFloats(args, 1)
		if err != nil {
			return nil, err
		}
		return Constant(float32(vals[0])), nil
	case "linear":
		vals, err := parseFloats(args, 3)
		if err != nil {
			return nil, err
		}
		return Linear(float32(vals[0]), float32(vals[1]), vals[2]), nil
	case "oscillate":
		vals, err := parseFloats(args, 3)
		if err != nil {
			return nil, err
		}
		return Oscillate(float32(vals[0]), float32(vals[1]), vals[2]), nil
	case "steps":
		durStr, rest, ok := strings.Cut(args, ":")
		if !ok {
			return nil, fmt.Errorf("steps pitch needs duration:values, got %q", args)
		}
		dur, err := strconv.ParseFloat(strings.TrimSpace(durStr), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid step duration %q: %w", durStr, err)
		}
		vals, err := parseFloats(rest, -1)
		if err != nil {
			return nil, err
		}
		steps := make([]float32, len(vals))
		for i, v := range vals {
			steps[i] = float32(v)
		}
		return Steps(steps, dur), nil
	default:
		return nil, fmt.Errorf("unknown pitch function %q", kind)
	}
}

// parseFloats parses a comma separated list. want < 0 accepts any non-zero count.
func parseFloats(s string, want int) ([]float64, error) {
	var out []float64
	for part := range strings.SplitSeq(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", part, err)
		}
		out = append(out, v)
	}
	if want >= 0 && len(out) != want {
		return nil, fmt.Errorf("expected %d values, got %d", want, len(out))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no values in %q", s)
	}
	return out, nil
}
