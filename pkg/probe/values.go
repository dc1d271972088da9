package probe

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultMaxValues caps every candidate set.
const DefaultMaxValues = 500

var (
	ErrInvalidRange = errors.New("invalid value range")
	ErrNoValues     = errors.New("no values to probe")
	ErrInvalidProbe = errors.New("invalid probe request")
)

var rangeRe = regexp.MustCompile(`^(\d+)\s*-\s*(\d+)$`)

// ValueSet is an ordered list of candidates. Numeric is set when it came
// from a range, which makes JWT claims numbers instead of strings.
type ValueSet struct {
	Values  []string
	Numeric bool
}

// ParseValues reads "1-100" as an inclusive range and anything else as a
// comma separated list. Repeated list entries are sent once, and values
// beyond max are dropped.
func ParseValues(spec string, max int) (ValueSet, error) {
	if max <= 0 {
		max = DefaultMaxValues
	}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return ValueSet{}, ErrNoValues
	}

	if m := rangeRe.FindStringSubmatch(spec); m != nil {
		start, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return ValueSet{}, fmt.Errorf("%w: %v", ErrInvalidRange, err)
		}
		end, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			return ValueSet{}, fmt.Errorf("%w: %v", ErrInvalidRange, err)
		}
		if start > end {
			return ValueSet{}, fmt.Errorf("%w: start %d is after end %d", ErrInvalidRange, start, end)
		}
		set := ValueSet{Numeric: true}
		for v := start; v <= end && len(set.Values) < max; v++ {
			set.Values = append(set.Values, strconv.FormatInt(v, 10))
		}
		return set, nil
	}

	items := strings.Split(spec, ",")
	for i := range items {
		items[i] = strings.TrimSpace(items[i])
	}
	return List(items, max), nil
}

// List wraps explicit candidates in first-seen order without repeats, capped
// at max.
func List(values []string, max int) ValueSet {
	if max <= 0 {
		max = DefaultMaxValues
	}
	seen := make(map[string]struct{}, len(values))
	var set ValueSet
	for _, v := range values {
		if len(set.Values) == max {
			break
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		set.Values = append(set.Values, v)
	}
	return set
}
