// Package profile holds traffic-profile parameters and the parsers for the
// human-entered parts of them (rates and IMIX frame-size maps).
package profile

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/c2h5oh/datasize"
)

// RateUnit is the unit of a flow rate
type RateUnit string

const (
	RateFPS     RateUnit = "fps"
	RatePercent RateUnit = "%"
)

var rateRe = regexp.MustCompile(`^\s*(\d+(?:\.\d*)?|\.\d+)\s*(fps|%)?\s*$`)

// RateParseError is returned for rate strings that do not match <number>[fps|%]
type RateParseError struct {
	Rate string
}

func (e *RateParseError) Error() string {
	return fmt.Sprintf("failed to parse rate %q", e.Rate)
}

// ParseRate splits "100", "300.8fps" or "50.3 %" into value and unit.
// A missing unit means frames per second.
func ParseRate(s string) (float64, RateUnit, error) {
	m := rateRe.FindStringSubmatch(s)
	if m == nil {
		return 0, "", &RateParseError{Rate: s}
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, "", &RateParseError{Rate: s}
	}
	unit := RateFPS
	if m[2] == string(RatePercent) {
		unit = RatePercent
	}
	return v, unit, nil
}

// WeightedRangePair is a [low, high, weight] frame-size bucket
type WeightedRangePair [3]int

// ParseFrameSize converts {"64B": 100, "512B": 5} into weighted range pairs.
// Zero-weight entries are dropped; the result is ordered by size.
func ParseFrameSize(sizes map[string]int) ([]WeightedRangePair, error) {
	var out []WeightedRangePair
	for token, weight := range sizes {
		if weight == 0 {
			continue
		}
		if weight < 0 {
			return nil, fmt.Errorf("frame size %s: negative weight %d", token, weight)
		}
		bs, err := datasize.ParseString(token)
		if err != nil {
			return nil, fmt.Errorf("frame size %q: %w", token, err)
		}
		size := int(bs.Bytes())
		out = append(out, WeightedRangePair{size, size, weight})
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out, nil
}
