package core

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// LinkAttributes is the textual attribute profile applied to a point-to-point
// link, e.g. {DataRate: "10Mbps", Delay: "1ms"}.
type LinkAttributes struct {
	DataRate string `json:"data_rate" yaml:"data_rate"`
	Delay    string `json:"delay" yaml:"delay"`
}

// Parse validates both attribute strings.
func (a LinkAttributes) Parse() (DataRate, time.Duration, error) {
	rate, err := ParseDataRate(a.DataRate)
	if err != nil {
		return 0, 0, err
	}
	delay, err := ParseDelay(a.Delay)
	if err != nil {
		return 0, 0, err
	}
	return rate, delay, nil
}

// DataRate is a link capacity in bits per second.
type DataRate uint64

const (
	BitPerSecond  DataRate = 1
	KbitPerSecond          = 1000 * BitPerSecond
	MbitPerSecond          = 1000 * KbitPerSecond
	GbitPerSecond          = 1000 * MbitPerSecond
)

// rateMultipliers maps the magnitude part of a unit to its factor.
var rateMultipliers = map[string]float64{
	"":   1,
	"k":  1e3,
	"K":  1e3,
	"M":  1e6,
	"G":  1e9,
	"Ki": 1024,
	"Mi": 1024 * 1024,
	"Gi": 1024 * 1024 * 1024,
}

// ParseDataRate parses rates such as "10Mbps", "500kb/s", "1.5Gbps",
// "64KiB/s" or a bare number of bits per second. Units ending in "Bps" or
// "B/s" are bytes per second.
func ParseDataRate(s string) (DataRate, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty data rate", ErrInvalidTopologyConfig)
	}

	split := strings.IndexFunc(s, func(r rune) bool {
		return !(r >= '0' && r <= '9') && r != '.'
	})
	number, unit := s, ""
	if split >= 0 {
		number, unit = s[:split], s[split:]
	}

	value, err := strconv.ParseFloat(number, 64)
	if err != nil || value <= 0 || math.IsInf(value, 0) {
		return 0, fmt.Errorf("%w: data rate %q", ErrInvalidTopologyConfig, s)
	}

	bitsPerUnit := 1.0
	switch {
	case unit == "":
	case strings.HasSuffix(unit, "bps"):
		unit = strings.TrimSuffix(unit, "bps")
	case strings.HasSuffix(unit, "b/s"):
		unit = strings.TrimSuffix(unit, "b/s")
	case strings.HasSuffix(unit, "Bps"):
		unit, bitsPerUnit = strings.TrimSuffix(unit, "Bps"), 8
	case strings.HasSuffix(unit, "B/s"):
		unit, bitsPerUnit = strings.TrimSuffix(unit, "B/s"), 8
	default:
		return 0, fmt.Errorf("%w: data rate %q has unknown unit", ErrInvalidTopologyConfig, s)
	}

	mult, ok := rateMultipliers[unit]
	if !ok {
		return 0, fmt.Errorf("%w: data rate %q has unknown unit", ErrInvalidTopologyConfig, s)
	}

	bps := value * mult * bitsPerUnit
	if bps < 1 || bps > math.MaxUint64/2 {
		return 0, fmt.Errorf("%w: data rate %q out of range", ErrInvalidTopologyConfig, s)
	}
	return DataRate(math.Round(bps)), nil
}

// String renders the rate with the largest exact decimal unit.
func (r DataRate) String() string {
	switch {
	case r >= GbitPerSecond && r%GbitPerSecond == 0:
		return fmt.Sprintf("%dGbps", r/GbitPerSecond)
	case r >= MbitPerSecond && r%MbitPerSecond == 0:
		return fmt.Sprintf("%dMbps", r/MbitPerSecond)
	case r >= KbitPerSecond && r%KbitPerSecond == 0:
		return fmt.Sprintf("%dkbps", r/KbitPerSecond)
	default:
		return fmt.Sprintf("%dbps", uint64(r))
	}
}

// TransmissionTime is the time needed to serialise size bytes at rate r.
func (r DataRate) TransmissionTime(size int) time.Duration {
	if r == 0 || size <= 0 {
		return 0
	}
	return time.Duration(uint64(size) * 8 * uint64(time.Second) / uint64(r))
}

// ParseDelay parses a propagation delay such as "1ms" or "250us".
func ParseDelay(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty delay", ErrInvalidTopologyConfig)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: delay %q: %v", ErrInvalidTopologyConfig, s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: negative delay %q", ErrInvalidTopologyConfig, s)
	}
	return d, nil
}
