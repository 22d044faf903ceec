package core

import (
	"errors"
	"testing"
	"time"
)

func TestParseDataRate(t *testing.T) {
	cases := map[string]DataRate{
		"10Mbps":  10 * MbitPerSecond,
		"5Mb/s":   5 * MbitPerSecond,
		"500kb/s": 500 * KbitPerSecond,
		"500kbps": 500 * KbitPerSecond,
		"1Gbps":   GbitPerSecond,
		"1.5Mbps": 1500 * KbitPerSecond,
		"1KBps":   8 * KbitPerSecond,
		"1KiB/s":  8192,
		"9600":    9600,
		"64bps":   64,
	}
	for in, want := range cases {
		got, err := ParseDataRate(in)
		if err != nil {
			t.Errorf("ParseDataRate(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseDataRate(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestParseDataRateRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "fast", "10Xbps", "-5Mbps", "0Mbps", "Mbps", "1.2.3Mbps"} {
		if _, err := ParseDataRate(in); !errors.Is(err, ErrInvalidTopologyConfig) {
			t.Errorf("ParseDataRate(%q) error = %v, want ErrInvalidTopologyConfig", in, err)
		}
	}
}

func TestDataRateString(t *testing.T) {
	cases := map[DataRate]string{
		10 * MbitPerSecond:  "10Mbps",
		500 * KbitPerSecond: "500kbps",
		GbitPerSecond:       "1Gbps",
		1500:                "1500bps",
	}
	for rate, want := range cases {
		if got := rate.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", uint64(rate), got, want)
		}
	}
}

func TestTransmissionTime(t *testing.T) {
	// 512 bytes at 500kb/s is 8.192ms.
	if got := (500 * KbitPerSecond).TransmissionTime(512); got != 8192*time.Microsecond {
		t.Fatalf("TransmissionTime = %s, want 8.192ms", got)
	}
	if got := DataRate(0).TransmissionTime(512); got != 0 {
		t.Fatalf("zero rate TransmissionTime = %s, want 0", got)
	}
}

func TestParseDelay(t *testing.T) {
	cases := map[string]time.Duration{
		"1ms":   time.Millisecond,
		"250us": 250 * time.Microsecond,
		"2s":    2 * time.Second,
		"0":     0,
	}
	for in, want := range cases {
		got, err := ParseDelay(in)
		if err != nil || got != want {
			t.Errorf("ParseDelay(%q) = %s, %v; want %s", in, got, err, want)
		}
	}
	for _, in := range []string{"", "soon", "-1ms", "1 fortnight"} {
		if _, err := ParseDelay(in); !errors.Is(err, ErrInvalidTopologyConfig) {
			t.Errorf("ParseDelay(%q) error = %v, want ErrInvalidTopologyConfig", in, err)
		}
	}
}
