package escrow

import (
	"strings"
	"testing"
)

func TestParseUnits(t *testing.T) {
	cases := []struct {
		in       string
		decimals uint8
		want     string
	}{
		{"1", 18, "1000000000000000000"},
		{"0.5", 6, "500000"},
		{"12.000001", 6, "12000001"},
		{".25", 6, "250000"},
		{"+3", 0, "3"},
		{" 7.10 ", 6, "7100000"},
		{"2.50000000", 6, "2500000"},
		{"1.", 2, "100"},
	}
	for _, tc := range cases {
		got, err := ParseUnits(tc.in, tc.decimals)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.in, err)
		}
		if got.Dec() != tc.want {
			t.Fatalf("parse %q: expected %s, got %s", tc.in, tc.want, got.Dec())
		}
	}

	for _, bad := range []string{"", "+", "-1", "1.2.3", "abc", "0.0000001", "1e5", ".", "0x10", "1 000"} {
		if _, err := ParseUnits(bad, 6); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestParseUnitsOverflow(t *testing.T) {
	huge := "1" + strings.Repeat("0", 78)
	if _, err := ParseUnits(huge, 0); err == nil {
		t.Fatalf("expected overflow error")
	}
}

func TestFormatUnits(t *testing.T) {
	cases := []struct {
		in       string
		decimals uint8
		want     string
	}{
		{"1500000", 6, "1.5"},
		{"1", 18, "0.000000000000000001"},
		{"2000000", 6, "2"},
		{"0", 6, "0"},
	}
	for _, tc := range cases {
		amount, err := ParseUnits(tc.in, 0)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.in, err)
		}
		if got := FormatUnits(amount, tc.decimals); got != tc.want {
			t.Fatalf("format %s/%d: expected %s, got %s", tc.in, tc.decimals, tc.want, got)
		}
	}
	if got := FormatUnits(nil, 6); got != "0" {
		t.Fatalf("nil amount should format as 0, got %s", got)
	}
}
