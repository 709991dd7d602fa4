package stage

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseFailures(t *testing.T) {
	tests := []struct {
		name  string
		check string
		want  []Failure
	}{
		{
			name:  "all yes",
			check: "Yes\n\nYes, correct.",
		},
		{
			name:  "comma verdict",
			check: "Cars [0.1, 0.2]\nNo, the car is BLUE.",
			want:  []Failure{{Description: "Cars [0.1, 0.2]\n", Reason: "The car is BLUE."}},
		},
		{
			name:  "bare verdict",
			check: "Yes\n\nTrucks\nNo  wrong   position",
			want:  []Failure{{Description: "Trucks\n", Reason: "Wrong position"}},
		},
		{
			name:  "no reason dropped",
			check: "Bus\nNo",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, ParseFailures(tt.check)); diff != "" {
				t.Errorf("ParseFailures() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFailureString(t *testing.T) {
	f := Failure{Description: "Cars", Reason: "Wrong."}
	if got := f.String(); got != "Description:\nCars\n\nReason:\nWrong." {
		t.Errorf("String() = %q", got)
	}
}

func TestHasFailures(t *testing.T) {
	tests := []struct {
		name  string
		check string
		want  bool
	}{
		{"all accepted", "A car at [0.1, 0.2]\nYes\n\nA van at [0.3, 0.4]\nYes", false},
		{"rejected with reason", "A car at [0.1, 0.2]\nNo, it is a van.", true},
		{"rejected without reason", "A car at [0.1, 0.2]\nYes\n\nA red bus at [0.5, 0.5].\nNo", true},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasFailures(tt.check); got != tt.want {
				t.Errorf("HasFailures() = %v, want %v", got, tt.want)
			}
		})
	}
	if got := ParseFailures("A red bus at [0.5, 0.5].\nNo"); len(got) != 0 {
		t.Errorf("ParseFailures() = %v, reasonless statements are not rendered", got)
	}
}
