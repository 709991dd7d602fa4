package route

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		verdict string
		want    Route
	}{
		{"Yes, it matches", Colorable},
		{"No, wrong color", NotColorable},
		{"Unclear", Ambiguous},
		{"Yes... but also No", Colorable},
		{"No. Yes on second look", Colorable},
		{"", Ambiguous},
		{"yes", Ambiguous},
		{"None of the colors", NotColorable},
	}
	for _, tt := range tests {
		t.Run(tt.verdict, func(t *testing.T) {
			if got := Classify(tt.verdict); got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.verdict, got, tt.want)
			}
		})
	}
}

func TestAmbiguousMergesIntoNoncolor(t *testing.T) {
	if Ambiguous.ColorBranch() || NotColorable.ColorBranch() || !Colorable.ColorBranch() {
		t.Fatal("only Colorable should take the color branch")
	}

	var b Buckets
	b.Add("a", Colorable)
	b.Add("b", Ambiguous)
	b.Add("c", NotColorable)

	if diff := cmp.Diff([]string{"c", "b"}, b.Noncolor()); diff != "" {
		t.Errorf("Noncolor() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a"}, b.Colorable); diff != "" {
		t.Errorf("Colorable mismatch (-want +got):\n%s", diff)
	}
}

func TestParseRoundTrip(t *testing.T) {
	for _, r := range []Route{Colorable, NotColorable, Ambiguous} {
		got, ok := Parse(r.String())
		if !ok || got != r {
			t.Errorf("Parse(%q) = %v, %v", r.String(), got, ok)
		}
	}
	if _, ok := Parse("purple"); ok {
		t.Error("Parse(purple) should fail")
	}
}
