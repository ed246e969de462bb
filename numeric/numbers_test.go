package numeric

import "testing"

func TestNumbersFromString(t *testing.T) {
	cases := []struct {
		in   string
		want []float64
	}{
		{"1,234 and 56.7", []float64{1234, 56.7}},
		{"no digits here", nil},
		{"£1,250,000", []float64{1250000}},
		{"total 1.2.3 sq ft then 45", []float64{45}},
		{"3 bed, 2 bath", []float64{3, 2}},
		{"approx. 850 sq.ft", []float64{850}},
	}

	for _, c := range cases {
		got := NumbersFromString(c.in)
		if len(got) != len(c.want) {
			t.Fatalf("%q: expected %v, got %v", c.in, c.want, got)
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Fatalf("%q: expected %v, got %v", c.in, c.want, got)
			}
		}
	}
}

func TestFirstNumber(t *testing.T) {
	if _, ok := FirstNumber("POA"); ok {
		t.Fatalf("expected no number for POA")
	}
	v, ok := FirstNumber("£325,000 (-5%)")
	if !ok || v != 325000 {
		t.Fatalf("expected 325000, got %v (ok=%v)", v, ok)
	}
}
