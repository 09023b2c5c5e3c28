package payments

import "testing"

func TestCentsRounding(t *testing.T) {
	cases := []struct {
		fare float64
		want int64
	}{
		{0, 0},
		{5, 500},
		{7.94, 794},
		{10.004, 1000},
		{12.996, 1300},
	}
	for _, c := range cases {
		if got := Cents(c.fare); got != c.want {
			t.Fatalf("Cents(%f) = %d, want %d", c.fare, got, c.want)
		}
	}
}
