package store

import "testing"

func TestClampLimit(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 100},
		{-5, 100},
		{1, 1},
		{50, 50},
		{500, 500},
		{501, 500},
		{100000, 500},
	}
	for _, tc := range cases {
		if got := ClampLimit(tc.in); got != tc.want {
			t.Fatalf("ClampLimit(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
