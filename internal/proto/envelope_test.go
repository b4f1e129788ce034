package proto

import "testing"

func TestStatusAdvances(t *testing.T) {
	tests := []struct {
		from, next string
		want       bool
	}{
		{StatusSent, StatusDelivered, true},
		{StatusSent, StatusRead, true},
		{StatusDelivered, StatusRead, true},
		{StatusRead, StatusRead, true},
		{StatusRead, StatusSent, false},
		{StatusDelivered, StatusSent, false},
		{StatusSent, "BOGUS", false},
	}

	for _, tt := range tests {
		if got := StatusAdvances(tt.from, tt.next); got != tt.want {
			t.Errorf("StatusAdvances(%s, %s) = %v, want %v", tt.from, tt.next, got, tt.want)
		}
	}
}
