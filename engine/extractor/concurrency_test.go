package extractor

import "testing"

func TestMaxConcurrency(t *testing.T) {
	tests := []struct {
		cores int
		want  int
	}{
		{0, 4},
		{-3, 4},
		{1, 2},
		{2, 4},
		{4, 8},
		{6, 8},
		{8, 10},
		{12, 12},
		{16, 16},
		{24, 18},
		{64, 32},
		{128, 32},
	}
	for _, tt := range tests {
		if got := MaxConcurrency(tt.cores); got != tt.want {
			t.Errorf("MaxConcurrency(%d) = %d, want %d", tt.cores, got, tt.want)
		}
	}
}

func TestHostCapacityIsPositive(t *testing.T) {
	if HostCapacity() < 1 {
		t.Errorf("HostCapacity() = %d", HostCapacity())
	}
	if FixedCapacity(7)() != 7 {
		t.Error("FixedCapacity did not report its value")
	}
}
