package stacking

import "testing"

func TestFixedBy(t *testing.T) {
	tests := []struct {
		version, fixedIn string
		want             bool
	}{
		{"1.0.0", "2.0.0", true},
		{"2.0.0", "2.0.0", true},
		{"v2.0", "2.0.0", true},
		{"2.0.1", "2.0.0", false},
		{"", "2.0.0", false},
		{"1.0.0", "", false},
		{"not-a-version", "2.0.0", false},
		{"1.0.0", "garbage", false},
	}
	for _, tt := range tests {
		if got := fixedBy(tt.version, tt.fixedIn); got != tt.want {
			t.Errorf("fixedBy(%q, %q) = %v, want %v", tt.version, tt.fixedIn, got, tt.want)
		}
	}
}
