package helpers

import (
	"testing"
	"time"
)

func TestParseDuration(t *testing.T) {
	cases := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"14d", 14 * 24 * time.Hour, false},
		{"0d", 0, false},
		{"24h", 24 * time.Hour, false},
		{"90s", 90 * time.Second, false},
		{" 7d ", 7 * 24 * time.Hour, false},
		{"-3d", 0, true},
		{"xd", 0, true},
		{"soon", 0, true},
	}
	for _, c := range cases {
		got, err := ParseDuration(c.in)
		if (err != nil) != c.wantErr {
			t.Errorf("ParseDuration(%q) error = %v, wantErr %v", c.in, err, c.wantErr)
			continue
		}
		if got != c.want {
			t.Errorf("ParseDuration(%q) = %s, want %s", c.in, got, c.want)
		}
	}
}

func TestExpiresAt(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if got := ExpiresAt(created, 0); got != nil {
		t.Fatalf("expected nil expiry for zero keep, got %v", got)
	}
	got := ExpiresAt(created, 24*time.Hour)
	if got == nil || !got.Equal(created.Add(24*time.Hour)) {
		t.Fatalf("unexpected expiry %v", got)
	}
}
