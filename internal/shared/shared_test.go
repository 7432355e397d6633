package shared

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateID(t *testing.T) {
	a := GenerateID()
	b := GenerateID()

	if a == "" || b == "" {
		t.Fatal("expected non-empty ids")
	}

	if a == b {
		t.Errorf("expected distinct ids, got %s twice", a)
	}

	if len(strings.Split(a, "-")) != 5 {
		t.Errorf("expected uuid-shaped id, got %s", a)
	}
}

func TestMarshalJSON(t *testing.T) {
	v := map[string]int{"plays": 3}

	compact, err := MarshalJSON(v, false)
	if err != nil {
		t.Fatalf("compact marshal failed: %v", err)
	}
	if strings.Contains(string(compact), "\n") {
		t.Errorf("compact output should be single line, got %q", compact)
	}

	pretty, err := MarshalJSON(v, true)
	if err != nil {
		t.Fatalf("pretty marshal failed: %v", err)
	}
	if !strings.Contains(string(pretty), "\n") {
		t.Errorf("pretty output should be indented, got %q", pretty)
	}
}

func TestFormatDuration(t *testing.T) {
	tc := []struct {
		name string
		ms   int
		want string
	}{
		{name: "zero", ms: 0, want: "0:00"},
		{name: "under a minute", ms: 59000, want: "0:59"},
		{name: "exact minute", ms: 60000, want: "1:00"},
		{name: "typical track", ms: 222000, want: "3:42"},
		{name: "truncates partial seconds", ms: 61999, want: "1:01"},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatDuration(tt.ms)
			if got != tt.want {
				t.Errorf("FormatDuration(%d) = %v, want %v", tt.ms, got, tt.want)
			}
		})
	}
}

func TestUTCNow(t *testing.T) {
	now := UTCNow()

	if now.Location() != time.UTC {
		t.Errorf("expected UTC location, got %v", now.Location())
	}

	if now.Nanosecond() != 0 {
		t.Errorf("expected second precision, got %dns", now.Nanosecond())
	}
}
