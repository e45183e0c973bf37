package store

import (
	"errors"
	"testing"
	"time"
)

func TestTextArrayRoundTrip(t *testing.T) {
	cases := []struct {
		in   []string
		want string
	}{
		{[]string{"main", "master"}, "{main,master}"},
		{[]string{"release/v2"}, "{release/v2}"},
		{[]string{}, "{}"},
	}
	for _, tc := range cases {
		got, ok := textArray(tc.in).(string)
		if !ok || got != tc.want {
			t.Errorf("textArray(%v): expected %q, got %v", tc.in, tc.want, got)
		}
		back := scanTextArray([]byte(got))
		if len(back) != len(tc.in) {
			t.Errorf("scanTextArray(%q): expected %v, got %v", got, tc.in, back)
			continue
		}
		for i := range back {
			if back[i] != tc.in[i] {
				t.Errorf("scanTextArray(%q)[%d]: expected %q, got %q", got, i, tc.in[i], back[i])
			}
		}
	}
}

func TestTextArray_Nil(t *testing.T) {
	if got := textArray(nil); got != nil {
		t.Errorf("expected nil for nil slice, got %v", got)
	}
	if got := scanTextArray(nil); got != nil {
		t.Errorf("expected nil for empty column, got %v", got)
	}
	if got := scanTextArray([]byte("{}")); got != nil {
		t.Errorf("expected nil for empty array, got %v", got)
	}
}

func TestNilHelpers(t *testing.T) {
	if nilStr("") != nil {
		t.Error("expected nil for empty string")
	}
	if p := nilStr("x"); p == nil || *p != "x" {
		t.Errorf("expected pointer to x, got %v", p)
	}
	if nilInt64(0) != nil {
		t.Error("expected nil for zero")
	}
	if derefStr(nil) != "" {
		t.Error("expected empty string for nil pointer")
	}
}

func TestNextFire_UTC(t *testing.T) {
	after := time.Date(2025, 6, 1, 2, 30, 0, 0, time.UTC)
	next, err := nextFire("0 3 * * *", "UTC", after)
	if err != nil {
		t.Fatalf("nextFire: %v", err)
	}
	want := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected %s, got %s", want, next)
	}
}

func TestNextFire_Timezone(t *testing.T) {
	// 03:00 in Berlin (CEST, UTC+2) is 01:00 UTC.
	after := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	next, err := nextFire("0 3 * * *", "Europe/Berlin", after)
	if err != nil {
		t.Fatalf("nextFire: %v", err)
	}
	want := time.Date(2025, 6, 1, 1, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected %s, got %s", want, next)
	}
	if next.Location() != time.UTC {
		t.Error("expected result normalized to UTC")
	}
}

func TestNextFire_Monotonic(t *testing.T) {
	after := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
	next, err := nextFire("0 3 * * *", "", after)
	if err != nil {
		t.Fatalf("nextFire: %v", err)
	}
	if !next.After(after) {
		t.Errorf("expected strictly future fire, got %s for after=%s", next, after)
	}
}

func TestNextFire_InvalidCron(t *testing.T) {
	_, err := nextFire("not a cron", "UTC", time.Now())
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestNextFire_UnknownTimezone(t *testing.T) {
	_, err := nextFire("0 3 * * *", "Mars/Olympus", time.Now())
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}
