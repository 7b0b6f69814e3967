package redis

import (
	"testing"
)

func TestTaskString(t *testing.T) {
	task := Task{IdentityID: 42, Start: 100, End: 2000}
	if got := task.String(); got != "42:100-2000" {
		t.Errorf("Task.String() = %q", got)
	}
}

func TestParseTask(t *testing.T) {
	task, err := ParseTask("42:100-2000")
	if err != nil {
		t.Fatalf("ParseTask failed: %v", err)
	}
	if task.IdentityID != 42 || task.Start != 100 || task.End != 2000 {
		t.Errorf("unexpected task: %+v", task)
	}
}

func TestParseTask_RoundTrip(t *testing.T) {
	want := Task{IdentityID: 7, Start: 0, End: 850000}
	got, err := ParseTask(want.String())
	if err != nil {
		t.Fatalf("ParseTask failed: %v", err)
	}
	if got != want {
		t.Errorf("round trip: got %+v, want %+v", got, want)
	}
}

func TestParseTask_Invalid(t *testing.T) {
	cases := []string{
		"",
		"42",
		"42:100",
		"x:100-200",
		"42:x-200",
		"42:100-x",
		"42:200-100", // start > end
	}
	for _, s := range cases {
		if _, err := ParseTask(s); err == nil {
			t.Errorf("ParseTask(%q): expected error", s)
		}
	}
}
