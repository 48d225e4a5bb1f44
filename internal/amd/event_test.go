package amd

import (
	"testing"

	"github.com/callprobe/callprobe/internal/database/models"
)

func TestMapProviderStatus(t *testing.T) {
	cases := []struct {
		in   string
		want models.CallStatus
		ok   bool
	}{
		{"initiated", models.StatusInitiated, true},
		{"ringing", models.StatusRinging, true},
		{"in-progress", models.StatusInProgress, true},
		{"completed", models.StatusCompleted, true},
		{"failed", models.StatusFailed, true},
		{"busy", models.StatusBusy, true},
		{"no-answer", models.StatusNoAnswer, true},
		{"queued", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := MapProviderStatus(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("MapProviderStatus(%q) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestMapAnsweredBy(t *testing.T) {
	machineLabels := []string{"machine_start", "machine_end_beep", "machine_end_silence", "machine_end_other", "fax"}
	for _, label := range machineLabels {
		got, ok := MapAnsweredBy(label)
		if !ok || got != models.ResultMachine {
			t.Errorf("MapAnsweredBy(%q) = (%q, %v), want machine", label, got, ok)
		}
	}

	if got, ok := MapAnsweredBy("human"); !ok || got != models.ResultHuman {
		t.Errorf("MapAnsweredBy(human) = (%q, %v)", got, ok)
	}
	if got, ok := MapAnsweredBy("unknown"); !ok || got != models.ResultUnknown {
		t.Errorf("MapAnsweredBy(unknown) = (%q, %v)", got, ok)
	}
	if _, ok := MapAnsweredBy("alien"); ok {
		t.Error("MapAnsweredBy(alien) = ok, want unrecognized")
	}
}
