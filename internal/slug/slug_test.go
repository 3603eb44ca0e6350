package slug

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestMake(t *testing.T) {
	tests := []struct {
		first, last string
		want        string
	}{
		{"Brad", "Pitt", "brad-pitt"},
		{"Helena", "Bonham Carter", "helena-bonham-carter"},
		{"Til", "Schweiger", "til-schweiger"},
		{"Jürgen", "Vogel", "juergen-vogel"},
		{"Götz", "George", "goetz-george"},
		{"Penélope", "Cruz", "penelope-cruz"},
		{"", "  O'Brien--Jr. ", "o-brien-jr"},
		{"Cher", "", "cher"},
		{"", "", "actor"},
		{"李", "", "actor"},
	}

	for _, tt := range tests {
		if got := Make(tt.first, tt.last); got != tt.want {
			t.Errorf("Make(%q, %q): expected %q, got %q", tt.first, tt.last, tt.want, got)
		}
	}
}

func TestUnique(t *testing.T) {
	used := map[string]bool{"brad-pitt": true, "brad-pitt-2": true}
	taken := func(_ context.Context, s string) (bool, error) { return used[s], nil }

	got, err := Unique(context.Background(), "brad-pitt", taken)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "brad-pitt-3" {
		t.Errorf("expected brad-pitt-3, got %s", got)
	}

	got, err = Unique(context.Background(), "edward-norton", taken)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "edward-norton" {
		t.Errorf("expected free base slug, got %s", got)
	}
}

func TestUnique_TriesEveryAttempt(t *testing.T) {
	var checked []string
	taken := func(_ context.Context, s string) (bool, error) {
		checked = append(checked, s)
		return s != fmt.Sprintf("x-%d", maxAttempts), nil
	}

	got, err := Unique(context.Background(), "x", taken)
	if err != nil {
		t.Fatalf("expected the last attempt to succeed, got %v", err)
	}
	if want := fmt.Sprintf("x-%d", maxAttempts); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
	if len(checked) != maxAttempts {
		t.Errorf("expected %d lookups, got %d", maxAttempts, len(checked))
	}

	all := func(context.Context, string) (bool, error) { return true, nil }
	if _, err := Unique(context.Background(), "x", all); err == nil {
		t.Error("expected an error when every candidate is taken")
	}
}

func TestUnique_LookupError(t *testing.T) {
	boom := errors.New("db down")
	taken := func(context.Context, string) (bool, error) { return false, boom }

	if _, err := Unique(context.Background(), "x", taken); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped lookup error, got %v", err)
	}
}

func TestLetter(t *testing.T) {
	tests := map[string]string{
		"Pitt":     "P",
		"öztürk":   "O",
		"Ångström": "A",
		"007":      "#",
		"":         "#",
		"  lee":    "L",
	}
	for in, want := range tests {
		if got := Letter(in); got != want {
			t.Errorf("Letter(%q): expected %q, got %q", in, want, got)
		}
	}
}
