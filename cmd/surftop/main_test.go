package main

import (
	"strings"
	"testing"

	"github.com/nomadbarefoot/surf/internal/handlers"
)

func TestViewTitle(t *testing.T) {
	m := newModel(&client{}, 0)
	m.status = &handlers.StatusResponse{
		Version:       "1.2.3",
		UptimeSeconds: 30,
	}

	out := m.View()
	if !strings.Contains(out, "surftop - surf 1.2.3, up 30s") {
		t.Errorf("title missing from view:\n%s", out)
	}
}

func TestViewWithoutStatus(t *testing.T) {
	m := newModel(&client{}, 0)
	out := m.View()
	if !strings.Contains(out, "waiting for first status sample") {
		t.Errorf("placeholder missing from view:\n%s", out)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate(short) = %q", got)
	}
	if got := truncate("abcdefghij", 5); got != "abcd…" {
		t.Errorf("truncate long = %q", got)
	}
}
