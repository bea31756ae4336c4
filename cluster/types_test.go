package cluster

import "testing"

func TestPortFor(t *testing.T) {
	if got := PortFor(5900, 1); got != 5901 {
		t.Errorf("expected 5901, got %d", got)
	}
	if got := PortFor(5900, 20); got != 5920 {
		t.Errorf("expected 5920, got %d", got)
	}
}

func TestDisplayFor(t *testing.T) {
	d, err := DisplayFor(5900, 5903)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != 3 {
		t.Errorf("expected display 3, got %d", d)
	}

	// Ports at or below the base have no display.
	if _, err := DisplayFor(5900, 5900); err == nil {
		t.Error("expected error for port equal to base")
	}
	if _, err := DisplayFor(5900, 80); err == nil {
		t.Error("expected error for port below base")
	}
}

func TestPortForDisplayForRoundTrip(t *testing.T) {
	for d := Display(1); d <= 64; d++ {
		p := PortFor(5900, d)
		back, err := DisplayFor(5900, p)
		if err != nil {
			t.Fatalf("display %d: unexpected error: %v", d, err)
		}
		if back != d {
			t.Fatalf("display %d round-tripped to %d", d, back)
		}
	}
}

func TestParsePID(t *testing.T) {
	pid, err := ParsePID("7280")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pid != 7280 {
		t.Errorf("expected 7280, got %d", pid)
	}
	if _, err := ParsePID("abc"); err == nil {
		t.Error("expected error for non-numeric pid")
	}
}

func TestParsePort(t *testing.T) {
	p, err := ParsePort("5901")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != 5901 {
		t.Errorf("expected 5901, got %d", p)
	}
	if _, err := ParsePort(""); err == nil {
		t.Error("expected error for empty port")
	}
}

func TestDisplayString(t *testing.T) {
	if Display(12).String() != ":12" {
		t.Errorf("expected :12, got %s", Display(12).String())
	}
}
