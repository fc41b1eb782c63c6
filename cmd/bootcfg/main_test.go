package main

import "testing"

func TestRenderIsSortedAndStable(t *testing.T) {
	opts := options{Set: []string{"root=/dev/sda1", "console=ttyS0"}, Flag: []string{"nosmp", "quiet"}}
	got := render(opts)
	want := "console=ttyS0 root=/dev/sda1 nosmp quiet"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestParseCmdLineMatchesKernelConvention(t *testing.T) {
	kv, err := parseCmdLine("root=/dev/sda1 quiet console=ttyS0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kv["root"] != "/dev/sda1" || kv["console"] != "ttyS0" || kv["quiet"] != "quiet" {
		t.Fatalf("unexpected parse result: %+v", kv)
	}
}

func TestParseCmdLineRejectsDoubleEquals(t *testing.T) {
	if _, err := parseCmdLine("root=/dev/sda1=x"); err == nil {
		t.Fatal("expected an error for a token with two '='")
	}
}
