package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRunRejectsUnknownDirection(t *testing.T) {
	var stderr bytes.Buffer
	if code := run([]string{"-direction", "sideways"}, &bytes.Buffer{}, &stderr); code != 2 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stderr.String(), "invalid direction") {
		t.Fatalf("stderr = %s", stderr.String())
	}
}

func TestRunRejectsUnknownFlag(t *testing.T) {
	if code := run([]string{"-nope"}, &bytes.Buffer{}, &bytes.Buffer{}); code != 2 {
		t.Fatalf("exit code = %d", code)
	}
}

func TestRunReportsConfigErrors(t *testing.T) {
	t.Setenv("QUERYPILOT_PROFILE", "staging")
	var stderr bytes.Buffer
	if code := run([]string{"-direction", "status"}, &bytes.Buffer{}, &stderr); code != 1 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stderr.String(), "config error") {
		t.Fatalf("stderr = %s", stderr.String())
	}
}
