package ui

import (
	"bytes"
	"strings"
	"testing"
)

func TestColorToggle(t *testing.T) {
	SetColorEnabled(false)
	if got := Green("hi"); got != "hi" {
		t.Errorf("colors disabled: Green = %q, want plain", got)
	}

	SetColorEnabled(true)
	defer SetColorEnabled(false)
	if got := Green("hi"); got != "\033[32mhi\033[0m" {
		t.Errorf("colors enabled: Green = %q", got)
	}
}

func TestWarnf(t *testing.T) {
	SetColorEnabled(false)
	var buf bytes.Buffer
	SetWriter(&buf)

	Warnf("profile %s skipped", "alice")
	if got := buf.String(); got != "Warning: profile alice skipped\n" {
		t.Errorf("Warnf output = %q", got)
	}
}

func TestErrorf(t *testing.T) {
	SetColorEnabled(false)
	var buf bytes.Buffer
	SetWriter(&buf)

	Errorf("no profile selected")
	if !strings.HasPrefix(buf.String(), "Error: ") {
		t.Errorf("Errorf output = %q", buf.String())
	}
}
