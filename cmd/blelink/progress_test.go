package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestProgressPrinter_Countdown(t *testing.T) {
	p := NewCountdownProgressPrinter(&bytes.Buffer{}, "Scanning", "scanning", 10*time.Second)

	assert.Equal(t, 10, p.seconds(0))
	assert.Equal(t, 4, p.seconds(6300*time.Millisecond), "remaining time MUST round to the nearest second")
	assert.Equal(t, 0, p.seconds(11*time.Second), "countdown MUST NOT go negative")
}

func TestProgressPrinter_CountUp(t *testing.T) {
	p := NewProgressPrinter(&bytes.Buffer{}, "Connecting", "connecting")
	assert.Equal(t, 3, p.seconds(3900*time.Millisecond))
}

func TestProgressPrinter_StopPhase(t *testing.T) {
	// GOAL: Verify reaching a stop phase ends the display and clears the line
	//
	// TEST SCENARIO: Start → phase callback with stop phase → line cleared → Stop is a no-op afterwards

	color.NoColor = true
	var buf bytes.Buffer
	w := &lockedWriter{w: &buf}

	p := NewProgressPrinter(w, "Connecting to AA", "connecting", "discovered")
	p.Start()
	p.Callback()("connected")
	p.Callback()("discovered")
	p.Stop()

	out := buf.String()
	assert.Contains(t, out, "Connecting to AA (connecting...)")
	assert.Equal(t, clearLineSequence, out[len(out)-len(clearLineSequence):])
	assert.Panics(t, p.Start, "a ProgressPrinter MUST be single-use")
}
