package main

import (
	"testing"

	"github.com/mcdev12/relay/go/internal/timer"
	"github.com/stretchr/testify/assert"
)

func TestDisplay_Line(t *testing.T) {
	d := newDisplay([]string{"1", "2"})
	d.update("1", timer.State{Status: timer.StatusRunning, Elapsed: timer.Elapsed{S: 5, Ms: 7}})

	assert.Equal(t, "timer 1: 00:05:07 (running) | timer 2: 00:00:00 (not_started)", d.line())
}
