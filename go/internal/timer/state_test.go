package timer

import (
	"testing"

	"github.com/mcdev12/relay/go/internal/pubsub"
	"github.com/stretchr/testify/assert"
)

func TestElapsed_Carry(t *testing.T) {
	tests := []struct {
		ticks int
		want  Elapsed
	}{
		{0, Elapsed{}},
		{1, Elapsed{Ms: 1}},
		{99, Elapsed{Ms: 99}},
		{100, Elapsed{S: 1}},
		{5999, Elapsed{Ms: 99, S: 59}},
		{6000, Elapsed{M: 1}},
		{360000, Elapsed{H: 1}},
		{366101, Elapsed{Ms: 1, S: 1, M: 1, H: 1}},
	}

	for _, tt := range tests {
		got := Elapsed{}.Advance(tt.ticks)
		assert.Equal(t, tt.want, got, "after %d ticks", tt.ticks)
	}
}

func TestElapsed_String(t *testing.T) {
	tests := []struct {
		in   Elapsed
		want string
	}{
		{Elapsed{}, "00:00:00"},
		{Elapsed{Ms: 7, S: 5, M: 3}, "03:05:07"},
		{Elapsed{Ms: 42, S: 59, M: 10}, "10:59:42"},
		{Elapsed{H: 1}, "01:00:00:00"},
		{Elapsed{Ms: 1, S: 2, M: 3, H: 123}, "123:03:02:01"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.in.String())
	}
}

func TestParseControl(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		want   Action
		wantOK bool
	}{
		{"run", `{"action":"run"}`, ActionRun, true},
		{"reset", `{"action":"reset"}`, ActionReset, true},
		{"stop", `{"action":"stop"}`, ActionStop, true},
		{"resume", `{"action":"resume"}`, ActionResume, true},
		{"unknown action", `{"action":"explode"}`, "", false},
		{"missing action", `{"text":"hello"}`, "", false},
		{"not json", `stop`, "", false},
		{"empty", ``, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseControl(pubsub.Message{Name: ControlMessageName, Data: []byte(tt.data)})
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewControlMessage(t *testing.T) {
	msg := NewControlMessage(ActionResume)
	assert.Equal(t, "timer", msg.Name)
	assert.JSONEq(t, `{"action":"resume"}`, string(msg.Data))
}
