package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfirmationWindow(t *testing.T) {
	w := NewConfirmationWindow(0)
	assert.Equal(t, DefaultConfirmationWindow, w.Length)

	enqueued := epoch
	assert.Equal(t, epoch.Add(time.Hour), w.CanConfirmUntil(enqueued))

	tests := []struct {
		name  string
		after time.Duration
		open  bool
	}{
		{name: "immediately", after: 0, open: true},
		{name: "59 minutes", after: 59 * time.Minute, open: true},
		{name: "one second before", after: time.Hour - time.Second, open: true},
		{name: "at deadline", after: time.Hour, open: false},
		{name: "61 minutes", after: 61 * time.Minute, open: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.open, w.IsOpen(enqueued, enqueued.Add(tt.after)))
		})
	}

	short := NewConfirmationWindow(10 * time.Minute)
	assert.False(t, short.IsOpen(enqueued, enqueued.Add(11*time.Minute)))
}
