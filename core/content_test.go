package core_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/becomeliminal/nim-goodmem/core"
)

func TestContent_HasText(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"", false},
		{" \t\r\n", false},
		{"\u00a0\u2003\u3000", false},
		{"\v\f", false},
		{"  hi ", true},
	}
	for _, tt := range tests {
		c := core.Content{Text: tt.text}
		assert.Equal(t, tt.want, c.HasText(), "%q", tt.text)
	}
}
