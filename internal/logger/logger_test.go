package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeKVs(t *testing.T) {
	tests := []struct {
		name string
		in   []interface{}
		want []interface{}
	}{
		{name: "empty", in: nil, want: nil},
		{name: "plain", in: []interface{}{"goal_id", 7}, want: []interface{}{"goal_id", 7}},
		{name: "bot token", in: []interface{}{"bot_token", "123:abc"}, want: []interface{}{"bot_token", "[REDACTED]"}},
		{name: "api key mixed case", in: []interface{}{"GROQ_API_KEY", "gsk_x"}, want: []interface{}{"GROQ_API_KEY", "[REDACTED]"}},
		{name: "dangling key", in: []interface{}{"a", 1, "b"}, want: []interface{}{"a", 1, "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeKVs(tt.in))
		})
	}
}

func TestNopWith(t *testing.T) {
	l := Nop().With("component", "test")
	l.Info("hello", "token", "secret")
	l.Sync()
}
