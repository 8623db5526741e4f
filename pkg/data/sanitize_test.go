package data

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeAnswer(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "bare", in: `{"a":1}`, want: `{"a":1}`},
		{name: "nested", in: "Here you go:\n```json\n{\"steps\":[{\"id\":1,\"params\":{\"x\":\"}\"}}]}\n```\nthanks", want: `{"steps":[{"id":1,"params":{"x":"}"}}]}`},
		{name: "escaped quote", in: `x {"q":"say \"{hi\""} y`, want: `{"q":"say \"{hi\""}`},
		{name: "unclosed first", in: `{ broken {"ok":true}`, want: `{"ok":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeAnswer(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := SanitizeAnswer("no json here")
	assert.ErrorIs(t, err, ErrNoJSON)
	_, err = SanitizeAnswer(`{"never": "closed"`)
	assert.ErrorIs(t, err, ErrNoJSON)
}
