package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncateMessage(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{name: "short message unchanged", input: "sync queued", maxLen: 60, want: "sync queued"},
		{name: "exact length unchanged", input: "Synced", maxLen: 6, want: "Synced"},
		{
			name:   "long message cut",
			input:  "admission webhook denied the request: replicas must be positive",
			maxLen: 20,
			want:   "admission webhook...",
		},
		{
			name:   "multi-line error flattened",
			input:  "apply failed:\n\tfield is immutable\n",
			maxLen: 60,
			want:   "apply failed: field is immutable",
		},
		{name: "unicode kept whole", input: "räksmörgås räksmörgås", maxLen: 8, want: "räksm..."},
		{name: "tiny limit clamped", input: "Deployment/default/web", maxLen: 1, want: "D..."},
		{name: "empty", input: "", maxLen: 10, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TruncateMessage(tt.input, tt.maxLen))
		})
	}
}
