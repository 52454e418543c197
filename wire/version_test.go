package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPackVersion(t *testing.T) {
	v := PackVersion(5, 4, 1, 2)
	assert.Equal(t, int32(5040102), v)
	assert.Equal(t, [4]int{5, 4, 1, 2}, UnpackVersion(v))
	assert.Equal(t, "5.4.1.2", VersionString(v))
	assert.Equal(t, "0.0.0.0", VersionString(0))
	assert.Equal(t, "7.12.0.99", VersionString(PackVersion(7, 12, 0, 99)))
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in   string
		want int32
		err  bool
	}{
		{"7.2.1.0", PackVersion(7, 2, 1, 0), false},
		{"5.4", PackVersion(5, 4, 0, 0), false},
		{"7.100.0.0", 0, true},
		{"1.2.3.4.5", 0, true},
		{"a.b", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, err := ParseVersion(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}
}
