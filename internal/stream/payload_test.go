package stream

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatPayload(t *testing.T) {
	tests := []struct {
		name string
		pose []float32
		tran []float32
		want string
	}{
		{"example", []float32{1.0, 2.5}, []float32{0.1, -0.2, 0.3}, "1.0,2.5#0.1,-0.2,0.3$"},
		{"zeros", []float32{0}, []float32{0, 0, 0}, "0.0#0.0,0.0,0.0$"},
		{"empty pose", nil, []float32{1, 2, 3}, "#1.0,2.0,3.0$"},
		{"negative whole", []float32{-3}, nil, "-3.0#$"},
		{"float32 shortest", []float32{0.1283, -0.9559}, []float32{0.075}, "0.1283,-0.9559#0.075$"},
		{"non finite", []float32{float32(math.NaN()), float32(math.Inf(1))}, []float32{float32(math.Inf(-1))}, "NaN,Infinity#-Infinity$"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatPayload(tt.pose, tt.tran))
		})
	}
}

func TestParsePayload(t *testing.T) {
	pose, tran, err := ParsePayload("0.12,0.34#0.01,-0.02,0.00$")
	require.NoError(t, err)
	if diff := cmp.Diff([]float32{0.12, 0.34}, pose); diff != "" {
		t.Errorf("pose (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float32{0.01, -0.02, 0}, tran); diff != "" {
		t.Errorf("tran (-want +got):\n%s", diff)
	}

	pose, tran, err = ParsePayload(FormatPayload([]float32{1, 2.5}, []float32{0.1, -0.2, 0.3}))
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2.5}, pose)
	assert.Equal(t, []float32{0.1, -0.2, 0.3}, tran)
}

func TestParsePayload_Errors(t *testing.T) {
	for name, in := range map[string]string{
		"no terminator": "1.0#2.0",
		"no separator":  "1.0,2.0$",
		"bad pose":      "x#1.0$",
		"bad tran":      "1.0#1.0,,2.0$",
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := ParsePayload(in)
			assert.Error(t, err)
		})
	}
}
