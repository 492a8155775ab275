package inference

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariantNames(t *testing.T) {
	assert.Equal(t, []string{"acc", "ori"}, Stateless.InputNames())
	assert.Equal(t, []string{"pose", "tran"}, Stateless.OutputNames())
	assert.Len(t, Stateful.InputNames(), 9)
	assert.Len(t, Stateful.OutputNames(), 8)
	assert.Equal(t, "tran_out", Stateful.TranslationOutput())
	assert.Equal(t, "tran", Stateless.TranslationOutput())

	v, err := ParseVariant("stateful")
	require.NoError(t, err)
	assert.Equal(t, Stateful, v)
	_, err = ParseVariant("bidirectional")
	assert.Error(t, err)
}

func TestShapeSize(t *testing.T) {
	assert.Equal(t, 26*72, Shape{26, 72}.Size())
	assert.Equal(t, 1, Shape{}.Size())
}

func TestMockEngine_TracksLiveTensors(t *testing.T) {
	m := NewMockEngine(Stateless)

	acc, err := m.NewTensor(Shape{1, 3}, []float32{1, 2, 3})
	require.NoError(t, err)
	ori, err := m.NewTensor(Shape{1, 2}, []float32{0.5, -0.5})
	require.NoError(t, err)
	assert.EqualValues(t, 2, m.Live())

	out, err := m.Run(map[string]Tensor{InputAcc: acc, InputOri: ori})
	require.NoError(t, err)
	require.Contains(t, out, OutputPose)
	require.Contains(t, out, OutputTran)
	assert.Len(t, out[OutputPose].Data(), PoseWidth)
	assert.InDeltaSlice(t, []float32{0.01, 0.02, 0.03}, out[OutputTran].Data(), 1e-6)
	assert.EqualValues(t, 4, m.Live())

	require.NoError(t, ReleaseAll(out))
	assert.Empty(t, out)
	require.NoError(t, acc.Release())
	require.NoError(t, ori.Release())
	assert.EqualValues(t, 0, m.Live())
	assert.True(t, errors.Is(acc.Release(), ErrReleased))
}

func TestMockEngine_MissingInput(t *testing.T) {
	m := NewMockEngine(Stateful)
	acc, err := m.NewTensor(Shape{1}, []float32{1})
	require.NoError(t, err)
	_, err = m.Run(map[string]Tensor{InputAcc: acc})
	assert.Error(t, err)
}

func TestMockEngine_NewTensorShapeMismatch(t *testing.T) {
	m := NewMockEngine(Stateless)
	_, err := m.NewTensor(Shape{2, 2}, []float32{1})
	assert.Error(t, err)
	assert.EqualValues(t, 0, m.Live())
}

func TestMockEngine_Closed(t *testing.T) {
	m := NewMockEngine(Stateless)
	require.NoError(t, m.Close())
	_, err := m.Run(nil)
	assert.Error(t, err)
}
