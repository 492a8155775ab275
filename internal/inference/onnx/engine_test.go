package onnx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/relabs-tech/pose_streamer/internal/inference"
)

// ONNX element types.
const (
	elemFloat = 1
	elemInt64 = 7
)

func requireRuntime(t *testing.T) {
	t.Helper()
	lib := os.Getenv("ONNX_LIBRARY_PATH")
	if lib == "" {
		t.Skip("ONNX_LIBRARY_PATH not set; skipping onnxruntime tests")
	}
	require.NoError(t, InitEnvironment(lib))
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendStringField(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// valueInfo encodes a ValueInfoProto of shape [batch, width].
func valueInfo(name string, elem uint64) []byte {
	var shape []byte
	for _, dim := range []string{"batch", "width"} {
		shape = appendBytesField(shape, 1, appendStringField(nil, 2, dim))
	}
	tensorType := appendVarintField(nil, 1, elem)
	tensorType = appendBytesField(tensorType, 2, shape)
	typ := appendBytesField(nil, 1, tensorType)

	var vi []byte
	vi = appendStringField(vi, 1, name)
	return appendBytesField(vi, 2, typ)
}

func node(op, in, out string, attrs ...[]byte) []byte {
	var n []byte
	n = appendStringField(n, 1, in)
	n = appendStringField(n, 2, out)
	n = appendStringField(n, 3, out+"_"+op)
	n = appendStringField(n, 4, op)
	for _, a := range attrs {
		n = appendBytesField(n, 5, a)
	}
	return n
}

// writeStatelessModel writes a model with pose = ori and tran = acc. With
// intTran the translation output is cast to int64.
func writeStatelessModel(t *testing.T, intTran bool) string {
	t.Helper()

	var graph []byte
	graph = appendBytesField(graph, 1, node("Identity", inference.InputOri, inference.OutputPose))
	tranElem := uint64(elemFloat)
	if intTran {
		to := appendStringField(nil, 1, "to")
		to = appendVarintField(to, 3, elemInt64)
		to = appendVarintField(to, 20, 2) // AttributeProto.INT
		graph = appendBytesField(graph, 1, node("Cast", inference.InputAcc, inference.OutputTran, to))
		tranElem = elemInt64
	} else {
		graph = appendBytesField(graph, 1, node("Identity", inference.InputAcc, inference.OutputTran))
	}
	graph = appendStringField(graph, 2, "pose_test")
	graph = appendBytesField(graph, 11, valueInfo(inference.InputAcc, elemFloat))
	graph = appendBytesField(graph, 11, valueInfo(inference.InputOri, elemFloat))
	graph = appendBytesField(graph, 12, valueInfo(inference.OutputPose, elemFloat))
	graph = appendBytesField(graph, 12, valueInfo(inference.OutputTran, tranElem))

	var model []byte
	model = appendVarintField(model, 1, 8) // ir_version
	model = appendBytesField(model, 7, graph)
	model = appendBytesField(model, 8, appendVarintField(nil, 2, 13)) // opset 13

	path := filepath.Join(t.TempDir(), "model.onnx")
	require.NoError(t, os.WriteFile(path, model, 0o644))
	return path
}

func newTestEngine(t *testing.T, intTran bool) *Engine {
	t.Helper()
	requireRuntime(t)
	e, err := NewEngine(writeStatelessModel(t, intTran), inference.Stateless)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func inputs(t *testing.T, alloc inference.Allocator) map[string]inference.Tensor {
	t.Helper()
	acc, err := alloc.NewTensor(inference.Shape{1, 3}, []float32{1, 2, 3})
	require.NoError(t, err)
	ori, err := alloc.NewTensor(inference.Shape{1, 2}, []float32{0.5, -0.5})
	require.NoError(t, err)
	in := map[string]inference.Tensor{inference.InputAcc: acc, inference.InputOri: ori}
	t.Cleanup(func() { inference.ReleaseAll(in) })
	return in
}

func TestEngine_NewTensor(t *testing.T) {
	requireRuntime(t)
	e := &Engine{}
	tt, err := e.NewTensor(inference.Shape{2, 2}, []float32{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, inference.Shape{2, 2}, tt.Shape())
	assert.Equal(t, []float32{1, 2, 3, 4}, tt.Data())
	require.NoError(t, tt.Release())

	_, err = e.NewTensor(inference.Shape{3}, []float32{1})
	assert.Error(t, err)
}

func TestEngine_Run(t *testing.T) {
	e := newTestEngine(t, false)
	out, err := e.Run(inputs(t, e))
	require.NoError(t, err)
	defer inference.ReleaseAll(out)

	require.Contains(t, out, inference.OutputPose)
	require.Contains(t, out, inference.OutputTran)
	assert.Equal(t, []float32{0.5, -0.5}, out[inference.OutputPose].Data())
	assert.Equal(t, []float32{1, 2, 3}, out[inference.OutputTran].Data())
	assert.Equal(t, inference.Shape{1, 3}, out[inference.OutputTran].Shape())
}

func TestEngine_RunStagesForeignTensors(t *testing.T) {
	e := newTestEngine(t, false)
	mock := inference.NewMockEngine(inference.Stateless)
	in := inputs(t, mock)

	out, err := e.Run(in)
	require.NoError(t, err)
	defer inference.ReleaseAll(out)

	assert.Equal(t, []float32{1, 2, 3}, out[inference.OutputTran].Data())
	// The caller's tensors stay owned by the caller.
	assert.EqualValues(t, 2, mock.Live())
	assert.Equal(t, []float32{1, 2, 3}, in[inference.InputAcc].Data())
}

func TestEngine_RunDropsNonFloatOutputs(t *testing.T) {
	e := newTestEngine(t, true)
	out, err := e.Run(inputs(t, e))
	require.NoError(t, err)
	defer inference.ReleaseAll(out)

	assert.Contains(t, out, inference.OutputPose)
	assert.NotContains(t, out, inference.OutputTran)
}

func TestEngine_RunMissingInput(t *testing.T) {
	e := newTestEngine(t, false)
	in := inputs(t, e)
	_, err := e.Run(map[string]inference.Tensor{inference.InputAcc: in[inference.InputAcc]})
	assert.ErrorContains(t, err, `missing input "ori"`)
}

func TestEngine_CloseIsIdempotent(t *testing.T) {
	e := newTestEngine(t, false)
	in := inputs(t, e)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	_, err := e.Run(in)
	assert.Error(t, err)
}

func TestNewEngine_MissingModel(t *testing.T) {
	requireRuntime(t)
	_, err := NewEngine(filepath.Join(t.TempDir(), "nope.onnx"), inference.Stateless)
	assert.Error(t, err)
}

func TestEnvironment_Reinitializes(t *testing.T) {
	requireRuntime(t)
	require.NoError(t, DestroyEnvironment())
	require.NoError(t, DestroyEnvironment())

	_, err := NewEngine(writeStatelessModel(t, false), inference.Stateless)
	assert.Error(t, err, "engine without environment")

	require.NoError(t, InitEnvironment(os.Getenv("ONNX_LIBRARY_PATH")))
	e, err := NewEngine(writeStatelessModel(t, false), inference.Stateless)
	require.NoError(t, err)
	require.NoError(t, e.Close())
}
