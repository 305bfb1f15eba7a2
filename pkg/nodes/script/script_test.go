package script

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/Daedalus/pkg/node"
)

func TestNewRejectsInvalidSource(t *testing.T) {
	_, err := New("function (")
	assert.Error(t, err)
}

func TestRunEvaluatesExpression(t *testing.T) {
	n, err := New("1 + 2")
	require.NoError(t, err)

	outputs, err := n.Run(context.Background(), []interface{}{nil})
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, int64(3), outputs[0])
}

func TestRunBindsInput(t *testing.T) {
	n, err := New(`input.toUpperCase()`)
	require.NoError(t, err)

	outputs, err := n.Run(context.Background(), []interface{}{"shout"})
	require.NoError(t, err)
	assert.Equal(t, "SHOUT", outputs[0])
}

func TestRunIsIsolatedBetweenCalls(t *testing.T) {
	// Each call gets a fresh runtime, so globals written by one run are not
	// visible to the next.
	n, err := New(`
		var previous = typeof leak !== "undefined";
		globalThis.leak = true;
		previous
	`)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		outputs, err := n.Run(context.Background(), []interface{}{nil})
		require.NoError(t, err)
		assert.Equal(t, false, outputs[0])
	}
}

func TestHostGlobalsAreUnavailable(t *testing.T) {
	n, err := New(`typeof require === "undefined" && typeof process === "undefined"`)
	require.NoError(t, err)

	outputs, err := n.Run(context.Background(), []interface{}{nil})
	require.NoError(t, err)
	assert.Equal(t, true, outputs[0])
}

func TestRunReportsScriptErrors(t *testing.T) {
	n, err := New(`null.property`)
	require.NoError(t, err)

	_, err = n.Run(context.Background(), []interface{}{nil})
	assert.ErrorContains(t, err, "script failed")
}

func TestRegisterBindsSchema(t *testing.T) {
	registry := node.NewRegistry(nil)
	require.NoError(t, Register(registry, "custom.double", "input * 2"))

	impl, err := registry.Resolve("custom.double")
	require.NoError(t, err)

	fn, ok := impl.(node.Function)
	require.True(t, ok)
	outputs, err := fn.Run(context.Background(), []interface{}{int64(21)})
	require.NoError(t, err)
	assert.Equal(t, int64(42), outputs[0])
}

func TestRegisterRejectsBrokenSource(t *testing.T) {
	registry := node.NewRegistry(nil)
	assert.Error(t, Register(registry, "broken", "function ("))
	assert.False(t, registry.Has("broken"))
}

func TestPreviewSummarizesStructuredValues(t *testing.T) {
	n, err := New("1")
	require.NoError(t, err)

	assert.Equal(t, "inline", n.Preview(0, "inline"))
	assert.Equal(t, int64(7), n.Preview(0, int64(7)))
	assert.Nil(t, n.Preview(0, nil))
	assert.IsType(t, "", n.Preview(0, map[string]interface{}{"k": "v"}))
}
