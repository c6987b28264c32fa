package merkle

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gochain/tinychain/pkg/codec"
)

func TestRoot_SingleLeaf(t *testing.T) {
	want := codec.SHA256DHex(
		append(codec.SHA256D([]byte("a")), codec.SHA256D([]byte("a"))...),
	)
	assert.Equal(t, want, Root([]string{"a"}))
}

func TestRoot_EvenLeaves(t *testing.T) {
	aHash := codec.SHA256D([]byte("a"))
	bHash := codec.SHA256D([]byte("b"))
	want := codec.SHA256DHex(append(append([]byte{}, aHash...), bHash...))
	assert.Equal(t, want, Root([]string{"a", "b"}))
}

func TestRoot_Deterministic(t *testing.T) {
	ids := []string{"tx1", "tx2", "tx3"}
	assert.Equal(t, Root(ids), Root(ids))
}

func TestRoot_OrderSensitive(t *testing.T) {
	assert.NotEqual(t, Root([]string{"tx1", "tx2"}), Root([]string{"tx2", "tx1"}))
}

func TestRoot_PanicsOnEmpty(t *testing.T) {
	assert.Panics(t, func() { Root(nil) })
}
