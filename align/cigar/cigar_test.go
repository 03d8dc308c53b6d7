package cigar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpEncoding(t *testing.T) {
	op := Encode(1234, Delete)
	assert.Equal(t, 1234, op.Len())
	assert.Equal(t, Delete, op.Type())
	assert.Equal(t, "1234D", op.String())
}

func TestOpConsumption(t *testing.T) {
	assert.True(t, Align.ConsumesQuery())
	assert.True(t, Align.ConsumesReference())
	assert.True(t, Insert.ConsumesQuery())
	assert.False(t, Insert.ConsumesReference())
	assert.False(t, Delete.ConsumesQuery())
	assert.True(t, Delete.ConsumesReference())
	assert.True(t, SoftClip.ConsumesQuery())
	assert.False(t, SoftClip.ConsumesReference())
}

func TestLengths(t *testing.T) {
	ops := []Op{
		Encode(5, SoftClip),
		Encode(20, Align),
		Encode(2, Insert),
		Encode(3, Delete),
		Encode(10, Align),
	}
	assert.Equal(t, 5+20+2+10, ReadLength(ops))
	assert.Equal(t, 20+3+10, ObservedLength(ops))
	assert.Equal(t, "5S20M2I3D10M", String(ops))
}

func TestMergeCollapsesAdjacentOps(t *testing.T) {
	ops := []Op{
		Encode(10, Align),
		Encode(5, Align),
		Encode(2, Delete),
		Encode(3, Align),
		Encode(4, Align),
	}
	merged := Merge(nil, ops)
	assert.Equal(t, "15M2D7M", String(merged))

	// Merging onto an existing tail joins across the boundary.
	dst := []Op{Encode(1, Align)}
	assert.Equal(t, "16M2D7M", String(Merge(dst, ops)))
}

func TestTrimFlankingDeletes(t *testing.T) {
	ops := []Op{
		Encode(4, Delete),
		Encode(10, Align),
		Encode(2, Delete),
	}
	trimmed, leading, trailing := TrimFlankingDeletes(ops)
	assert.Equal(t, "10M", String(trimmed))
	assert.Equal(t, 4, leading)
	assert.Equal(t, 2, trailing)

	trimmed, leading, trailing = TrimFlankingDeletes(trimmed)
	assert.Equal(t, "10M", String(trimmed))
	assert.Zero(t, leading)
	assert.Zero(t, trailing)
}

func TestArenaRanges(t *testing.T) {
	a := NewArena()
	require.Equal(t, 0, a.Len())

	a.Add(10, Align)
	begin := a.Len()
	a.Add(3, Delete)
	a.Add(7, Align)
	rng := Range{Begin: begin, End: a.Len()}
	assert.Equal(t, "3D7M", String(a.Slice(rng)))
	assert.Equal(t, 2, rng.Len())

	a.Truncate(begin)
	assert.Equal(t, 1, a.Len())

	rng = a.AppendRange([]Op{Encode(1, Insert), Encode(2, Align)})
	assert.Equal(t, "1I2M", String(a.Slice(rng)))

	a.Reset()
	assert.Equal(t, 0, a.Len())
}

func TestEncodePanicsOnNegativeLength(t *testing.T) {
	assert.Panics(t, func() { Encode(-1, Align) })
}
