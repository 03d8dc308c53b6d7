// Package cigar implements the packed run-length CIGAR representation
// shared by every aligner in this module: a mutable, append-only arena of
// 32-bit ops, with fragments referencing ranges into it by (begin, end)
// index pairs rather than by pointer or by owning a private copy.
package cigar

import (
	"bytes"
	"fmt"
)

// OpType is the kind of one CIGAR operation.
type OpType uint8

const (
	Align OpType = iota
	Insert
	Delete
	SoftClip
)

var opTypeNames = [...]byte{Align: 'M', Insert: 'I', Delete: 'D', SoftClip: 'S'}

// String renders the BAM-convention single-letter code for t.
func (t OpType) String() string {
	if int(t) >= len(opTypeNames) {
		return "?"
	}
	return string(opTypeNames[t])
}

// ConsumesQuery reports whether an op of this type advances the read.
func (t OpType) ConsumesQuery() bool {
	return t == Align || t == Insert || t == SoftClip
}

// ConsumesReference reports whether an op of this type advances the
// reference.
func (t OpType) ConsumesReference() bool {
	return t == Align || t == Delete
}

// Op is a single packed CIGAR operation: a run length in the high 28 bits
// and a 4-bit opcode in the low bits, matching the on-wire BAM convention
// so the representation can be handed downstream without re-encoding.
type Op uint32

// Encode packs a (length, type) pair into an Op.
func Encode(length int, t OpType) Op {
	if length < 0 {
		panic(fmt.Sprintf("cigar: negative op length %d", length))
	}
	return Op(uint32(length)<<4 | uint32(t)&0xf)
}

// Len returns the op's run length.
func (o Op) Len() int { return int(o >> 4) }

// Type returns the op's opcode.
func (o Op) Type() OpType { return OpType(o & 0xf) }

func (o Op) String() string { return fmt.Sprintf("%d%s", o.Len(), o.Type()) }

// Range is a half-open [Begin, End) span of op indices into an Arena.
type Range struct {
	Begin, End int
}

// Empty reports whether the range contains no ops.
func (r Range) Empty() bool { return r.Begin == r.End }

// Len returns the number of ops in the range.
func (r Range) Len() int { return r.End - r.Begin }

// Arena is the append-only, reusable buffer every fragment/template builder
// owns exclusively during its construction of one cluster's candidates.
// Fragments never copy ops out of it; they carry a Range and read through
// Arena.Slice. The arena is cleared (not reallocated) between clusters.
type Arena struct {
	ops []Op
}

// NewArena returns an empty Arena.
func NewArena() *Arena { return &Arena{} }

// Len returns the number of ops currently appended.
func (a *Arena) Len() int { return len(a.ops) }

// Reset empties the arena for reuse, keeping the underlying storage.
func (a *Arena) Reset() { a.ops = a.ops[:0] }

// Add appends one op and returns its index.
func (a *Arena) Add(length int, t OpType) int {
	a.ops = append(a.ops, Encode(length, t))
	return len(a.ops) - 1
}

// AddOp appends a pre-encoded op.
func (a *Arena) AddOp(o Op) int {
	a.ops = append(a.ops, o)
	return len(a.ops) - 1
}

// AppendRange copies every op in ops to the end of the arena and returns
// the resulting Range. Used by components (the gap realigner) that build a
// candidate CIGAR in a scratch slice before committing it.
func (a *Arena) AppendRange(ops []Op) Range {
	begin := len(a.ops)
	a.ops = append(a.ops, ops...)
	return Range{Begin: begin, End: len(a.ops)}
}

// Slice returns the ops in [r.Begin, r.End). The returned slice aliases the
// arena's storage and is only valid until the next Add/Reset call.
func (a *Arena) Slice(r Range) []Op { return a.ops[r.Begin:r.End] }

// Truncate discards every op from index n onward, reclaiming space for a
// fragment whose candidate CIGAR is being discarded mid-construction.
func (a *Arena) Truncate(n int) { a.ops = a.ops[:n] }

// ReadLength returns the sum of ALIGN+INSERT+SOFT_CLIP lengths, i.e. the
// number of read bases the ops account for.
func ReadLength(ops []Op) int {
	n := 0
	for _, o := range ops {
		if o.Type().ConsumesQuery() {
			n += o.Len()
		}
	}
	return n
}

// ObservedLength returns the sum of ALIGN+DELETE lengths, i.e. the number of
// reference bases the ops span.
func ObservedLength(ops []Op) int {
	n := 0
	for _, o := range ops {
		if o.Type().ConsumesReference() {
			n += o.Len()
		}
	}
	return n
}

// Merge collapses adjacent ops sharing an opcode into a single op. The
// result is appended to dst (which may be nil) and returned; it never
// contains two consecutive ops of the same type.
func Merge(dst []Op, ops []Op) []Op {
	for _, o := range ops {
		if n := len(dst); n > 0 && dst[n-1].Type() == o.Type() {
			dst[n-1] = Encode(dst[n-1].Len()+o.Len(), o.Type())
			continue
		}
		dst = append(dst, o)
	}
	return dst
}

// TrimFlankingDeletes returns ops with any leading and/or trailing DELETE
// op removed. Downstream BAM consumers reject a CIGAR that begins or ends
// with a deletion; the Banded Smith-Waterman and gap realigner both fold
// such a leading/trailing delete into a position/clip adjustment instead of
// emitting it as an op.
func TrimFlankingDeletes(ops []Op) (trimmed []Op, leading, trailing int) {
	if len(ops) > 0 && ops[0].Type() == Delete {
		leading = ops[0].Len()
		ops = ops[1:]
	}
	if len(ops) > 0 && ops[len(ops)-1].Type() == Delete {
		trailing = ops[len(ops)-1].Len()
		ops = ops[:len(ops)-1]
	}
	return ops, leading, trailing
}

// String renders ops in BAM-style compact form, e.g. "38M62S".
func String(ops []Op) string {
	var b bytes.Buffer
	for _, o := range ops {
		fmt.Fprintf(&b, "%d%s", o.Len(), o.Type())
	}
	return b.String()
}
