// Package cluster models one sequenced spot (a "cluster" in flowcell
// terminology): the one or two reads it produced, their seed anchors, and
// the match stream an upstream indexer supplies for them.
package cluster

import "github.com/grailbio/bioalign/biosimd"

func reverseBytes(dst, src []byte) {
	n := len(src)
	for i := 0; i < n; i++ {
		dst[i] = src[n-1-i]
	}
}

// Read is one of the (up to two) reads of a cluster: its forward bases and
// qualities, the precomputed reverse-complement pair, and the counters
// recording alignment-independent clipping (quality/adapter masking decided
// before any alignment is attempted).
type Read struct {
	// Index distinguishes the two ends of a paired cluster (0 or 1).
	Index int

	ForwardBases []byte
	ForwardQuals []byte
	ReverseBases []byte
	ReverseQuals []byte

	// LeftClipped and RightClipped count bases, counted from the forward
	// 5' end, that must be soft-clipped regardless of alignment position
	// (e.g. quality trimming, UMI/barcode masking upstream of this core).
	LeftClipped  int
	RightClipped int
}

// NewRead builds a Read from its forward bases and qualities, precomputing
// the reverse-complement strand.
func NewRead(index int, bases, quals []byte) *Read {
	r := &Read{
		Index:        index,
		ForwardBases: bases,
		ForwardQuals: quals,
		ReverseBases: make([]byte, len(bases)),
		ReverseQuals: make([]byte, len(quals)),
	}
	biosimd.ReverseComp8(r.ReverseBases, bases)
	reverseBytes(r.ReverseQuals, quals)
	return r
}

// Length returns the read length in bases.
func (r *Read) Length() int { return len(r.ForwardBases) }

// Empty reports whether the read carries no bases (the cluster's other
// mate, for single-end data).
func (r *Read) Empty() bool { return len(r.ForwardBases) == 0 }

// StrandBases returns the base sequence on the requested strand.
func (r *Read) StrandBases(reverse bool) []byte {
	if reverse {
		return r.ReverseBases
	}
	return r.ForwardBases
}

// StrandQuals returns the quality sequence on the requested strand.
func (r *Read) StrandQuals(reverse bool) []byte {
	if reverse {
		return r.ReverseQuals
	}
	return r.ForwardQuals
}

// ClusterID identifies the physical spot a cluster was sequenced at.
type ClusterID struct {
	Tile    uint32
	Cluster uint32
	X, Y    uint16
}

// Cluster is one sequenced spot: up to two reads plus its physical identity.
// It is borrowed (never copied) by every FragmentMetadata built from its
// reads; the cluster must outlive all of them.
type Cluster struct {
	Reads [2]Read
	ID    ClusterID
}

// NonEmptyReadsCount returns 1 for single-end data, 2 for paired-end.
func (c *Cluster) NonEmptyReadsCount() int {
	n := 0
	for i := range c.Reads {
		if !c.Reads[i].Empty() {
			n++
		}
	}
	return n
}

// ReadMetadata describes one read's position within the flowcell cycle
// layout, supplied by the upstream indexer.
type ReadMetadata struct {
	FirstCycle int
	Length     int
	Index      int
}
