package fragment

import (
	"encoding/binary"
	"sort"

	"blainsmith.com/go/seahash"

	"github.com/grailbio/bioalign/align/cigar"
	"github.com/grailbio/bioalign/align/sw"
	"github.com/grailbio/bioalign/cluster"
	"github.com/grailbio/bioalign/reference"
)

// Builder accumulates candidate alignments for every read of one cluster
// across a stream of seed matches, then refines and deduplicates them.
type Builder struct {
	Scores              Scores
	RepeatThreshold     int
	SemialignedGapLimit int
	Scorer              *sw.Scorer

	// GappedMismatchesMax caps the mismatch count a gapped realignment may
	// carry and still be accepted; zero means no cap.
	GappedMismatchesMax int

	seedCounts     map[int]int
	repeatExceeded map[int]bool
	fragments      [2][]*FragmentMetadata
	lastByRead     [2]*FragmentMetadata
}

// NewBuilder returns a Builder with the given scoring and repeat/indel
// configuration.
func NewBuilder(scores Scores, repeatThreshold, semialignedGapLimit int, scorer *sw.Scorer) *Builder {
	return &Builder{
		Scores:              scores,
		RepeatThreshold:     repeatThreshold,
		SemialignedGapLimit: semialignedGapLimit,
		Scorer:              scorer,
	}
}

// reset clears all per-cluster state so the builder can be reused.
func (b *Builder) reset() {
	b.seedCounts = make(map[int]int)
	b.repeatExceeded = make(map[int]bool)
	b.fragments[0] = b.fragments[0][:0]
	b.fragments[1] = b.fragments[1][:0]
	b.lastByRead[0] = nil
	b.lastByRead[1] = nil
}

// Build runs the full fragment-construction pipeline for c: consuming the
// match stream, removing repeat-exceeded candidates, and then for each
// read's surviving candidates running ungapped alignment, optional
// simple-indel reconciliation, and optional gapped realignment, with a
// sort-and-dedupe pass after each stage. It returns one slice of unique,
// scored fragments per read index.
func (b *Builder) Build(
	ref *reference.Reference,
	seedMetadata []cluster.SeedMetadata,
	adapters []Adapter,
	matches []cluster.Match,
	c *cluster.Cluster,
	withGaps bool,
	arena *cigar.Arena,
) [2][]*FragmentMetadata {
	b.reset()

	for _, m := range matches {
		if m.IsNoMatch() {
			break
		}
		if m.IsTooManyMatch() {
			b.repeatExceeded[m.SeedID] = true
			continue
		}
		seed := seedMetadata[m.SeedID]
		b.seedCounts[m.SeedID]++
		if b.RepeatThreshold > 0 && b.seedCounts[m.SeedID] >= b.RepeatThreshold {
			b.repeatExceeded[m.SeedID] = true
			continue
		}

		readLen := c.Reads[seed.ReadIndex].Length()
		var position int
		if !m.Reverse {
			position = int(m.Pos.Pos) - seed.Offset
		} else {
			position = int(m.Pos.Pos) + seed.Length + seed.Offset - readLen
		}

		last := b.lastByRead[seed.ReadIndex]
		if last != nil && last.ContigID == int(m.Pos.RefID) && last.Position == position && last.Reverse == m.Reverse {
			last.UniqueSeedCount++
			continue
		}

		frag := &FragmentMetadata{
			Cluster:         c,
			ReadIndex:       seed.ReadIndex,
			ContigID:        int(m.Pos.RefID),
			Position:        position,
			Reverse:         m.Reverse,
			FirstSeedIndex:  m.SeedID,
			UniqueSeedCount: 1,
		}
		b.fragments[seed.ReadIndex] = append(b.fragments[seed.ReadIndex], frag)
		b.lastByRead[seed.ReadIndex] = frag
	}

	b.removeRepeatExceeded(seedMetadata)

	var out [2][]*FragmentMetadata
	for readIdx := 0; readIdx < 2; readIdx++ {
		list := b.fragments[readIdx]
		if len(list) == 0 {
			continue
		}
		list = dedupe(list)

		for _, f := range list {
			UngappedAligner(ref, f, adapters, arena, b.Scores)
		}
		list = dedupe(list)

		if b.SemialignedGapLimit > 0 {
			runSimpleIndelPass(ref, list, seedMetadata, arena, b.Scores, b.SemialignedGapLimit)
			list = dedupe(list)
		}

		if withGaps && b.Scorer != nil {
			for _, f := range list {
				if f.Unmapped || f.Mismatches <= GappedCutoff {
					continue
				}
				GappedAligner(b.Scorer, ref, f, arena, b.Scores, b.GappedMismatchesMax)
			}
			list = dedupe(list)
		}

		out[readIdx] = list
	}
	return out
}

func (b *Builder) removeRepeatExceeded(seedMetadata []cluster.SeedMetadata) {
	if len(b.repeatExceeded) == 0 {
		return
	}
	for readIdx := range b.fragments {
		kept := b.fragments[readIdx][:0]
		for _, f := range b.fragments[readIdx] {
			if b.repeatExceeded[f.FirstSeedIndex] {
				continue
			}
			kept = append(kept, f)
		}
		b.fragments[readIdx] = kept
	}
}

// dedupeKey hashes a fragment's (contigId, position, reverse) identity with
// seahash, used to bucket candidates sharing an identity before the final
// sort so the per-pair Key() comparison below only runs within a bucket.
func dedupeKey(k Key) uint64 {
	var buf [9]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(k.ContigID))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(k.Position))
	if k.Reverse {
		buf[8] = 1
	}
	return seahash.Sum64(buf[:])
}

// dedupe buckets fragments by the seahash of their (contigId, position,
// reverse) identity, merging UniqueSeedCount across any bucket collision
// that shares the exact identity, then sorts the result by that identity so
// callers see a stable order.
func dedupe(list []*FragmentMetadata) []*FragmentMetadata {
	buckets := make(map[uint64][]*FragmentMetadata, len(list))
	var order []uint64
	for _, f := range list {
		h := dedupeKey(f.Key())
		bucket := buckets[h]
		merged := false
		for _, existing := range bucket {
			if existing.Key() == f.Key() {
				existing.UniqueSeedCount += f.UniqueSeedCount
				merged = true
				break
			}
		}
		if !merged {
			if len(bucket) == 0 {
				order = append(order, h)
			}
			buckets[h] = append(bucket, f)
		}
	}
	out := make([]*FragmentMetadata, 0, len(list))
	for _, h := range order {
		out = append(out, buckets[h]...)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key(), out[j].Key()
		if a.ContigID != b.ContigID {
			return a.ContigID < b.ContigID
		}
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		return !a.Reverse && b.Reverse
	})
	return out
}

// runSimpleIndelPass considers every adjacent pair of distinctly-seeded
// fragments in list (sorted by seed read-offset) and attempts to reconcile
// them via SimpleIndelAligner, passing the read-coordinate window between
// the head seed's end and the tail seed's start.
func runSimpleIndelPass(ref *reference.Reference, list []*FragmentMetadata, seedMetadata []cluster.SeedMetadata, arena *cigar.Arena, scores Scores, limit int) {
	seedReadOffset := func(seedID int) int { return seedMetadata[seedID].Offset }
	sort.Slice(list, func(i, j int) bool { return seedReadOffset(list[i].FirstSeedIndex) < seedReadOffset(list[j].FirstSeedIndex) })
	for i := 0; i+1 < len(list); i++ {
		head, tail := list[i], list[i+1]
		if head.Unmapped || tail.Unmapped || head.Reverse != tail.Reverse {
			continue
		}
		delta := tail.UnclippedPosition() - head.UnclippedPosition()
		if delta < 0 {
			delta = -delta
		}
		if delta == 0 || delta > limit {
			continue
		}
		headSeed := seedMetadata[head.FirstSeedIndex]
		tailSeed := seedMetadata[tail.FirstSeedIndex]
		headEnd := headSeed.Offset + headSeed.Length
		tailStart := tailSeed.Offset
		if tailStart < headEnd {
			continue
		}
		SimpleIndelAligner(ref, head, tail, headEnd, tailStart, arena, scores)
	}
}
