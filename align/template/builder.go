package template

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/minio/highwayhash"

	"github.com/grailbio/bioalign/align/cigar"
	"github.com/grailbio/bioalign/align/fragment"
	"github.com/grailbio/bioalign/align/shadow"
	"github.com/grailbio/bioalign/cluster"
	"github.com/grailbio/bioalign/reference"
)

// hashKey is one highwayhash.Sum output, used as a map key for the dedup
// sets below.
type hashKey = [highwayhash.Size]uint8

var zeroSeed = hashKey{}

// fragmentIdentityHash hashes a fragment's dedup identity.
func fragmentIdentityHash(buf *[]uint8, f *fragment.FragmentMetadata) {
	*buf = (*buf)[:0]
	var tmp [9]byte
	binary.LittleEndian.PutUint32(tmp[0:4], uint32(f.ContigID))
	binary.LittleEndian.PutUint32(tmp[4:8], uint32(f.Position))
	if f.Reverse {
		tmp[8] = 1
	}
	*buf = append(*buf, tmp[:]...)
}

// pairIdentityHash hashes the joint identity of a candidate mate pair, used
// to skip re-scoring a combination already considered.
func pairIdentityHash(buf *[]uint8, f1, f2 *fragment.FragmentMetadata) hashKey {
	fragmentIdentityHash(buf, f1)
	var tail []uint8
	fragmentIdentityHash(&tail, f2)
	*buf = append(*buf, tail...)
	return highwayhash.Sum(*buf, zeroSeed[:])
}

// dedupeFragments drops fragments sharing an already-seen identity hash,
// preserving the first occurrence's order.
func dedupeFragments(list []*fragment.FragmentMetadata) []*fragment.FragmentMetadata {
	seen := make(map[hashKey]bool, len(list))
	out := make([]*fragment.FragmentMetadata, 0, len(list))
	var buf []uint8
	for _, f := range list {
		fragmentIdentityHash(&buf, f)
		h := highwayhash.Sum(buf, zeroSeed[:])
		if seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, f)
	}
	return out
}

// OrphanLogProbabilitySlack bounds how far from the best candidate on each
// read locateBestPair still considers a pairing partner.
const OrphanLogProbabilitySlack = 100.0

// logProbEpsilon is the tolerance under which two log-probabilities are the
// same alignment quality; log-probabilities are never compared for bit
// equality.
const logProbEpsilon = 1e-9

func lpEquals(a, b float64) bool { return math.Abs(a-b) < logProbEpsilon }

func lpGreater(a, b float64) bool { return a > b+logProbEpsilon }

// MaxTrackedCandidatesPerRead caps how many fragments of one read
// locateBestPair evaluates, matching the upstream repeat-hit guard.
const MaxTrackedCandidatesPerRead = 1000

// MapqUnknown and MapqUnaligned are the configured sentinel mapping
// qualities for dodgy templates.
const (
	MapqUnknown   = 255
	MapqUnaligned = -1
	// DodgyButCleanScore is the mapping quality assigned to a dodgy template
	// that nonetheless has zero mismatches.
	DodgyButCleanScore = 10
	// MapqCeiling is the configured clamp on any computed mapping quality.
	MapqCeiling = 60
)

// Template is the final, possibly-paired alignment result for one cluster.
type Template struct {
	Fragments      [2]*fragment.FragmentMetadata
	MappingQuality int
	Dodgy          bool
	ProperPair     bool
	TemplateLength int
}

// Builder orchestrates fragment construction and template assembly for one
// cluster at a time.
type Builder struct {
	FragmentBuilder *fragment.Builder
	Stats           *Stats
	Adapters        []fragment.Adapter
	WithGaps        bool
}

// NewBuilder returns a Builder wired to fb and stats.
func NewBuilder(fb *fragment.Builder, stats *Stats, adapters []fragment.Adapter, withGaps bool) *Builder {
	return &Builder{FragmentBuilder: fb, Stats: stats, Adapters: adapters, WithGaps: withGaps}
}

// Build constructs fragments for c and assembles its template.
func (b *Builder) Build(ref *reference.Reference, seedMetadata []cluster.SeedMetadata, matches []cluster.Match, c *cluster.Cluster, arena *cigar.Arena) *Template {
	fragments := b.FragmentBuilder.Build(ref, seedMetadata, b.Adapters, matches, c, b.WithGaps, arena)

	if c.NonEmptyReadsCount() == 1 {
		return b.buildSingleEnd(fragments)
	}
	return b.buildPairedEnd(ref, c, fragments, arena)
}

func (b *Builder) buildSingleEnd(fragments [2][]*fragment.FragmentMetadata) *Template {
	readIdx := 0
	if len(fragments[0]) == 0 {
		readIdx = 1
	}
	list := fragments[readIdx]
	if len(list) == 0 {
		return &Template{MappingQuality: MapqUnaligned, Dodgy: true}
	}

	best, second := bestTwoByLogProb(list)
	t := &Template{}
	t.Fragments[readIdx] = best
	t.Dodgy = best.UniqueSeedCount <= 0
	t.MappingQuality = mapqFromGap(best.LogProbability, second)
	if t.Dodgy {
		t.MappingQuality = dodgyMapq(best)
	}
	return t
}

func bestTwoByLogProb(list []*fragment.FragmentMetadata) (best *fragment.FragmentMetadata, secondLogProb float64) {
	sorted := append([]*fragment.FragmentMetadata(nil), list...)
	sort.Slice(sorted, func(i, j int) bool {
		if !lpEquals(sorted[i].LogProbability, sorted[j].LogProbability) {
			return sorted[i].LogProbability > sorted[j].LogProbability
		}
		// Equal-quality candidates tie-break to the smallest coordinate so
		// repeated runs pick the same winner.
		return sorted[i].Coord().LT(sorted[j].Coord())
	})
	best = sorted[0]
	secondLogProb = math.Inf(-1)
	if len(sorted) > 1 {
		secondLogProb = sorted[1].LogProbability
	}
	return best, secondLogProb
}

func mapqFromGap(bestLogProb, secondLogProb float64) int {
	if math.IsInf(secondLogProb, -1) {
		return MapqCeiling
	}
	gap := bestLogProb - secondLogProb
	// log-probability is natural-log; convert the gap to a phred-like score
	// and clamp, mirroring the pair mapq formula's clamp.
	mapq := int(math.Round(gap / math.Ln10 * 10))
	return clampMapq(mapq)
}

func clampMapq(mapq int) int {
	if mapq < 0 {
		return 0
	}
	if mapq > MapqCeiling {
		return MapqCeiling
	}
	return mapq
}

func dodgyMapq(best *fragment.FragmentMetadata) int {
	if best.Mismatches == 0 {
		return DodgyButCleanScore
	}
	return MapqUnknown
}

func (b *Builder) buildPairedEnd(ref *reference.Reference, c *cluster.Cluster, fragments [2][]*fragment.FragmentMetadata, arena *cigar.Arena) *Template {
	pair, totalP, dodgy := b.locateBestPair(fragments)
	if pair[0] != nil && pair[1] != nil {
		return b.buildPairedEndTemplate(pair, totalP, dodgy)
	}
	return b.buildDisjoinedTemplate(ref, c, fragments, arena)
}

// locateBestPair finds the (f1, f2) combination with the highest joint
// log-probability among compatible same-contig pairs, and the total
// probability mass across every pair considered (the denominator of the
// pair MAPQ; no separate rest-of-genome term is added to it).
func (b *Builder) locateBestPair(fragments [2][]*fragment.FragmentMetadata) (best [2]*fragment.FragmentMetadata, totalP float64, dodgy bool) {
	r0, r1 := capCandidates(fragments[0]), capCandidates(fragments[1])
	if len(r0) == 0 || len(r1) == 0 {
		return best, 0, true
	}

	bestLogProbR0 := maxLogProb(r0)
	bestLogProbR1 := maxLogProb(r1)

	bestJoint := math.Inf(-1)
	seenPairs := make(map[hashKey]bool)
	var hashBuf []uint8
	for _, f1 := range r0 {
		if f1.Unmapped || bestLogProbR0-f1.LogProbability > OrphanLogProbabilitySlack {
			continue
		}
		for _, f2 := range r1 {
			if f2.Unmapped || bestLogProbR1-f2.LogProbability > OrphanLogProbabilitySlack {
				continue
			}
			if f1.ContigID != f2.ContigID {
				continue
			}
			if h := pairIdentityHash(&hashBuf, f1, f2); seenPairs[h] {
				continue
			} else {
				seenPairs[h] = true
			}
			// Until the length model has finalized there is nothing to
			// classify against; every same-contig combination stays eligible
			// so the early clusters that feed the model can still pair.
			if b.Stats.Finalized() && b.Stats.CheckModel(f1, f2) == NoMatch {
				continue
			}
			joint := f1.LogProbability + f2.LogProbability
			totalP += math.Exp(joint)
			// Candidates arrive sorted by coordinate, so on an epsilon-tie the
			// incumbent already has the smallest (contigId, position); only a
			// strictly better pair replaces it.
			if lpGreater(joint, bestJoint) {
				bestJoint = joint
				best = [2]*fragment.FragmentMetadata{f1, f2}
			}
		}
	}
	dodgy = best[0] == nil || best[0].UniqueSeedCount <= 0 || best[1] == nil || best[1].UniqueSeedCount <= 0
	return best, totalP, dodgy
}

func capCandidates(list []*fragment.FragmentMetadata) []*fragment.FragmentMetadata {
	if len(list) <= MaxTrackedCandidatesPerRead {
		return list
	}
	return list[:MaxTrackedCandidatesPerRead]
}

func maxLogProb(list []*fragment.FragmentMetadata) float64 {
	m := math.Inf(-1)
	for _, f := range list {
		if f.LogProbability > m {
			m = f.LogProbability
		}
	}
	return m
}

func (b *Builder) buildPairedEndTemplate(pair [2]*fragment.FragmentMetadata, totalP float64, dodgy bool) *Template {
	t := &Template{Fragments: pair, Dodgy: dodgy}
	bestP := math.Exp(pair[0].LogProbability + pair[1].LogProbability)
	t.MappingQuality = pairMapq(bestP, totalP)
	if dodgy {
		mismatches := pair[0].Mismatches + pair[1].Mismatches
		if mismatches == 0 {
			t.MappingQuality = DodgyButCleanScore
		} else {
			t.MappingQuality = MapqUnknown
		}
	}
	b.UpdatePairFields(t)
	return t
}

// UpdatePairFields recomputes the pair-level fields (BAM template length,
// per-fragment signed tlen, mate position, proper-pair flag) on t and its
// fragments. realign.Realigner.Realign does not update these fields, so a
// caller that lets it move either mate calls this again afterwards.
func (b *Builder) UpdatePairFields(t *Template) {
	f1, f2 := t.Fragments[0], t.Fragments[1]
	if f1 == nil || f2 == nil || f1.Unmapped || f2.Unmapped {
		return
	}
	begin, end := templateSpan(f1, f2)
	length := end - begin
	t.TemplateLength = length
	t.ProperPair = b.Stats.CheckModel(f1, f2) == Nominal

	// BAM convention: the leftmost mate carries +tlen, its mate -tlen.
	if f1.UnclippedPosition() <= f2.UnclippedPosition() {
		f1.BamTlen, f2.BamTlen = length, -length
	} else {
		f1.BamTlen, f2.BamTlen = -length, length
	}
	f1.MateFStrandPosition = f2.Position
	f2.MateFStrandPosition = f1.Position
}

// pairMapq computes MAPQ ~= round(-10*log10(1 - bestP/totalP)). totalP is
// what locateBestPair sums: exp(jointLogProb) over every compatible pair it
// considered. No rest-of-genome term for placements outside those pairs is
// added.
func pairMapq(bestP, totalP float64) int {
	if totalP <= 0 {
		return MapqCeiling
	}
	ratio := bestP / totalP
	if ratio >= 1 {
		return MapqCeiling
	}
	mapq := int(math.Round(-10 * math.Log10(1-ratio)))
	return clampMapq(mapq)
}

func (b *Builder) buildDisjoinedTemplate(ref *reference.Reference, c *cluster.Cluster, fragments [2][]*fragment.FragmentMetadata, arena *cigar.Arena) *Template {
	t := &Template{Dodgy: true}

	for readIdx := 0; readIdx < 2; readIdx++ {
		list := fragments[readIdx]
		if len(list) == 0 {
			continue
		}
		best, _ := bestTwoByLogProb(list)
		t.Fragments[readIdx] = best
	}
	if t.Fragments[0] == nil && t.Fragments[1] == nil {
		t.MappingQuality = MapqUnaligned
		return t
	}

	mateIdx := 1
	orphan := t.Fragments[0]
	if orphan == nil {
		orphan = t.Fragments[1]
		mateIdx = 0
	}
	mateLen := c.Reads[mateIdx].Length()
	minPos, maxPos := b.Stats.MateWindow(!orphan.Reverse, orphan.UnclippedPosition(), mateLen)
	window := shadow.Window{ContigID: orphan.ContigID, Begin: minPos, End: maxPos}

	rescued := shadow.Search(ref, c, mateIdx, !orphan.Reverse, window, b.Adapters, arena, b.FragmentBuilder.Scores)
	rescued = dedupeFragments(rescued)
	if len(rescued) > 0 {
		best, _ := bestTwoByLogProb(rescued)
		t.Fragments[mateIdx] = best
		t.Dodgy = orphan.UniqueSeedCount <= 0
	}

	if orphan.Mismatches == 0 {
		t.MappingQuality = DodgyButCleanScore
	} else {
		t.MappingQuality = MapqUnknown
	}
	return t
}
