package cluster

import "github.com/grailbio/bioalign/biopb"

// SeedMetadata describes one seed the upstream indexer extracted from a
// read: where in the read it starts, how long it is, and which read/seed
// slot it occupies.
type SeedMetadata struct {
	Offset    int
	Length    int
	ReadIndex int
	SeedIndex int
}

// Match is one candidate hit for a seed, as produced by the upstream
// indexer's match stream.
type Match struct {
	SeedID  int
	Pos     biopb.Coord
	Reverse bool

	tooMany bool
	noMatch bool
}

// NewMatch builds an ordinary match for the given seed at the given
// reference position and orientation.
func NewMatch(seedID int, pos biopb.Coord, reverse bool) Match {
	return Match{SeedID: seedID, Pos: pos, Reverse: reverse}
}

// TooManyMatch marks seedID as having exceeded the repeat threshold: it
// contributes no fragment, but must still be counted so the fragment
// builder can drop any fragment already attributed to it.
func TooManyMatch(seedID int) Match {
	return Match{SeedID: seedID, tooMany: true}
}

// NoMatchTerminator ends a match stream.
func NoMatchTerminator() Match {
	return Match{noMatch: true}
}

// IsTooManyMatch reports whether this entry marks a repeat-exceeded seed.
func (m Match) IsTooManyMatch() bool { return m.tooMany }

// IsNoMatch reports whether this entry terminates the match stream.
func (m Match) IsNoMatch() bool { return m.noMatch }

// Adapter describes one known sequencing-adapter sequence the adapter
// clipper should look for.
type Adapter struct {
	Sequence []byte
	Reverse  bool
	// ClipLength is the adapter's fixed read-through length; zero means the
	// adapter is unbounded (everything beyond the match is adapter).
	ClipLength int
}

// Bounded reports whether the adapter has a fixed clip length.
func (a Adapter) Bounded() bool { return a.ClipLength > 0 }
