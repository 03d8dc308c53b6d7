// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

/*
bioalign is a thin driver over the gapped short-read alignment core: it
loads a FASTA reference, places one read against it with the ungapped and
gapped aligners, and reports the resulting CIGAR and score. It exists to
exercise the core end to end from the command line, not to replace a real
FASTQ/BAM pipeline.
*/

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"

	"github.com/grailbio/bioalign/align/cigar"
	"github.com/grailbio/bioalign/align/fragment"
	"github.com/grailbio/bioalign/align/sw"
	"github.com/grailbio/bioalign/biosimd"
	"github.com/grailbio/bioalign/cluster"
	"github.com/grailbio/bioalign/reference"
)

var (
	fastaPath = flag.String("fasta", "", "Reference FASTA path (required)")
	contigArg = flag.String("contig", "", "Name of the contig to align against; defaults to the first in the FASTA")
	position  = flag.Int("pos", 0, "0-based forward-strand position to place the read's left edge at")
	readArg   = flag.String("read", "", "Read sequence to align (required)")
	reverse   = flag.Bool("reverse", false, "Place the read on the reverse strand")
	withGaps  = flag.Bool("gapped", true, "Attempt a banded Smith-Waterman realignment when the ungapped placement has too many mismatches")
	match     = flag.Int("match", fragment.DefaultScores.Match, "Match score")
	mismatch  = flag.Int("mismatch", fragment.DefaultScores.Mismatch, "Mismatch score")
	gapOpen   = flag.Int("gap-open", fragment.DefaultScores.GapOpen, "Gap-open score")
	gapExtend = flag.Int("gap-extend", fragment.DefaultScores.GapExtend, "Gap-extend score")
)

func bioalignUsage() {
	fmt.Printf("Usage: %s -fasta ref.fa -read ACGT... [OPTIONS]\n", os.Args[0])
	fmt.Printf("Other options:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = bioalignUsage
	shutdown := grail.Init()
	defer shutdown()

	if *fastaPath == "" || *readArg == "" {
		log.Fatalf("-fasta and -read are required")
	}

	ref, err := loadFasta(*fastaPath)
	if err != nil {
		log.Fatalf("loading %s: %v", *fastaPath, err)
	}

	contigID := 0
	if *contigArg != "" {
		contigID = -1
		for i, c := range ref.Contigs {
			if c.Name == *contigArg {
				contigID = i
				break
			}
		}
		if contigID < 0 {
			log.Fatalf("contig %q not found in %s", *contigArg, *fastaPath)
		}
	}

	scores := fragment.Scores{Match: *match, Mismatch: *mismatch, GapOpen: *gapOpen, GapExtend: *gapExtend}
	bases := []byte(*readArg)
	biosimd.CleanASCIISeqInplace(bases)
	quals := make([]byte, len(bases))
	for i := range quals {
		quals[i] = 30
	}

	c := &cluster.Cluster{}
	c.Reads[0] = *cluster.NewRead(0, bases, quals)

	f := &fragment.FragmentMetadata{
		Cluster:   c,
		ReadIndex: 0,
		ContigID:  contigID,
		Position:  *position,
		Reverse:   *reverse,
	}

	arena := cigar.NewArena()
	fragment.UngappedAligner(ref, f, nil, arena, scores)

	if *withGaps && !f.Unmapped && f.Mismatches > fragment.GappedCutoff {
		scorer := sw.New(*match, *mismatch, *gapOpen, *gapExtend, len(bases))
		fragment.GappedAligner(scorer, ref, f, arena, scores, 0)
	}

	if f.Unmapped {
		fmt.Println("unmapped")
		return
	}
	fmt.Printf("%s:%d\t%s\tmismatches=%d\tscore=%d\tlogProb=%.2f\n",
		ref.Contigs[f.ContigID].Name, f.Position, cigar.String(arena.Slice(f.CigarRange)), f.Mismatches, f.SWScore, f.LogProbability)
}

// loadFasta reads a minimal single- or multi-record FASTA file into a
// reference.Reference. It accepts only the plain {A,C,G,T,N} alphabet this
// module's aligners operate on.
func loadFasta(path string) (*reference.Reference, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't open FASTA file")
	}
	defer fh.Close()

	var ref reference.Reference
	var cur *reference.Contig

	scanner := bufio.NewScanner(fh)
	scanner.Buffer(make([]byte, 1<<20), 1<<24)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if line[0] == '>' {
			name := strings.Fields(line[1:])[0]
			ref.Contigs = append(ref.Contigs, reference.Contig{ID: len(ref.Contigs), Name: name})
			cur = &ref.Contigs[len(ref.Contigs)-1]
			continue
		}
		if cur == nil {
			return nil, errors.Errorf("malformed FASTA file: sequence data before first '>' header in %s", path)
		}
		seq := []byte(line)
		biosimd.CleanASCIISeqInplace(seq)
		cur.Bases = append(cur.Bases, seq...)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "couldn't read FASTA data")
	}
	return &ref, nil
}
