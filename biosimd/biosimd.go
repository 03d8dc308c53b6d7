// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package biosimd

// cleanASCIISeqTable maps 'a'/'c'/'g'/'t' to their capitals and everything
// outside ACGT to 'N'.
var cleanASCIISeqTable = func() (t [256]byte) {
	for i := range t {
		t[i] = 'N'
	}
	for _, b := range []byte("ACGT") {
		t[b] = b
		t[b+'a'-'A'] = b
	}
	return
}()

// CleanASCIISeqInplace capitalizes 'a'/'c'/'g'/'t', and replaces everything
// non-ACGT with 'N'.
func CleanASCIISeqInplace(ascii8 []byte) {
	for pos, ascii8Byte := range ascii8 {
		ascii8[pos] = cleanASCIISeqTable[ascii8Byte]
	}
}

var isNotCapitalACGTTable = func() (t [256]bool) {
	for i := range t {
		t[i] = true
	}
	for _, b := range []byte("ACGT") {
		t[b] = false
	}
	return
}()

// IsNonACGTPresent returns true iff there is a non-capital-ACGT character in
// the slice.
func IsNonACGTPresent(ascii8 []byte) bool {
	for _, ascii8Byte := range ascii8 {
		if isNotCapitalACGTTable[ascii8Byte] {
			return true
		}
	}
	return false
}
