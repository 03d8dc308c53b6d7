// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package biosimd_test

import (
	"testing"

	"github.com/grailbio/bioalign/biosimd"
	"github.com/stretchr/testify/assert"
)

func TestReverseComp8(t *testing.T) {
	src := []byte("ACGTTNCA")
	dst := make([]byte, len(src))
	biosimd.ReverseComp8(dst, src)
	assert.Equal(t, []byte("TGNAACGT"), dst)
	// src untouched.
	assert.Equal(t, []byte("ACGTTNCA"), src)
}

func TestReverseComp8Inplace(t *testing.T) {
	for _, tc := range []struct{ in, want string }{
		{"", ""},
		{"A", "T"},
		{"AC", "GT"},
		{"ACG", "CGT"},
		{"ACGTTNCA", "TGNAACGT"},
		{"acgtn", "NACGT"},
	} {
		seq := []byte(tc.in)
		biosimd.ReverseComp8Inplace(seq)
		assert.Equal(t, tc.want, string(seq), "input %q", tc.in)
	}
}
