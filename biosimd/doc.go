// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package biosimd provides the byte-slice sequence primitives the aligners
// in this module lean on in their hot paths: non-ACGT detection, ASCII base
// cleaning, and reverse complementation.
//
// The implementations are scalar and table-driven. Each entry point is
// shaped so a per-architecture SIMD body can be slotted in behind the same
// signature; the tables double as the lookup tables such a body would use.
package biosimd
