// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package rnn

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
)

// LastByLength selects, for each example, the state at position lengths-1 of the sequence.
//
// Each element of sequence is a state for one timestep, shaped [batchSize, featuresSize].
// lengths is shaped [batchSize] with the real (unpadded) length of each example; values are clamped to
// [1, len(sequence)]. If lengths is nil, the last element of the sequence is returned for all examples.
//
// The selection is a one-hot gather, so it is differentiable with respect to the states.
func LastByLength(sequence []*Node, lengths *Node) *Node {
	if len(sequence) == 0 {
		exceptions.Panicf("rnn.LastByLength: empty sequence")
	}
	sequenceSize := len(sequence)
	last := sequence[sequenceSize-1]
	if lengths == nil || sequenceSize == 1 {
		return last
	}
	batchSize := last.Shape().Dim(0)
	lengths.AssertDims(batchSize)

	indices := AddScalar(ConvertDType(lengths, dtypes.Int32), -1)
	indices = ClipScalar(indices, 0, float64(sequenceSize-1))
	selection := OneHot(indices, sequenceSize, last.DType()) // [batchSize, sequenceSize]
	stacked := Stack(sequence, 1)                             // [batchSize, sequenceSize, featuresSize]
	return Einsum("bt,btf->bf", selection, stacked)
}

// MaskFromLengths returns a mask shaped [batchSize, sequenceSize] with 1 for positions < lengths
// and 0 elsewhere, converted to dtype.
//
// lengths must be shaped [batchSize].
func MaskFromLengths(lengths *Node, sequenceSize int, dtype dtypes.DType) *Node {
	if lengths.Rank() != 1 {
		exceptions.Panicf("rnn.MaskFromLengths: lengths must be shaped [batchSize], got %s", lengths.Shape())
	}
	g := lengths.Graph()
	batchSize := lengths.Shape().Dim(0)
	positions := Iota(g, shapes.Make(dtypes.Int32, batchSize, sequenceSize), 1)
	limits := ExpandAxes(ConvertDType(lengths, dtypes.Int32), -1)
	limits = BroadcastToDims(limits, batchSize, sequenceSize)
	return ConvertDType(LessThan(positions, limits), dtype)
}
