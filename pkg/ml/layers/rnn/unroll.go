// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package rnn

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
)

// stackedLayer is one layer of one direction: its cell, its context scope (used for dropout randomness)
// and its initial state.
type stackedLayer struct {
	ctx     *context.Context
	cell    cell
	initial state
}

// unrolled holds the states of every layer at every timestep for one direction.
// States are indexed by layer and then by the timestep position in the original sequence,
// regardless of the direction in which they were computed.
type unrolled struct {
	hidden, cell [][]*Node
}

// unroll runs the stacked layers over inputs (one [batchSize, featuresSize] node per timestep),
// timestep-major and then layer-major.
//
// masks is either nil or has one [batchSize, 1] node per timestep.
// dropoutRate, if not nil, is applied to the input of layers >= 1.
// If reverse is true, timesteps are visited from the last to the first.
func unroll(stack []stackedLayer, inputs, masks []*Node, dropoutRate *Node, reverse bool) *unrolled {
	numLayers, sequenceSize := len(stack), len(inputs)
	u := &unrolled{
		hidden: make([][]*Node, numLayers),
		cell:   make([][]*Node, numLayers),
	}
	prev := make([]state, numLayers)
	for layerIdx, layer := range stack {
		u.hidden[layerIdx] = make([]*Node, sequenceSize)
		u.cell[layerIdx] = make([]*Node, sequenceSize)
		prev[layerIdx] = layer.initial
	}

	for stepIdx := range sequenceSize {
		seqPos := stepIdx
		if reverse {
			seqPos = sequenceSize - 1 - stepIdx
		}
		var mask *Node
		if masks != nil {
			mask = masks[seqPos]
		}
		x := inputs[seqPos]
		for layerIdx, layer := range stack {
			if layerIdx > 0 && dropoutRate != nil {
				x = layers.DropoutNormalize(layer.ctx, x, dropoutRate, true)
			}
			next := layer.cell.step(x, prev[layerIdx], mask)
			u.hidden[layerIdx][seqPos] = next.hidden
			u.cell[layerIdx][seqPos] = next.cell
			prev[layerIdx] = next
			x = next.hidden
		}
	}
	return u
}
