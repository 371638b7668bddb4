// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package rnn

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
)

// Variable names used by the RNN, within each layer scope (see Config.layerScope).
const (
	VarInitialHidden = "initial_hidden"
	VarInitialCell   = "initial_cell"
)

// layerScope returns the context scope for the layer and direction: "layer_<n>" for unidirectional RNNs,
// and "forward_layer_<n>" or "backward_layer_<n>" for bidirectional ones.
func (c *Config) layerScope(dirIdx, layerIdx int) *context.Context {
	if !c.bidirectional {
		return c.ctx.Inf("layer_%d", layerIdx)
	}
	if dirIdx == 0 {
		return c.ctx.Inf("forward_layer_%d", layerIdx)
	}
	return c.ctx.Inf("backward_layer_%d", layerIdx)
}

// weightsVar creates (or reuses) a weights variable and registers it with the regularizer.
func (c *Config) weightsVar(ctx *context.Context, g *Graph, name string, dims ...int) *Node {
	v := ctx.VariableWithShape(name, shapes.Make(c.x.DType(), dims...))
	if c.regularizer != nil {
		// Only for the weights, not for the biases.
		c.regularizer(ctx, g, v)
	}
	return v.ValueGraph(g)
}

// biasesVar creates (or reuses) a biases variable.
func (c *Config) biasesVar(ctx *context.Context, g *Graph, name string, dims ...int) *Node {
	return ctx.VariableWithShape(name, shapes.Make(c.x.DType(), dims...)).ValueGraph(g)
}

// initialState returns the state the layer (in the given direction) starts from, with shapes [batchSize, hiddenSize].
//
// Priority: states given by Config.InitialStates, then learned states (Config.LearnInitialStates), then zeros.
func (c *Config) initialState(ctx *context.Context, g *Graph, dirIdx, layerIdx int) (s state) {
	s.hidden = c.initialStateFor(ctx, g, c.initialHidden, VarInitialHidden, dirIdx, layerIdx)
	if c.cellType.HasCellState() {
		s.cell = c.initialStateFor(ctx, g, c.initialCell, VarInitialCell, dirIdx, layerIdx)
	}
	return
}

func (c *Config) initialStateFor(ctx *context.Context, g *Graph, given []*Node, varName string, dirIdx, layerIdx int) *Node {
	dtype := c.x.DType()
	batchSize, hiddenSize := c.x.Shape().Dim(0), c.hiddenSize
	if given != nil {
		// Bidirectional states are concatenated on the feature axis: forward first, then backward.
		start := dirIdx * hiddenSize
		s := Slice(given[layerIdx], AxisRange(), AxisRange(start, start+hiddenSize))
		return ConvertDType(s, dtype)
	}
	if c.learnInitialStates {
		v := ctx.WithInitializer(initializers.Zero).
			VariableWithShape(varName, shapes.Make(dtype, hiddenSize)).
			ValueGraph(g)
		return BroadcastPrefix(v, batchSize)
	}
	return Zeros(g, shapes.Make(dtype, batchSize, hiddenSize))
}
