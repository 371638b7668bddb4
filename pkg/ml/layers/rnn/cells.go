// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package rnn

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
)

// state of one recurrent layer at one timestep: both shaped [batchSize, hiddenSize].
// cell is nil for GRU.
type state struct {
	hidden, cell *Node
}

// cell computes one step of a recurrent layer.
type cell interface {
	// step takes the layer input x, shaped [batchSize, inputSize], the previous state and an optional mask
	// shaped [batchSize, 1], and returns the next state.
	step(x *Node, prev state, mask *Node) state
}

// cellActivations holds the activation for the sigmoid gates and the one for the tanh candidate
// (and, for LSTM, the cell output).
type cellActivations struct {
	gate, candidate activations.Type
}

// affine returns x·weights + biases, for x shaped [batchSize, inputSize], weights [inputSize, outputSize]
// and biases [outputSize].
func affine(x, weights, biases *Node) *Node {
	y := Einsum("bi,io->bo", x, weights)
	return Add(y, ExpandAxes(biases, 0))
}

// splitFeatures splits the last axis of x, shaped [batchSize, n*size], into n equal chunks.
func splitFeatures(x *Node, n int) []*Node {
	size := x.Shape().Dim(-1) / n
	chunks := make([]*Node, n)
	for ii := range n {
		chunks[ii] = Slice(x, AxisRange(), AxisRange(ii*size, (ii+1)*size))
	}
	return chunks
}

// lstmCell implements the LSTM recurrence:
//
//	gates = x·W_i + b_i + h·W_h + b_h, split into [input, candidate, forget, output]
//	c' = σ(forget) ⊙ c + σ(input) ⊙ tanh(candidate)
//	h' = σ(output) ⊙ tanh(c')
type lstmCell struct {
	i2hWeights, i2hBiases *Node // [inputSize, 4*hiddenSize], [4*hiddenSize]
	h2hWeights, h2hBiases *Node // [hiddenSize, 4*hiddenSize], [4*hiddenSize]
	activations           cellActivations
}

func (l *lstmCell) step(x *Node, prev state, mask *Node) state {
	gates := Add(
		affine(x, l.i2hWeights, l.i2hBiases),
		affine(prev.hidden, l.h2hWeights, l.h2hBiases))
	chunks := splitFeatures(gates, 4)
	inputGate := activations.Apply(l.activations.gate, chunks[0])
	candidate := activations.Apply(l.activations.candidate, chunks[1])
	forgetGate := activations.Apply(l.activations.gate, chunks[2])
	outputGate := activations.Apply(l.activations.gate, chunks[3])

	cellState := Add(
		Mul(forgetGate, prev.cell),
		Mul(inputGate, candidate))
	hiddenState := Mul(outputGate, activations.Apply(l.activations.candidate, cellState))
	if mask != nil {
		cellState = Mul(cellState, mask)
		hiddenState = Mul(hiddenState, mask)
	}
	return state{hidden: hiddenState, cell: cellState}
}

// gruCell implements the GRU recurrence:
//
//	[update, reset] = σ(x·W_gi + b_gi + h·W_gh + b_gh)
//	candidate = tanh(x·W_ti + b_ti + (h ⊙ reset)·W_th + b_th)
//	h' = h + update ⊙ (candidate - h)
type gruCell struct {
	gatesI2hWeights, gatesI2hBiases *Node // [inputSize, 2*hiddenSize], [2*hiddenSize]
	gatesH2hWeights, gatesH2hBiases *Node // [hiddenSize, 2*hiddenSize], [2*hiddenSize]
	transI2hWeights, transI2hBiases *Node // [inputSize, hiddenSize], [hiddenSize]
	transH2hWeights, transH2hBiases *Node // [hiddenSize, hiddenSize], [hiddenSize]
	activations                     cellActivations
}

func (l *gruCell) step(x *Node, prev state, mask *Node) state {
	gates := Add(
		affine(x, l.gatesI2hWeights, l.gatesI2hBiases),
		affine(prev.hidden, l.gatesH2hWeights, l.gatesH2hBiases))
	chunks := splitFeatures(gates, 2)
	updateGate := activations.Apply(l.activations.gate, chunks[0])
	resetGate := activations.Apply(l.activations.gate, chunks[1])

	candidate := Add(
		affine(x, l.transI2hWeights, l.transI2hBiases),
		affine(Mul(prev.hidden, resetGate), l.transH2hWeights, l.transH2hBiases))
	candidate = activations.Apply(l.activations.candidate, candidate)
	hiddenState := Add(prev.hidden, Mul(updateGate, Sub(candidate, prev.hidden)))
	if mask != nil {
		hiddenState = Mul(hiddenState, mask)
	}
	return state{hidden: hiddenState}
}

// newCell creates the variables of one layer (for one direction) in ctx and returns its cell.
func (c *Config) newCell(ctx *context.Context, g *Graph, inputSize int) cell {
	hiddenSize := c.hiddenSize
	acts := cellActivations{gate: c.gateActivation, candidate: c.candidateActivation}
	switch c.cellType {
	case CellGRU:
		return &gruCell{
			gatesI2hWeights: c.weightsVar(ctx, g, "i2h_gates_weights", inputSize, 2*hiddenSize),
			gatesI2hBiases:  c.biasesVar(ctx, g, "i2h_gates_biases", 2*hiddenSize),
			gatesH2hWeights: c.weightsVar(ctx, g, "h2h_gates_weights", hiddenSize, 2*hiddenSize),
			gatesH2hBiases:  c.biasesVar(ctx, g, "h2h_gates_biases", 2*hiddenSize),
			transI2hWeights: c.weightsVar(ctx, g, "i2h_trans_weights", inputSize, hiddenSize),
			transI2hBiases:  c.biasesVar(ctx, g, "i2h_trans_biases", hiddenSize),
			transH2hWeights: c.weightsVar(ctx, g, "h2h_trans_weights", hiddenSize, hiddenSize),
			transH2hBiases:  c.biasesVar(ctx, g, "h2h_trans_biases", hiddenSize),
			activations:     acts,
		}
	default:
		return &lstmCell{
			i2hWeights:  c.weightsVar(ctx, g, "i2h_weights", inputSize, 4*hiddenSize),
			i2hBiases:   c.biasesVar(ctx, g, "i2h_biases", 4*hiddenSize),
			h2hWeights:  c.weightsVar(ctx, g, "h2h_weights", hiddenSize, 4*hiddenSize),
			h2hBiases:   c.biasesVar(ctx, g, "h2h_biases", 4*hiddenSize),
			activations: acts,
		}
	}
}
