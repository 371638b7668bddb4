// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package rnn

import (
	"fmt"
	"hash/fnv"
	"math"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// refValues returns the deterministic values, in [-0.5, 0.5], used for the variable name in scope.
// Each variable gets a different sequence, so swapped directions or projections change the outputs.
func refValues(scope, name string, size int) []float64 {
	hash := fnv.New32a()
	_, _ = hash.Write([]byte(scope + "/" + name))
	phase := float64(hash.Sum32()%10_000) / 1_000.0
	values := make([]float64, size)
	for k := range values {
		values[k] = 0.5 * math.Sin(phase+0.37*float64(k))
	}
	return values
}

func sigmoid(x float64) float64 { return 1.0 / (1.0 + math.Exp(-x)) }

// refLinear is a plain Go version of affine: y = x·w + b, with w stored row-major as [in, out].
type refLinear struct {
	in, out                 int
	weightsName, biasesName string
	w, b                    []float64
}

func newRefLinear(scope, prefix string, in, out int) refLinear {
	l := refLinear{in: in, out: out, weightsName: prefix + "_weights", biasesName: prefix + "_biases"}
	l.w = refValues(scope, l.weightsName, in*out)
	l.b = refValues(scope, l.biasesName, out)
	return l
}

// seed creates the variables of l in ctx, in the given scope, with the reference values.
func (l refLinear) seed(ctx *context.Context, scope string) {
	toFloat32 := func(values []float64) []float32 {
		converted := make([]float32, len(values))
		for ii, v := range values {
			converted[ii] = float32(v)
		}
		return converted
	}
	scopeCtx := ctx.InAbsPath(scope)
	scopeCtx.VariableWithValue(l.weightsName, tensors.FromFlatDataAndDimensions(toFloat32(l.w), l.in, l.out))
	scopeCtx.VariableWithValue(l.biasesName, tensors.FromFlatDataAndDimensions(toFloat32(l.b), l.out))
}

func (l refLinear) apply(x []float64) []float64 {
	y := make([]float64, l.out)
	for o := range l.out {
		y[o] = l.b[o]
		for i := range l.in {
			y[o] += x[i] * l.w[i*l.out+o]
		}
	}
	return y
}

func addVec(a, b []float64) []float64 {
	c := make([]float64, len(a))
	for ii := range a {
		c[ii] = a[ii] + b[ii]
	}
	return c
}

type refState struct {
	h, c []float64
}

// refLayer is a plain Go implementation of one layer of one direction, for one example.
type refLayer struct {
	cell                                   CellType
	hiddenSize                             int
	scope                                  string
	i2h, h2h                               refLinear
	gatesI2h, gatesH2h, transI2h, transH2h refLinear
}

func newRefLayer(cell CellType, scope string, inputSize, hiddenSize int) *refLayer {
	l := &refLayer{cell: cell, hiddenSize: hiddenSize, scope: scope}
	if cell == CellLSTM {
		l.i2h = newRefLinear(scope, "i2h", inputSize, 4*hiddenSize)
		l.h2h = newRefLinear(scope, "h2h", hiddenSize, 4*hiddenSize)
	} else {
		l.gatesI2h = newRefLinear(scope, "i2h_gates", inputSize, 2*hiddenSize)
		l.gatesH2h = newRefLinear(scope, "h2h_gates", hiddenSize, 2*hiddenSize)
		l.transI2h = newRefLinear(scope, "i2h_trans", inputSize, hiddenSize)
		l.transH2h = newRefLinear(scope, "h2h_trans", hiddenSize, hiddenSize)
	}
	return l
}

func (l *refLayer) linears() []refLinear {
	if l.cell == CellLSTM {
		return []refLinear{l.i2h, l.h2h}
	}
	return []refLinear{l.gatesI2h, l.gatesH2h, l.transI2h, l.transH2h}
}

func (l *refLayer) step(x []float64, prev refState, m float64) refState {
	hs := l.hiddenSize
	next := refState{h: make([]float64, hs)}
	if l.cell == CellLSTM {
		next.c = make([]float64, hs)
		gates := addVec(l.i2h.apply(x), l.h2h.apply(prev.h))
		for j := range hs {
			inputGate := sigmoid(gates[j])
			candidate := math.Tanh(gates[hs+j])
			forgetGate := sigmoid(gates[2*hs+j])
			outputGate := sigmoid(gates[3*hs+j])
			next.c[j] = forgetGate*prev.c[j] + inputGate*candidate
			next.h[j] = outputGate * math.Tanh(next.c[j])
			next.c[j] *= m
			next.h[j] *= m
		}
		return next
	}

	gates := addVec(l.gatesI2h.apply(x), l.gatesH2h.apply(prev.h))
	update := make([]float64, hs)
	resetHidden := make([]float64, hs)
	for j := range hs {
		update[j] = sigmoid(gates[j])
		resetHidden[j] = prev.h[j] * sigmoid(gates[hs+j])
	}
	candidate := addVec(l.transI2h.apply(x), l.transH2h.apply(resetHidden))
	for j := range hs {
		next.h[j] = (prev.h[j] + update[j]*(math.Tanh(candidate[j])-prev.h[j])) * m
	}
	return next
}

// refConfig is a plain Go version of the RNN, used to check the graphs built by Config.
type refConfig struct {
	cell                  CellType
	numLayers, hiddenSize int
	bidirectional         bool
	mask                  [][]float64   // [batchSize][sequenceSize], optional.
	lengths               []int         // [batchSize], optional.
	initialH, initialC    [][][]float64 // [numLayers][batchSize][numDirections*hiddenSize], optional.
}

type refOutputs struct {
	sequence   [][][]float64 // [sequenceSize][batchSize][numDirections*hiddenSize]
	lastHidden [][][]float64 // [numLayers][batchSize][numDirections*hiddenSize]
	lastCell   [][][]float64 // [numLayers][batchSize][numDirections*hiddenSize], nil for GRU.
}

func (rc refConfig) numDirections() int {
	if rc.bidirectional {
		return 2
	}
	return 1
}

// layers returns the reference layers indexed by direction and layer, with the same scopes as Config.layerScope
// (relative to the root scope).
func (rc refConfig) layers(featuresSize int) [][]*refLayer {
	stacks := make([][]*refLayer, rc.numDirections())
	for d := range stacks {
		stacks[d] = make([]*refLayer, rc.numLayers)
		for l := range rc.numLayers {
			scope := fmt.Sprintf("/layer_%d", l)
			if rc.bidirectional {
				direction := "forward"
				if d == 1 {
					direction = "backward"
				}
				scope = fmt.Sprintf("/%s_layer_%d", direction, l)
			}
			inputSize := featuresSize
			if l > 0 {
				inputSize = rc.hiddenSize
			}
			stacks[d][l] = newRefLayer(rc.cell, scope, inputSize, rc.hiddenSize)
		}
	}
	return stacks
}

// seedVariables creates in ctx all the variables the RNN will use, with the reference values. The RNN must be
// built with ctx.Checked(false) (or ctx.Reuse()) at the root scope to use them.
func (rc refConfig) seedVariables(ctx *context.Context, featuresSize int) {
	for _, stack := range rc.layers(featuresSize) {
		for _, layer := range stack {
			for _, linear := range layer.linears() {
				linear.seed(ctx, layer.scope)
			}
		}
	}
}

// run x shaped [batchSize][sequenceSize][featuresSize].
func (rc refConfig) run(x [][][]float64) refOutputs {
	batchSize, sequenceSize, featuresSize := len(x), len(x[0]), len(x[0][0])
	numDirections := rc.numDirections()
	hs := rc.hiddenSize
	out := refOutputs{
		sequence:   make([][][]float64, sequenceSize),
		lastHidden: make([][][]float64, rc.numLayers),
	}
	for t := range sequenceSize {
		out.sequence[t] = make([][]float64, batchSize)
	}
	for l := range rc.numLayers {
		out.lastHidden[l] = make([][]float64, batchSize)
	}
	if rc.cell == CellLSTM {
		out.lastCell = make([][][]float64, rc.numLayers)
		for l := range rc.numLayers {
			out.lastCell[l] = make([][]float64, batchSize)
		}
	}

	stacks := rc.layers(featuresSize)
	for b := range batchSize {
		maskAt := func(t int) float64 {
			if rc.mask != nil {
				return rc.mask[b][t]
			}
			if rc.lengths != nil && t >= rc.lengths[b] {
				return 0
			}
			return 1
		}
		lastIdx := sequenceSize - 1
		if rc.lengths != nil {
			lastIdx = min(max(rc.lengths[b]-1, 0), sequenceSize-1)
		}
		for d := range numDirections {
			// hidden[l][t], cells[l][t]
			hidden := make([][][]float64, rc.numLayers)
			cells := make([][][]float64, rc.numLayers)
			prev := make([]refState, rc.numLayers)
			stack := stacks[d]
			for l := range rc.numLayers {
				hidden[l] = make([][]float64, sequenceSize)
				cells[l] = make([][]float64, sequenceSize)
				prev[l] = refState{h: make([]float64, hs), c: make([]float64, hs)}
				if rc.initialH != nil {
					copy(prev[l].h, rc.initialH[l][b][d*hs:(d+1)*hs])
				}
				if rc.initialC != nil {
					copy(prev[l].c, rc.initialC[l][b][d*hs:(d+1)*hs])
				}
			}
			for step := range sequenceSize {
				t := step
				if d == 1 {
					t = sequenceSize - 1 - step
				}
				input := x[b][t]
				for l := range rc.numLayers {
					next := stack[l].step(input, prev[l], maskAt(t))
					hidden[l][t], cells[l][t] = next.h, next.c
					prev[l] = next
					input = next.h
				}
			}
			finalIdx := lastIdx
			if d == 1 {
				finalIdx = 0
			}
			for t := range sequenceSize {
				out.sequence[t][b] = append(out.sequence[t][b], hidden[rc.numLayers-1][t]...)
			}
			for l := range rc.numLayers {
				out.lastHidden[l][b] = append(out.lastHidden[l][b], hidden[l][finalIdx]...)
				if rc.cell == CellLSTM {
					out.lastCell[l][b] = append(out.lastCell[l][b], cells[l][finalIdx]...)
				}
			}
		}
	}
	return out
}
