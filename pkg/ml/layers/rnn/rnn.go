// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package rnn builds unrolled recurrent layers: LSTM [1] and GRU [2] cells, forward-only or bidirectional,
// with one or more stacked layers.
//
// Since GoMLX doesn't implement loops, the size of the graph will be O(N) on the size of the sequence times the
// number of layers -- each step of each layer is instantiated as its own graph nodes.
//
// Layers advance together: for each timestep, all layers are applied before moving to the next timestep.
// Bidirectional RNNs run a second, independent, set of layers from the last timestep to the first, and the
// forward and backward states are concatenated on the feature axis.
//
// Variable-length (padded) sequences are supported with a mask, which zeros the states of padded steps, and
// with the real lengths of each example, used to select the final states.
//
// Example: a 2-layer bidirectional GRU over embedded tokens x, shaped [batchSize, seqLen, embedDim]:
//
//	outputs := rnn.New(ctx.In("encoder"), x, 128).
//		Cell(rnn.CellGRU).
//		NumLayers(2).
//		Bidirectional(true).
//		Dropout(0.1).
//		Lengths(lengths).
//		Done()
//	encoded := outputs.StackedSequence()   // [batchSize, seqLen, 256]
//	summary := outputs.LastHidden[1]       // [batchSize, 256]
//
// [1] https://www.bioinf.jku.at/publications/older/2604.pdf, Hochreiter & Schmidhuber, 1997
// [2] https://arxiv.org/abs/1406.1078, Cho et al., 2014
package rnn

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/regularizers"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// ParamCell is the hyperparameter that defines the default cell type: "lstm" or "gru".
	// The default is "lstm" (string).
	ParamCell = "rnn_cell"

	// ParamNumLayers is the hyperparameter that defines the default number of stacked layers.
	// The default is 1 (int).
	ParamNumLayers = "rnn_num_layers"

	// ParamBidirectional is the hyperparameter that defines whether RNNs are bidirectional by default.
	// The default is false (bool).
	ParamBidirectional = "rnn_bidirectional"

	// ParamDropoutRate is the hyperparameter that defines the dropout rate applied in between stacked layers.
	//
	// Defaults to the parameter "dropout_rate" (layers.ParamDropoutRate) and if that is not set, to 0.0 (no dropout).
	ParamDropoutRate = "rnn_dropout_rate"

	// ParamLearnInitialStates is the hyperparameter that defines whether the initial states are learned
	// variables, when they are not given explicitly with Config.InitialStates.
	// The default is false (bool), in which case the initial states are zero.
	ParamLearnInitialStates = "rnn_learn_initial_states"
)

// Config holds an RNN configuration. It is created with New, and once finished configuring, the RNN graph is
// built with Done (or Build).
type Config struct {
	ctx                   *context.Context
	x, mask, lengths      *Node
	hiddenSize, numLayers int
	cellType              CellType
	bidirectional         bool
	learnInitialStates    bool
	dropoutRate           float64

	initialHidden, initialCell []*Node

	gateActivation, candidateActivation activations.Type
	regularizer                         regularizers.Regularizer
}

// New creates a new RNN to be configured and then applied to x, shaped [batchSize, sequenceSize, featuresSize].
// hiddenSize is the size of the hidden state (and of the cell state, for LSTMs) of each layer and direction.
//
// Variables are created under ctx, in one sub-scope per layer and direction. Configuration defaults can
// be set with the hyperparameters ParamCell, ParamNumLayers, ParamBidirectional, ParamDropoutRate and
// ParamLearnInitialStates.
//
// Once finished configuring, call Config.Done.
func New(ctx *context.Context, x *Node, hiddenSize int) *Config {
	if x.Rank() != 3 {
		exceptions.Panicf("rnn: x must be shaped [batchSize, sequenceSize, featuresSize], got x.shape=%s", x.Shape())
	}
	if hiddenSize <= 0 {
		exceptions.Panicf("rnn: hiddenSize must be > 0, got %d", hiddenSize)
	}
	cellName := context.GetParamOr(ctx, ParamCell, CellLSTM.String())
	cellType, err := ParseCellType(cellName)
	if err != nil {
		exceptions.Panicf("rnn: invalid hyperparameter %q: %v", ParamCell, err)
	}
	c := &Config{
		ctx:                 ctx,
		x:                   x,
		hiddenSize:          hiddenSize,
		cellType:            cellType,
		numLayers:           context.GetParamOr(ctx, ParamNumLayers, 1),
		bidirectional:       context.GetParamOr(ctx, ParamBidirectional, false),
		learnInitialStates:  context.GetParamOr(ctx, ParamLearnInitialStates, false),
		dropoutRate:         context.GetParamOr(ctx, ParamDropoutRate, context.GetParamOr(ctx, layers.ParamDropoutRate, 0.0)),
		gateActivation:      activations.TypeSigmoid,
		candidateActivation: activations.TypeTanh,
		regularizer:         regularizers.FromContext(ctx),
	}
	// Values from hyperparameters go through the same checks as the setters.
	return c.NumLayers(c.numLayers).Dropout(c.dropoutRate)
}

// Cell configures the recurrent cell: CellLSTM or CellGRU.
//
// The default is CellLSTM, but it can be overridden by setting the hyperparameter ParamCell (="rnn_cell").
func (c *Config) Cell(cellType CellType) *Config {
	if !cellType.IsACellType() {
		exceptions.Panicf("rnn: unknown cell type %s, valid values are %v", cellType, CellTypeStrings())
	}
	c.cellType = cellType
	return c
}

// NumLayers configures the number of stacked layers. The input of layer n > 0 is the hidden state of layer n-1.
//
// The default is 1, but it can be overridden by setting the hyperparameter ParamNumLayers (="rnn_num_layers").
func (c *Config) NumLayers(numLayers int) *Config {
	if numLayers < 1 {
		exceptions.Panicf("rnn: numLayers must be >= 1, got %d", numLayers)
	}
	c.numLayers = numLayers
	return c
}

// Bidirectional configures whether to also run an independent set of layers backwards over the sequence.
//
// The default is false, but it can be overridden by setting the hyperparameter ParamBidirectional.
func (c *Config) Bidirectional(bidirectional bool) *Config {
	c.bidirectional = bidirectional
	return c
}

// Dropout sets the dropout ratio applied to the input of every layer but the first.
// It uses the normalized form of dropout (see layers.DropoutNormalize) and it is only active during training.
//
// If set to 0.0, no dropout is used.
//
// The default is 0.0, but it can be overridden by setting the hyperparameter ParamDropoutRate (="rnn_dropout_rate")
// or layers.ParamDropoutRate (="dropout_rate").
func (c *Config) Dropout(ratio float64) *Config {
	if ratio < 0 || ratio >= 1.0 {
		exceptions.Panicf("rnn: invalid dropout ratio %f -- set to 0.0 to disable it, and it must be < 1.0 otherwise everything is dropped out",
			ratio)
	}
	c.dropoutRate = ratio
	return c
}

// Mask sets a validity mask for padded sequences, shaped [batchSize, sequenceSize], with 1 for valid
// positions and 0 for padding. Any dtype is accepted (booleans included), it is converted to x's dtype.
//
// The states computed at masked positions are multiplied by 0.
func (c *Config) Mask(mask *Node) *Config {
	c.mask = mask
	return c
}

// Lengths sets the real (unpadded) length of each example, shaped [batchSize], with an integer dtype.
//
// It is used to select the final states (see LastByLength). If no Mask is set, one is derived from the
// lengths with MaskFromLengths.
func (c *Config) Lengths(lengths *Node) *Config {
	c.lengths = lengths
	return c
}

// InitialStates sets the initial hidden states, and for LSTMs the initial cell states, one per layer.
// Each is shaped [batchSize, numDirections*hiddenSize]: for bidirectional RNNs the first half of the
// feature axis is used by the forward direction and the second half by the backward direction.
//
// This is useful to chain RNNs: the Outputs.LastHidden and Outputs.LastCell of one can be fed here.
//
// cell is ignored for GRUs. Either can be nil, in which case the corresponding states default to zero
// (or to learned values, see LearnInitialStates).
func (c *Config) InitialStates(hidden, cell []*Node) *Config {
	c.initialHidden = hidden
	c.initialCell = cell
	return c
}

// LearnInitialStates configures whether initial states not given by InitialStates are learned variables,
// shaped [hiddenSize] and initialized with zero, one per layer and direction.
//
// The default is false (zero initial states), but it can be overridden by setting the hyperparameter
// ParamLearnInitialStates.
func (c *Config) LearnInitialStates(learn bool) *Config {
	c.learnInitialStates = learn
	return c
}

// Activations sets the activation used by the gates (default activations.TypeSigmoid) and by the
// candidate values and cell output (default activations.TypeTanh).
func (c *Config) Activations(gate, candidate activations.Type) *Config {
	c.gateActivation = gate
	c.candidateActivation = candidate
	return c
}

// Regularizer to be applied to the learned weights (but not the biases).
//
// The default is regularizers.FromContext, which is configured by regularizers.ParamL1 and regularizers.ParamL2.
func (c *Config) Regularizer(regularizer regularizers.Regularizer) *Config {
	c.regularizer = regularizer
	return c
}

// NumDirections returns 2 for bidirectional RNNs, 1 otherwise.
func (c *Config) NumDirections() int {
	if c.bidirectional {
		return 2
	}
	return 1
}

// Outputs of an RNN.
type Outputs struct {
	// Sequence holds the hidden state of the last layer for each timestep, each shaped
	// [batchSize, numDirections*hiddenSize].
	Sequence []*Node

	// LastHidden holds the final hidden state of each layer, shaped [batchSize, numDirections*hiddenSize].
	LastHidden []*Node

	// LastCell holds the final cell state of each layer, shaped [batchSize, numDirections*hiddenSize].
	// It is nil for GRUs.
	LastCell []*Node
}

// StackedSequence returns Sequence stacked into one node shaped [batchSize, sequenceSize, numDirections*hiddenSize].
func (o *Outputs) StackedSequence() *Node {
	return Stack(o.Sequence, 1)
}

// Build is like Done, but it returns an error instead of panicking if the configuration is invalid.
func (c *Config) Build() (outputs *Outputs, err error) {
	err = exceptions.TryCatch[error](func() { outputs = c.Done() })
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to build %s RNN", c.cellType)
	}
	return outputs, nil
}

// Done builds the unrolled RNN graph as configured and returns its outputs.
//
// For the forward direction, the final states are the ones at position length-1 of each example (see Lengths),
// or at the last position if lengths are not given. For the backward direction, the final states are the ones
// at position 0, where the backward pass ends.
func (c *Config) Done() *Outputs {
	x := c.x
	g := x.Graph()
	dtype := x.DType()
	batchSize := x.Shape().Dim(0)
	sequenceSize := x.Shape().Dim(1)
	featuresSize := x.Shape().Dim(2)
	numDirections := c.NumDirections()
	c.validate(batchSize, sequenceSize)

	mask := c.mask
	if mask != nil {
		mask = ConvertDType(mask, dtype)
	} else if c.lengths != nil {
		mask = MaskFromLengths(c.lengths, sequenceSize, dtype)
	}

	// Per timestep inputs and masks.
	inputs := make([]*Node, sequenceSize)
	var masks []*Node
	if mask != nil {
		masks = make([]*Node, sequenceSize)
	}
	for seqIdx := range sequenceSize {
		inputs[seqIdx] = Reshape(Slice(x, AxisRange(), AxisElem(seqIdx)), batchSize, featuresSize)
		if mask != nil {
			masks[seqIdx] = Reshape(Slice(mask, AxisRange(), AxisElem(seqIdx)), batchSize, 1)
		}
	}

	var dropoutRate *Node
	if c.dropoutRate > 0 && c.numLayers > 1 {
		dropoutRate = Scalar(g, dtype, c.dropoutRate)
	}

	directions := make([]*unrolled, numDirections)
	for dirIdx := range numDirections {
		stack := make([]stackedLayer, c.numLayers)
		for layerIdx := range c.numLayers {
			layerCtx := c.layerScope(dirIdx, layerIdx)
			inputSize := featuresSize
			if layerIdx > 0 {
				inputSize = c.hiddenSize
			}
			stack[layerIdx] = stackedLayer{
				ctx:     layerCtx,
				cell:    c.newCell(layerCtx, g, inputSize),
				initial: c.initialState(layerCtx, g, dirIdx, layerIdx),
			}
		}
		directions[dirIdx] = unroll(stack, inputs, masks, dropoutRate, dirIdx == 1)
	}
	if klog.V(1).Enabled() {
		klog.Infof("rnn: unrolled %s in scope %q: %d timesteps x %d layers x %d directions, hiddenSize=%d",
			c.cellType, c.ctx.Scope(), sequenceSize, c.numLayers, numDirections, c.hiddenSize)
	}
	return c.collectOutputs(directions)
}

// collectOutputs concatenates the directions and selects the final states.
func (c *Config) collectOutputs(directions []*unrolled) *Outputs {
	sequenceSize := c.x.Shape().Dim(1)
	topLayer := c.numLayers - 1
	outputs := &Outputs{
		Sequence:   make([]*Node, sequenceSize),
		LastHidden: make([]*Node, c.numLayers),
	}
	for seqIdx := range sequenceSize {
		outputs.Sequence[seqIdx] = concatDirections(directions, func(u *unrolled) *Node {
			return u.hidden[topLayer][seqIdx]
		})
	}

	// lastOf returns the final state of one direction: forward passes end at lengths-1, backward ones at 0.
	lastOf := func(states [][]*Node, dirIdx, layerIdx int) *Node {
		if dirIdx == 1 {
			return states[layerIdx][0]
		}
		return LastByLength(states[layerIdx], c.lengths)
	}
	for layerIdx := range c.numLayers {
		outputs.LastHidden[layerIdx] = concatDirectionsIdx(directions, func(dirIdx int, u *unrolled) *Node {
			return lastOf(u.hidden, dirIdx, layerIdx)
		})
	}
	if c.cellType.HasCellState() {
		outputs.LastCell = make([]*Node, c.numLayers)
		for layerIdx := range c.numLayers {
			outputs.LastCell[layerIdx] = concatDirectionsIdx(directions, func(dirIdx int, u *unrolled) *Node {
				return lastOf(u.cell, dirIdx, layerIdx)
			})
		}
	}
	return outputs
}

func concatDirections(directions []*unrolled, fn func(u *unrolled) *Node) *Node {
	return concatDirectionsIdx(directions, func(_ int, u *unrolled) *Node { return fn(u) })
}

func concatDirectionsIdx(directions []*unrolled, fn func(dirIdx int, u *unrolled) *Node) *Node {
	if len(directions) == 1 {
		return fn(0, directions[0])
	}
	parts := make([]*Node, len(directions))
	for dirIdx, u := range directions {
		parts[dirIdx] = fn(dirIdx, u)
	}
	return Concatenate(parts, -1)
}

// validate checks the shapes of the optional inputs. It panics with an informative message if they are invalid.
func (c *Config) validate(batchSize, sequenceSize int) {
	if c.mask != nil {
		if err := c.mask.Shape().CheckDims(batchSize, sequenceSize); err != nil {
			exceptions.Panicf("rnn: mask must be shaped [batchSize=%d, sequenceSize=%d]: %v", batchSize, sequenceSize, err)
		}
	}
	if c.lengths != nil {
		if err := c.lengths.Shape().CheckDims(batchSize); err != nil {
			exceptions.Panicf("rnn: lengths must be shaped [batchSize=%d]: %v", batchSize, err)
		}
		if !c.lengths.DType().IsInt() {
			exceptions.Panicf("rnn: lengths must have an integer dtype, got %s", c.lengths.DType())
		}
	}
	stateDim := c.NumDirections() * c.hiddenSize
	checkStates := func(name string, states []*Node) {
		if states == nil {
			return
		}
		if len(states) != c.numLayers {
			exceptions.Panicf("rnn: %d initial %s states given, but there are %d layers", len(states), name, c.numLayers)
		}
		for layerIdx, s := range states {
			if s == nil {
				exceptions.Panicf("rnn: initial %s state for layer %d is nil", name, layerIdx)
			}
			if err := s.Shape().CheckDims(batchSize, stateDim); err != nil {
				exceptions.Panicf("rnn: initial %s state for layer %d must be shaped [batchSize=%d, numDirections*hiddenSize=%d]: %v",
					name, layerIdx, batchSize, stateDim, err)
			}
		}
	}
	checkStates("hidden", c.initialHidden)
	if c.cellType.HasCellState() {
		checkStates("cell", c.initialCell)
	}
}
