// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// rnn_graph builds an unrolled RNN for random inputs, executes it and reports the variables created and
// the shapes of the outputs.
//
// The RNN is configured with context hyperparameters, set with -set. E.g.:
//
//	$ rnn_graph -set="rnn_cell=gru;rnn_num_layers=2;rnn_bidirectional=true;seq_len=32" -vars
//
// With -checkpoint the variables (and hyperparameters) are loaded from, and saved to, the given directory, so
// the same weights can be inspected later with gomlx_checkpoints.
package main

import (
	"flag"
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/rnn/pkg/ml/layers/rnn"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	flagParams     = flag.Bool("params", false, "Lists the hyperparameters.")
	flagVars       = flag.Bool("vars", false, "Lists the variables created by the RNN.")
	flagTrain      = flag.Bool("train", false, "Build the graph in training mode, which enables dropout in between layers.")
	flagCheckpoint = flag.String("checkpoint", "", "Directory to load the variables from (if it exists) and to save them to. "+
		"If left empty, no checkpoints are created.")
)

const (
	ParamBatchSize   = "batch_size"
	ParamSeqLen      = "seq_len"
	ParamFeatures    = "features"
	ParamHiddenSize  = "hidden_size"
	ParamRagged      = "ragged"
	modelScope       = "rnn"
	outputsTableName = "Outputs"
)

// createDefaultContext sets the default hyperparameters: the shape of the random inputs and the RNN configuration.
func createDefaultContext() *context.Context {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		ParamBatchSize:  8,
		ParamSeqLen:     16,
		ParamFeatures:   32,
		ParamHiddenSize: 64,

		// ragged generates random lengths in [1, seq_len] for each example, and masks the padding.
		ParamRagged: false,

		rnn.ParamCell:               "lstm",
		rnn.ParamNumLayers:          1,
		rnn.ParamBidirectional:      false,
		rnn.ParamLearnInitialStates: false,
		layers.ParamDropoutRate:     0.0,
	})
	return ctx
}

func main() {
	ctx := createDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()
	paramsSet := must.M1(commandline.ParseContextSettings(ctx, *settings))
	err := exceptions.TryCatch[error](func() { run(ctx, paramsSet) })
	if err != nil {
		klog.Fatalf("Failed with error: %+v", err)
	}
}

// outputStat is the report of one output of the RNN.
type outputStat struct {
	name    string
	shape   shapes.Shape
	meanAbs float32
}

func run(ctx *context.Context, paramsSet []string) {
	checkpoint := openCheckpoint(ctx, *flagCheckpoint, paramsSet)
	if klog.V(1).Enabled() {
		klog.Infof("Hyperparameters:\n%s", commandline.SprintContextSettings(ctx))
	}

	backend := backends.MustNew()
	var names []string
	var outputShapes []shapes.Shape
	results := context.MustExecOnceN(backend, ctx, func(ctx *context.Context, g *Graph) []*Node {
		if *flagTrain {
			ctx.SetTraining(g, true)
		}
		outputs := buildRNN(ctx.In(modelScope), g)
		names, outputShapes = nil, nil
		var all []*Node
		add := func(name string, x *Node) {
			names = append(names, name)
			outputShapes = append(outputShapes, x.Shape())
			all = append(all, ReduceAllMean(Abs(x)))
		}
		add("Sequence", outputs.StackedSequence())
		add("LastHidden", Stack(outputs.LastHidden, 0))
		if outputs.LastCell != nil {
			add("LastCell", Stack(outputs.LastCell, 0))
		}
		return all
	})
	stats := make([]outputStat, len(results))
	for ii, result := range results {
		stats[ii] = outputStat{
			name:    names[ii],
			shape:   outputShapes[ii],
			meanAbs: tensors.ToScalar[float32](result),
		}
	}

	reportSummary(ctx)
	reportOutputs(stats)
	if *flagParams {
		reportParams(ctx)
	}
	if *flagVars {
		reportVariables(ctx)
	}
	if checkpoint != nil {
		must.M(checkpoint.Save())
		fmt.Printf("Saved variables to %q\n", *flagCheckpoint)
	}
}

// openCheckpoint loads the hyperparameters (except those in paramsSet) and variables from the latest checkpoint
// in dir, if any. Variables are loaded as the RNN creates them.
// It returns nil if dir is empty.
func openCheckpoint(ctx *context.Context, dir string, paramsSet []string) *checkpoints.Handler {
	if dir == "" {
		return nil
	}
	return must.M1(checkpoints.Build(ctx).
		Dir(dir).
		ExcludeParams(paramsSet...).
		Done())
}

// modelVariables returns the variables under the RNN scope, sorted by scope and name.
// Support variables, like the random number generator state, are not included.
func modelVariables(ctx *context.Context) []*context.Variable {
	var vars []*context.Variable
	ctx.In(modelScope).EnumerateVariablesInScope(func(v *context.Variable) {
		vars = append(vars, v)
	})
	slices.SortFunc(vars, func(a, b *context.Variable) int {
		if cmp := strings.Compare(a.Scope(), b.Scope()); cmp != 0 {
			return cmp
		}
		return strings.Compare(a.Name(), b.Name())
	})
	return vars
}

// buildRNN creates random inputs, shaped [batch_size, seq_len, features], and applies the RNN configured
// by the hyperparameters to it.
func buildRNN(ctx *context.Context, g *Graph) *rnn.Outputs {
	batchSize := context.GetParamOr(ctx, ParamBatchSize, 8)
	seqLen := context.GetParamOr(ctx, ParamSeqLen, 16)
	features := context.GetParamOr(ctx, ParamFeatures, 32)
	hiddenSize := context.GetParamOr(ctx, ParamHiddenSize, 64)

	x := ctx.RandomNormal(g, shapes.Make(dtypes.Float32, batchSize, seqLen, features))
	config := rnn.New(ctx, x, hiddenSize)
	if context.GetParamOr(ctx, ParamRagged, false) {
		lengths := ctx.RandomUniform(g, shapes.Make(dtypes.Float32, batchSize))
		lengths = AddScalar(Floor(MulScalar(lengths, float64(seqLen))), 1)
		config.Lengths(ConvertDType(lengths, dtypes.Int32))
	}
	return must.M1(config.Build())
}

func reportSummary(ctx *context.Context) {
	fmt.Println(titleStyle.Render("Summary"))
	table := newPlainTable(false, lipgloss.Right, lipgloss.Left)
	table.Row("scope", ctx.In(modelScope).Scope())
	table.Row("cell", context.GetParamOr(ctx, rnn.ParamCell, "lstm"))
	table.Row("layers", humanize.Comma(int64(context.GetParamOr(ctx, rnn.ParamNumLayers, 1))))
	table.Row("bidirectional", fmt.Sprintf("%v", context.GetParamOr(ctx, rnn.ParamBidirectional, false)))
	table.Row("training", fmt.Sprintf("%v", *flagTrain))

	vars := modelVariables(ctx)
	var totalSize int
	var totalMemory uintptr
	for _, v := range vars {
		totalSize += v.Shape().Size()
		totalMemory += v.Shape().Memory()
	}
	table.Row("# variables", humanize.Comma(int64(len(vars))))
	table.Row("# parameters", humanize.Comma(int64(totalSize)))
	table.Row("# bytes", humanize.Bytes(uint64(totalMemory)))
	fmt.Println(table.Render())
}

func reportOutputs(stats []outputStat) {
	fmt.Println(titleStyle.Render(outputsTableName))
	table := newPlainTable(true, lipgloss.Left, lipgloss.Left, lipgloss.Right)
	table.Headers("Output", "Shape", "Mean |value|")
	for _, stat := range stats {
		table.Row(stat.name, stat.shape.String(), fmt.Sprintf("%.4f", stat.meanAbs))
	}
	fmt.Println(table.Render())
}

func reportParams(ctx *context.Context) {
	fmt.Println(titleStyle.Render("Hyperparameters"))
	table := newPlainTable(true)
	table.Headers("Scope", "Name", "Type", "Value")
	ctx.EnumerateParams(func(scope, key string, value any) {
		table.Row(scope, key, fmt.Sprintf("%T", value), fmt.Sprintf("%v", value))
	})
	fmt.Println(table.Render())
}

func reportVariables(ctx *context.Context) {
	fmt.Println(titleStyle.Render("Variables"))
	table := newPlainTable(true, lipgloss.Left, lipgloss.Left, lipgloss.Left, lipgloss.Right)
	table.Headers("Scope", "Name", "Shape", "Size", "Bytes")
	for _, v := range modelVariables(ctx) {
		shape := v.Shape()
		table.Row(
			v.Scope(), v.Name(), shape.String(),
			humanize.Comma(int64(shape.Size())),
			humanize.Bytes(uint64(shape.Memory())),
		)
	}
	fmt.Println(table.Render())
}
