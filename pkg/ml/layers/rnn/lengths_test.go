// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package rnn

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
)

func testSequence(g *Graph) []*Node {
	return []*Node{
		Const(g, [][]float32{{1, 2}, {10, 20}}),
		Const(g, [][]float32{{3, 4}, {30, 40}}),
		Const(g, [][]float32{{5, 6}, {50, 60}}),
	}
}

func TestLastByLength(t *testing.T) {
	graphtest.RunTestGraphFn(t, "LastByLength", func(g *Graph) (inputs, outputs []*Node) {
		lengths := Const(g, []int32{2, 3})
		inputs = []*Node{lengths}
		outputs = []*Node{LastByLength(testSequence(g), lengths)}
		return
	}, []any{
		[][]float32{{3, 4}, {50, 60}},
	}, -1)

	graphtest.RunTestGraphFn(t, "LastByLength without lengths", func(g *Graph) (inputs, outputs []*Node) {
		outputs = []*Node{LastByLength(testSequence(g), nil)}
		return
	}, []any{
		[][]float32{{5, 6}, {50, 60}},
	}, -1)

	graphtest.RunTestGraphFn(t, "LastByLength clamped", func(g *Graph) (inputs, outputs []*Node) {
		lengths := Const(g, []int64{0, 7})
		inputs = []*Node{lengths}
		outputs = []*Node{LastByLength(testSequence(g), lengths)}
		return
	}, []any{
		[][]float32{{1, 2}, {50, 60}},
	}, -1)
}

func TestMaskFromLengths(t *testing.T) {
	graphtest.RunTestGraphFn(t, "MaskFromLengths", func(g *Graph) (inputs, outputs []*Node) {
		lengths := Const(g, []int32{2, 0, 3})
		inputs = []*Node{lengths}
		outputs = []*Node{
			MaskFromLengths(lengths, 3, dtypes.Float32),
			MaskFromLengths(lengths, 2, dtypes.Bool),
		}
		return
	}, []any{
		[][]float32{{1, 1, 0}, {0, 0, 0}, {1, 1, 1}},
		[][]bool{{true, true}, {false, false}, {true, true}},
	}, -1)
}
