// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package rnn

import (
	"strings"

	"github.com/pkg/errors"
)

// CellType selects the recurrent cell used by every layer of the RNN.
type CellType int

const (
	// CellLSTM is the "Long Short-Term Memory" cell, with hidden and cell states.
	CellLSTM CellType = iota

	// CellGRU is the "Gated Recurrent Unit" cell, with only a hidden state.
	CellGRU
)

//go:generate go tool enumer -type=CellType -trimprefix=Cell -transform=snake -values -text -output=gen_celltype_enumer.go celltype.go

// HasCellState returns whether the cell carries a cell state besides the hidden state.
func (c CellType) HasCellState() bool {
	return c == CellLSTM
}

// ParseCellType converts a name ("lstm" or "gru", case-insensitive) to a CellType.
func ParseCellType(name string) (CellType, error) {
	c, err := CellTypeString(strings.TrimSpace(name))
	if err != nil {
		return CellLSTM, errors.Errorf("unknown RNN cell type %q, valid values are %q", name, CellTypeStrings())
	}
	return c, nil
}
