// Package graph holds the static structure of a block program: blocks, their
// inputs and fields, sibling linkage, branches and procedure definitions.
// Everything the scheduler needs to know about a block is normalized here, at
// load time, so the hot loop compares typed values only.
package graph

import "strings"

// BlockID identifies a block within a Program.
type BlockID string

// Opcode names the operation a block performs.
type Opcode string

const (
	OpWhenFlagClicked     Opcode = "event_whenflagclicked"
	OpProcedureDefinition Opcode = "procedures_definition"
	OpProcedureCall       Opcode = "procedures_call"
	OpBreakpoint          Opcode = "debug_breakpoint"
)

// Tag classifies a block for scheduling purposes.
type Tag uint8

const (
	TagNone Tag = iota
	TagHat
	TagProcedureDefinition
	TagBreakpoint
)

// String returns the name of the tag.
func (t Tag) String() string {
	switch t {
	case TagHat:
		return "hat"
	case TagProcedureDefinition:
		return "procedure_definition"
	case TagBreakpoint:
		return "breakpoint"
	}
	return "none"
}

// TagFor derives the scheduling tag of an opcode.
func TagFor(op Opcode) Tag {
	switch {
	case op == OpBreakpoint:
		return TagBreakpoint
	case op == OpProcedureDefinition:
		return TagProcedureDefinition
	case strings.HasPrefix(string(op), "event_when"):
		return TagHat
	}
	return TagNone
}

// Block is a single node of the program graph.
type Block struct {
	ID     BlockID
	Opcode Opcode
	Tag    Tag

	// Next is the following sibling at the same stack level, empty if none.
	Next   BlockID
	Parent BlockID

	// Branches holds the entry block of each branch (C-block mouth). Index 0
	// is branch number 1. An empty id marks an empty branch.
	Branches []BlockID

	Inputs map[string]any
	Fields map[string]string

	// Procedure definitions only.
	ProcCode string
	ArgNames []string
	Warp     bool
}

// Branch returns the entry block of branch n (1-based).
func (b *Block) Branch(n int) (BlockID, bool) {
	if n < 1 || n > len(b.Branches) {
		return "", false
	}
	id := b.Branches[n-1]
	return id, id != ""
}

// Input returns the raw value of the named input.
func (b *Block) Input(name string) (any, bool) {
	v, ok := b.Inputs[name]
	return v, ok
}

// Field returns the named field, or the empty string.
func (b *Block) Field(name string) string {
	return b.Fields[name]
}
