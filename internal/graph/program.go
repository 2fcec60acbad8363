package graph

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownBlock is returned when a block id does not resolve.
var ErrUnknownBlock = errors.New("unknown block")

// TargetDef describes an execution subject declared by a program: its
// initial state and the hat blocks of its scripts.
type TargetDef struct {
	Name      string
	X, Y      float64
	Variables map[string]any
	Scripts   []BlockID
}

// Program is an in-memory block graph. It is read-only once loaded and safe
// for concurrent readers.
type Program struct {
	Name    string
	Targets []*TargetDef

	blocks     map[BlockID]*Block
	procedures map[string]BlockID
}

// NewProgram creates an empty program.
func NewProgram(name string) *Program {
	return &Program{
		Name:       name,
		blocks:     make(map[BlockID]*Block),
		procedures: make(map[string]BlockID),
	}
}

// Add inserts a block, deriving its tag from the opcode when unset, and
// registers it as a procedure definition when applicable.
func (p *Program) Add(b *Block) {
	if b.Tag == TagNone {
		b.Tag = TagFor(b.Opcode)
	}
	p.blocks[b.ID] = b
	if b.Tag == TagProcedureDefinition && b.ProcCode != "" {
		p.procedures[b.ProcCode] = b.ID
	}
}

// Block implements the scheduler's graph accessor.
func (p *Program) Block(id BlockID) (*Block, bool) {
	b, ok := p.blocks[id]
	return b, ok
}

// Branch returns the entry block of branch n of block id.
func (p *Program) Branch(id BlockID, n int) (BlockID, bool) {
	b, ok := p.blocks[id]
	if !ok {
		return "", false
	}
	return b.Branch(n)
}

// ProcedureDefinition returns the definition block for procCode.
func (p *Program) ProcedureDefinition(procCode string) (BlockID, bool) {
	id, ok := p.procedures[procCode]
	return id, ok
}

// Len returns the number of blocks.
func (p *Program) Len() int {
	return len(p.blocks)
}

// Procedures returns the declared procedure codes in sorted order.
func (p *Program) Procedures() []string {
	codes := make([]string, 0, len(p.procedures))
	for c := range p.procedures {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

// Validate checks that every reference in the graph resolves. Calls to
// undeclared procedures are reported even though the scheduler tolerates
// them (they run as no-ops).
func (p *Program) Validate() error {
	ids := make([]string, 0, len(p.blocks))
	for id := range p.blocks {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)

	var errs []error
	ref := func(from BlockID, what string, to BlockID) {
		if to == "" {
			return
		}
		if _, ok := p.blocks[to]; !ok {
			errs = append(errs, fmt.Errorf("block %s: %s %s: %w", from, what, to, ErrUnknownBlock))
		}
	}
	for _, id := range ids {
		b := p.blocks[BlockID(id)]
		ref(b.ID, "next", b.Next)
		for i, br := range b.Branches {
			ref(b.ID, fmt.Sprintf("branch %d", i+1), br)
		}
		if b.Opcode == OpProcedureCall {
			code := b.Field("PROCCODE")
			if _, ok := p.procedures[code]; !ok {
				errs = append(errs, fmt.Errorf("block %s: call to undefined procedure %q", b.ID, code))
			}
		}
	}
	for _, t := range p.Targets {
		for _, s := range t.Scripts {
			ref(BlockID(t.Name), "script", s)
		}
	}
	return errors.Join(errs...)
}
