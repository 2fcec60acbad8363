package graph

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// programDoc is the on-disk YAML form of a program. Scripts are written as
// nested block lists; Load flattens them into linked blocks.
type programDoc struct {
	Name       string         `yaml:"name"`
	Targets    []targetDoc    `yaml:"targets"`
	Procedures []procedureDoc `yaml:"procedures"`
}

type targetDoc struct {
	Name      string         `yaml:"name"`
	X         float64        `yaml:"x"`
	Y         float64        `yaml:"y"`
	Variables map[string]any `yaml:"variables"`
	Scripts   [][]blockDoc   `yaml:"scripts"`
}

type procedureDoc struct {
	ProcCode string     `yaml:"proccode"`
	Args     []string   `yaml:"args"`
	Warp     Flag       `yaml:"warp"`
	Body     []blockDoc `yaml:"body"`
}

type blockDoc struct {
	Opcode    string            `yaml:"opcode"`
	Inputs    map[string]any    `yaml:"inputs"`
	Fields    map[string]string `yaml:"fields"`
	Substack  []blockDoc        `yaml:"substack"`
	Substack2 []blockDoc        `yaml:"substack2"`
}

// LoadFile reads and loads a YAML program from path.
func LoadFile(path string) (*Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open program: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes a YAML program.
func Load(r io.Reader) (*Program, error) {
	var doc programDoc
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("YAML parse error: %w", err)
	}

	b := &builder{prog: NewProgram(doc.Name)}

	// Procedures first so their definitions exist regardless of order.
	for _, pd := range doc.Procedures {
		if pd.ProcCode == "" {
			return nil, fmt.Errorf("procedure without proccode")
		}
		def := &Block{
			ID:       b.nextID(),
			Opcode:   OpProcedureDefinition,
			ProcCode: pd.ProcCode,
			ArgNames: pd.Args,
			Warp:     bool(pd.Warp),
		}
		b.prog.Add(def)
		first, err := b.flatten(pd.Body, def.ID)
		if err != nil {
			return nil, fmt.Errorf("procedure %q: %w", pd.ProcCode, err)
		}
		def.Next = first
	}

	for _, td := range doc.Targets {
		t := &TargetDef{Name: td.Name, X: td.X, Y: td.Y, Variables: td.Variables}
		if t.Variables == nil {
			t.Variables = map[string]any{}
		}
		for i, script := range td.Scripts {
			top, err := b.flatten(script, "")
			if err != nil {
				return nil, fmt.Errorf("target %q script %d: %w", td.Name, i, err)
			}
			if top != "" {
				t.Scripts = append(t.Scripts, top)
			}
		}
		b.prog.Targets = append(b.prog.Targets, t)
	}

	return b.prog, nil
}

type builder struct {
	prog *Program
	n    int
}

func (b *builder) nextID() BlockID {
	b.n++
	return BlockID("b" + strconv.Itoa(b.n))
}

// flatten links a list of blocks as siblings and returns the first id.
func (b *builder) flatten(docs []blockDoc, parent BlockID) (BlockID, error) {
	var first, prev BlockID
	for _, d := range docs {
		if d.Opcode == "" {
			return "", fmt.Errorf("block without opcode")
		}
		blk := &Block{
			ID:     b.nextID(),
			Opcode: Opcode(d.Opcode),
			Parent: parent,
			Inputs: d.Inputs,
			Fields: d.Fields,
		}
		b.prog.Add(blk)

		if len(d.Substack) > 0 || len(d.Substack2) > 0 {
			s1, err := b.flatten(d.Substack, blk.ID)
			if err != nil {
				return "", err
			}
			blk.Branches = append(blk.Branches, s1)
			if len(d.Substack2) > 0 {
				s2, err := b.flatten(d.Substack2, blk.ID)
				if err != nil {
					return "", err
				}
				blk.Branches = append(blk.Branches, s2)
			}
		}

		if prev == "" {
			first = blk.ID
		} else {
			b.prog.blocks[prev].Next = blk.ID
		}
		prev = blk.ID
	}
	return first, nil
}
