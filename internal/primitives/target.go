package primitives

import (
	"maps"

	"github.com/me/blocksched/internal/graph"
	"github.com/me/blocksched/internal/sequencer"
)

// Sprite is the execution subject scripts run on: a position and a set of
// variables.
type Sprite struct {
	name      string
	X, Y      float64
	Variables map[string]any
}

// NewSprite creates a sprite from its declaration. Variables are copied so
// runs do not alter the loaded program.
func NewSprite(def *graph.TargetDef) *Sprite {
	vars := make(map[string]any, len(def.Variables))
	maps.Copy(vars, def.Variables)
	return &Sprite{name: def.Name, X: def.X, Y: def.Y, Variables: vars}
}

// Name implements sequencer.Target.
func (s *Sprite) Name() string {
	return s.name
}

// StartScripts creates a sprite per declared target and starts a thread for
// each of its scripts whose hat is "when flag clicked".
func StartScripts(rt *sequencer.Runtime, prog *graph.Program) []*Sprite {
	sprites := make([]*Sprite, 0, len(prog.Targets))
	for _, def := range prog.Targets {
		sp := NewSprite(def)
		sprites = append(sprites, sp)
		for _, top := range def.Scripts {
			if hat, ok := prog.Block(top); ok && hat.Opcode == graph.OpWhenFlagClicked {
				rt.StartThread(top, sp)
			}
		}
	}
	return sprites
}
