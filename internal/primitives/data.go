package primitives

import (
	"fmt"

	"github.com/me/blocksched/internal/graph"
)

func setVariable(u *Util, b *graph.Block) {
	sp := u.Sprite()
	if sp == nil {
		return
	}
	sp.Variables[b.Field("VARIABLE")] = u.Input(b, "VALUE")
}

func changeVariable(u *Util, b *graph.Block) {
	sp := u.Sprite()
	if sp == nil {
		return
	}
	name := b.Field("VARIABLE")
	sp.Variables[name] = ToNumber(sp.Variables[name]) + u.Number(b, "VALUE")
}

func say(u *Util, b *graph.Block) {
	name := ""
	if u.th.Target != nil {
		name = u.th.Target.Name()
	}
	fmt.Fprintf(u.exec.out, "%s: %s\n", name, u.String(b, "MESSAGE"))
}

func changeX(u *Util, b *graph.Block) {
	if sp := u.Sprite(); sp != nil {
		sp.X += u.Number(b, "DX")
		u.RequestRedraw()
	}
}

func changeY(u *Util, b *graph.Block) {
	if sp := u.Sprite(); sp != nil {
		sp.Y += u.Number(b, "DY")
		u.RequestRedraw()
	}
}
