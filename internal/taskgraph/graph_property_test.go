//go:build property

package taskgraph

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestGraphOrderingProperties checks scheduling invariants on random DAGs.
func TestGraphOrderingProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(4242)
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	// Edges only point from higher to lower indices, so the graph is acyclic.
	buildGraph := func(edgeBits []bool, size int) (*Graph, *recorder, map[string][]string) {
		g := New(nil)
		rec := &recorder{}
		g.AddObserver(rec)
		deps := make(map[string][]string)

		bit := 0
		for i := 0; i < size; i++ {
			name := fmt.Sprintf("t%d", i)
			for j := 0; j < i; j++ {
				if bit < len(edgeBits) && edgeBits[bit] {
					deps[name] = append(deps[name], fmt.Sprintf("t%d", j))
				}
				bit++
			}
			_ = g.Register(Task{Name: name, Deps: deps[name], Action: sleepAction(0)})
		}
		all := make([]string, size)
		for i := range all {
			all[i] = fmt.Sprintf("t%d", i)
		}
		_ = g.Register(Task{Name: "all", Deps: all})
		return g, rec, deps
	}

	properties.Property("every dependency finishes before its dependent starts", prop.ForAll(
		func(edgeBits []bool, size int) bool {
			g, rec, deps := buildGraph(edgeBits, size)
			if err := g.Run(context.Background(), "all"); err != nil {
				return false
			}
			for task, taskDeps := range deps {
				start := rec.index("start:" + task)
				for _, dep := range taskDeps {
					finish := rec.index("finish:" + dep)
					if finish == -1 || start == -1 || finish > start {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOfN(45, gen.Bool()),
		gen.IntRange(1, 10),
	))

	properties.Property("every task runs exactly once per invocation", prop.ForAll(
		func(edgeBits []bool, size int) bool {
			g, rec, _ := buildGraph(edgeBits, size)
			if err := g.Run(context.Background(), "all"); err != nil {
				return false
			}
			seen := make(map[string]int)
			for _, event := range rec.snapshot() {
				seen[event]++
			}
			for i := 0; i < size; i++ {
				if seen[fmt.Sprintf("start:t%d", i)] != 1 {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(45, gen.Bool()),
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}
