package cycles

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFindCycle(t *testing.T) {
	tests := []struct {
		name  string
		edges [][2]string
		want  []string
	}{
		{name: "empty"},
		{name: "chain", edges: [][2]string{{"a", "b"}, {"b", "c"}}},
		{name: "diamond", edges: [][2]string{{"a", "b"}, {"a", "c"}, {"b", "d"}, {"c", "d"}}},
		{name: "self loop", edges: [][2]string{{"a", "a"}}, want: []string{"a", "a"}},
		{name: "triangle", edges: [][2]string{{"a", "b"}, {"b", "c"}, {"c", "a"}}, want: []string{"a", "b", "c", "a"}},
		{name: "tail into loop", edges: [][2]string{{"a", "b"}, {"b", "c"}, {"c", "b"}}, want: []string{"b", "c", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New()
			for _, e := range tt.edges {
				g.AddEdge(e[0], e[1])
			}
			assert.Equal(t, tt.want, g.FindCycle())
		})
	}
}

func TestCycles(t *testing.T) {
	g := New()
	g.AddEdge("a", "b")
	g.AddEdge("b", "a")
	g.AddEdge("b", "c")
	g.AddEdge("d", "d")
	g.AddEdge("e", "f")
	g.AddEdge("f", "g")
	g.AddEdge("g", "e")

	assert.Equal(t, [][]string{{"a", "b"}, {"d"}, {"e", "f", "g"}}, g.Cycles())
	assert.Empty(t, New().Cycles())
}

func TestFormatPath(t *testing.T) {
	assert.Equal(t, "a -> b -> a", FormatPath([]string{"a", "b", "a"}))
}
