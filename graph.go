package onlinelstm

import (
	"fmt"

	"github.com/awalterschulze/gographviz"
)

// ToDot describes the predictor's architecture as a graphviz digraph: the
// inputs, every layer with its recurrent edge, and the output softmax.
func (l *LSTM) ToDot() string {
	g := gographviz.NewGraph()
	if err := g.SetName("G"); err != nil {
		panic(err)
	}
	g.SetDir(true)
	g.AddAttr("G", "rankdir", "BT")

	box := func(label string) map[string]string {
		return map[string]string{
			"shape":    "box",
			"fontname": "Monaco",
			"label":    fmt.Sprintf("%q", label),
		}
	}
	conf := l.conf
	g.AddNode("G", "symbol", box(fmt.Sprintf("symbol (%d)", conf.OutputSize)))
	if conf.InputSize > 0 {
		g.AddNode("G", "features", box(fmt.Sprintf("features (%d)", conf.InputSize)))
	}
	g.AddNode("G", "softmax", box(fmt.Sprintf("softmax %d×%d (%s)", conf.OutputSize, conf.hiddenSize(), l.k.Name())))
	for i := range l.layers {
		name := fmt.Sprintf("layer%d", i)
		g.AddNode("G", name, box(fmt.Sprintf("LSTM %d: %d cells, horizon %d", i, conf.Cells, conf.Horizon)))
		g.AddEdge("symbol", name, true, nil)
		if conf.InputSize > 0 {
			g.AddEdge("features", name, true, nil)
		}
		if i > 0 {
			g.AddEdge(fmt.Sprintf("layer%d", i-1), name, true, nil)
		}
		g.AddEdge(name, name, true, map[string]string{"style": "dashed"})
		g.AddEdge(name, "softmax", true, nil)
	}
	return g.String()
}
