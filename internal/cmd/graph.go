package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/taskgraph/internal/registry"
	"github.com/Iron-Ham/taskgraph/internal/store"
	"github.com/Iron-Ham/taskgraph/internal/task"
)

// Graph export formats
const (
	formatJSON = "json"
	formatYAML = "yaml"
	formatDOT  = "dot"
)

func newGraphCmd(a *app) *cobra.Command {
	var format, out string
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Export the dependency graph",
		Long: `Export every task, every blocked-by edge and a topological order.

With --out the export is written atomically to a file. The write takes the
cross-process lock on that file when it can, and proceeds without it when
another process holds it.`,
		Example: `  taskgraph graph --format dot --out tasks.dot && dot -Tsvg tasks.dot > tasks.svg`,
		Args:    cobra.NoArgs,
	}
	cmd.RunE = a.runE(func(ctx context.Context, args []string) error {
		g, err := a.reg.DependencyGraph()
		if err != nil {
			return err
		}
		data, err := encodeGraph(g, format)
		if err != nil {
			return err
		}
		if out == "" {
			_, err = a.out.Write(data)
			return err
		}
		err = store.WriteFile(ctx, nil, out, data,
			store.WithLock(a.cfg.Store.LockTimeout),
			store.WithWriteLogger(a.logger),
		)
		if err != nil {
			return err
		}
		a.printf("Wrote %d tasks to %s\n", len(g.Nodes), out)
		return nil
	})
	cmd.Flags().StringVarP(&format, "format", "f", formatJSON, "output format: json, yaml, dot")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write to this file instead of stdout")
	return cmd
}

func encodeGraph(g *registry.Graph, format string) ([]byte, error) {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(g, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case formatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(g); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case formatDOT:
		return encodeDOT(g), nil
	default:
		return nil, fmt.Errorf("unknown graph format %q (want json, yaml or dot)", format)
	}
}

// dotColors maps task states to Graphviz fill colors.
var dotColors = map[task.State]string{
	task.StateQueued:    "#E5E7EB",
	task.StateBlocked:   "#FDE68A",
	task.StateRunning:   "#A7F3D0",
	task.StateCompleted: "#DDD6FE",
	task.StateFailed:    "#FECACA",
	task.StateCancelled: "#BFDBFE",
}

// encodeDOT renders g for Graphviz. Edges point from a dependency to the
// task it blocks, so the graph reads in execution order.
func encodeDOT(g *registry.Graph) []byte {
	var b bytes.Buffer
	b.WriteString("digraph taskgraph {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [shape=box, style=\"rounded,filled\", fontname=\"Helvetica\"];\n")
	for _, n := range g.Nodes {
		label := n.ID + "\\n" + string(n.State)
		if n.Description != "" {
			label = n.ID + ": " + n.Description + "\\n" + string(n.State)
		}
		fmt.Fprintf(&b, "  %s [label=%s, fillcolor=%q];\n",
			strconv.Quote(n.ID), dotString(label), dotColors[n.State])
	}
	for _, e := range g.Edges {
		fmt.Fprintf(&b, "  %s -> %s;\n", strconv.Quote(e.To), strconv.Quote(e.From))
	}
	b.WriteString("}\n")
	return b.Bytes()
}

// dotString quotes s for DOT, keeping the \n line breaks already in it.
func dotString(s string) string {
	var b bytes.Buffer
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}
