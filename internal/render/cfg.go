package render

import (
	"fmt"
	"strings"

	"classprobe/internal/cfg"
)

// maxBlockLines is the most instruction lines drawn per block.
const maxBlockLines = 24

// CFGDOT renders a per-method basic-block CFG as DOT.
// Each basic block is a node; edges represent control flow.
// Entry block is highlighted. Instructions for which mark returns true are
// drawn in the highlight color; mark may be nil.
func CFGDOT(f cfg.FuncCFG, t Theme, mark func(cfg.Inst) bool) string {
	if len(f.Blocks) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("digraph cfg {\n")
	b.WriteString("  rankdir=TB;\n")
	b.WriteString("  nodesep=0.3;\n")
	b.WriteString("  ranksep=0.4;\n")
	fmt.Fprintf(&b, "  bgcolor=%q;\n", t.Background)
	fmt.Fprintf(&b, "  node [shape=rect, style=filled, fillcolor=%q, color=%q, penwidth=0.5, fontname=\"Courier,monospace\", fontsize=8, fontcolor=%q, margin=\"0.08,0.04\"];\n",
		t.NodeFill, t.NodeBorder, t.TextColor)
	fmt.Fprintf(&b, "  edge [penwidth=0.7, arrowsize=0.5, arrowhead=vee];\n")
	fmt.Fprintf(&b, "  labelloc=t;\n  labeljust=l;\n")
	fmt.Fprintf(&b, "  label=<<font face=\"Helvetica Neue,Helvetica\" point-size=\"9\" color=\"%s\">%s</font>>;\n",
		t.TextColor, dotEscape(f.Name))
	b.WriteByte('\n')

	for _, blk := range f.Blocks {
		var lines []string
		end := min(blk.End, len(f.Insts))
		for i := blk.Start; i < end; i++ {
			inst := f.Insts[i]
			line := dotEscape(truncLabel(fmt.Sprintf("%d: %s", inst.Offset, inst.Text), 96))
			if mark != nil && mark(inst) {
				line = fmt.Sprintf("<font color=\"%s\">%s</font>", t.HighlightText, line)
			}
			lines = append(lines, line)
		}
		if len(lines) > maxBlockLines {
			half := maxBlockLines / 2
			kept := append(lines[:half:half], fmt.Sprintf("... (%d more)", len(lines)-2*half))
			lines = append(kept, lines[len(lines)-half:]...)
		}

		label := strings.Join(lines, "<br align=\"left\"/>") + "<br align=\"left\"/>"
		attrs := ""
		if blk.IsEntry {
			attrs = fmt.Sprintf(", penwidth=1.5, color=%q", t.EntryBorder)
		}
		if blk.IsTerm {
			attrs += fmt.Sprintf(", fillcolor=%q", t.ExitFill)
		}
		fmt.Fprintf(&b, "  bb%d [label=<%s>%s];\n", blk.ID, label, attrs)
	}
	b.WriteByte('\n')

	for _, blk := range f.Blocks {
		for _, s := range blk.Succs {
			from, to := fmt.Sprintf("bb%d", blk.ID), fmt.Sprintf("bb%d", s.BlockID)
			switch s.Cond {
			case "":
				fmt.Fprintf(&b, "  %s -> %s [color=%q];\n", from, to, t.EdgeDirect)
			case "T":
				fmt.Fprintf(&b, "  %s -> %s [color=%q, label=<<font point-size=\"7\" color=\"%s\">T</font>>];\n",
					from, to, t.EdgeTaken, t.EdgeTaken)
			case "F":
				fmt.Fprintf(&b, "  %s -> %s [color=%q, label=<<font point-size=\"7\" color=\"%s\">F</font>>];\n",
					from, to, t.EdgeNotTaken, t.EdgeNotTaken)
			case "E":
				fmt.Fprintf(&b, "  %s -> %s [color=%q, style=dashed];\n", from, to, t.EdgeException)
			default:
				fmt.Fprintf(&b, "  %s -> %s [color=%q, label=<<font point-size=\"7\" color=\"%s\">%s</font>>];\n",
					from, to, t.EdgeSwitch, t.EdgeSwitch, dotEscape(s.Cond))
			}
		}
	}

	b.WriteString("}\n")
	return b.String()
}
