package classfile

import (
	"fmt"
	"strings"

	"classprobe/internal/bytecode"
)

// Dump renders a class in a javap-like listing: header, then every method
// with its code, exception table and frames.
func Dump(c *ClassModel) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "class %s", c.Name)
	if c.SuperName != "" {
		fmt.Fprintf(&b, " extends %s", c.SuperName)
	}
	fmt.Fprintf(&b, "\n  version: %d.%d\n  flags: 0x%04x\n  constant pool: %d entries\n", c.Major, c.Minor, uint16(c.Access), c.Pool.Count()-1)

	for _, m := range c.Methods {
		fmt.Fprintf(&b, "\n  %s%s\n    flags: 0x%04x\n", m.Name, m.Descriptor, uint16(m.Access))
		if m.Code == nil {
			continue
		}
		lay, err := bytecode.Assemble(m.Code.Insns)
		if err != nil {
			return "", fmt.Errorf("classfile: dump %s%s: %w", m.Name, m.Descriptor, err)
		}
		fmt.Fprintf(&b, "    Code: stack=%d, locals=%d, length=%d\n", m.Code.MaxStack, m.Code.MaxLocals, len(lay.Code))
		for _, line := range strings.Split(strings.TrimRight(bytecode.Format(m.Code.Insns, lay.Pos, c.Pool), "\n"), "\n") {
			b.WriteString("    " + line + "\n")
		}
		if len(m.Code.Handlers) > 0 {
			b.WriteString("    Exception table:\n")
			for _, h := range m.Code.Handlers {
				catch := "any"
				if h.CatchType != 0 {
					catch, _ = c.Pool.ClassName(h.CatchType)
				}
				fmt.Fprintf(&b, "      %5d %5d %5d   %s\n", h.Start.Offset(), h.End.Offset(), h.Handler.Offset(), catch)
			}
		}
		for _, f := range m.Code.Frames {
			fmt.Fprintf(&b, "    frame @%d: locals=%v stack=%v\n", f.At.Offset(), f.Locals, f.Stack)
		}
	}
	return b.String(), nil
}
