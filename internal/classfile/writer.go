package classfile

import (
	"errors"
	"fmt"
	"math"

	"classprobe/internal/bytecode"
)

// WriteOptions controls serialization.
type WriteOptions struct {
	// ComputeMaxs replaces each method's max_stack with the analyzed
	// requirement and raises max_locals to cover every slot used. Without
	// it, declared values that are too small are an error.
	ComputeMaxs bool
}

// Write serializes a class. Every method body is assembled and checked
// before any output is produced; on error nothing is returned and the
// model's max_stack/max_locals are left untouched.
func Write(c *ClassModel, opts WriteOptions) ([]byte, error) {
	type computed struct {
		code              *Code
		maxStack, maxLocs int
	}
	var updates []computed

	body := &writer{}
	body.u2(uint16(c.Access))
	this, err := c.classIndex(c.thisIndex, c.Name)
	if err != nil {
		return nil, err
	}
	body.u2(this)
	var super uint16
	if c.SuperName != "" {
		if super, err = c.classIndex(c.superIndex, c.SuperName); err != nil {
			return nil, err
		}
	}
	body.u2(super)
	body.u2(uint16(len(c.Interfaces)))
	for _, i := range c.Interfaces {
		body.u2(i)
	}

	body.u2(uint16(len(c.Fields)))
	for _, f := range c.Fields {
		body.u2(uint16(f.Access))
		body.u2(f.NameIndex)
		body.u2(f.DescIndex)
		if err := c.writeAttributes(body, f.Attributes); err != nil {
			return nil, err
		}
	}

	if len(c.Methods) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d methods", ErrSerialization, len(c.Methods))
	}
	body.u2(uint16(len(c.Methods)))
	for _, m := range c.Methods {
		ni, err := c.utf8Index(m.nameIndex, m.Name)
		if err != nil {
			return nil, err
		}
		di, err := c.utf8Index(m.descIndex, m.Descriptor)
		if err != nil {
			return nil, err
		}
		body.u2(uint16(m.Access))
		body.u2(ni)
		body.u2(di)

		attrs := m.Attributes
		if m.Code != nil {
			data, maxStack, maxLocals, err := c.encodeCode(m, opts)
			if err != nil {
				return nil, err
			}
			updates = append(updates, computed{m.Code, maxStack, maxLocals})
			at := min(max(m.codeAt, 0), len(attrs))
			attrs = make([]Attribute, 0, len(m.Attributes)+1)
			attrs = append(attrs, m.Attributes[:at]...)
			attrs = append(attrs, Attribute{Name: "Code", Data: data})
			attrs = append(attrs, m.Attributes[at:]...)
		}
		if err := c.writeAttributes(body, attrs); err != nil {
			return nil, err
		}
	}
	if err := c.writeAttributes(body, c.Attributes); err != nil {
		return nil, err
	}

	// The pool is written last since encoding may have appended to it.
	out := &writer{buf: make([]byte, 0, len(body.buf)+64*c.Pool.Count())}
	out.u4(magic)
	out.u2(c.Minor)
	out.u2(c.Major)
	c.Pool.write(out)
	out.bytes(body.buf)

	for _, u := range updates {
		u.code.MaxStack, u.code.MaxLocals = u.maxStack, u.maxLocs
	}
	return out.buf, nil
}

func (c *ClassModel) classIndex(idx uint16, name string) (uint16, error) {
	if got, err := c.Pool.ClassName(idx); err == nil && got == name {
		return idx, nil
	}
	idx, err := c.Pool.AddClass(name)
	if err != nil {
		return 0, fmt.Errorf("%w: class %s: %v", ErrSerialization, name, err)
	}
	return idx, nil
}

func (c *ClassModel) utf8Index(idx uint16, s string) (uint16, error) {
	if got, err := c.Pool.Utf8(idx); err == nil && got == s {
		return idx, nil
	}
	idx, err := c.Pool.AddUtf8(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return idx, nil
}

func (c *ClassModel) writeAttributes(w *writer, attrs []Attribute) error {
	w.u2(uint16(len(attrs)))
	for _, a := range attrs {
		ni, err := c.utf8Index(0, a.Name)
		if err != nil {
			return err
		}
		if uint64(len(a.Data)) > math.MaxUint32 {
			return fmt.Errorf("%w: attribute %s too large", ErrSerialization, a.Name)
		}
		w.u2(ni)
		w.u4(uint32(len(a.Data)))
		w.bytes(a.Data)
	}
	return nil
}

func (c *ClassModel) encodeCode(m *MethodModel, opts WriteOptions) ([]byte, int, int, error) {
	code := m.Code
	fail := func(off int, err error) ([]byte, int, int, error) {
		return nil, 0, 0, &SerializationError{Class: c.Name, Method: m.Name + m.Descriptor, Offset: off, Err: err}
	}

	lay, err := bytecode.Assemble(code.Insns)
	if err != nil {
		var ae *bytecode.AssembleError
		if errors.As(err, &ae) {
			return fail(ae.Offset, err)
		}
		return fail(-1, err)
	}
	mx, err := bytecode.Analyze(code.Insns, lay.Pos, code.Handlers, c.Pool)
	if err != nil {
		var ae *bytecode.AnalysisError
		if errors.As(err, &ae) {
			return fail(ae.Offset, err)
		}
		return fail(-1, err)
	}
	args, _, err := bytecode.ArgWords(m.Descriptor)
	if err != nil {
		return fail(-1, err)
	}
	if !m.Static() {
		args++
	}

	maxStack, maxLocals := code.MaxStack, code.MaxLocals
	if opts.ComputeMaxs {
		maxStack = mx.Stack
		maxLocals = max(maxLocals, mx.Locals, args)
	} else {
		if mx.Stack > maxStack {
			return fail(-1, fmt.Errorf("max_stack %d below required %d", maxStack, mx.Stack))
		}
		if args > maxLocals {
			return fail(-1, fmt.Errorf("max_locals %d below %d argument words", maxLocals, args))
		}
		for i, in := range code.Insns {
			if bytecode.LocalUse(in) > maxLocals {
				return fail(lay.Pos[i], fmt.Errorf("local slot outside max_locals %d", maxLocals))
			}
		}
	}
	if maxStack > math.MaxUint16 || maxLocals > math.MaxUint16 {
		return fail(-1, fmt.Errorf("max_stack %d / max_locals %d exceed 65535", maxStack, maxLocals))
	}

	inList := make(map[*bytecode.Label]bool)
	for _, in := range code.Insns {
		if l, ok := in.(*bytecode.Label); ok {
			inList[l] = true
		}
	}
	offset := func(l *bytecode.Label, what string) (uint16, error) {
		if !inList[l] {
			return 0, fmt.Errorf("%s label not in instruction list", what)
		}
		return uint16(l.Offset()), nil
	}

	w := &writer{}
	w.u2(uint16(maxStack))
	w.u2(uint16(maxLocals))
	w.u4(uint32(len(lay.Code)))
	w.bytes(lay.Code)

	w.u2(uint16(len(code.Handlers)))
	for _, h := range code.Handlers {
		var pcs [3]uint16
		for i, l := range []*bytecode.Label{h.Start, h.End, h.Handler} {
			if pcs[i], err = offset(l, "handler"); err != nil {
				return fail(-1, err)
			}
		}
		if h.CatchType != 0 {
			if err := c.Pool.ClassRef(h.CatchType); err != nil {
				return fail(int(pcs[2]), fmt.Errorf("catch type: %w", err))
			}
		}
		w.u2(pcs[0])
		w.u2(pcs[1])
		w.u2(pcs[2])
		w.u2(h.CatchType)
	}

	var attrs []Attribute
	if len(code.Lines) > 0 {
		a := &writer{}
		a.u2(uint16(len(code.Lines)))
		for _, ln := range code.Lines {
			pc, err := offset(ln.Start, "line number")
			if err != nil {
				return fail(-1, err)
			}
			a.u2(pc)
			a.u2(ln.Line)
		}
		attrs = append(attrs, Attribute{Name: "LineNumberTable", Data: a.buf})
	}
	for _, t := range []struct {
		name string
		vars []LocalVar
	}{{"LocalVariableTable", code.Vars}, {"LocalVariableTypeTable", code.VarTypes}} {
		if len(t.vars) == 0 {
			continue
		}
		a := &writer{}
		a.u2(uint16(len(t.vars)))
		for _, v := range t.vars {
			start, err := offset(v.Start, "local variable")
			if err != nil {
				return fail(-1, err)
			}
			end, err := offset(v.End, "local variable")
			if err != nil {
				return fail(-1, err)
			}
			if end < start {
				return fail(int(start), fmt.Errorf("local variable %s ends before it starts", v.Name))
			}
			ni, err := c.utf8Index(0, v.Name)
			if err != nil {
				return fail(-1, err)
			}
			di, err := c.utf8Index(0, v.Descriptor)
			if err != nil {
				return fail(-1, err)
			}
			a.u2(start)
			a.u2(end - start)
			a.u2(ni)
			a.u2(di)
			a.u2(uint16(v.Index))
		}
		attrs = append(attrs, Attribute{Name: t.name, Data: a.buf})
	}
	if code.Frames != nil {
		for _, f := range code.Frames {
			if !inList[f.At] {
				return fail(-1, errors.New("frame label not in instruction list"))
			}
		}
		initial, err := c.EntryLocals(m)
		if err != nil {
			return fail(-1, err)
		}
		data, err := bytecode.EncodeFrames(code.Frames, initial, c.Pool.AddClass)
		if err != nil {
			return fail(-1, err)
		}
		attrs = append(attrs, Attribute{Name: "StackMapTable", Data: data})
	}
	attrs = append(attrs, code.Attributes...)
	if err := c.writeAttributes(w, attrs); err != nil {
		return fail(-1, err)
	}
	return w.buf, maxStack, maxLocals, nil
}
