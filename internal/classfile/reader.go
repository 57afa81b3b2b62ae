package classfile

import (
	"errors"
	"fmt"

	"classprobe/internal/bytecode"
)

const magic = 0xCAFEBABE

// Parse decodes a class file. Method bodies are decoded into instruction
// lists and their StackMapTable frames fully expanded.
func Parse(data []byte) (*ClassModel, error) {
	s := NewStream(data)
	m, err := s.ReadUint32()
	if err != nil {
		return nil, malformed(0, err, "header")
	}
	if m != magic {
		return nil, malformed(0, nil, "bad magic 0x%08x", m)
	}
	c := &ClassModel{}
	if c.Minor, err = s.ReadUint16(); err != nil {
		return nil, malformed(s.Position(), err, "header")
	}
	if c.Major, err = s.ReadUint16(); err != nil {
		return nil, malformed(s.Position(), err, "header")
	}
	if c.Major < MinMajor || c.Major > MaxMajor {
		return nil, malformed(6, nil, "unsupported class file version %d.%d", c.Major, c.Minor)
	}
	if c.Pool, err = readPool(s); err != nil {
		return nil, err
	}

	at := s.Position()
	var access uint16
	if access, err = s.ReadUint16(); err == nil {
		if c.thisIndex, err = s.ReadUint16(); err == nil {
			c.superIndex, err = s.ReadUint16()
		}
	}
	if err != nil {
		return nil, malformed(at, err, "class header")
	}
	c.Access = AccessFlags(access)
	if c.Name, err = c.Pool.ClassName(c.thisIndex); err != nil {
		return nil, malformed(at+2, err, "this_class")
	}
	if c.superIndex != 0 {
		if c.SuperName, err = c.Pool.ClassName(c.superIndex); err != nil {
			return nil, malformed(at+4, err, "super_class")
		}
	} else if c.Name != "java/lang/Object" && !c.Access.Has(AccModule) {
		return nil, malformed(at+4, nil, "missing super_class")
	}

	n, err := s.ReadUint16()
	if err != nil {
		return nil, malformed(s.Position(), err, "interfaces count")
	}
	for range int(n) {
		at := s.Position()
		idx, err := s.ReadUint16()
		if err != nil {
			return nil, malformed(at, err, "interfaces")
		}
		if err := c.Pool.ClassRef(idx); err != nil {
			return nil, malformed(at, err, "interface")
		}
		c.Interfaces = append(c.Interfaces, idx)
	}

	if n, err = s.ReadUint16(); err != nil {
		return nil, malformed(s.Position(), err, "fields count")
	}
	for range int(n) {
		f, err := readField(s, c.Pool)
		if err != nil {
			return nil, err
		}
		c.Fields = append(c.Fields, f)
	}

	if n, err = s.ReadUint16(); err != nil {
		return nil, malformed(s.Position(), err, "methods count")
	}
	for range int(n) {
		m, err := readMethod(s, c)
		if err != nil {
			return nil, err
		}
		c.Methods = append(c.Methods, m)
	}

	if c.Attributes, err = readAttributes(s, c.Pool); err != nil {
		return nil, err
	}
	if s.Remaining() != 0 {
		return nil, malformed(s.Position(), nil, "%d trailing bytes", s.Remaining())
	}
	return c, nil
}

type rawAttr struct {
	Attribute
	offset int // of the attribute body in the input
}

func readRawAttributes(s *Stream, p *Pool) ([]rawAttr, error) {
	n, err := s.ReadUint16()
	if err != nil {
		return nil, malformed(s.Position(), err, "attributes count")
	}
	out := make([]rawAttr, 0, n)
	for range int(n) {
		at := s.Position()
		ni, err := s.ReadUint16()
		if err != nil {
			return nil, malformed(at, err, "attribute header")
		}
		name, err := p.Utf8(ni)
		if err != nil {
			return nil, malformed(at, err, "attribute name")
		}
		size, err := s.ReadUint32()
		if err != nil {
			return nil, malformed(at, err, "attribute header")
		}
		if int64(size) > int64(s.Remaining()) {
			return nil, malformed(at, ErrStreamEOF, "attribute %s length %d", name, size)
		}
		body, _ := s.ReadBytes(int(size))
		out = append(out, rawAttr{Attribute: Attribute{Name: name, Data: body}, offset: at + 6})
	}
	return out, nil
}

func readAttributes(s *Stream, p *Pool) ([]Attribute, error) {
	raw, err := readRawAttributes(s, p)
	if err != nil {
		return nil, err
	}
	out := make([]Attribute, len(raw))
	for i, a := range raw {
		out[i] = a.Attribute
	}
	return out, nil
}

func readField(s *Stream, p *Pool) (*Field, error) {
	at := s.Position()
	f := &Field{}
	access, err := s.ReadUint16()
	if err == nil {
		if f.NameIndex, err = s.ReadUint16(); err == nil {
			f.DescIndex, err = s.ReadUint16()
		}
	}
	if err != nil {
		return nil, malformed(at, err, "field header")
	}
	f.Access = AccessFlags(access)
	if _, err := p.Utf8(f.NameIndex); err != nil {
		return nil, malformed(at+2, err, "field name")
	}
	desc, err := p.Utf8(f.DescIndex)
	if err != nil {
		return nil, malformed(at+4, err, "field descriptor")
	}
	if !bytecode.ValidFieldDescriptor(desc) {
		return nil, malformed(at+4, nil, "field descriptor %q", desc)
	}
	if f.Attributes, err = readAttributes(s, p); err != nil {
		return nil, err
	}
	return f, nil
}

func readMethod(s *Stream, c *ClassModel) (*MethodModel, error) {
	at := s.Position()
	m := &MethodModel{codeAt: -1}
	access, err := s.ReadUint16()
	if err == nil {
		if m.nameIndex, err = s.ReadUint16(); err == nil {
			m.descIndex, err = s.ReadUint16()
		}
	}
	if err != nil {
		return nil, malformed(at, err, "method header")
	}
	m.Access = AccessFlags(access)
	if m.Name, err = c.Pool.Utf8(m.nameIndex); err != nil {
		return nil, malformed(at+2, err, "method name")
	}
	if m.Descriptor, err = c.Pool.Utf8(m.descIndex); err != nil {
		return nil, malformed(at+4, err, "method descriptor")
	}
	if _, _, err := bytecode.ParseMethodDescriptor(m.Descriptor); err != nil {
		return nil, malformed(at+4, err, "method %s", m.Name)
	}

	attrs, err := readRawAttributes(s, c.Pool)
	if err != nil {
		return nil, err
	}
	for _, a := range attrs {
		if a.Name != "Code" {
			m.Attributes = append(m.Attributes, a.Attribute)
			continue
		}
		if m.Code != nil {
			return nil, malformed(a.offset, nil, "method %s has two Code attributes", m.Name)
		}
		if m.Access.Has(AccNative) || m.Access.Has(AccAbstract) {
			return nil, malformed(a.offset, nil, "method %s is %s but has code", m.Name, kindOf(m.Access))
		}
		m.codeAt = len(m.Attributes)
		if m.Code, err = readCode(c, m, a.Data, a.offset); err != nil {
			return nil, err
		}
	}
	if m.Code == nil && !m.Access.Has(AccNative) && !m.Access.Has(AccAbstract) {
		return nil, malformed(at, nil, "method %s%s has no code", m.Name, m.Descriptor)
	}
	return m, nil
}

func kindOf(f AccessFlags) string {
	if f.Has(AccNative) {
		return "native"
	}
	return "abstract"
}

func readCode(c *ClassModel, m *MethodModel, data []byte, base int) (*Code, error) {
	s := NewStream(data)
	bad := func(err error, format string, args ...any) error {
		return malformed(base+s.Position(), err, "%s: %s", m.Name, fmt.Sprintf(format, args...))
	}
	code := &Code{}
	maxStack, err := s.ReadUint16()
	if err != nil {
		return nil, bad(err, "code header")
	}
	maxLocals, err := s.ReadUint16()
	if err != nil {
		return nil, bad(err, "code header")
	}
	code.MaxStack, code.MaxLocals = int(maxStack), int(maxLocals)
	size, err := s.ReadUint32()
	if err != nil {
		return nil, bad(err, "code header")
	}
	if size == 0 || size > bytecode.MaxCodeSize {
		return nil, bad(nil, "code length %d", size)
	}
	codeStart := s.Position()
	raw, err := s.ReadBytes(int(size))
	if err != nil {
		return nil, bad(err, "code array")
	}
	d, err := bytecode.Decode(raw)
	if err != nil {
		var de *bytecode.DecodeError
		if errors.As(err, &de) {
			return nil, malformed(base+codeStart+de.Offset, err, "%s: code", m.Name)
		}
		return nil, bad(err, "code")
	}
	label := func(pc uint16, what string) (*bytecode.Label, error) {
		l, err := d.LabelAt(int(pc))
		if err != nil {
			return nil, bad(err, "%s", what)
		}
		return l, nil
	}

	n, err := s.ReadUint16()
	if err != nil {
		return nil, bad(err, "exception table")
	}
	for range int(n) {
		var pcs [4]uint16
		for i := range pcs {
			if pcs[i], err = s.ReadUint16(); err != nil {
				return nil, bad(err, "exception table")
			}
		}
		if pcs[0] >= pcs[1] || int(pcs[1]) > d.Size() {
			return nil, bad(nil, "exception range [%d,%d)", pcs[0], pcs[1])
		}
		var h bytecode.Handler
		if h.Start, err = label(pcs[0], "handler start"); err != nil {
			return nil, err
		}
		if h.End, err = label(pcs[1], "handler end"); err != nil {
			return nil, err
		}
		if int(pcs[2]) >= d.Size() {
			return nil, bad(nil, "handler pc %d", pcs[2])
		}
		if h.Handler, err = label(pcs[2], "handler pc"); err != nil {
			return nil, err
		}
		if pcs[3] != 0 {
			if err := c.Pool.ClassRef(pcs[3]); err != nil {
				return nil, bad(err, "catch type")
			}
		}
		h.CatchType = pcs[3]
		code.Handlers = append(code.Handlers, h)
	}

	attrs, err := readRawAttributes(s, c.Pool)
	if err != nil {
		return nil, err
	}
	if s.Remaining() != 0 {
		return nil, bad(nil, "%d trailing bytes in Code", s.Remaining())
	}
	for _, a := range attrs {
		as := NewStream(a.Data)
		abad := func(err error, format string, args ...any) error {
			return malformed(a.offset+as.Position(), err, "%s: %s: %s", m.Name, a.Name, fmt.Sprintf(format, args...))
		}
		switch a.Name {
		case "LineNumberTable":
			n, err := as.ReadUint16()
			if err != nil {
				return nil, abad(err, "count")
			}
			for range int(n) {
				pc, err := as.ReadUint16()
				if err != nil {
					return nil, abad(err, "entry")
				}
				line, err := as.ReadUint16()
				if err != nil {
					return nil, abad(err, "entry")
				}
				l, err := d.LabelAt(int(pc))
				if err != nil || int(pc) >= d.Size() {
					return nil, abad(err, "start_pc %d", pc)
				}
				code.Lines = append(code.Lines, LineNumber{Start: l, Line: line})
			}
			if as.Remaining() != 0 {
				return nil, abad(nil, "trailing bytes")
			}
		case "LocalVariableTable", "LocalVariableTypeTable":
			vars, err := readLocalVars(as, c.Pool, d, abad)
			if err != nil {
				return nil, err
			}
			if a.Name == "LocalVariableTable" {
				code.Vars = append(code.Vars, vars...)
			} else {
				code.VarTypes = append(code.VarTypes, vars...)
			}
		case "StackMapTable":
			if code.Frames != nil {
				return nil, abad(nil, "duplicate attribute")
			}
			initial, err := c.EntryLocals(m)
			if err != nil {
				return nil, abad(err, "entry frame")
			}
			code.Frames, err = bytecode.DecodeFrames(a.Data, initial, d.LabelAt, c.Pool.ClassName)
			if err != nil {
				return nil, malformed(a.offset, err, "%s: StackMapTable", m.Name)
			}
			if code.Frames == nil {
				code.Frames = []bytecode.Frame{}
			}
		default:
			code.Attributes = append(code.Attributes, a.Attribute)
		}
	}

	// Labels requested above are placed now.
	code.Insns = d.Insns()
	return code, nil
}

func readLocalVars(s *Stream, p *Pool, d *bytecode.Decoded, bad func(error, string, ...any) error) ([]LocalVar, error) {
	n, err := s.ReadUint16()
	if err != nil {
		return nil, bad(err, "count")
	}
	out := make([]LocalVar, 0, n)
	for range int(n) {
		var f [5]uint16
		for i := range f {
			if f[i], err = s.ReadUint16(); err != nil {
				return nil, bad(err, "entry")
			}
		}
		var v LocalVar
		if v.Start, err = d.LabelAt(int(f[0])); err != nil {
			return nil, bad(err, "start_pc %d", f[0])
		}
		if v.End, err = d.LabelAt(int(f[0]) + int(f[1])); err != nil {
			return nil, bad(err, "range %d+%d", f[0], f[1])
		}
		if v.Name, err = p.Utf8(f[2]); err != nil {
			return nil, bad(err, "name")
		}
		if v.Descriptor, err = p.Utf8(f[3]); err != nil {
			return nil, bad(err, "descriptor")
		}
		v.Index = int(f[4])
		out = append(out, v)
	}
	if s.Remaining() != 0 {
		return nil, bad(nil, "trailing bytes")
	}
	return out, nil
}
