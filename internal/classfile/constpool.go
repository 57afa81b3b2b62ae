package classfile

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"classprobe/internal/bytecode"
)

// Tag is a constant pool entry tag.
type Tag uint8

const (
	TagUtf8               Tag = 1
	TagInteger            Tag = 3
	TagFloat              Tag = 4
	TagLong               Tag = 5
	TagDouble             Tag = 6
	TagClass              Tag = 7
	TagString             Tag = 8
	TagFieldref           Tag = 9
	TagMethodref          Tag = 10
	TagInterfaceMethodref Tag = 11
	TagNameAndType        Tag = 12
	TagMethodHandle       Tag = 15
	TagMethodType         Tag = 16
	TagDynamic            Tag = 17
	TagInvokeDynamic      Tag = 18
	TagModule             Tag = 19
	TagPackage            Tag = 20
)

var tagNames = map[Tag]string{
	TagUtf8: "Utf8", TagInteger: "Integer", TagFloat: "Float", TagLong: "Long",
	TagDouble: "Double", TagClass: "Class", TagString: "String", TagFieldref: "Field",
	TagMethodref: "Method", TagInterfaceMethodref: "InterfaceMethod",
	TagNameAndType: "NameAndType", TagMethodHandle: "MethodHandle",
	TagMethodType: "MethodType", TagDynamic: "Dynamic", TagInvokeDynamic: "InvokeDynamic",
	TagModule: "Module", TagPackage: "Package",
}

func (t Tag) String() string {
	if s, ok := tagNames[t]; ok {
		return s
	}
	return fmt.Sprintf("tag(%d)", uint8(t))
}

var (
	ErrPoolIndex = errors.New("classfile: bad constant pool index")
	ErrPoolFull  = errors.New("classfile: constant pool exceeds 65535 entries")
)

// Constant is one constant pool entry. Utf8 keeps its raw bytes so an
// unmodified pool is written back byte for byte. Integer and Float keep
// their 32 raw bits in Bits, Long and Double all 64. A and B are the
// entry's reference operands: Class/String/MethodType/Module/Package use A;
// member refs are (class, name-and-type); NameAndType is (name, descriptor);
// MethodHandle is (kind, ref); Dynamic and InvokeDynamic are (bootstrap, name-and-type).
type Constant struct {
	Tag  Tag
	Str  string
	Raw  []byte
	Bits uint64
	A, B uint16
}

// Pool is a class's constant pool. Index 0 is unused and the slot after
// a Long or Double is a zero placeholder. New entries are only appended.
type Pool struct {
	entries []Constant
	index   map[string]uint16
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{entries: make([]Constant, 1)}
}

// Count returns the constant_pool_count value: one more than the highest index.
func (p *Pool) Count() int { return len(p.entries) }

// Get returns the entry at idx.
func (p *Pool) Get(idx uint16) (Constant, error) {
	if idx == 0 || int(idx) >= len(p.entries) || p.entries[idx].Tag == 0 {
		return Constant{}, fmt.Errorf("%w: #%d", ErrPoolIndex, idx)
	}
	return p.entries[idx], nil
}

func (p *Pool) expect(idx uint16, tags ...Tag) (Constant, error) {
	c, err := p.Get(idx)
	if err != nil {
		return c, err
	}
	for _, t := range tags {
		if c.Tag == t {
			return c, nil
		}
	}
	return c, fmt.Errorf("%w: #%d is %s, want %v", ErrPoolIndex, idx, c.Tag, tags)
}

// Utf8 returns the string of a CONSTANT_Utf8.
func (p *Pool) Utf8(idx uint16) (string, error) {
	c, err := p.expect(idx, TagUtf8)
	return c.Str, err
}

// ClassName returns the internal name of a CONSTANT_Class.
func (p *Pool) ClassName(idx uint16) (string, error) {
	c, err := p.expect(idx, TagClass)
	if err != nil {
		return "", err
	}
	return p.Utf8(c.A)
}

// NameAndType returns the name and descriptor of a CONSTANT_NameAndType.
func (p *Pool) NameAndType(idx uint16) (name, desc string, err error) {
	c, err := p.expect(idx, TagNameAndType)
	if err != nil {
		return "", "", err
	}
	if name, err = p.Utf8(c.A); err != nil {
		return "", "", err
	}
	desc, err = p.Utf8(c.B)
	return name, desc, err
}

// Member resolves a field or method reference of one of the given tags.
func (p *Pool) Member(idx uint16, tags ...Tag) (class, name, desc string, err error) {
	c, err := p.expect(idx, tags...)
	if err != nil {
		return "", "", "", err
	}
	if class, err = p.ClassName(c.A); err != nil {
		return "", "", "", err
	}
	name, desc, err = p.NameAndType(c.B)
	return class, name, desc, err
}

func (p *Pool) add(c Constant, key string) (uint16, error) {
	if p.index == nil {
		p.index = make(map[string]uint16, len(p.entries))
		for i, e := range p.entries {
			if e.Tag != 0 {
				if _, dup := p.index[keyOf(e)]; !dup {
					p.index[keyOf(e)] = uint16(i)
				}
			}
		}
	}
	if idx, ok := p.index[key]; ok {
		return idx, nil
	}
	words := 1
	if c.Tag == TagLong || c.Tag == TagDouble {
		words = 2
	}
	if len(p.entries)+words > math.MaxUint16 {
		return 0, ErrPoolFull
	}
	idx := uint16(len(p.entries))
	p.entries = append(p.entries, c)
	if words == 2 {
		p.entries = append(p.entries, Constant{})
	}
	p.index[key] = idx
	return idx, nil
}

func keyOf(c Constant) string {
	switch c.Tag {
	case TagUtf8:
		return "1:" + string(c.Raw)
	case TagInteger, TagFloat, TagLong, TagDouble:
		return fmt.Sprintf("%d:%x", c.Tag, c.Bits)
	}
	return fmt.Sprintf("%d:%d:%d", c.Tag, c.A, c.B)
}

// AddUtf8 returns the index of a CONSTANT_Utf8 for s, appending one if needed.
func (p *Pool) AddUtf8(s string) (uint16, error) {
	raw := encodeMUTF8(s)
	if len(raw) > math.MaxUint16 {
		return 0, fmt.Errorf("classfile: string of %d bytes does not fit a constant", len(raw))
	}
	c := Constant{Tag: TagUtf8, Str: s, Raw: raw}
	return p.add(c, keyOf(c))
}

func (p *Pool) addRef(tag Tag, s string) (uint16, error) {
	u, err := p.AddUtf8(s)
	if err != nil {
		return 0, err
	}
	c := Constant{Tag: tag, A: u}
	return p.add(c, keyOf(c))
}

// AddClass returns the index of a CONSTANT_Class for an internal name.
func (p *Pool) AddClass(name string) (uint16, error) { return p.addRef(TagClass, name) }

// AddString returns the index of a CONSTANT_String.
func (p *Pool) AddString(s string) (uint16, error) { return p.addRef(TagString, s) }

// AddLong returns the index of a CONSTANT_Long.
func (p *Pool) AddLong(v int64) (uint16, error) {
	c := Constant{Tag: TagLong, Bits: uint64(v)}
	return p.add(c, keyOf(c))
}

// AddNameAndType returns the index of a CONSTANT_NameAndType.
func (p *Pool) AddNameAndType(name, desc string) (uint16, error) {
	n, err := p.AddUtf8(name)
	if err != nil {
		return 0, err
	}
	d, err := p.AddUtf8(desc)
	if err != nil {
		return 0, err
	}
	c := Constant{Tag: TagNameAndType, A: n, B: d}
	return p.add(c, keyOf(c))
}

func (p *Pool) addMember(tag Tag, class, name, desc string) (uint16, error) {
	ci, err := p.AddClass(class)
	if err != nil {
		return 0, err
	}
	nt, err := p.AddNameAndType(name, desc)
	if err != nil {
		return 0, err
	}
	c := Constant{Tag: tag, A: ci, B: nt}
	return p.add(c, keyOf(c))
}

// AddFieldref returns the index of a CONSTANT_Fieldref.
func (p *Pool) AddFieldref(class, name, desc string) (uint16, error) {
	return p.addMember(TagFieldref, class, name, desc)
}

// AddMethodref returns the index of a CONSTANT_Methodref.
func (p *Pool) AddMethodref(class, name, desc string) (uint16, error) {
	return p.addMember(TagMethodref, class, name, desc)
}

// validate checks that every entry's references point at entries of the
// right kind.
func (p *Pool) validate() error {
	for i, c := range p.entries {
		idx := uint16(i)
		var err error
		switch c.Tag {
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			_, err = p.Utf8(c.A)
		case TagFieldref, TagMethodref, TagInterfaceMethodref:
			if _, err = p.expect(c.A, TagClass); err == nil {
				_, err = p.expect(c.B, TagNameAndType)
			}
		case TagNameAndType:
			if _, err = p.Utf8(c.A); err == nil {
				_, err = p.Utf8(c.B)
			}
		case TagMethodHandle:
			switch {
			case c.A < 1 || c.A > 9:
				err = fmt.Errorf("reference kind %d", c.A)
			case c.A <= 4:
				_, err = p.expect(c.B, TagFieldref)
			default:
				_, err = p.expect(c.B, TagMethodref, TagInterfaceMethodref)
			}
		case TagDynamic, TagInvokeDynamic:
			_, err = p.expect(c.B, TagNameAndType)
		}
		if err != nil {
			return fmt.Errorf("entry #%d (%s): %w", idx, c.Tag, err)
		}
	}
	return nil
}

// FieldType implements bytecode.Resolver.
func (p *Pool) FieldType(idx uint16) (string, error) {
	_, _, desc, err := p.Member(idx, TagFieldref)
	return desc, err
}

// MethodType implements bytecode.Resolver.
func (p *Pool) MethodType(op bytecode.Opcode, idx uint16) (string, error) {
	var name, desc string
	var err error
	switch op {
	case bytecode.INVOKEVIRTUAL:
		_, name, desc, err = p.Member(idx, TagMethodref)
	case bytecode.INVOKEINTERFACE:
		_, name, desc, err = p.Member(idx, TagInterfaceMethodref)
	default:
		_, name, desc, err = p.Member(idx, TagMethodref, TagInterfaceMethodref)
	}
	if err != nil {
		return "", err
	}
	if name == "<clinit>" || (name == "<init>" && op != bytecode.INVOKESPECIAL) {
		return "", fmt.Errorf("%w: %s cannot invoke %s", ErrPoolIndex, op, name)
	}
	return desc, nil
}

// InvokeDynamicType implements bytecode.Resolver.
func (p *Pool) InvokeDynamicType(idx uint16) (string, error) {
	c, err := p.expect(idx, TagInvokeDynamic)
	if err != nil {
		return "", err
	}
	_, desc, err := p.NameAndType(c.B)
	return desc, err
}

// LdcWords implements bytecode.Resolver.
func (p *Pool) LdcWords(op bytecode.Opcode, idx uint16) (int, error) {
	c, err := p.Get(idx)
	if err != nil {
		return 0, err
	}
	words := 0
	switch c.Tag {
	case TagInteger, TagFloat, TagString, TagClass, TagMethodType, TagMethodHandle:
		words = 1
	case TagLong, TagDouble:
		words = 2
	case TagDynamic:
		_, desc, err := p.NameAndType(c.B)
		if err != nil {
			return 0, err
		}
		words = bytecode.TypeWords(desc)
	default:
		return 0, fmt.Errorf("%w: #%d (%s) is not loadable", ErrPoolIndex, idx, c.Tag)
	}
	if (op == bytecode.LDC2_W) != (words == 2) {
		return 0, fmt.Errorf("%w: %s of #%d (%s)", ErrPoolIndex, op, idx, c.Tag)
	}
	return words, nil
}

// ClassRef implements bytecode.Resolver.
func (p *Pool) ClassRef(idx uint16) error {
	_, err := p.expect(idx, TagClass)
	return err
}

// Describe renders an entry the way javap comments operands.
func (p *Pool) Describe(idx uint16) string {
	c, err := p.Get(idx)
	if err != nil {
		return fmt.Sprintf("<invalid #%d>", idx)
	}
	switch c.Tag {
	case TagUtf8:
		return c.Str
	case TagInteger:
		return "int " + strconv.Itoa(int(int32(uint32(c.Bits))))
	case TagFloat:
		return "float " + strconv.FormatFloat(float64(math.Float32frombits(uint32(c.Bits))), 'g', -1, 32) + "f"
	case TagLong:
		return "long " + strconv.FormatInt(int64(c.Bits), 10) + "l"
	case TagDouble:
		return "double " + strconv.FormatFloat(math.Float64frombits(c.Bits), 'g', -1, 64) + "d"
	case TagClass:
		name, _ := p.Utf8(c.A)
		return "class " + name
	case TagString:
		s, _ := p.Utf8(c.A)
		return "String " + s
	case TagFieldref, TagMethodref, TagInterfaceMethodref:
		class, name, desc, _ := p.Member(idx, c.Tag)
		return fmt.Sprintf("%s %s.%s:%s", c.Tag, class, name, desc)
	case TagNameAndType:
		name, desc, _ := p.NameAndType(idx)
		return fmt.Sprintf("NameAndType %s:%s", name, desc)
	case TagMethodType:
		desc, _ := p.Utf8(c.A)
		return "MethodType " + desc
	case TagDynamic, TagInvokeDynamic:
		name, desc, _ := p.NameAndType(c.B)
		return fmt.Sprintf("%s #%d:%s:%s", c.Tag, c.A, name, desc)
	}
	return fmt.Sprintf("%s #%d", c.Tag, c.A)
}

func readPool(s *Stream) (*Pool, error) {
	count, err := s.ReadUint16()
	if err != nil {
		return nil, malformed(s.Position(), err, "constant pool count")
	}
	if count == 0 {
		return nil, malformed(s.Position()-2, nil, "constant pool count is zero")
	}
	p := &Pool{entries: make([]Constant, 1, count)}
	for i := 1; i < int(count); i++ {
		at := s.Position()
		tag, err := s.ReadUint8()
		if err != nil {
			return nil, malformed(at, err, "truncated constant pool at entry %d", i)
		}
		c := Constant{Tag: Tag(tag)}
		switch c.Tag {
		case TagUtf8:
			var n uint16
			if n, err = s.ReadUint16(); err == nil {
				if c.Raw, err = s.ReadBytes(int(n)); err == nil {
					if c.Str, err = decodeMUTF8(c.Raw); err != nil {
						return nil, malformed(at, err, "entry %d", i)
					}
				}
			}
		case TagInteger, TagFloat:
			var v uint32
			v, err = s.ReadUint32()
			c.Bits = uint64(v)
		case TagLong, TagDouble:
			c.Bits, err = s.ReadUint64()
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			c.A, err = s.ReadUint16()
		case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType, TagDynamic, TagInvokeDynamic:
			if c.A, err = s.ReadUint16(); err == nil {
				c.B, err = s.ReadUint16()
			}
		case TagMethodHandle:
			var kind uint8
			if kind, err = s.ReadUint8(); err == nil {
				c.A = uint16(kind)
				c.B, err = s.ReadUint16()
			}
		default:
			return nil, malformed(at, nil, "bad constant tag %d at entry %d", tag, i)
		}
		if err != nil {
			return nil, malformed(at, err, "truncated constant pool at entry %d", i)
		}
		p.entries = append(p.entries, c)
		if c.Tag == TagLong || c.Tag == TagDouble {
			if i+1 >= int(count) {
				return nil, malformed(at, nil, "entry %d: %s takes the last slot", i, c.Tag)
			}
			p.entries = append(p.entries, Constant{})
			i++
		}
	}
	if err := p.validate(); err != nil {
		return nil, malformed(s.Position(), err, "constant pool")
	}
	return p, nil
}

func (p *Pool) write(w *writer) {
	w.u2(uint16(len(p.entries)))
	for _, c := range p.entries {
		if c.Tag == 0 {
			continue
		}
		w.u1(uint8(c.Tag))
		switch c.Tag {
		case TagUtf8:
			w.u2(uint16(len(c.Raw)))
			w.bytes(c.Raw)
		case TagInteger, TagFloat:
			w.u4(uint32(c.Bits))
		case TagLong, TagDouble:
			w.u8(c.Bits)
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			w.u2(c.A)
		case TagMethodHandle:
			w.u1(uint8(c.A))
			w.u2(c.B)
		default:
			w.u2(c.A)
			w.u2(c.B)
		}
	}
}
