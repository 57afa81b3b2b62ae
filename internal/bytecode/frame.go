package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrFrame is returned for a malformed or unencodable StackMapTable.
var ErrFrame = errors.New("bytecode: bad stack map frame")

// VTag is a verification type tag as stored in a StackMapTable.
type VTag uint8

const (
	VTop VTag = iota
	VInteger
	VFloat
	VDouble
	VLong
	VNull
	VUninitializedThis
	VObject
	VUninitialized
)

var vtagNames = [...]string{"top", "int", "float", "double", "long", "null", "uninitializedThis", "object", "uninitialized"}

func (t VTag) String() string {
	if int(t) < len(vtagNames) {
		return vtagNames[t]
	}
	return fmt.Sprintf("vtag(%d)", uint8(t))
}

// VType is a verification type. Class is the internal class name of an
// Object type (arrays use their descriptor); New is the label of the new
// instruction that created an Uninitialized value.
type VType struct {
	Tag   VTag
	Class string
	New   *Label
}

// ObjectType returns the Object verification type for an internal name.
func ObjectType(class string) VType { return VType{Tag: VObject, Class: class} }

// Words returns the number of slots the type covers.
func (v VType) Words() int {
	if v.Tag == VLong || v.Tag == VDouble {
		return 2
	}
	return 1
}

// Equal reports whether two verification types are identical.
func (v VType) Equal(o VType) bool {
	return v.Tag == o.Tag && v.Class == o.Class && v.New == o.New
}

func (v VType) String() string {
	switch v.Tag {
	case VObject:
		return v.Class
	case VUninitialized:
		return fmt.Sprintf("uninitialized(%d)", v.New.Offset())
	}
	return v.Tag.String()
}

// Frame is a fully expanded stack map frame at a label. Locals and Stack
// use the StackMapTable list form: a long or double is a single entry
// covering two slots.
type Frame struct {
	At     *Label
	Locals []VType
	Stack  []VType
}

// Slots expands a locals list into one entry per slot. The second half of a
// long or double is Top.
func Slots(locals []VType) []VType {
	out := make([]VType, 0, len(locals)+2)
	for _, v := range locals {
		out = append(out, v)
		if v.Words() == 2 {
			out = append(out, VType{Tag: VTop})
		}
	}
	return out
}

// Compact is the inverse of Slots. Trailing Top entries are dropped since
// unlisted locals are Top.
func Compact(slots []VType) []VType {
	out := make([]VType, 0, len(slots))
	for i := 0; i < len(slots); i++ {
		out = append(out, slots[i])
		if slots[i].Words() == 2 {
			i++
		}
	}
	for len(out) > 0 && out[len(out)-1].Tag == VTop {
		out = out[:len(out)-1]
	}
	return out
}

// WithLocal returns a copy of the locals list with slot set to t, padding
// with Top as needed. A two-word value whose second half is overwritten
// degrades to Top.
func WithLocal(locals []VType, slot int, t VType) []VType {
	slots := Slots(locals)
	for len(slots) < slot+t.Words() {
		slots = append(slots, VType{Tag: VTop})
	}
	if slot > 0 && slots[slot-1].Words() == 2 {
		slots[slot-1] = VType{Tag: VTop}
	}
	slots[slot] = t
	if t.Words() == 2 {
		slots[slot+1] = VType{Tag: VTop}
	}
	return Compact(slots)
}

// DecodeFrames decodes a StackMapTable attribute body into expanded frames.
// initial is the implicit frame's locals; labelAt maps code offsets to labels
// and className resolves a CONSTANT_Class index.
func DecodeFrames(data []byte, initial []VType, labelAt func(int) (*Label, error), className func(uint16) (string, error)) ([]Frame, error) {
	r := &codeReader{code: data}
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: entry at byte %d: %s", ErrFrame, r.pos, fmt.Sprintf(format, args...))
	}
	n, err := r.u2()
	if err != nil {
		return nil, bad("truncated")
	}

	readType := func() (VType, error) {
		tag, err := r.u1()
		if err != nil {
			return VType{}, bad("truncated")
		}
		switch t := VTag(tag); t {
		case VTop, VInteger, VFloat, VDouble, VLong, VNull, VUninitializedThis:
			return VType{Tag: t}, nil
		case VObject:
			idx, err := r.u2()
			if err != nil {
				return VType{}, bad("truncated")
			}
			name, err := className(idx)
			if err != nil {
				return VType{}, bad("object type: %v", err)
			}
			return ObjectType(name), nil
		case VUninitialized:
			off, err := r.u2()
			if err != nil {
				return VType{}, bad("truncated")
			}
			l, err := labelAt(int(off))
			if err != nil {
				return VType{}, bad("uninitialized type: %v", err)
			}
			return VType{Tag: VUninitialized, New: l}, nil
		default:
			return VType{}, bad("unknown verification tag %d", tag)
		}
	}
	readTypes := func(k int) ([]VType, error) {
		out := make([]VType, 0, k)
		for range k {
			t, err := readType()
			if err != nil {
				return nil, err
			}
			out = append(out, t)
		}
		return out, nil
	}

	frames := make([]Frame, 0, n)
	locals := initial
	offset := -1
	for range int(n) {
		ft, err := r.u1()
		if err != nil {
			return nil, bad("truncated")
		}
		var delta int
		var stack []VType
		switch {
		case ft < 64:
			delta = int(ft)
		case ft < 128:
			delta = int(ft) - 64
			if stack, err = readTypes(1); err != nil {
				return nil, err
			}
		case ft < 247:
			return nil, bad("reserved frame type %d", ft)
		default:
			d, err := r.u2()
			if err != nil {
				return nil, bad("truncated")
			}
			delta = int(d)
			switch {
			case ft == 247:
				if stack, err = readTypes(1); err != nil {
					return nil, err
				}
			case ft < 251:
				k := 251 - int(ft)
				if k > len(locals) {
					return nil, bad("chop %d of %d locals", k, len(locals))
				}
				locals = locals[:len(locals)-k]
			case ft == 251:
			case ft < 255:
				more, err := readTypes(int(ft) - 251)
				if err != nil {
					return nil, err
				}
				locals = append(append([]VType(nil), locals...), more...)
			default:
				nl, err := r.u2()
				if err != nil {
					return nil, bad("truncated")
				}
				if locals, err = readTypes(int(nl)); err != nil {
					return nil, err
				}
				ns, err := r.u2()
				if err != nil {
					return nil, bad("truncated")
				}
				if stack, err = readTypes(int(ns)); err != nil {
					return nil, err
				}
			}
		}
		if offset < 0 {
			offset = delta
		} else {
			offset += delta + 1
		}
		at, err := labelAt(offset)
		if err != nil {
			return nil, bad("frame offset: %v", err)
		}
		frames = append(frames, Frame{
			At:     at,
			Locals: append([]VType(nil), locals...),
			Stack:  stack,
		})
	}
	if r.pos != len(data) {
		return nil, bad("%d trailing bytes", len(data)-r.pos)
	}
	return frames, nil
}

func sameTypes(a, b []VType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// EncodeFrames compresses expanded frames into a StackMapTable attribute
// body. Frame labels must be placed at strictly increasing offsets.
// classIndex returns the CONSTANT_Class index for an internal name.
func EncodeFrames(frames []Frame, initial []VType, classIndex func(string) (uint16, error)) ([]byte, error) {
	if len(frames) > 0xFFFF {
		return nil, fmt.Errorf("%w: %d frames", ErrFrame, len(frames))
	}
	b := binary.BigEndian.AppendUint16(nil, uint16(len(frames)))

	putType := func(b []byte, v VType) ([]byte, error) {
		b = append(b, byte(v.Tag))
		switch v.Tag {
		case VObject:
			idx, err := classIndex(v.Class)
			if err != nil {
				return nil, err
			}
			return u2(b, idx), nil
		case VUninitialized:
			if v.New == nil || v.New.Offset() < 0 {
				return nil, fmt.Errorf("%w: uninitialized type without a placed new", ErrFrame)
			}
			return u2(b, uint16(v.New.Offset())), nil
		case VTop, VInteger, VFloat, VDouble, VLong, VNull, VUninitializedThis:
			return b, nil
		}
		return nil, fmt.Errorf("%w: unknown verification tag %d", ErrFrame, v.Tag)
	}
	putTypes := func(b []byte, vs []VType) ([]byte, error) {
		var err error
		for _, v := range vs {
			if b, err = putType(b, v); err != nil {
				return nil, err
			}
		}
		return b, nil
	}

	prev := initial
	last := -1
	var err error
	for i, f := range frames {
		off := f.At.Offset()
		if off < 0 || off <= last {
			return nil, fmt.Errorf("%w: frame %d at offset %d after %d", ErrFrame, i, off, last)
		}
		delta := off
		if last >= 0 {
			delta = off - last - 1
		}
		last = off

		extra := len(f.Locals) - len(prev)
		switch {
		case len(f.Stack) == 0 && sameTypes(f.Locals, prev):
			if delta < 64 {
				b = append(b, byte(delta))
			} else {
				b = u2(append(b, 251), uint16(delta))
			}
		case len(f.Stack) == 1 && sameTypes(f.Locals, prev):
			if delta < 64 {
				b = append(b, byte(64+delta))
			} else {
				b = u2(append(b, 247), uint16(delta))
			}
			if b, err = putType(b, f.Stack[0]); err != nil {
				return nil, err
			}
		case len(f.Stack) == 0 && extra < 0 && extra >= -3 && sameTypes(f.Locals, prev[:len(f.Locals)]):
			b = u2(append(b, byte(251+extra)), uint16(delta))
		case len(f.Stack) == 0 && extra > 0 && extra <= 3 && sameTypes(f.Locals[:len(prev)], prev):
			b = u2(append(b, byte(251+extra)), uint16(delta))
			if b, err = putTypes(b, f.Locals[len(prev):]); err != nil {
				return nil, err
			}
		default:
			b = u2(append(b, 255), uint16(delta))
			b = u2(b, uint16(len(f.Locals)))
			if b, err = putTypes(b, f.Locals); err != nil {
				return nil, err
			}
			b = u2(b, uint16(len(f.Stack)))
			if b, err = putTypes(b, f.Stack); err != nil {
				return nil, err
			}
		}
		prev = f.Locals
	}
	return b, nil
}
