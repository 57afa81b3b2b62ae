package bytecode

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDescriptor is returned for a malformed field or method descriptor.
var ErrDescriptor = errors.New("bytecode: malformed descriptor")

// SlotKind is the value category stored in a local variable slot.
type SlotKind uint8

const (
	KindInt SlotKind = iota
	KindFloat
	KindRef
	KindLong
	KindDouble
)

// Words returns the number of slots a value of kind k occupies.
func (k SlotKind) Words() int {
	if k == KindLong || k == KindDouble {
		return 2
	}
	return 1
}

func (k SlotKind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindRef:
		return "ref"
	case KindLong:
		return "long"
	case KindDouble:
		return "double"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k SlotKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// fieldEnd returns the end of the field descriptor starting at desc[i].
func fieldEnd(desc string, i int) (int, error) {
	start := i
	for i < len(desc) && desc[i] == '[' {
		i++
	}
	if i-start > 255 {
		return 0, fmt.Errorf("%w: %q has more than 255 array dimensions", ErrDescriptor, desc)
	}
	if i >= len(desc) {
		return 0, fmt.Errorf("%w: %q", ErrDescriptor, desc)
	}
	switch desc[i] {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
		return i + 1, nil
	case 'L':
		semi := strings.IndexByte(desc[i:], ';')
		if semi < 2 {
			return 0, fmt.Errorf("%w: %q", ErrDescriptor, desc)
		}
		return i + semi + 1, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrDescriptor, desc)
}

// ParseMethodDescriptor splits "(IJLjava/lang/String;)V" into its parameter
// field descriptors and its return descriptor.
func ParseMethodDescriptor(desc string) (params []string, ret string, err error) {
	if len(desc) < 3 || desc[0] != '(' {
		return nil, "", fmt.Errorf("%w: %q", ErrDescriptor, desc)
	}
	i := 1
	for i < len(desc) && desc[i] != ')' {
		end, err := fieldEnd(desc, i)
		if err != nil {
			return nil, "", err
		}
		params = append(params, desc[i:end])
		i = end
	}
	if i >= len(desc) {
		return nil, "", fmt.Errorf("%w: %q", ErrDescriptor, desc)
	}
	ret = desc[i+1:]
	if ret != "V" {
		end, err := fieldEnd(ret, 0)
		if err != nil || end != len(ret) {
			return nil, "", fmt.Errorf("%w: %q", ErrDescriptor, desc)
		}
	}
	return params, ret, nil
}

// ValidFieldDescriptor reports whether desc is exactly one field descriptor.
func ValidFieldDescriptor(desc string) bool {
	end, err := fieldEnd(desc, 0)
	return err == nil && end == len(desc)
}

// TypeWords returns the stack or local words a value of the given field
// descriptor occupies. "V" takes none.
func TypeWords(desc string) int {
	switch desc {
	case "V":
		return 0
	case "J", "D":
		return 2
	}
	return 1
}

// ArgWords returns the total words of a method descriptor's parameters and
// of its return value.
func ArgWords(desc string) (args, ret int, err error) {
	params, r, err := ParseMethodDescriptor(desc)
	if err != nil {
		return 0, 0, err
	}
	for _, p := range params {
		args += TypeWords(p)
	}
	return args, TypeWords(r), nil
}

// VTypeOf returns the verification type of a value of field descriptor desc.
func VTypeOf(desc string) VType {
	switch desc[0] {
	case 'B', 'C', 'I', 'S', 'Z':
		return VType{Tag: VInteger}
	case 'F':
		return VType{Tag: VFloat}
	case 'J':
		return VType{Tag: VLong}
	case 'D':
		return VType{Tag: VDouble}
	case 'L':
		return ObjectType(desc[1 : len(desc)-1])
	}
	// Arrays are named by their descriptor.
	return ObjectType(desc)
}

// InitialLocals returns the implicit frame locals at method entry: the
// receiver (uninitializedThis in a constructor) followed by the parameters.
func InitialLocals(owner, name, desc string, static bool) ([]VType, error) {
	params, _, err := ParseMethodDescriptor(desc)
	if err != nil {
		return nil, err
	}
	locals := make([]VType, 0, len(params)+1)
	if !static {
		if name == "<init>" && owner != "java/lang/Object" {
			locals = append(locals, VType{Tag: VUninitializedThis})
		} else {
			locals = append(locals, ObjectType(owner))
		}
	}
	for _, p := range params {
		locals = append(locals, VTypeOf(p))
	}
	return locals, nil
}
