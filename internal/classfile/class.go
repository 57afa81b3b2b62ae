// Package classfile reads and writes JVM class files. Method bodies are
// decoded into symbolic instruction lists with labels and fully expanded
// stack map frames; the writer assembles them again, checks the result and
// re-compresses the frames.
package classfile

import (
	"classprobe/internal/bytecode"
)

// Supported class file major versions (Java 1.1 through 25).
const (
	MinMajor = 45
	MaxMajor = 69
)

// AccessFlags are class, field and method access_flags.
type AccessFlags uint16

const (
	AccPublic       AccessFlags = 0x0001
	AccPrivate      AccessFlags = 0x0002
	AccProtected    AccessFlags = 0x0004
	AccStatic       AccessFlags = 0x0008
	AccFinal        AccessFlags = 0x0010
	AccSuper        AccessFlags = 0x0020 // classes
	AccSynchronized AccessFlags = 0x0020 // methods
	AccBridge       AccessFlags = 0x0040
	AccVarargs      AccessFlags = 0x0080
	AccNative       AccessFlags = 0x0100
	AccInterface    AccessFlags = 0x0200
	AccAbstract     AccessFlags = 0x0400
	AccStrict       AccessFlags = 0x0800
	AccSynthetic    AccessFlags = 0x1000
	AccAnnotation   AccessFlags = 0x2000
	AccEnum         AccessFlags = 0x4000
	AccModule       AccessFlags = 0x8000
)

// Has reports whether all bits of x are set.
func (f AccessFlags) Has(x AccessFlags) bool { return f&x == x }

// Attribute is an attribute kept as opaque bytes.
type Attribute struct {
	Name string
	Data []byte
}

// Field is a field_info entry. Fields are never modified.
type Field struct {
	Access     AccessFlags
	NameIndex  uint16
	DescIndex  uint16
	Attributes []Attribute
}

// LineNumber maps the instruction at Start to a source line.
type LineNumber struct {
	Start *bytecode.Label
	Line  uint16
}

// LocalVar is a LocalVariableTable or LocalVariableTypeTable entry.
// Descriptor holds the signature for the type table.
type LocalVar struct {
	Start, End *bytecode.Label
	Name       string
	Descriptor string
	Index      int
}

// Code is a decoded Code attribute.
type Code struct {
	MaxStack  int
	MaxLocals int
	Insns     []bytecode.Insn
	Handlers  []bytecode.Handler
	Lines     []LineNumber
	Vars      []LocalVar
	VarTypes  []LocalVar
	Frames    []bytecode.Frame
	// Attributes holds code attributes other than the ones above.
	Attributes []Attribute
}

// MethodModel is a method_info entry. Code is nil for abstract and native
// methods. Attributes excludes Code.
type MethodModel struct {
	Access     AccessFlags
	Name       string
	Descriptor string
	Attributes []Attribute
	Code       *Code

	nameIndex, descIndex uint16
	codeAt               int // position of Code among the attributes
}

// Static reports whether the method has no receiver.
func (m *MethodModel) Static() bool { return m.Access.Has(AccStatic) }

// ClassModel is a parsed class file. Only method code and the constant
// pool change after parsing; the pool is append-only.
type ClassModel struct {
	Minor, Major uint16
	Pool         *Pool
	Access       AccessFlags
	Name         string
	SuperName    string // empty for java/lang/Object
	Interfaces   []uint16
	Fields       []*Field
	Methods      []*MethodModel
	Attributes   []Attribute

	thisIndex, superIndex uint16
}

// Method returns the first method with the given name and, if desc is
// non-empty, descriptor.
func (c *ClassModel) Method(name, desc string) *MethodModel {
	for _, m := range c.Methods {
		if m.Name == name && (desc == "" || m.Descriptor == desc) {
			return m
		}
	}
	return nil
}

// EntryLocals returns the implicit frame locals of m.
func (c *ClassModel) EntryLocals(m *MethodModel) ([]bytecode.VType, error) {
	return bytecode.InitialLocals(c.Name, m.Name, m.Descriptor, m.Static())
}
