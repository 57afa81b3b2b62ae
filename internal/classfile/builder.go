package classfile

import (
	"fmt"

	"classprobe/internal/bytecode"
)

// NewClass returns an empty public class of version 52.0 (Java 8).
func NewClass(name, super string) (*ClassModel, error) {
	c := &ClassModel{
		Major:     52,
		Pool:      NewPool(),
		Access:    AccPublic | AccSuper,
		Name:      name,
		SuperName: super,
	}
	var err error
	if c.thisIndex, err = c.Pool.AddClass(name); err != nil {
		return nil, err
	}
	if super != "" {
		if c.superIndex, err = c.Pool.AddClass(super); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// AddMethod appends a method. code must be nil exactly when the method is
// abstract or native.
func (c *ClassModel) AddMethod(access AccessFlags, name, desc string, code *Code) (*MethodModel, error) {
	if _, _, err := bytecode.ParseMethodDescriptor(desc); err != nil {
		return nil, err
	}
	bodyless := access.Has(AccAbstract) || access.Has(AccNative)
	if bodyless != (code == nil) {
		return nil, fmt.Errorf("classfile: method %s: code presence does not match access flags", name)
	}
	m := &MethodModel{Access: access, Name: name, Descriptor: desc, Code: code}
	var err error
	if m.nameIndex, err = c.Pool.AddUtf8(name); err != nil {
		return nil, err
	}
	if m.descIndex, err = c.Pool.AddUtf8(desc); err != nil {
		return nil, err
	}
	c.Methods = append(c.Methods, m)
	return m, nil
}

// AddField appends a field.
func (c *ClassModel) AddField(access AccessFlags, name, desc string) (*Field, error) {
	if !bytecode.ValidFieldDescriptor(desc) {
		return nil, fmt.Errorf("%w: %q", bytecode.ErrDescriptor, desc)
	}
	f := &Field{Access: access}
	var err error
	if f.NameIndex, err = c.Pool.AddUtf8(name); err != nil {
		return nil, err
	}
	if f.DescIndex, err = c.Pool.AddUtf8(desc); err != nil {
		return nil, err
	}
	c.Fields = append(c.Fields, f)
	return f, nil
}
