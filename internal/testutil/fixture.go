package testutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// FixtureName is the internal name of the class in testdata/Fixture.class.
const FixtureName = "Fixture"

// FixtureBytes returns testdata/Fixture.class, the javac layout of
// testdata/Fixture.java (major version 52). Unlike Sample it is never
// produced by classfile.Write, so reader and writer are checked against
// bytes neither of them made:
//
//	<init>()V                           super() then a field store
//	onCreate(I)I                        try/finally, two returns each preceded by a finally copy, catch-all rethrow
//	pick(I)I                            static, tableswitch with four returns
//	total(JIDLjava/lang/String;)J       static, long return, loop, fourteen local slots
func FixtureBytes(t testing.TB) []byte {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("testutil: cannot locate testdata")
	}
	data, err := os.ReadFile(filepath.Join(filepath.Dir(file), "testdata", FixtureName+".class"))
	if err != nil {
		t.Fatal(err)
	}
	return data
}
