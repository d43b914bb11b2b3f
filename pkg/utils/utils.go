package utils

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"runtime/debug"
)

func Fatal(v any) {
	fmt.Printf("soemit:\n\t\033[0;1;31mfatal\033[0m: %v\n", v)
	debug.PrintStack()
	os.Exit(1)
}

func MustNo(err error) {
	if err != nil {
		Fatal(err.Error())
	}
}

func Assert(condition bool) {
	if !condition {
		Fatal("Assert Failed")
	}
}

func Read[T any](data []byte) (val T) {
	reader := bytes.NewReader(data)
	err := binary.Read(reader, binary.LittleEndian, &val)

	MustNo(err)

	return val
}

// ToBytes serializes val little-endian, the byte order of every ELF
// record we emit.
func ToBytes[T any](val T) []byte {
	buf := &bytes.Buffer{}
	err := binary.Write(buf, binary.LittleEndian, val)

	MustNo(err)

	return buf.Bytes()
}

func RoundUp(val uint64, align uint64) uint64 {
	if align == 0 {
		return val
	}
	return (val + align - 1) / align * align
}
