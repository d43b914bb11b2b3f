package emitter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// The on-disk record sizes are fixed by the ELF specification.
func TestRecordSizes(t *testing.T) {
	assert.Equal(t, uint64(64), Ehdr64Size)
	assert.Equal(t, uint64(64), Shdr64Size)
	assert.Equal(t, uint64(56), Phdr64Size)
	assert.Equal(t, uint64(24), Sym64Size)
	assert.Equal(t, uint64(16), Dyn64Size)

	assert.Equal(t, uint64(52), Ehdr32Size)
	assert.Equal(t, uint64(40), Shdr32Size)
	assert.Equal(t, uint64(32), Phdr32Size)
	assert.Equal(t, uint64(16), Sym32Size)
	assert.Equal(t, uint64(8), Dyn32Size)
}

func TestFormatSerializedLengths(t *testing.T) {
	for _, f := range []Format{Elf32{}, Elf64{}} {
		assert.Len(t, f.Ehdr(&Ehdr{}), int(f.EhdrSize()))
		assert.Len(t, f.Shdr(&SectionHeader{}), int(f.ShdrSize()))
		assert.Len(t, f.Phdr(&ProgramHeader{}), int(f.PhdrSize()))
		assert.Len(t, f.Sym(&Sym{}), int(f.SymSize()))
		assert.Len(t, f.Dyn(Dyn{}), int(f.DynSize()))
	}
}

func TestElf32Narrowing(t *testing.T) {
	p := &ProgramHeader{
		Type:     1,
		Flags:    5,
		Offset:   0x1000,
		VAddr:    0x1000,
		PAddr:    0x1000,
		FileSize: 0x200,
		MemSize:  0x200,
		Align:    0x1000,
	}

	// ELF32 program headers put p_flags behind p_memsz.
	out := Elf32{}.Phdr(p)
	assert.Equal(t, []byte{1, 0, 0, 0}, out[0:4])
	assert.Equal(t, []byte{0, 0x10, 0, 0}, out[4:8])
	assert.Equal(t, []byte{5, 0, 0, 0}, out[24:28])
}
