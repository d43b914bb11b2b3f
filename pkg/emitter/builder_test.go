package emitter

import (
	"bytes"
	"debug/elf"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soemit/pkg/utils"
)

// seekBuffer is an in-memory stand-in for the output file, grown as
// pieces land past its current end.
type seekBuffer struct {
	buf []byte
	pos int64
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	end := s.pos + int64(len(p))
	if end > int64(len(s.buf)) {
		s.buf = append(s.buf, make([]byte, end-int64(len(s.buf)))...)
	}
	copy(s.buf[s.pos:], p)
	s.pos = end
	return len(p), nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		s.pos = offset
	case io.SeekCurrent:
		s.pos += offset
	case io.SeekEnd:
		s.pos = int64(len(s.buf)) + offset
	}
	return s.pos, nil
}

type fakeCodeOutput struct {
	rodata []byte
	text   []byte
	offset uint64
	setups int
}

func newFakeCodeOutput(rodataSize, textSize uint64) *fakeCodeOutput {
	out := &fakeCodeOutput{
		rodata: make([]byte, rodataSize),
		text:   make([]byte, textSize),
	}
	for i := range out.rodata {
		out.rodata[i] = byte(i % 251)
	}
	for i := range out.text {
		out.text[i] = byte(i % 239)
	}
	return out
}

func (f *fakeCodeOutput) SetCodeOffset(offset uint64) {
	f.offset = offset
	f.setups++
}

func (f *fakeCodeOutput) Write(out io.Writer) error {
	if _, err := out.Write(f.rodata); err != nil {
		return err
	}
	_, err := out.Write(f.text)
	return err
}

func emitImage(t *testing.T, f Format, isa ISA, path string,
	rodataSize, textSize, bssSize uint64, addSymbols bool,
	setup func(*Builder)) (*seekBuffer, *fakeCodeOutput, *elf.File) {
	t.Helper()

	sb := &seekBuffer{}
	code := newFakeCodeOutput(rodataSize, textSize)
	b := NewBuilder(f, Config{
		CodeOutput:   code,
		Out:          sb,
		OutPath:      path,
		ISA:          isa,
		RodataOffset: 0,
		RodataSize:   rodataSize,
		TextOffset:   rodataSize,
		TextSize:     textSize,
		BssOffset:    rodataSize + textSize,
		BssSize:      bssSize,
		AddSymbols:   addSymbols,
	})
	if setup != nil {
		setup(b)
	}

	require.NoError(t, b.Init())
	require.NoError(t, b.Write())

	ef, err := elf.NewFile(bytes.NewReader(sb.buf))
	require.NoError(t, err)
	return sb, code, ef
}

func dynamicEntries(t *testing.T, ef *elf.File, f Format) []Dyn {
	t.Helper()
	sec := ef.Section(".dynamic")
	require.NotNil(t, sec)
	data, err := sec.Data()
	require.NoError(t, err)

	var dyns []Dyn
	if f.DynSize() == Dyn64Size {
		for off := 0; off < len(data); off += int(Dyn64Size) {
			dyns = append(dyns, utils.Read[Dyn](data[off:]))
		}
	} else {
		for off := 0; off < len(data); off += int(Dyn32Size) {
			d := utils.Read[Dyn32](data[off:])
			dyns = append(dyns, Dyn{Tag: int64(d.Tag), Val: uint64(d.Val)})
		}
	}
	return dyns
}

func dynamicValue(t *testing.T, dyns []Dyn, tag elf.DynTag) uint64 {
	t.Helper()
	for _, d := range dyns {
		if d.Tag == int64(tag) {
			return d.Val
		}
	}
	t.Fatalf("tag %v not present in .dynamic", tag)
	return 0
}

func TestEmitArm64NoBss(t *testing.T) {
	sb, code, ef := emitImage(t, Elf64{}, ISAArm64, "/tmp/out/libapp.so",
		4096, 8192, 0, false, nil)

	assert.Equal(t, elf.ELFCLASS64, ef.Class)
	assert.Equal(t, elf.ELFDATA2LSB, ef.Data)
	assert.Equal(t, elf.ET_DYN, ef.Type)
	assert.Equal(t, elf.EM_AARCH64, ef.Machine)
	assert.Len(t, ef.Progs, 6)
	assert.Len(t, ef.Sections, 8)

	names := make([]string, 0, len(ef.Sections))
	for _, sec := range ef.Sections {
		names = append(names, sec.Name)
	}
	assert.Equal(t, []string{"", ".dynsym", ".dynstr", ".hash", ".rodata",
		".text", ".dynamic", ".shstrtab"}, names)

	rodata := ef.Section(".rodata")
	text := ef.Section(".text")
	assert.Equal(t, uint64(4096), rodata.Offset)
	assert.Equal(t, uint64(4096), rodata.Size)
	assert.Zero(t, (rodata.Offset+rodata.Size)%PageSize)
	assert.Equal(t, rodata.Offset+rodata.Size, text.Offset)

	// Allocatable sections map at their file offsets. .dynamic is the
	// exception: its address sits past the end of .bss memory.
	for _, sec := range ef.Sections {
		if sec.Flags&elf.SHF_ALLOC == 0 || sec.Name == ".dynamic" {
			continue
		}
		assert.Equal(t, sec.Offset, sec.Addr, "section %s", sec.Name)
	}

	syms, err := ef.DynamicSymbols()
	require.NoError(t, err)
	require.Len(t, syms, 3)
	assert.Equal(t, "oatdata", syms[0].Name)
	assert.Equal(t, rodata.Offset, syms[0].Value)
	assert.Equal(t, uint64(4096), syms[0].Size)
	assert.Equal(t, "oatexec", syms[1].Name)
	assert.Equal(t, text.Offset, syms[1].Value)
	assert.Equal(t, "oatlastword", syms[2].Name)
	assert.Equal(t, text.Offset+8188, syms[2].Value)
	assert.Equal(t, uint64(4), syms[2].Size)

	// The producer was aimed at the .rodata offset and its blob ended
	// up there verbatim.
	assert.Equal(t, 1, code.setups)
	assert.Equal(t, rodata.Offset, code.offset)
	assert.Equal(t, code.rodata, sb.buf[rodata.Offset:rodata.Offset+4096])
	assert.Equal(t, code.text, sb.buf[text.Offset:text.Offset+8192])
}

// The emitted SysV hash for the three mandatory symbols is a fixed byte
// sequence.
func TestEmitHashDeterminism(t *testing.T) {
	_, _, ef := emitImage(t, Elf64{}, ISAArm64, "/tmp/out/libapp.so",
		4096, 8192, 0, false, nil)

	data, err := ef.Section(".hash").Data()
	require.NoError(t, err)
	assert.Equal(t, utils.ToBytes([]uint32{2, 4, 3, 1, 0, 2, 0, 0}), data)
}

// Walking the emitted hash table must resolve every dynamic symbol to
// its true index, the way the loader does.
func TestEmitHashLookup(t *testing.T) {
	_, _, ef := emitImage(t, Elf64{}, ISAX86_64, "/tmp/out/libapp.so",
		4096, 4096, 4096, false, nil)

	data, err := ef.Section(".hash").Data()
	require.NoError(t, err)
	var words []uint32
	for off := 0; off < len(data); off += WordSize {
		words = append(words, utils.Read[uint32](data[off:]))
	}

	nbuckets := words[0]
	buckets := words[2 : 2+nbuckets]
	chain := words[2+nbuckets:]

	syms, err := ef.DynamicSymbols()
	require.NoError(t, err)
	for i, sym := range syms {
		idx := buckets[elfhash(sym.Name)%nbuckets]
		for idx != 0 && idx != uint32(i)+1 {
			idx = chain[idx]
		}
		assert.Equal(t, uint32(i)+1, idx, "lookup of %s", sym.Name)
	}
}

func TestEmitX8664WithBss(t *testing.T) {
	_, _, ef := emitImage(t, Elf64{}, ISAX86_64, "/tmp/out/libapp.so",
		4096, 4096, 4096, false, nil)

	assert.Equal(t, elf.EM_X86_64, ef.Machine)
	assert.Len(t, ef.Progs, 7)
	assert.Len(t, ef.Sections, 9)

	bss := ef.Section(".bss")
	require.NotNil(t, bss)
	assert.Equal(t, elf.SHT_NOBITS, bss.Type)

	syms, err := ef.DynamicSymbols()
	require.NoError(t, err)
	require.Len(t, syms, 5)
	assert.Equal(t, "oatbss", syms[3].Name)
	assert.Equal(t, bss.Offset, syms[3].Value)
	assert.Equal(t, uint64(4096), syms[3].Size)
	assert.Equal(t, "oatbsslastword", syms[4].Name)
	assert.Equal(t, bss.Offset+4092, syms[4].Value)

	var bssLoad *elf.Prog
	for _, prog := range ef.Progs {
		if prog.Type == elf.PT_LOAD && prog.Flags == elf.PF_R|elf.PF_W && prog.Memsz != prog.Filesz {
			bssLoad = prog
		}
	}
	require.NotNil(t, bssLoad)
	assert.Equal(t, bss.Offset, bssLoad.Off)
	assert.Zero(t, bssLoad.Filesz)
	assert.Equal(t, uint64(4096), bssLoad.Memsz)
}

func TestEmitProgramHeaders(t *testing.T) {
	_, _, ef := emitImage(t, Elf64{}, ISAArm64, "/tmp/out/libapp.so",
		4096, 8192, 0, false, nil)

	rodata := ef.Section(".rodata")
	text := ef.Section(".text")
	dynamic := ef.Section(".dynamic")

	require.Len(t, ef.Progs, 6)
	assert.Equal(t, elf.PT_PHDR, ef.Progs[0].Type)
	assert.Equal(t, Ehdr64Size, ef.Progs[0].Off)

	loadR := ef.Progs[1]
	assert.Equal(t, elf.PT_LOAD, loadR.Type)
	assert.Equal(t, elf.PF_R, loadR.Flags)
	assert.Zero(t, loadR.Off)
	assert.Equal(t, rodata.Offset+rodata.Size, loadR.Filesz)
	assert.Equal(t, uint64(PageSize), loadR.Align)

	loadRX := ef.Progs[2]
	assert.Equal(t, elf.PF_R|elf.PF_X, loadRX.Flags)
	assert.Equal(t, text.Offset, loadRX.Off)
	assert.Equal(t, text.Size, loadRX.Filesz)

	loadRW := ef.Progs[3]
	assert.Equal(t, elf.PT_LOAD, loadRW.Type)
	assert.Equal(t, elf.PF_R|elf.PF_W, loadRW.Flags)
	assert.Equal(t, dynamic.Offset, loadRW.Off)
	assert.Equal(t, dynamic.Addr, loadRW.Vaddr)

	dyn := ef.Progs[4]
	assert.Equal(t, elf.PT_DYNAMIC, dyn.Type)
	assert.Equal(t, dynamic.Offset, dyn.Off)
	assert.Equal(t, dynamic.Size, dyn.Filesz)

	// The eh_frame_hdr slot stays a placeholder without the section.
	assert.Equal(t, elf.PT_NULL, ef.Progs[5].Type)
}

func TestEmitMips32(t *testing.T) {
	sb, _, ef := emitImage(t, Elf32{}, ISAMips32, "/tmp/out/libapp.so",
		4096, 4096, 0, false, nil)

	assert.Equal(t, elf.ELFCLASS32, ef.Class)
	assert.Equal(t, elf.EM_MIPS, ef.Machine)

	// e_flags is not surfaced by debug/elf; it sits at offset 36 of the
	// ELF32 header.
	flags := utils.Read[uint32](sb.buf[36:])
	assert.Equal(t, uint32(EF_MIPS_NOREORDER|EF_MIPS_PIC|EF_MIPS_CPIC|
		EF_MIPS_ABI_O32|EF_MIPS_ARCH_32R2), flags)
}

func TestEmitSoname(t *testing.T) {
	_, _, ef := emitImage(t, Elf64{}, ISAX86_64, "/tmp/foo/bar.oat",
		4096, 4096, 0, false, nil)

	dyns := dynamicEntries(t, ef, Elf64{})

	// One of each mandatory tag, DT_NULL last.
	for _, tag := range []elf.DynTag{elf.DT_HASH, elf.DT_STRTAB, elf.DT_SYMTAB,
		elf.DT_SYMENT, elf.DT_STRSZ, elf.DT_SONAME} {
		count := 0
		for _, d := range dyns {
			if d.Tag == int64(tag) {
				count++
			}
		}
		assert.Equal(t, 1, count, "tag %v", tag)
	}
	assert.Equal(t, Dyn{}, dyns[len(dyns)-1])

	assert.Equal(t, ef.Section(".hash").Addr, dynamicValue(t, dyns, elf.DT_HASH))
	assert.Equal(t, ef.Section(".dynstr").Addr, dynamicValue(t, dyns, elf.DT_STRTAB))
	assert.Equal(t, ef.Section(".dynsym").Addr, dynamicValue(t, dyns, elf.DT_SYMTAB))
	assert.Equal(t, Sym64Size, dynamicValue(t, dyns, elf.DT_SYMENT))
	assert.Equal(t, ef.Section(".dynstr").Size, dynamicValue(t, dyns, elf.DT_STRSZ))

	strs, err := ef.Section(".dynstr").Data()
	require.NoError(t, err)
	off := dynamicValue(t, dyns, elf.DT_SONAME)
	end := bytes.IndexByte(strs[off:], 0)
	require.NotEqual(t, -1, end)
	assert.Equal(t, "bar.oat", string(strs[off:off+uint64(end)]))
}

func TestEmitEhFramePair(t *testing.T) {
	ehFrame := NewRawSectionBuilder(".eh_frame", elf.SHT_PROGBITS, elf.SHF_ALLOC, nil, 0, WordSize, 0)
	ehFrame.SetBuffer(make([]byte, 256))
	ehFrameHdr := NewRawSectionBuilder(".eh_frame_hdr", elf.SHT_PROGBITS, elf.SHF_ALLOC, nil, 0, WordSize, 0)
	ehFrameHdr.SetBuffer(make([]byte, 40))

	_, _, ef := emitImage(t, Elf64{}, ISAArm64, "/tmp/out/libapp.so",
		4096, 4096, 0, false, func(b *Builder) {
			b.RegisterRawSection(ehFrame)
			b.RegisterRawSection(ehFrameHdr)
		})

	assert.Len(t, ef.Sections, 10)

	frame := ef.Section(".eh_frame")
	hdr := ef.Section(".eh_frame_hdr")
	require.NotNil(t, frame)
	require.NotNil(t, hdr)

	hash := ef.Section(".hash")
	assert.Equal(t, utils.RoundUp(hash.Offset+hash.Size, WordSize), frame.Offset)
	assert.Equal(t, frame.Offset+frame.Size, hdr.Offset)
	assert.Less(t, hdr.Offset+hdr.Size, ef.Section(".rodata").Offset)
	assert.Equal(t, frame.Offset, frame.Addr)
	assert.Equal(t, hdr.Offset, hdr.Addr)

	var ehProg *elf.Prog
	for _, prog := range ef.Progs {
		if prog.Type == elf.PT_GNU_EH_FRAME {
			ehProg = prog
		}
	}
	require.NotNil(t, ehProg)
	assert.Equal(t, hdr.Offset, ehProg.Off)
	assert.Equal(t, hdr.Addr, ehProg.Vaddr)
	assert.Equal(t, uint64(40), ehProg.Filesz)
}

func TestEmitDebugSymbols(t *testing.T) {
	_, _, ef := emitImage(t, Elf64{}, ISAArm64, "/tmp/out/libapp.so",
		4096, 4096, 0, true, func(b *Builder) {
			b.Symtab().AddSymbol("AppEntry", &b.Text().SectionBuilder, 0x40, true,
				0x20, elf.STB_GLOBAL, elf.STT_FUNC, 0)
		})

	require.NotNil(t, ef.Section(".symtab"))
	strtab := ef.Section(".strtab")
	require.NotNil(t, strtab)
	assert.Zero(t, strtab.Addr)

	syms, err := ef.Symbols()
	require.NoError(t, err)
	require.Len(t, syms, 1)
	assert.Equal(t, "AppEntry", syms[0].Name)
	assert.Equal(t, ef.Section(".text").Offset+0x40, syms[0].Value)
	assert.Equal(t, uint64(0x20), syms[0].Size)
}

// Without symbols the flag alone must not grow the section list.
func TestEmitSymbolFlagWithEmptySymtab(t *testing.T) {
	_, _, ef := emitImage(t, Elf64{}, ISAArm64, "/tmp/out/libapp.so",
		4096, 4096, 0, true, nil)

	assert.Nil(t, ef.Section(".symtab"))
	assert.Nil(t, ef.Section(".strtab"))
}

func TestEmitNonAllocRaw(t *testing.T) {
	payload := bytes.Repeat([]byte{0xDB}, 100)
	debugInfo := NewRawSectionBuilder(".debug_info", elf.SHT_PROGBITS, 0, nil, 0, 1, 0)
	debugInfo.SetBuffer(payload)

	_, _, ef := emitImage(t, Elf64{}, ISAArm64, "/tmp/out/libapp.so",
		4096, 4096, 0, false, func(b *Builder) {
			b.RegisterRawSection(debugInfo)
		})

	sec := ef.Section(".debug_info")
	require.NotNil(t, sec)
	assert.Zero(t, sec.Addr)

	dynamic := ef.Section(".dynamic")
	assert.GreaterOrEqual(t, sec.Offset, dynamic.Offset+dynamic.Size)

	data, err := sec.Data()
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestEmitUnknownISAFails(t *testing.T) {
	sb := &seekBuffer{}
	b := NewBuilder(Elf64{}, Config{
		CodeOutput: newFakeCodeOutput(4096, 4096),
		Out:        sb,
		OutPath:    "/tmp/out/libapp.so",
		ISA:        ISA(42),
		RodataSize: 4096,
		TextSize:   4096,
	})

	err := b.Init()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown instruction set")

	// The failure is latched: Write stays a no-op.
	require.Error(t, b.Write())
	assert.Empty(t, sb.buf)
}

func TestEmitUnalignedRodataFails(t *testing.T) {
	sb := &seekBuffer{}
	b := NewBuilder(Elf64{}, Config{
		CodeOutput: newFakeCodeOutput(100, 4096),
		Out:        sb,
		OutPath:    "/tmp/out/libapp.so",
		ISA:        ISAArm64,
		RodataSize: 100,
		TextSize:   4096,
		TextOffset: 100,
	})

	err := b.Init()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page aligned")
	require.Error(t, b.Write())
}

func TestEmitEhFrameHdrWithoutEhFrameFails(t *testing.T) {
	hdr := NewRawSectionBuilder(".eh_frame_hdr", elf.SHT_PROGBITS, elf.SHF_ALLOC, nil, 0, WordSize, 0)
	hdr.SetBuffer(make([]byte, 40))

	sb := &seekBuffer{}
	b := NewBuilder(Elf64{}, Config{
		CodeOutput: newFakeCodeOutput(4096, 4096),
		Out:        sb,
		OutPath:    "/tmp/out/libapp.so",
		ISA:        ISAArm64,
		RodataSize: 4096,
		TextSize:   4096,
		TextOffset: 4096,
	})
	b.RegisterRawSection(hdr)

	require.Error(t, b.Init())
	require.Error(t, b.Write())
}

// Section adjacency: each allocatable section starts at its
// predecessor's end rounded up to its own alignment.
func TestEmitAdjacency(t *testing.T) {
	_, _, ef := emitImage(t, Elf64{}, ISAX86_64, "/tmp/out/libapp.so",
		4096, 4096, 4096, false, nil)

	order := []string{".dynsym", ".dynstr", ".hash", ".rodata", ".text", ".bss"}
	prevEnd := Ehdr64Size + uint64(phNum)*Phdr64Size
	for _, name := range order {
		sec := ef.Section(name)
		require.NotNil(t, sec, name)
		assert.Equal(t, utils.RoundUp(prevEnd, sec.Addralign), sec.Offset, "section %s", name)
		prevEnd = sec.Offset + sec.Size
		if sec.Type == elf.SHT_NOBITS {
			prevEnd = sec.Offset
		}
	}
}
