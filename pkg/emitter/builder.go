package emitter

import (
	"debug/elf"
	"io"
	"sort"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"soemit/pkg/utils"
)

// Program header slots, in the fixed order they appear in the table.
// The bss LOAD slot is skipped on emission when .bss is empty.
const (
	phPhdr = iota
	phLoadR
	phLoadRX
	phLoadRWBss
	phLoadRWDynamic
	phDynamic
	phEhFrameHdr
	phNum
)

// Config carries everything the Builder needs up front. The code
// producer streams .rodata and .text once their final offsets are
// known; Out receives positional writes during Write.
type Config struct {
	CodeOutput CodeOutput
	Out        io.WriteSeeker
	// OutPath names the output file; its basename becomes the SONAME.
	OutPath string
	ISA     ISA

	RodataOffset uint64
	RodataSize   uint64
	TextOffset   uint64
	TextSize     uint64
	BssOffset    uint64
	BssSize      uint64

	// AddSymbols includes .symtab and .strtab in the output.
	AddSymbols bool

	Logger log.Logger
}

// Builder packages a code producer's output into an ET_DYN shared
// object. The protocol is two-phase: Init freezes the allocatable
// layout so the producer can patch in final addresses, Write lays out
// the rest and commits every byte.
//
// The file layout, in order:
//
//	Ehdr
//	Phdr table          PHDR, LOAD R, LOAD RX, LOAD RW (bss, optional),
//	                    LOAD RW (dynamic), DYNAMIC, GNU_EH_FRAME_HDR
//	.dynsym             null, oatdata, oatexec, oatlastword
//	                    [+ oatbss, oatbsslastword when .bss is present]
//	.dynstr
//	.hash               nbuckets, nchain, buckets, chains
//	allocatable raw sections (.eh_frame before .eh_frame_hdr)
//	.rodata
//	.text
//	.bss                no file bytes
//	.dynamic
//	.symtab, .strtab    optional
//	non-alloc raw sections
//	.shstrtab
//	section header table
type Builder struct {
	format     Format
	codeOutput CodeOutput
	out        io.WriteSeeker
	outPath    string
	addSymbols bool
	logger     log.Logger

	fatalErr error

	ehdr  Ehdr
	phdrs [phNum]ProgramHeader

	nullHdr      SectionHeader
	shstrtab     []byte
	sectionIndex uint32
	dynstr       []byte
	sonameOffset uint32
	sections     []*SectionHeader
	hash         []uint32

	text        *OatSectionBuilder
	rodata      *OatSectionBuilder
	bss         *OatSectionBuilder
	dynsym      *SymtabBuilder
	symtab      *SymtabBuilder
	hashSec     SectionBuilder
	dynamic     *DynamicBuilder
	shstrtabSec SectionBuilder
	raw         []*RawSectionBuilder
}

func NewBuilder(f Format, cfg Config) *Builder {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}

	b := &Builder{
		format:     f,
		codeOutput: cfg.CodeOutput,
		out:        cfg.Out,
		outPath:    cfg.OutPath,
		addSymbols: cfg.AddSymbols,
		logger:     logger,

		text: NewOatSectionBuilder(".text", cfg.TextSize, cfg.TextOffset,
			elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_EXECINSTR),
		rodata: NewOatSectionBuilder(".rodata", cfg.RodataSize, cfg.RodataOffset,
			elf.SHT_PROGBITS, elf.SHF_ALLOC),
		bss: NewOatSectionBuilder(".bss", cfg.BssSize, cfg.BssOffset,
			elf.SHT_NOBITS, elf.SHF_ALLOC),
		dynsym: NewSymtabBuilder(f, ".dynsym", elf.SHT_DYNSYM, ".dynstr", elf.SHT_STRTAB, true),
		symtab: NewSymtabBuilder(f, ".symtab", elf.SHT_SYMTAB, ".strtab", elf.SHT_STRTAB, false),
	}
	b.hashSec = NewSectionBuilder(".hash", elf.SHT_HASH, elf.SHF_ALLOC,
		&b.dynsym.SectionBuilder, 0, WordSize, WordSize)
	b.dynamic = NewDynamicBuilder(f, ".dynamic", b.dynsym.StrTab())
	b.shstrtabSec = NewSectionBuilder(".shstrtab", elf.SHT_STRTAB, 0, nil, 0, 1, 0)

	b.setupEhdr()
	b.setupDynamic()
	b.setupRequiredSymbols()
	b.setISA(cfg.ISA)

	return b
}

func (b *Builder) Rodata() *OatSectionBuilder {
	return b.rodata
}

func (b *Builder) Text() *OatSectionBuilder {
	return b.text
}

func (b *Builder) Bss() *OatSectionBuilder {
	return b.bss
}

func (b *Builder) Symtab() *SymtabBuilder {
	return b.symtab
}

func (b *Builder) Dynamic() *DynamicBuilder {
	return b.dynamic
}

// RegisterRawSection adds an auxiliary pre-formed section. Allocatable
// ones are laid out during Init between .hash and .rodata, in
// registration order; the rest go behind .dynamic (or behind .strtab
// when symbols are emitted) during Write.
func (b *Builder) RegisterRawSection(raw *RawSectionBuilder) {
	b.raw = append(b.raw, raw)
}

func (b *Builder) FindRawSection(name string) *RawSectionBuilder {
	for _, raw := range b.raw {
		if raw.Name() == name {
			return raw
		}
	}
	return nil
}

// Init freezes the allocatable layout: section indices, the dynstr and
// hash contents, and the offset and virtual address of every loadable
// section. After Init the code producer may rely on final addresses.
func (b *Builder) Init() error {
	if b.fatalErr != nil {
		return b.fatalErr
	}

	phdrSize := uint64(phNum) * b.format.PhdrSize()
	level.Debug(b.logger).Log("phdr_offset", b.format.EhdrSize(), "phdr_size", phdrSize)

	b.phdrs = [phNum]ProgramHeader{}
	b.phdrs[phPhdr] = ProgramHeader{
		Type:     uint32(elf.PT_PHDR),
		Flags:    uint32(elf.PF_R),
		Offset:   b.format.EhdrSize(),
		VAddr:    b.format.EhdrSize(),
		PAddr:    b.format.EhdrSize(),
		FileSize: phdrSize,
		MemSize:  phdrSize,
		Align:    WordSize,
	}
	b.phdrs[phLoadR] = ProgramHeader{Type: uint32(elf.PT_LOAD), Flags: uint32(elf.PF_R)}
	b.phdrs[phLoadRX] = ProgramHeader{Type: uint32(elf.PT_LOAD), Flags: uint32(elf.PF_R | elf.PF_X)}
	b.phdrs[phLoadRWBss] = ProgramHeader{Type: uint32(elf.PT_LOAD), Flags: uint32(elf.PF_R | elf.PF_W)}
	b.phdrs[phLoadRWDynamic] = ProgramHeader{Type: uint32(elf.PT_LOAD), Flags: uint32(elf.PF_R | elf.PF_W)}
	b.phdrs[phDynamic] = ProgramHeader{Type: uint32(elf.PT_DYNAMIC), Flags: uint32(elf.PF_R | elf.PF_W)}
	b.phdrs[phEhFrameHdr] = ProgramHeader{Type: uint32(elf.PT_NULL), Flags: uint32(elf.PF_R)}

	// The soname goes behind the symbol names in .dynstr.
	b.dynstr = b.dynsym.GenerateStrtab()
	b.sonameOffset = uint32(len(b.dynstr))
	soname := b.outPath
	if i := strings.LastIndexByte(soname, '/'); i >= 0 {
		soname = soname[i+1:]
	}
	b.dynstr = append(b.dynstr, soname...)
	b.dynstr = append(b.dynstr, 0)
	level.Debug(b.logger).Log("soname", soname, "dynstr_size", len(b.dynstr),
		"dynsym_count", b.dynsym.Count())

	b.shstrtab = []byte{0}

	b.nullHdr = SectionHeader{}
	b.sections = []*SectionHeader{&b.nullHdr}
	b.sectionIndex = 1

	// Index assignment order is fixed; .symtab, .strtab, the raw
	// sections and .shstrtab follow during Write.
	b.assignSection(&b.dynsym.SectionBuilder)
	b.assignSection(b.dynsym.StrTab())
	b.assignSection(&b.hashSec)
	b.assignSection(&b.rodata.SectionBuilder)
	b.assignSection(&b.text.SectionBuilder)
	if b.bss.Size() != 0 {
		b.assignSection(&b.bss.SectionBuilder)
	}
	b.assignSection(&b.dynamic.SectionBuilder)

	// Dynsym is closed from here on.
	hash, err := b.dynsym.GenerateHashContents()
	if err != nil {
		b.fatalErr = err
		return err
	}
	b.hash = hash

	// Allocatable layout. Every section's virtual address equals its
	// file offset, except .dynamic, whose address follows .bss memory.
	baseOffset := b.format.EhdrSize() + phdrSize

	ds := &b.dynsym.Shdr
	ds.Offset = utils.RoundUp(baseOffset, ds.Addralign)
	ds.Addr = ds.Offset
	ds.Size = b.dynsym.Count() * b.format.SymSize()
	ds.Link = b.dynsym.Link()

	dstr := &b.dynsym.StrTab().Shdr
	dstr.Offset = nextOffset(dstr, ds)
	dstr.Addr = dstr.Offset
	dstr.Size = uint64(len(b.dynstr))
	dstr.Link = b.dynsym.StrTab().Link()

	hs := &b.hashSec.Shdr
	hs.Offset = nextOffset(hs, dstr)
	hs.Addr = hs.Offset
	hs.Size = uint64(len(b.hash)) * WordSize
	hs.Link = b.hashSec.Link()

	// Allocatable raw sections sit between .hash and .rodata so that
	// .eh_frame, which holds relative pointers into .text, is laid out
	// before the producer runs and lands in the LOAD R segment.
	prev := hs
	for _, raw := range b.raw {
		if raw.Shdr.Flags&uint64(elf.SHF_ALLOC) == 0 {
			continue
		}
		raw.Shdr.Offset = nextOffset(&raw.Shdr, prev)
		raw.Shdr.Addr = raw.Shdr.Offset
		raw.Shdr.Size = uint64(len(raw.Buffer()))
		raw.Shdr.Link = raw.Link()
		prev = &raw.Shdr
	}
	if err := b.checkEhFramePlacement(); err != nil {
		b.fatalErr = err
		return err
	}

	rs := &b.rodata.Shdr
	rs.Offset = nextOffset(rs, prev)
	rs.Addr = rs.Offset
	rs.Size = b.rodata.Size()
	rs.Link = b.rodata.Link()

	ts := &b.text.Shdr
	ts.Offset = nextOffset(ts, rs)
	ts.Addr = ts.Offset
	ts.Size = b.text.Size()
	ts.Link = b.text.Link()
	if (rs.Offset+rs.Size)%PageSize != 0 {
		b.fatalErr = errors.Errorf(".rodata end %d is not page aligned", rs.Offset+rs.Size)
		return b.fatalErr
	}

	// .bss occupies no file bytes but offset and address advance as if
	// it did.
	bs := &b.bss.Shdr
	bs.Offset = nextOffset(bs, ts)
	bs.Addr = bs.Offset
	bs.Size = b.bss.Size()
	bs.Link = b.bss.Link()

	dyn := &b.dynamic.Shdr
	if bs.Offset%dyn.Addralign != 0 {
		b.fatalErr = errors.Errorf(".bss offset %d not aligned for .dynamic (align %d)",
			bs.Offset, dyn.Addralign)
		return b.fatalErr
	}
	dyn.Offset = bs.Offset
	dyn.Addr = nextOffset(dyn, bs)
	dyn.Size = b.dynamic.Count() * b.format.DynSize()
	dyn.Link = b.dynamic.Link()

	level.Debug(b.logger).Log(
		"dynsym_off", ds.Offset, "dynsym_size", ds.Size,
		"dynstr_off", dstr.Offset, "dynstr_size", dstr.Size,
		"hash_off", hs.Offset, "hash_size", hs.Size,
		"rodata_off", rs.Offset, "rodata_size", rs.Size,
		"text_off", ts.Offset, "text_size", ts.Size,
		"dynamic_off", dyn.Offset, "dynamic_size", dyn.Size)

	return nil
}

// Write lays out the non-allocatable tail, fills the program headers
// and commits every piece to the file. The code producer runs here,
// streaming .rodata and .text as one blob.
func (b *Builder) Write() error {
	if b.fatalErr != nil {
		return b.fatalErr
	}

	prev := &b.dynamic.Shdr
	var strtabBytes []byte

	if b.includingDebugSymbols() {
		b.assignSection(&b.symtab.SectionBuilder)
		b.assignSection(b.symtab.StrTab())
		strtabBytes = b.symtab.GenerateStrtab()
		level.Debug(b.logger).Log("strtab_size", len(strtabBytes),
			"symtab_count", b.symtab.Count())
	}

	for _, raw := range b.raw {
		b.assignSection(&raw.SectionBuilder)
	}
	b.assignSection(&b.shstrtabSec)

	if b.includingDebugSymbols() {
		st := &b.symtab.Shdr
		st.Offset = nextOffset(st, prev)
		st.Addr = 0
		st.Size = b.symtab.Count() * b.format.SymSize()
		st.Link = b.symtab.Link()

		str := &b.symtab.StrTab().Shdr
		str.Offset = nextOffset(str, st)
		str.Addr = 0
		str.Size = uint64(len(strtabBytes))
		str.Link = b.symtab.StrTab().Link()

		prev = str
		level.Debug(b.logger).Log("symtab_off", st.Offset, "symtab_size", st.Size,
			"strtab_off", str.Offset, "strtab_size", str.Size)
	}

	for _, raw := range b.raw {
		if raw.Shdr.Flags&uint64(elf.SHF_ALLOC) != 0 {
			continue
		}
		raw.Shdr.Offset = nextOffset(&raw.Shdr, prev)
		raw.Shdr.Addr = 0
		raw.Shdr.Size = uint64(len(raw.Buffer()))
		raw.Shdr.Link = raw.Link()
		prev = &raw.Shdr
		level.Debug(b.logger).Log("section", raw.Name(), "off", raw.Shdr.Offset,
			"size", raw.Shdr.Size)
	}

	shs := &b.shstrtabSec.Shdr
	shs.Offset = nextOffset(shs, prev)
	shs.Addr = 0
	shs.Size = uint64(len(b.shstrtab))
	shs.Link = b.shstrtabSec.Link()

	// The section header table comes last.
	sectionsOffset := utils.RoundUp(shs.Offset+shs.Size, WordSize)

	dynsymBytes := b.dynsym.GenerateSymtab(b.format)
	utils.Assert(uint64(len(dynsymBytes)) == b.dynsym.Shdr.Size)
	var symtabBytes []byte
	if b.includingDebugSymbols() {
		symtabBytes = b.symtab.GenerateSymtab(b.format)
		utils.Assert(uint64(len(symtabBytes)) == b.symtab.Shdr.Size)
	}
	dynamicBytes := b.dynamic.Dynamics(uint32(len(b.dynstr)), b.sonameOffset)
	utils.Assert(uint64(len(dynamicBytes)) == b.dynamic.Shdr.Size)

	b.fillProgramHeaders()
	if err := b.fillEhFrameHeader(); err != nil {
		b.fatalErr = err
		return err
	}

	b.ehdr.Phoff = b.format.EhdrSize()
	b.ehdr.Shoff = sectionsOffset
	b.ehdr.Phnum = phNum
	if b.bss.Shdr.Size == 0 {
		b.ehdr.Phnum = phNum - 1
	}
	b.ehdr.Shnum = uint16(len(b.sections))
	b.ehdr.Shstrndx = uint16(b.shstrtabSec.Index())

	pieces := []filePiece{
		memoryPiece("Elf Header", 0, b.format.Ehdr(&b.ehdr)),
	}
	pieces = append(pieces, b.programHeaderPieces()...)
	pieces = append(pieces,
		memoryPiece(".dynamic", b.dynamic.Shdr.Offset, dynamicBytes),
		memoryPiece(".dynsym", b.dynsym.Shdr.Offset, dynsymBytes),
		memoryPiece(".dynstr", b.dynsym.StrTab().Shdr.Offset, b.dynstr),
		memoryPiece(".hash", b.hashSec.Shdr.Offset, utils.ToBytes(b.hash)),
		rodataPiece(b.rodata.Shdr.Offset, b.codeOutput),
		textPiece(b.text.Shdr.Offset, b.codeOutput),
	)
	if b.includingDebugSymbols() {
		pieces = append(pieces,
			memoryPiece(".symtab", b.symtab.Shdr.Offset, symtabBytes),
			memoryPiece(".strtab", b.symtab.StrTab().Shdr.Offset, strtabBytes))
	}
	pieces = append(pieces, memoryPiece(".shstrtab", shs.Offset, b.shstrtab))
	for i, sec := range b.sections {
		pieces = append(pieces, memoryPiece("section header",
			sectionsOffset+uint64(i)*b.format.ShdrSize(), b.format.Shdr(sec)))
	}
	for _, raw := range b.raw {
		pieces = append(pieces, memoryPiece(raw.Name(), raw.Shdr.Offset, raw.Buffer()))
	}

	sort.SliceStable(pieces, func(i, j int) bool {
		return pieces[i].offset < pieces[j].offset
	})

	for i := range pieces {
		if err := pieces[i].write(b.out); err != nil {
			return errors.Wrapf(err, "write %s", b.outPath)
		}
	}
	return nil
}

func (b *Builder) assignSection(s *SectionBuilder) {
	s.Shdr.Name = uint32(len(b.shstrtab))
	b.shstrtab = append(b.shstrtab, s.Name()...)
	b.shstrtab = append(b.shstrtab, 0)
	s.SetIndex(b.sectionIndex)
	b.sectionIndex++
	b.sections = append(b.sections, &s.Shdr)
	level.Debug(b.logger).Log("section", s.Name(), "index", s.Index(),
		"sh_name", s.Shdr.Name)
}

func (b *Builder) includingDebugSymbols() bool {
	return b.addSymbols && b.symtab.Count() > 1
}

func (b *Builder) fillProgramHeaders() {
	loadRSize := b.rodata.Shdr.Offset + b.rodata.Shdr.Size
	b.phdrs[phLoadR].FileSize = loadRSize
	b.phdrs[phLoadR].MemSize = loadRSize
	b.phdrs[phLoadR].Align = b.rodata.Shdr.Addralign

	b.phdrs[phLoadRX].Offset = b.text.Shdr.Offset
	b.phdrs[phLoadRX].VAddr = b.text.Shdr.Offset
	b.phdrs[phLoadRX].PAddr = b.text.Shdr.Offset
	b.phdrs[phLoadRX].FileSize = b.text.Shdr.Size
	b.phdrs[phLoadRX].MemSize = b.text.Shdr.Size
	b.phdrs[phLoadRX].Align = b.text.Shdr.Addralign

	b.phdrs[phLoadRWBss].Offset = b.bss.Shdr.Offset
	b.phdrs[phLoadRWBss].VAddr = b.bss.Shdr.Offset
	b.phdrs[phLoadRWBss].PAddr = b.bss.Shdr.Offset
	b.phdrs[phLoadRWBss].FileSize = 0
	b.phdrs[phLoadRWBss].MemSize = b.bss.Shdr.Size
	b.phdrs[phLoadRWBss].Align = b.bss.Shdr.Addralign

	for _, i := range []int{phLoadRWDynamic, phDynamic} {
		b.phdrs[i].Offset = b.dynamic.Shdr.Offset
		b.phdrs[i].VAddr = b.dynamic.Shdr.Addr
		b.phdrs[i].PAddr = b.dynamic.Shdr.Addr
		b.phdrs[i].FileSize = b.dynamic.Shdr.Size
		b.phdrs[i].MemSize = b.dynamic.Shdr.Size
		b.phdrs[i].Align = b.dynamic.Shdr.Addralign
	}
}

// checkEhFramePlacement runs after the allocatable layout: when
// .eh_frame_hdr is present, .eh_frame must sit directly before it with
// no gap, since the GNU_EH_FRAME segment assumes the pair is one run.
func (b *Builder) checkEhFramePlacement() error {
	ehFrameHdr := b.FindRawSection(".eh_frame_hdr")
	if ehFrameHdr == nil {
		return nil
	}
	ehFrame := b.FindRawSection(".eh_frame")
	if ehFrame == nil {
		return errors.New(".eh_frame_hdr registered without .eh_frame")
	}
	utils.Assert(ehFrame.Shdr.Offset != 0)
	utils.Assert(ehFrameHdr.Shdr.Offset != 0)
	if ehFrame.Shdr.Offset+ehFrame.Shdr.Size != ehFrameHdr.Shdr.Offset {
		return errors.Errorf(".eh_frame [%d,%d) does not end at .eh_frame_hdr offset %d",
			ehFrame.Shdr.Offset, ehFrame.Shdr.Offset+ehFrame.Shdr.Size, ehFrameHdr.Shdr.Offset)
	}
	return nil
}

func (b *Builder) fillEhFrameHeader() error {
	ehFrameHdr := b.FindRawSection(".eh_frame_hdr")
	if ehFrameHdr == nil {
		return nil
	}
	if err := b.checkEhFramePlacement(); err != nil {
		return err
	}

	b.phdrs[phEhFrameHdr].Type = uint32(elf.PT_GNU_EH_FRAME)
	b.phdrs[phEhFrameHdr].Offset = ehFrameHdr.Shdr.Offset
	b.phdrs[phEhFrameHdr].VAddr = ehFrameHdr.Shdr.Addr
	b.phdrs[phEhFrameHdr].PAddr = ehFrameHdr.Shdr.Addr
	b.phdrs[phEhFrameHdr].FileSize = ehFrameHdr.Shdr.Size
	b.phdrs[phEhFrameHdr].MemSize = ehFrameHdr.Shdr.Size
	b.phdrs[phEhFrameHdr].Align = ehFrameHdr.Shdr.Addralign
	return nil
}

// programHeaderPieces serializes the table. With no .bss the unused
// LOAD RW slot is cut out and the remainder written contiguously.
func (b *Builder) programHeaderPieces() []filePiece {
	var all []byte
	for i := range b.phdrs {
		all = append(all, b.format.Phdr(&b.phdrs[i])...)
	}

	phdrOffset := b.format.EhdrSize()
	if b.bss.Shdr.Size != 0 {
		return []filePiece{memoryPiece("Program headers", phdrOffset, all)}
	}

	part1 := phLoadRWBss * int(b.format.PhdrSize())
	part2Start := part1 + int(b.format.PhdrSize())
	utils.Assert(part1+len(all)-part2Start == int(b.ehdr.Phnum)*int(b.format.PhdrSize()))
	return []filePiece{
		memoryPiece("Program headers", phdrOffset, all[:part1]),
		memoryPiece("Program headers part 2", phdrOffset+uint64(part1), all[part2Start:]),
	}
}

func nextOffset(cur, prev *SectionHeader) uint64 {
	return utils.RoundUp(prev.Offset+prev.Size, cur.Addralign)
}

func (b *Builder) setupEhdr() {
	b.ehdr = Ehdr{}
	WriteMagic(b.ehdr.Ident[:])
	b.ehdr.Ident[elf.EI_CLASS] = byte(b.format.Class())
	b.ehdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	b.ehdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	b.ehdr.Ident[elf.EI_OSABI] = byte(elf.ELFOSABI_LINUX)
	b.ehdr.Ident[elf.EI_ABIVERSION] = 0
	b.ehdr.Type = uint16(elf.ET_DYN)
	b.ehdr.Version = uint32(elf.EV_CURRENT)
	b.ehdr.Entry = 0
	b.ehdr.Ehsize = uint16(b.format.EhdrSize())
	b.ehdr.Phentsize = uint16(b.format.PhdrSize())
	b.ehdr.Shentsize = uint16(b.format.ShdrSize())
	b.ehdr.Phoff = b.format.EhdrSize()
}

func (b *Builder) setISA(isa ISA) {
	machine, flags, ok := isa.Machine()
	if !ok {
		b.fatalErr = errors.Errorf("unknown instruction set: %s", isa)
		level.Error(b.logger).Log("err", b.fatalErr)
		return
	}
	b.ehdr.Machine = uint16(machine)
	b.ehdr.Flags = flags
}

// The mandatory dynamic entries. DT_SONAME, DT_STRSZ and DT_NULL are
// appended by the dynamic builder once their values exist.
func (b *Builder) setupDynamic() {
	b.dynamic.AddDynamicTag(elf.DT_HASH, 0, &b.hashSec)
	b.dynamic.AddDynamicTag(elf.DT_STRTAB, 0, b.dynsym.StrTab())
	b.dynamic.AddDynamicTag(elf.DT_SYMTAB, 0, &b.dynsym.SectionBuilder)
	b.dynamic.AddDynamicTag(elf.DT_SYMENT, b.format.SymSize(), nil)
}

// The mandatory dynamic symbols the runtime looks up to locate the
// embedded blob.
func (b *Builder) setupRequiredSymbols() {
	b.dynsym.AddSymbol("oatdata", &b.rodata.SectionBuilder, 0, true,
		b.rodata.Size(), elf.STB_GLOBAL, elf.STT_OBJECT, 0)
	b.dynsym.AddSymbol("oatexec", &b.text.SectionBuilder, 0, true,
		b.text.Size(), elf.STB_GLOBAL, elf.STT_OBJECT, 0)
	b.dynsym.AddSymbol("oatlastword", &b.text.SectionBuilder, b.text.Size()-4, true,
		4, elf.STB_GLOBAL, elf.STT_OBJECT, 0)
	if b.bss.Size() != 0 {
		b.dynsym.AddSymbol("oatbss", &b.bss.SectionBuilder, 0, true,
			b.bss.Size(), elf.STB_GLOBAL, elf.STT_OBJECT, 0)
		b.dynsym.AddSymbol("oatbsslastword", &b.bss.SectionBuilder, b.bss.Size()-4, true,
			4, elf.STB_GLOBAL, elf.STT_OBJECT, 0)
	}
}
