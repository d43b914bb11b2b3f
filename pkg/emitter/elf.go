package emitter

import (
	"debug/elf"
	"unsafe"

	"soemit/pkg/utils"
)

// Loadable segments are page aligned; .rodata and .text carry this
// alignment so the loader can map them directly.
const PageSize = 4096

// Elf_Word is four bytes in both ELF classes. The hash table, the word
// sized alignments and the section table round-up all use it.
const WordSize = 4

// The neutral records use the ELF64 on-disk layout. Elf64 serializes
// them as-is, Elf32 narrows every address sized field on the way out.

type Ehdr struct {
	Ident     [16]byte /* File identification. */
	Type      uint16   /* File type. */
	Machine   uint16   /* Machine architecture. */
	Version   uint32   /* ELF format version. */
	Entry     uint64   /* Entry point. */
	Phoff     uint64   /* Program header file offset. */
	Shoff     uint64   /* Section header file offset. */
	Flags     uint32   /* Architecture-specific flags. */
	Ehsize    uint16   /* Size of ELF header in bytes. */
	Phentsize uint16   /* Size of program header entry. */
	Phnum     uint16   /* Number of program header entries. */
	Shentsize uint16   /* Size of section header entry. */
	Shnum     uint16   /* Number of section header entries. */
	Shstrndx  uint16   /* Section name strings section. */
}

type SectionHeader struct {
	Name      uint32
	Type      uint32
	Flags     uint64
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	Addralign uint64
	Entsize   uint64
}

type ProgramHeader struct {
	Type     uint32
	Flags    uint32
	Offset   uint64
	VAddr    uint64
	PAddr    uint64
	FileSize uint64
	MemSize  uint64
	Align    uint64
}

type Sym struct {
	Name  uint32 /* String table index of name. */
	Info  uint8  /* Type and binding information. */
	Other uint8  /* Reserved (not used). */
	Shndx uint16 /* Section index of symbol. */
	Value uint64 /* Symbol value. */
	Size  uint64 /* Size of associated object. */
}

type Dyn struct {
	Tag int64
	Val uint64
}

type Ehdr32 struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint32
	Phoff     uint32
	Shoff     uint32
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

type Shdr32 struct {
	Name      uint32
	Type      uint32
	Flags     uint32
	Addr      uint32
	Offset    uint32
	Size      uint32
	Link      uint32
	Info      uint32
	Addralign uint32
	Entsize   uint32
}

type Phdr32 struct {
	Type     uint32
	Offset   uint32
	VAddr    uint32
	PAddr    uint32
	FileSize uint32
	MemSize  uint32
	Flags    uint32
	Align    uint32
}

type Sym32 struct {
	Name  uint32
	Value uint32
	Size  uint32
	Info  uint8
	Other uint8
	Shndx uint16
}

type Dyn32 struct {
	Tag int32
	Val uint32
}

const (
	Ehdr64Size = uint64(unsafe.Sizeof(Ehdr{}))
	Shdr64Size = uint64(unsafe.Sizeof(SectionHeader{}))
	Phdr64Size = uint64(unsafe.Sizeof(ProgramHeader{}))
	Sym64Size  = uint64(unsafe.Sizeof(Sym{}))
	Dyn64Size  = uint64(unsafe.Sizeof(Dyn{}))

	Ehdr32Size = uint64(unsafe.Sizeof(Ehdr32{}))
	Shdr32Size = uint64(unsafe.Sizeof(Shdr32{}))
	Phdr32Size = uint64(unsafe.Sizeof(Phdr32{}))
	Sym32Size  = uint64(unsafe.Sizeof(Sym32{}))
	Dyn32Size  = uint64(unsafe.Sizeof(Dyn32{}))
)

// Format selects the ELF word size. Builders keep their state in the
// neutral records; a Format turns each record into its on-disk bytes.
type Format interface {
	Class() elf.Class
	EhdrSize() uint64
	ShdrSize() uint64
	PhdrSize() uint64
	SymSize() uint64
	DynSize() uint64
	Ehdr(h *Ehdr) []byte
	Shdr(s *SectionHeader) []byte
	Phdr(p *ProgramHeader) []byte
	Sym(s *Sym) []byte
	Dyn(d Dyn) []byte
}

type Elf64 struct{}

func (Elf64) Class() elf.Class { return elf.ELFCLASS64 }

func (Elf64) EhdrSize() uint64 { return Ehdr64Size }
func (Elf64) ShdrSize() uint64 { return Shdr64Size }
func (Elf64) PhdrSize() uint64 { return Phdr64Size }
func (Elf64) SymSize() uint64  { return Sym64Size }
func (Elf64) DynSize() uint64  { return Dyn64Size }

func (Elf64) Ehdr(h *Ehdr) []byte          { return utils.ToBytes(*h) }
func (Elf64) Shdr(s *SectionHeader) []byte { return utils.ToBytes(*s) }
func (Elf64) Phdr(p *ProgramHeader) []byte { return utils.ToBytes(*p) }
func (Elf64) Sym(s *Sym) []byte            { return utils.ToBytes(*s) }
func (Elf64) Dyn(d Dyn) []byte             { return utils.ToBytes(d) }

type Elf32 struct{}

func (Elf32) Class() elf.Class { return elf.ELFCLASS32 }

func (Elf32) EhdrSize() uint64 { return Ehdr32Size }
func (Elf32) ShdrSize() uint64 { return Shdr32Size }
func (Elf32) PhdrSize() uint64 { return Phdr32Size }
func (Elf32) SymSize() uint64  { return Sym32Size }
func (Elf32) DynSize() uint64  { return Dyn32Size }

func (Elf32) Ehdr(h *Ehdr) []byte {
	return utils.ToBytes(Ehdr32{
		Ident:     h.Ident,
		Type:      h.Type,
		Machine:   h.Machine,
		Version:   h.Version,
		Entry:     uint32(h.Entry),
		Phoff:     uint32(h.Phoff),
		Shoff:     uint32(h.Shoff),
		Flags:     h.Flags,
		Ehsize:    h.Ehsize,
		Phentsize: h.Phentsize,
		Phnum:     h.Phnum,
		Shentsize: h.Shentsize,
		Shnum:     h.Shnum,
		Shstrndx:  h.Shstrndx,
	})
}

func (Elf32) Shdr(s *SectionHeader) []byte {
	return utils.ToBytes(Shdr32{
		Name:      s.Name,
		Type:      s.Type,
		Flags:     uint32(s.Flags),
		Addr:      uint32(s.Addr),
		Offset:    uint32(s.Offset),
		Size:      uint32(s.Size),
		Link:      s.Link,
		Info:      s.Info,
		Addralign: uint32(s.Addralign),
		Entsize:   uint32(s.Entsize),
	})
}

func (Elf32) Phdr(p *ProgramHeader) []byte {
	return utils.ToBytes(Phdr32{
		Type:     p.Type,
		Offset:   uint32(p.Offset),
		VAddr:    uint32(p.VAddr),
		PAddr:    uint32(p.PAddr),
		FileSize: uint32(p.FileSize),
		MemSize:  uint32(p.MemSize),
		Flags:    p.Flags,
		Align:    uint32(p.Align),
	})
}

func (Elf32) Sym(s *Sym) []byte {
	return utils.ToBytes(Sym32{
		Name:  s.Name,
		Value: uint32(s.Value),
		Size:  uint32(s.Size),
		Info:  s.Info,
		Other: s.Other,
		Shndx: s.Shndx,
	})
}

func (Elf32) Dyn(d Dyn) []byte {
	return utils.ToBytes(Dyn32{
		Tag: int32(d.Tag),
		Val: uint32(d.Val),
	})
}

func WriteMagic(ident []byte) {
	ident[0] = 0x7f
	ident[1] = 'E'
	ident[2] = 'L'
	ident[3] = 'F'
}
