package emitter

import (
	"debug/elf"

	"github.com/pkg/errors"

	"soemit/pkg/utils"
)

type symbolState struct {
	name     string
	section  *SectionBuilder
	addr     uint64
	size     uint64
	relative bool
	info     uint8
	other    uint8

	// Offset of the name in the string table, known once the table
	// has been generated.
	nameIdx uint32
}

// SymtabBuilder accumulates symbols and owns the companion string table
// section. Symbols are emitted in insertion order behind the implicit
// null symbol at index 0.
type SymtabBuilder struct {
	SectionBuilder

	strtab SectionBuilder
	syms   []symbolState
}

func NewSymtabBuilder(f Format, name string, typ elf.SectionType,
	strName string, strType elf.SectionType, alloc bool) *SymtabBuilder {
	var flags elf.SectionFlag
	if alloc {
		flags = elf.SHF_ALLOC
	}

	t := &SymtabBuilder{
		strtab: NewSectionBuilder(strName, strType, flags, nil, 0, 1, 1),
	}
	t.SectionBuilder = NewSectionBuilder(name, typ, flags, &t.strtab, 0, WordSize, f.SymSize())
	return t
}

func MakeStInfo(binding elf.SymBind, typ elf.SymType) uint8 {
	return uint8(binding)<<4 | uint8(typ)&0xf
}

// AddSymbol appends a symbol referring to addr within section. When
// relative is set the final st_value is addr plus the section's file
// offset. Deduplication is the caller's job.
func (t *SymtabBuilder) AddSymbol(name string, section *SectionBuilder,
	addr uint64, relative bool, size uint64, binding elf.SymBind, typ elf.SymType, other uint8) {
	utils.Assert(section != nil)

	t.syms = append(t.syms, symbolState{
		name:     name,
		section:  section,
		addr:     addr,
		size:     size,
		relative: relative,
		info:     MakeStInfo(binding, typ),
		other:    other,
	})
}

// Count includes the implicit null symbol.
func (t *SymtabBuilder) Count() uint64 {
	return uint64(len(t.syms)) + 1
}

func (t *SymtabBuilder) StrTab() *SectionBuilder {
	return &t.strtab
}

// GenerateStrtab emits the string table, records each symbol's name
// offset and sets the string table section's size.
func (t *SymtabBuilder) GenerateStrtab() []byte {
	tab := []byte{0}
	for i := range t.syms {
		t.syms[i].nameIdx = uint32(len(tab))
		tab = append(tab, t.syms[i].name...)
		tab = append(tab, 0)
	}
	t.strtab.Shdr.Size = uint64(len(tab))
	return tab
}

// GenerateSymtab emits the symbol records, null symbol first. Must run
// after GenerateStrtab and after section indices are assigned.
func (t *SymtabBuilder) GenerateSymtab(f Format) []byte {
	out := f.Sym(&Sym{Shndx: uint16(elf.SHN_UNDEF)})

	for i := range t.syms {
		s := &t.syms[i]
		sym := Sym{
			Name:  s.nameIdx,
			Info:  s.info,
			Other: s.other,
			Shndx: uint16(s.section.Index()),
			Value: s.addr,
			Size:  s.size,
		}
		if s.relative {
			sym.Value = s.addr + s.section.Shdr.Offset
		}
		out = append(out, f.Sym(&sym)...)
	}
	return out
}

// elfhash is the classic SysV symbol hash, as the bionic loader
// computes it.
func elfhash(name string) uint32 {
	var h, g uint32
	for i := 0; i < len(name); i++ {
		h = h<<4 + uint32(name[i])
		g = h & 0xf0000000
		h ^= g
		h ^= g >> 24
	}
	return h
}

// GenerateHashContents builds the SysV hash table words: nbuckets,
// nchain, the buckets and the chains. nchain equals the symbol count
// including the null symbol.
func (t *SymtabBuilder) GenerateHashContents() ([]uint32, error) {
	var nbuckets uint32
	nchain := uint32(t.Count())
	switch n := len(t.syms); {
	case n < 8:
		nbuckets = 2
	case n < 32:
		nbuckets = 4
	case n < 256:
		nbuckets = 16
	default:
		// About 32 ids per bucket.
		nbuckets = uint32(utils.RoundUp(uint64(n)/32, 2))
	}

	hash := make([]uint32, 2+nbuckets+nchain)
	hash[0] = nbuckets
	hash[1] = nchain
	buckets := hash[2 : 2+nbuckets]
	chain := hash[2+nbuckets:]

	for i := range t.syms {
		// The null symbol shifts every live symbol up by one.
		index := uint32(i) + 1
		val := elfhash(t.syms[i].name) % nbuckets
		if buckets[val] == 0 {
			buckets[val] = index
			continue
		}
		val = buckets[val]
		utils.Assert(val < nchain)
		for chain[val] != 0 {
			val = chain[val]
			utils.Assert(val < nchain)
		}
		chain[val] = index
		// The new index must still end its chain. Names are not
		// compared, so two symbols sharing a name are both inserted.
		if chain[index] != 0 {
			return nil, errors.Errorf("duplicate symbol name %q in hash table", t.syms[i].name)
		}
	}

	return hash, nil
}
