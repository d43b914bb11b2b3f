package emitter

import "debug/elf"

type dynamicState struct {
	section *SectionBuilder
	tag     elf.DynTag
	value   uint64
}

// DynamicBuilder accumulates .dynamic entries. DT_STRSZ, DT_SONAME and
// the terminating DT_NULL are appended at generation time, once the
// string table size and the soname offset are known.
type DynamicBuilder struct {
	SectionBuilder

	format   Format
	dynamics []dynamicState
}

func NewDynamicBuilder(f Format, name string, link *SectionBuilder) *DynamicBuilder {
	return &DynamicBuilder{
		SectionBuilder: NewSectionBuilder(name, elf.SHT_DYNAMIC,
			elf.SHF_ALLOC|elf.SHF_WRITE, link, 0, PageSize, f.DynSize()),
		format: f,
	}
}

// AddDynamicTag appends an entry. section may be nil; when present the
// emitted value is value plus the section's virtual address. DT_NULL is
// ignored, generation appends it.
func (d *DynamicBuilder) AddDynamicTag(tag elf.DynTag, value uint64, section *SectionBuilder) {
	if tag == elf.DT_NULL {
		return
	}
	d.dynamics = append(d.dynamics, dynamicState{section: section, tag: tag, value: value})
}

// Count includes the DT_STRSZ, DT_SONAME and DT_NULL entries appended
// during generation.
func (d *DynamicBuilder) Count() uint64 {
	return uint64(len(d.dynamics)) + 3
}

// Dynamics emits the dynamic vector. strsz is the size of .dynstr and
// soname the offset of the soname string within it.
func (d *DynamicBuilder) Dynamics(strsz uint32, soname uint32) []byte {
	var out []byte
	for _, dyn := range d.dynamics {
		val := dyn.value
		if dyn.section != nil {
			val += dyn.section.Shdr.Addr
		}
		out = append(out, d.format.Dyn(Dyn{Tag: int64(dyn.tag), Val: val})...)
	}
	out = append(out, d.format.Dyn(Dyn{Tag: int64(elf.DT_STRSZ), Val: uint64(strsz)})...)
	out = append(out, d.format.Dyn(Dyn{Tag: int64(elf.DT_SONAME), Val: uint64(soname)})...)
	out = append(out, d.format.Dyn(Dyn{Tag: int64(elf.DT_NULL), Val: 0})...)
	return out
}
