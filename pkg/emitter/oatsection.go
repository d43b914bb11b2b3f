package emitter

import "debug/elf"

// OatSectionBuilder describes a section whose body the code producer
// streams in during Write: .rodata, .text and the no-bits .bss.
type OatSectionBuilder struct {
	SectionBuilder

	// Offset of the content relative to the start of the combined blob.
	offset uint64
	size   uint64
}

func NewOatSectionBuilder(name string, size uint64, offset uint64,
	typ elf.SectionType, flags elf.SectionFlag) *OatSectionBuilder {
	return &OatSectionBuilder{
		SectionBuilder: NewSectionBuilder(name, typ, flags, nil, 0, PageSize, 0),
		offset:         offset,
		size:           size,
	}
}

func (o *OatSectionBuilder) Offset() uint64 {
	return o.offset
}

func (o *OatSectionBuilder) Size() uint64 {
	return o.size
}
