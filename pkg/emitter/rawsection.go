package emitter

import "debug/elf"

// RawSectionBuilder holds a pre-formed byte buffer for an auxiliary
// section such as .eh_frame or the .debug_* family.
type RawSectionBuilder struct {
	SectionBuilder

	buf []byte
}

func NewRawSectionBuilder(name string, typ elf.SectionType, flags elf.SectionFlag,
	link *SectionBuilder, info uint32, align uint64, entsize uint64) *RawSectionBuilder {
	return &RawSectionBuilder{
		SectionBuilder: NewSectionBuilder(name, typ, flags, link, info, align, entsize),
	}
}

func (r *RawSectionBuilder) Buffer() []byte {
	return r.buf
}

func (r *RawSectionBuilder) SetBuffer(buf []byte) {
	r.buf = buf
}
