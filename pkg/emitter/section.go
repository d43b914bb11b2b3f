package emitter

import "debug/elf"

// SectionBuilder carries one section's header record while the layout is
// being decided. The index, name offset, offset, address, size and link
// are filled in by the Builder; everything else is fixed at construction.
type SectionBuilder struct {
	Shdr SectionHeader

	name string
	link *SectionBuilder
	idx  uint32
}

func NewSectionBuilder(name string, typ elf.SectionType, flags elf.SectionFlag,
	link *SectionBuilder, info uint32, align uint64, entsize uint64) SectionBuilder {
	return SectionBuilder{
		Shdr: SectionHeader{
			Type:      uint32(typ),
			Flags:     uint64(flags),
			Info:      info,
			Addralign: align,
			Entsize:   entsize,
		},
		name: name,
		link: link,
	}
}

func (s *SectionBuilder) Name() string {
	return s.name
}

// Link returns the companion section's index, or 0 if there is none.
func (s *SectionBuilder) Link() uint32 {
	if s.link == nil {
		return 0
	}
	return s.link.idx
}

func (s *SectionBuilder) Index() uint32 {
	return s.idx
}

func (s *SectionBuilder) SetIndex(idx uint32) {
	s.idx = idx
}
