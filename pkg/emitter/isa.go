package emitter

import (
	"debug/elf"

	"github.com/pkg/errors"
)

type ISA uint8

const (
	ISANone ISA = iota
	ISAArm
	ISAThumb2
	ISAArm64
	ISAX86
	ISAX86_64
	ISAMips32
	ISAMips64
)

// e_flags values not covered by debug/elf.
const (
	EF_ARM_EABI_VER5 = 0x05000000

	EF_MIPS_NOREORDER = 0x00000001
	EF_MIPS_PIC       = 0x00000002
	EF_MIPS_CPIC      = 0x00000004
	EF_MIPS_ABI_O32   = 0x00001000
	EF_MIPS_ARCH_32R2 = 0x70000000
	EF_MIPS_ARCH_64R6 = 0xa0000000
)

func (i ISA) String() string {
	switch i {
	case ISAArm:
		return "arm"
	case ISAThumb2:
		return "thumb2"
	case ISAArm64:
		return "arm64"
	case ISAX86:
		return "x86"
	case ISAX86_64:
		return "x86-64"
	case ISAMips32:
		return "mips32"
	case ISAMips64:
		return "mips64"
	}
	return "none"
}

func ParseISA(name string) (ISA, error) {
	for _, isa := range []ISA{
		ISAArm, ISAThumb2, ISAArm64, ISAX86, ISAX86_64, ISAMips32, ISAMips64,
	} {
		if isa.String() == name {
			return isa, nil
		}
	}
	return ISANone, errors.Errorf("unknown instruction set %q", name)
}

// Machine returns e_machine and e_flags for the instruction set.
func (i ISA) Machine() (elf.Machine, uint32, bool) {
	switch i {
	case ISAArm, ISAThumb2:
		return elf.EM_ARM, EF_ARM_EABI_VER5, true
	case ISAArm64:
		return elf.EM_AARCH64, 0, true
	case ISAX86:
		return elf.EM_386, 0, true
	case ISAX86_64:
		return elf.EM_X86_64, 0, true
	case ISAMips32:
		flags := uint32(EF_MIPS_NOREORDER | EF_MIPS_PIC | EF_MIPS_CPIC |
			EF_MIPS_ABI_O32 | EF_MIPS_ARCH_32R2)
		return elf.EM_MIPS, flags, true
	case ISAMips64:
		flags := uint32(EF_MIPS_NOREORDER | EF_MIPS_PIC | EF_MIPS_CPIC |
			EF_MIPS_ARCH_64R6)
		return elf.EM_MIPS, flags, true
	}
	return elf.EM_NONE, 0, false
}

// Format returns the ELF class the instruction set uses.
func (i ISA) Format() Format {
	switch i {
	case ISAArm64, ISAX86_64, ISAMips64:
		return Elf64{}
	}
	return Elf32{}
}
