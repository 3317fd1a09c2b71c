package elffile

import (
	"debug/elf"
	"encoding/binary"
)

// PolicyArch maps an ELF (machine, class, byte order) triple to the
// architecture token used in platform tags and policy names.
// Returns ok=false for machines wheelwright has no policy vocabulary for.
func PolicyArch(machine elf.Machine, class elf.Class, order binary.ByteOrder) (string, bool) {
	switch machine {
	case elf.EM_X86_64:
		return "x86_64", true
	case elf.EM_386:
		return "i686", true
	case elf.EM_AARCH64:
		return "aarch64", true
	case elf.EM_ARM:
		return "armv7l", true
	case elf.EM_PPC64:
		if order == binary.LittleEndian {
			return "ppc64le", true
		}
		return "ppc64", true
	case elf.EM_S390:
		return "s390x", true
	case elf.EM_RISCV:
		if class == elf.ELFCLASS64 {
			return "riscv64", true
		}
		return "", false
	case elf.EM_LOONGARCH:
		return "loongarch64", true
	default:
		return "", false
	}
}

// Is64Bit reports whether the policy architecture token names a 64-bit ABI.
// Used by the resolver to decide between lib and lib64 trusted directories.
func Is64Bit(arch string) bool {
	switch arch {
	case "i686", "armv7l":
		return false
	default:
		return true
	}
}
