package vmm

import (
	"gokos/kernel"
	"gokos/kernel/mm"
)

var (
	// ErrNotMapped is returned by access context reads/writes when part of
	// the requested range has no installed mapping.
	ErrNotMapped = &kernel.Error{Module: "vmm", Message: "address range is not mapped"}

	// ErrPermission is returned by access context reads/writes when part of
	// the requested range is mapped without the required permission bits.
	ErrPermission = &kernel.Error{Module: "vmm", Message: "address range denies the requested access"}

	// ErrStringTooLong is returned by ReadString when no NUL terminator is
	// found within the supplied limit.
	ErrStringTooLong = &kernel.Error{Module: "vmm", Message: "unterminated string"}
)

// AccessContext translates pointers expressed in some task's address space
// so kernel code can dereference them, no matter which address space is
// currently active. Accesses are bounds-checked page by page, so a buffer
// straddling two physical pages is handled correctly, and a missing mapping
// is reported distinctly from a permission mismatch.
type AccessContext struct {
	table *PageTable
	user  bool
}

// UserAccess returns an access context for the address space identified by
// token. All accesses additionally require the user-accessible bit.
func UserAccess(token uintptr) AccessContext {
	return AccessContext{table: NewFromToken(token), user: true}
}

// KernelAccess returns an access context over pt that bypasses the
// user-accessible bit. It is used for kernel-only structures placed in a
// task's address space, such as the trap context page.
func KernelAccess(pt *PageTable) AccessContext {
	return AccessContext{table: pt}
}

// resolve translates one virtual address and verifies the required
// permission flags, returning the backing frame bytes at the address's page
// offset.
func (ac AccessContext) resolve(virtAddr uintptr, required PageTableEntryFlag) ([]byte, *kernel.Error) {
	entry, err := ac.table.Translate(mm.PageFromAddress(virtAddr))
	if err != nil {
		return nil, ErrNotMapped
	}

	if ac.user {
		required |= FlagUser
	}
	if !entry.HasFlags(required) {
		return nil, ErrPermission
	}

	return mm.PhysBytes(entry.Frame())[mm.PageOffset(virtAddr):], nil
}

// access copies between buf and the address space range starting at
// virtAddr, page chunk by page chunk.
func (ac AccessContext) access(virtAddr uintptr, buf []byte, required PageTableEntryFlag, write bool) *kernel.Error {
	for len(buf) > 0 {
		phys, err := ac.resolve(virtAddr, required)
		if err != nil {
			return err
		}

		chunk := len(phys)
		if chunk > len(buf) {
			chunk = len(buf)
		}

		if write {
			copy(phys, buf[:chunk])
		} else {
			copy(buf[:chunk], phys)
		}

		virtAddr += uintptr(chunk)
		buf = buf[chunk:]
	}
	return nil
}

// CopyIn reads len(buf) bytes from the address space starting at virtAddr.
func (ac AccessContext) CopyIn(virtAddr uintptr, buf []byte) *kernel.Error {
	return ac.access(virtAddr, buf, FlagRead, false)
}

// CopyOut writes len(data) bytes into the address space starting at
// virtAddr.
func (ac AccessContext) CopyOut(virtAddr uintptr, data []byte) *kernel.Error {
	return ac.access(virtAddr, data, FlagWrite, true)
}

// FetchIn reads len(buf) bytes from the address space requiring execute
// permission. The simulated CPU uses it for instruction fetches.
func (ac AccessContext) FetchIn(virtAddr uintptr, buf []byte) *kernel.Error {
	return ac.access(virtAddr, buf, FlagExec, false)
}

// ReadString reads a NUL-terminated string of at most maxLen bytes starting
// at virtAddr.
func (ac AccessContext) ReadString(virtAddr uintptr, maxLen int) (string, *kernel.Error) {
	var out []byte
	for len(out) <= maxLen {
		phys, err := ac.resolve(virtAddr, FlagRead)
		if err != nil {
			return "", err
		}

		for _, b := range phys {
			if b == 0 {
				return string(out), nil
			}
			out = append(out, b)
			if len(out) > maxLen {
				return "", ErrStringTooLong
			}
		}
		virtAddr += uintptr(len(phys))
	}
	return "", ErrStringTooLong
}
