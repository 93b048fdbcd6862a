package ooo

import "github.com/oisee/rv64sim/pkg/debug"

// StoreBufferSize is the number of in-flight store records.
const StoreBufferSize = 8

type storeEntry struct {
	valid bool
	addr  uint64
	value uint64
	size  uint8
	inst  *DynInst
}

// ForwardStatus is the outcome of a forwarding probe.
type ForwardStatus int

const (
	// ForwardNone: no older store overlaps; the load goes to memory.
	ForwardNone ForwardStatus = iota
	// ForwardHit: the load's bytes were produced by an older store.
	ForwardHit
	// ForwardBlocked: an older store overlaps but cannot satisfy the load;
	// the load must replay until that store retires into memory.
	ForwardBlocked
)

// StoreBuffer records pre-commit stores for store-to-load forwarding. Entries
// retire (write memory, become invalid) when their store commits; a flush
// invalidates everything.
type StoreBuffer struct {
	entries   [StoreBufferSize]storeEntry
	nextAlloc int
}

// NewStoreBuffer returns an empty buffer.
func NewStoreBuffer() *StoreBuffer { return &StoreBuffer{} }

// Add records a store's address, bytes and owner in the next ring slot,
// whether or not that slot is still valid. The execute stage holds store-like
// dispatch while the buffer is full.
func (sb *StoreBuffer) Add(inst *DynInst, addr, value uint64, size uint8) {
	sb.entries[sb.nextAlloc] = storeEntry{valid: true, addr: addr, value: value, size: size, inst: inst}
	debug.Tracef(debug.CatMemory, "store buffer add[%d]: inst#%d addr=0x%x value=0x%x size=%d",
		sb.nextAlloc, inst.ID, addr, value, size)
	sb.nextAlloc = (sb.nextAlloc + 1) % StoreBufferSize
}

// Forward probes for a load at addr/size issued by instruction loadID.
// Entries are examined newest-first; only stores older than the load may
// forward. An exact or contained byte range yields the value; a partial
// overlap that cannot satisfy the load blocks it.
func (sb *StoreBuffer) Forward(addr uint64, size uint8, loadID uint64) (uint64, ForwardStatus) {
	for i := 0; i < StoreBufferSize; i++ {
		idx := (sb.nextAlloc - 1 - i + 2*StoreBufferSize) % StoreBufferSize
		e := &sb.entries[idx]
		if !e.valid || e.inst == nil || e.inst.ID >= loadID {
			continue
		}
		if !overlaps(e.addr, e.size, addr, size) {
			continue
		}
		if e.addr == addr && e.size == size {
			return e.value, ForwardHit
		}
		if addr >= e.addr && addr+uint64(size) <= e.addr+uint64(e.size) {
			off := addr - e.addr
			return extractBytes(e.value, off, size), ForwardHit
		}
		return 0, ForwardBlocked
	}
	return 0, ForwardNone
}

// RetireBefore invalidates every entry owned by instruction id or older,
// called when the owning store commits its bytes to memory.
func (sb *StoreBuffer) RetireBefore(id uint64) {
	for i := range sb.entries {
		e := &sb.entries[i]
		if e.valid && e.inst != nil && e.inst.ID <= id {
			debug.Tracef(debug.CatMemory, "store buffer retire[%d]: inst#%d addr=0x%x", i, e.inst.ID, e.addr)
			e.valid = false
			e.inst = nil
		}
	}
}

// Flush drops every speculative store.
func (sb *StoreBuffer) Flush() {
	sb.entries = [StoreBufferSize]storeEntry{}
	sb.nextAlloc = 0
}

// Occupancy counts valid entries.
func (sb *StoreBuffer) Occupancy() int {
	n := 0
	for i := range sb.entries {
		if sb.entries[i].valid {
			n++
		}
	}
	return n
}

func overlaps(a1 uint64, s1 uint8, a2 uint64, s2 uint8) bool {
	return a1 <= a2+uint64(s2)-1 && a2 <= a1+uint64(s1)-1
}

func extractBytes(value, byteOff uint64, size uint8) uint64 {
	v := value >> (8 * byteOff)
	switch size {
	case 1:
		return v & 0xFF
	case 2:
		return v & 0xFFFF
	case 4:
		return v & 0xFFFFFFFF
	default:
		return v
	}
}
