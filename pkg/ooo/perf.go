package ooo

// CounterID names one performance counter. The bank is a flat array indexed
// by this enum; incrementing is unconditional and cheap.
type CounterID int

const (
	CntCycles CounterID = iota
	CntFetched
	CntDispatched
	CntRetired
	CntBranches
	CntBranchMispredicts
	CntPipelineFlushes
	CntPipelineStalls

	CntStallFetchBufferFull
	CntStallROBFull
	CntStallRSFull
	CntStallRename
	CntStallCSRHeadWait
	CntStallFPHeadWait

	CntStallExecNoReady
	CntStallExecNoUnit
	CntStallExecFrontendStarved
	CntStallExecDependencyBlocked
	CntStallExecResourceBlocked
	CntStallExecAMOWait
	CntStallExecSBFull

	CntL1IAccesses
	CntL1IHits
	CntL1IMisses
	CntL1IStallCycles
	CntL1DAccesses
	CntL1DReadAccesses
	CntL1DWriteAccesses
	CntL1DHits
	CntL1DMisses
	CntL1DDirtyEvictions
	CntL1DStallCyclesLoad
	CntL1DStallCyclesStore

	CntBTBLookups
	CntBTBHits
	CntBTBMisses
	CntBHTLookups

	CntLoadsForwarded
	CntLoadsFromMemory
	CntLoadsBlockedByStore
	CntLoadReplays
	CntLoadReplayBucket0
	CntLoadReplayBucket1
	CntLoadReplayBucket2
	CntLoadReplayBucket3
	CntLoadReplayBucket4Plus
	CntStoresToBuffer

	CntCDBEnqueued

	numCounters
)

// CounterMeta describes one counter for reporting.
type CounterMeta struct {
	Name string
	Desc string
}

var counterMeta = [numCounters]CounterMeta{
	CntCycles:            {"cycles", "total simulated cycles"},
	CntFetched:           {"fetched", "instructions fetched"},
	CntDispatched:        {"dispatched", "instructions dispatched to execution units"},
	CntRetired:           {"retired", "instructions retired"},
	CntBranches:          {"branches", "conditional branches executed"},
	CntBranchMispredicts: {"branch_mispredicts", "committed control transfers that redirected fetch"},
	CntPipelineFlushes:   {"pipeline_flushes", "full pipeline flushes"},
	CntPipelineStalls:    {"pipeline_stalls", "cycles any stage stalled"},

	CntStallFetchBufferFull: {"stall_fetch_buffer_full", "fetch stalled on a full fetch buffer"},
	CntStallROBFull:         {"stall_rob_full", "decode stalled on a full ROB"},
	CntStallRSFull:          {"stall_rs_full", "issue stalled on full reservation stations"},
	CntStallRename:          {"stall_rename", "issue stalled on an empty free list"},
	CntStallCSRHeadWait:     {"stall_csr_head_wait", "CSR instruction waited for ROB head"},
	CntStallFPHeadWait:      {"stall_fp_head_wait", "FP instruction waited for ROB head"},

	CntStallExecNoReady:           {"stall_exec_no_ready", "no ready reservation-station entry"},
	CntStallExecNoUnit:            {"stall_exec_no_unit", "ready entry but no free unit"},
	CntStallExecFrontendStarved:   {"stall_exec_frontend_starved", "execute idle with empty reservation stations"},
	CntStallExecDependencyBlocked: {"stall_exec_dependency_blocked", "execute idle waiting on operands"},
	CntStallExecResourceBlocked:   {"stall_exec_resource_blocked", "execute idle waiting on units"},
	CntStallExecAMOWait:           {"stall_exec_amo_wait", "AMO held for older store-like ops"},
	CntStallExecSBFull:            {"stall_exec_sb_full", "store dispatch held on a full store buffer"},

	CntL1IAccesses:         {"l1i_accesses", "instruction cache accesses"},
	CntL1IHits:             {"l1i_hits", "instruction cache hits"},
	CntL1IMisses:           {"l1i_misses", "instruction cache misses"},
	CntL1IStallCycles:      {"l1i_stall_cycles", "fetch cycles lost to instruction cache misses"},
	CntL1DAccesses:         {"l1d_accesses", "data cache accesses"},
	CntL1DReadAccesses:     {"l1d_read_accesses", "data cache read accesses"},
	CntL1DWriteAccesses:    {"l1d_write_accesses", "data cache write accesses"},
	CntL1DHits:             {"l1d_hits", "data cache hits"},
	CntL1DMisses:           {"l1d_misses", "data cache misses"},
	CntL1DDirtyEvictions:   {"l1d_dirty_evictions", "dirty lines written back on eviction"},
	CntL1DStallCyclesLoad:  {"l1d_stall_cycles_load", "load cycles lost to data cache"},
	CntL1DStallCyclesStore: {"l1d_stall_cycles_store", "store cycles lost to data cache"},

	CntBTBLookups: {"btb_lookups", "BTB lookups for JALR"},
	CntBTBHits:    {"btb_hits", "BTB lookups that hit"},
	CntBTBMisses:  {"btb_misses", "BTB lookups that missed"},
	CntBHTLookups: {"bht_lookups", "BHT direction predictions"},

	CntLoadsForwarded:      {"loads_forwarded", "loads satisfied by store-to-load forwarding"},
	CntLoadsFromMemory:     {"loads_from_memory", "loads satisfied by memory"},
	CntLoadsBlockedByStore: {"loads_blocked_by_store", "loads blocked by a partial store overlap"},
	CntLoadReplays:         {"load_replays", "load replays (returned to issued)"},
	CntLoadReplayBucket0:   {"load_replay_bucket_0", "loads completed with 0 replays"},
	CntLoadReplayBucket1:   {"load_replay_bucket_1", "loads completed with 1 replay"},
	CntLoadReplayBucket2:   {"load_replay_bucket_2", "loads completed with 2 replays"},
	CntLoadReplayBucket3:   {"load_replay_bucket_3", "loads completed with 3 replays"},
	CntLoadReplayBucket4Plus: {"load_replay_bucket_4_plus", "loads completed with 4+ replays"},
	CntStoresToBuffer:      {"stores_to_buffer", "stores entered into the store buffer"},

	CntCDBEnqueued: {"cdb_enqueued", "completions broadcast on the common data bus"},
}

// Counters is the fixed bank of performance counters.
type Counters struct {
	vals [numCounters]uint64
}

// Add increments a counter by delta.
func (c *Counters) Add(id CounterID, delta uint64) { c.vals[id] += delta }

// Inc increments a counter by one.
func (c *Counters) Inc(id CounterID) { c.vals[id]++ }

// Value reads a counter.
func (c *Counters) Value(id CounterID) uint64 { return c.vals[id] }

// Reset zeroes the bank.
func (c *Counters) Reset() { c.vals = [numCounters]uint64{} }

// Snapshot returns name->value for every counter, for reporting.
func (c *Counters) Snapshot() map[string]uint64 {
	out := make(map[string]uint64, numCounters)
	for i := CounterID(0); i < numCounters; i++ {
		out[counterMeta[i].Name] = c.vals[i]
	}
	return out
}

// Meta returns the metadata for one counter.
func Meta(id CounterID) CounterMeta { return counterMeta[id] }

// NumCounters is the size of the bank.
func NumCounters() int { return int(numCounters) }

// recordReplayBucket files a completed load into the replay histogram.
func (c *Counters) recordReplayBucket(replays uint32) {
	switch replays {
	case 0:
		c.Inc(CntLoadReplayBucket0)
	case 1:
		c.Inc(CntLoadReplayBucket1)
	case 2:
		c.Inc(CntLoadReplayBucket2)
	case 3:
		c.Inc(CntLoadReplayBucket3)
	default:
		c.Inc(CntLoadReplayBucket4Plus)
	}
}
