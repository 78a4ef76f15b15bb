package nearcache

// Hooks are lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking; the cache calls them on
// hot paths. Wrap with hooks/async to decouple slow consumers.
type Hooks interface {
	// A slot entry was deleted by the read path.
	// reason ∈ {"corrupt", "ticket_mismatch", "value_decode"}
	SelfHeal(storageKey, reason string)

	// A commit arrived with a superseded ticket and was dropped. This is
	// the coherence protocol working as intended, not a fault.
	StaleCommitDropped(storageKey string)

	// The byte store returned ok=false on Set (backpressure/admission).
	StoreSetRejected(storageKey string)

	// One partition group of a batched write failed. Reconciliation for
	// the group still ran.
	PartitionWriteFailed(partition int32, entries int, err error)
}

// NopHooks is the default no-op.
type NopHooks struct{}

func (NopHooks) SelfHeal(string, string)                {}
func (NopHooks) StaleCommitDropped(string)              {}
func (NopHooks) StoreSetRejected(string)                {}
func (NopHooks) PartitionWriteFailed(int32, int, error) {}
