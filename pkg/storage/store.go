package storage

// Store defines a generic, bucket-per-table persistence interface. It
// backs the durable variant of the in-memory persistence adapter: rows are
// opaque JSON documents keyed by a caller-assigned row id, grouped under a
// table name the caller controls (and which pkg/persistence has already
// allowlist-checked before it ever reaches here).
type Store interface {
	// Put upserts a row's JSON-marshaled content under table/id.
	Put(table, id string, data []byte) error

	// Get retrieves a row's raw JSON content. Returns (nil, nil) when the
	// row does not exist; storage does not define "not found" as an error,
	// that's a decision for the layer above with more context.
	Get(table, id string) ([]byte, error)

	// List returns every row's raw JSON content for a table, in no
	// guaranteed order.
	List(table string) ([][]byte, error)

	// Delete removes a row. Deleting a row that does not exist is not an
	// error.
	Delete(table, id string) error

	// NextID returns a monotonically increasing identifier scoped to
	// table, starting at 1. The in-memory adapter does not call it; it
	// assigns ids from its own per-table counter.
	NextID(table string) (uint64, error)

	// Close releases the underlying database handle.
	Close() error
}
