/*
Package storage provides a BoltDB-backed, bucket-per-table key/value store
used as the durability layer underneath the in-memory persistence adapter
(pkg/persistence). Rows are opaque JSON documents; this package never
parses or validates their content, that responsibility stays with the
adapter and the PersistenceService above it.

A table's bucket is created lazily on first write, so an adapter backed by
BoltStore needs no schema migration step: a new allowlisted table just
works the first time a row lands in it.

# Usage

	store, err := storage.NewBoltStore(dataDir)
	if err != nil { ... }
	defer store.Close()

	id, _ := store.NextID("customers")
	_ = store.Put("customers", fmt.Sprint(id), rowJSON)
	rows, _ := store.List("customers")
*/
package storage
