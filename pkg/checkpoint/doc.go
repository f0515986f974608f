// Package checkpoint provides durable, per-collection progress records for
// resumable pagination runs.
//
// A Checkpoint names the last offset whose page has been durably written for
// a collection. Stores enforce that this offset never decreases and that a
// concurrent reader never observes a partially written record.
//
// # Backends
//
//   - FileStore: one human-readable JSON artifact holding every collection,
//     replaced atomically on each save
//   - RedisStore: one key per collection, guarded by WATCH for monotonic updates
//   - MemoryStore: in-process map, for tests and dry runs
//
// # Basic Usage
//
//	store, err := checkpoint.NewFileStore("data/checkpoints.json")
//	if err != nil {
//		return err
//	}
//
//	cp, err := store.Load(ctx, "SPARK")
//	if err != nil {
//		return err
//	}
//	start := 0
//	if cp != nil {
//		start = cp.NextOffset()
//	}
//
// # Artifact Format
//
//	{
//	  "SPARK": {
//	    "last_fetched_page": 2,
//	    "last_offset": 200,
//	    "page_size": 100,
//	    "last_updated": 1760601600.25,
//	    "gaps": [100]
//	  }
//	}
//
// # Metrics
//
//   - harvest_checkpoint_saves_total{backend} - Successful saves
//   - harvest_checkpoint_errors_total{backend,operation} - Failed operations
//
// Stores never delete a checkpoint on their own; Delete is an explicit reset.
package checkpoint
