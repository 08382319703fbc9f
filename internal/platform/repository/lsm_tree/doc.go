// Package lsm_tree implements the write and read paths of the storage engine.
//
//	          Put/Delete                         Get
//	              |                               |
//	              v                               v
//	   +---------------------+      +---------------------------+
//	   | WAL (append + sync) |      | active memtable           |
//	   +---------------------+      | immutables, newest first  |
//	              |                 | sorted tables, newest 1st |
//	              v                 +---------------------------+
//	   +---------------------+
//	   | active MemTable     |--- full: CAS swap ---+
//	   +---------------------+                      |
//	                                                v
//	                               +---------------------------+
//	                               | immutable queue (FIFO)    |
//	                               +---------------------------+
//	                                                | flush worker
//	                                                v
//	                               +---------------------------+
//	                               | sstable.Builder, TableSet |
//	                               +---------------------------+
//
// A mutation is appended to the WAL before it touches the memtable. When the
// memtable reports it should be flushed, the writer that wins the
// compare-and-swap on the active pointer queues the frozen snapshot and wakes
// the worker. The worker writes snapshots oldest first, registers each table
// for reads before dropping the snapshot, then advances the WAL checkpoint.
package lsm_tree
