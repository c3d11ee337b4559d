// Package storage persists chunk embeddings in named collections and answers
// nearest-neighbour queries by cosine distance.
//
// Three backends implement Store:
//
//   - sqlite: a database file in the store directory. Built with the
//     sqlite_vec tag it ranks in SQL, otherwise in Go.
//   - qdrant: a Qdrant server reached over gRPC.
//   - memory: a process-local map used as the fallback target and in tests.
//
// Every backend reports Match.Distance as cosine distance, so lower is
// closer regardless of where ranking happens. When the persistent backend
// cannot be opened, callers write records to a BackupLog instead and may
// restore it later with ReadBackupLog.
package storage
