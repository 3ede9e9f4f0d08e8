// Package storage defines the persistence contracts used by Airboard.
//
// The runtime pipeline needs only [Backend] and [Conn]: the ingestion
// listener checks device existence and records readings, and the liveness
// monitor reads last-update times and flips the stored active flag. The
// read-only query API uses [Querier], and the provisioning command uses
// [Provisioner].
//
// Implementations live in sub-packages:
//
//   - storage/postgres: PostgreSQL via pgxpool
//   - storage/memory: in-process, for tests and local runs
//   - storage/rediscache: Redis mirror of latest readings over another store
package storage
