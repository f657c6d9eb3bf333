// Package gazette defines the core types and capability interfaces shared by
// the ingestion subsystems: page identities, extracted records, queue items,
// and the error taxonomy that drives retry and dead-letter decisions.
package gazette
