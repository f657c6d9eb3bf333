// Package stitch repairs gazette records whose text is split across a
// pagination boundary.
//
// A record begins at an anchor (by default "Processo" followed by a CNJ case
// number). When a search hit on page N has no anchor before it, the record
// started on page N-1: the stitcher pulls that page through a bounded FIFO
// PageCache, takes the tail from its last anchor, appends the head of page N
// up to the next anchor, and keeps the merge only when it scores as a
// plausible complete record. Stitching is best-effort; failures degrade to
// the unmerged page text.
package stitch
