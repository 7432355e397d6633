// Package matching settles cross-service track identity.
//
// [Score] is the pure confidence computation over two flattened track
// descriptions. [Provider] searches one service for candidates through its
// adapter's capabilities. [Resolver] is the write path for library tracks:
// stored mappings stay authoritative, residuals get matched and persisted.
// [PlayResolver] works the other direction, from raw play records toward
// library tracks, and never drops a record it cannot resolve.
package matching
