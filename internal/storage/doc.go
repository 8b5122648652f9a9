// Package storage persists the last known stock status per product.
//
// Every backend stores a single product_id -> in_stock mapping that is
// loaded whole and overwritten whole. Drivers:
//   - memory: process lifetime only
//   - file: one JSON document, replaced atomically (tmp + fsync + rename)
//   - sqlite: embedded database file
//   - redis: one hash key
//   - postgres: one table
package storage
