// Package storage provides the persistence layer behind the delivery service.
//
// It currently supports:
//   - Delivery history archive (write-through copy of every outcome)
//   - User notification feed (mirrored copies of delivered mail) and per-user settings
package storage
