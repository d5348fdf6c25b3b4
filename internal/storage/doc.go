// Package storage is the persistence gateway used by the monitor: sample and
// public-IP appends, half-open range queries and retention pruning, backed by
// postgres (default), sqlite (build tag) or a plain file.
package storage
