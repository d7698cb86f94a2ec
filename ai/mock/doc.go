// Package mock provides test doubles for the ai package interfaces.
// The mock embedder produces deterministic vectors so similarity-dependent
// tests are reproducible without a live embedding service.
package mock
