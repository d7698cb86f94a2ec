package embedding

import (
	"context"
	"errors"
	"strings"
)

// Class buckets provider errors by how the orchestrator should react.
type Class int

const (
	// ClassTransient covers network blips, timeouts and 5xx responses.
	// Retried with backoff.
	ClassTransient Class = iota

	// ClassRateLimited covers 429 responses. Retried with backoff.
	ClassRateLimited

	// ClassPermanent covers auth failures and invalid requests.
	// Never retried.
	ClassPermanent
)

// Classify buckets an embedder error. Providers speak through langchaingo's
// HTTP client, so classification inspects the error text for status codes in
// addition to well-known sentinel errors.
func Classify(err error) Class {
	if err == nil {
		return ClassTransient
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ClassTransient
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "too many requests"):
		return ClassRateLimited
	case strings.Contains(msg, "401"),
		strings.Contains(msg, "403"),
		strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "forbidden"),
		strings.Contains(msg, "invalid api key"),
		strings.Contains(msg, "invalid request"),
		strings.Contains(msg, "400"):
		return ClassPermanent
	}
	return ClassTransient
}
