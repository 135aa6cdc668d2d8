package brains

import "errors"

// Sentinel errors surfaced by brain adapters. Callers classify them with
// IsTransient to decide whether a retry can help.
var (
	// ErrEmbeddingUnavailable means the embedding backend could not be
	// reached or returned no vectors. Transient.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrBackendWrite means a storage backend rejected a write. Transient.
	ErrBackendWrite = errors.New("brain backend write failed")

	// ErrBackendRead means a storage backend failed during a read. Transient.
	ErrBackendRead = errors.New("brain backend read failed")

	// ErrModelUnavailable means the language model endpoint is down or
	// rate-limited. Transient.
	ErrModelUnavailable = errors.New("language model unavailable")

	// ErrContextOverflow means the evidence bundle exceeded the model's
	// context window. Not transient; the caller must shrink the bundle.
	ErrContextOverflow = errors.New("evidence exceeds model context window")

	// ErrSafetyRefusal means the model declined to answer. Not transient.
	ErrSafetyRefusal = errors.New("model refused to answer")

	// ErrUnknownEntity means a graph operation referenced an entity that does
	// not exist. Not transient.
	ErrUnknownEntity = errors.New("unknown graph entity")

	// ErrNoPath means no path exists between the requested entities.
	ErrNoPath = errors.New("no path between entities")
)

// IsTransient reports whether err is worth retrying with backoff.
func IsTransient(err error) bool {
	return errors.Is(err, ErrEmbeddingUnavailable) ||
		errors.Is(err, ErrBackendWrite) ||
		errors.Is(err, ErrBackendRead) ||
		errors.Is(err, ErrModelUnavailable)
}
