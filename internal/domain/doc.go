// Package domain defines the canonical entity model shared across the
// engine: endpoints, the six inventory entity kinds derived from vendor
// payloads, poll summaries, and the query envelopes served by the API.
//
// Everything here is vendor-neutral. Raw vendor shapes stop at the
// adapter boundary; mapping into these types is total, with unknown or
// missing vendor fields becoming nil, never errors.
package domain
