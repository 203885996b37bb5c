// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR configuration shared by every
// structured record exchanged over the daemon socket.
//
// The daemon protocol is mostly raw: a 4-byte request code followed by
// length-prefixed strings and integers (see lib/sockio). Requests that
// carry more than a couple of fields (superuser negotiation, module
// listings) send a single CBOR record instead of a hand-rolled struct
// layout, so both ends agree on field names rather than byte offsets.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2), so the
// same logical record always produces identical bytes:
//
//	data, err := codec.Marshal(request)
//	err = codec.Unmarshal(data, &request)
//
// Record types use `cbor` struct tags only.
package codec
