// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sockio implements the daemon's wire framing over AF_UNIX
// stream sockets.
//
// Every request starts with a 4-byte request code in native byte
// order. Payloads that follow use the same small vocabulary:
//
//   - integers: exactly 4 bytes, native order ([ReadInt], [WriteInt]),
//     or network order for peers that share framing with other system
//     components ([ReadIntBE], [WriteIntBE])
//   - strings: a 4-byte length followed by that many raw bytes
//     ([ReadString], [WriteString])
//   - records: a length-prefixed CBOR body ([ReadRecord], [WriteRecord])
//   - descriptors: a 4-byte count sent in the same sendmsg as one
//     SCM_RIGHTS control message carrying that many descriptors
//     ([SendFDs], [RecvFDs])
//
// All reads go through [ReadExact], which loops over short reads and
// EINTR and reports one of three outcomes: the buffer was filled, the
// peer closed before sending anything, or the read failed. There is no
// partial-record recovery. Any transport error means the caller must
// close the connection.
//
// Write helpers accept a nil writer and do nothing with it. Handlers
// use this to run without a response channel.
//
// The daemon listens in the abstract namespace: [Address] builds the
// address and [AddressLen] reports the sockaddr length the kernel sees.
package sockio
