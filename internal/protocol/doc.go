// Package protocol owns wire contract and parsing primitives.
//
// Ownership boundary:
// - big-endian byte writer/reader shared by every codec
// - jce struct codec, pb schema-less codec
// - tea block cipher, ecdh key exchange
// - tlv tag packer, frame/sso envelopes
// - session signature state and reliability primitives
package protocol
