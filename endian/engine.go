// Package endian provides the byte-order engine shared by mimdb's binary
// codecs.
//
// The MIMDB002 format is little-endian for every multi-byte integer in its
// framing (header length, header fields, varchar length prefixes). Combining
// binary.ByteOrder with binary.AppendByteOrder lets encoders append directly
// into a growing buffer instead of staging through a temporary slice.
package endian

import "encoding/binary"

// EndianEngine combines ByteOrder and AppendByteOrder from encoding/binary
// into a single interface for convenient byte order operations.
//
// The interface is satisfied by binary.LittleEndian and binary.BigEndian,
// so any standard byte order plugs in without adaptation.
type EndianEngine interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// GetLittleEndianEngine returns the little-endian engine. This is the byte
// order of the MIMDB002 file format.
func GetLittleEndianEngine() EndianEngine {
	return binary.LittleEndian
}

// GetBigEndianEngine returns the big-endian engine.
func GetBigEndianEngine() EndianEngine {
	return binary.BigEndian
}
