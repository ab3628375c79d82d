package cachedinput

import (
	"encoding/binary"
	"encoding/hex"
)

// footerMagic is the Lucene codec footer magic number (CodecUtil's
// FOOTER_MAGIC), kept here only so the footer shortcut can synthesize a
// byte-identical footer without touching the cache or blob store.
const footerMagic = 0x3fd76c17

// synthesizeFooter builds the trailing FooterLength-byte footer from a
// FileInfo's checksum, if one was recorded at partitioning time. Returns
// ok=false when checksum is absent or malformed, in which case the caller
// falls through to the normal read path instead.
func synthesizeFooter(checksumHex string) (footer []byte, ok bool) {
	if checksumHex == "" {
		return nil, false
	}
	raw, err := hex.DecodeString(checksumHex)
	if err != nil || len(raw) == 0 {
		return nil, false
	}
	if len(raw) > 4 {
		raw = raw[len(raw)-4:]
	}
	var crc uint32
	for _, b := range raw {
		crc = crc<<8 | uint32(b)
	}

	buf := make([]byte, FooterLength)
	binary.BigEndian.PutUint32(buf[0:4], footerMagic)
	binary.BigEndian.PutUint32(buf[4:8], 0) // algorithm ID: CRC32
	binary.BigEndian.PutUint64(buf[8:16], uint64(crc))
	return buf, true
}
