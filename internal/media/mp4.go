package media

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// mp4ProbeBytes is enough header to see the ftyp atom plus the type of the
// atom that follows it.
const mp4ProbeBytes = 40

// CheckStreamable reports whether an MP4 can start playing before it is
// fully downloaded, i.e. whether its moov atom sits immediately after the
// ftyp atom. Files with mdat first need a full download before playback.
func CheckStreamable(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	header := make([]byte, mp4ProbeBytes)
	if _, err := io.ReadFull(f, header); err != nil {
		return false, fmt.Errorf("mp4 file is too small to probe: %w", err)
	}

	return checkStreamableHeader(header)
}

func checkStreamableHeader(header []byte) (bool, error) {
	if len(header) < mp4ProbeBytes {
		return false, fmt.Errorf("need %d header bytes, got %d", mp4ProbeBytes, len(header))
	}

	ftypSize := int(binary.BigEndian.Uint32(header[0:4]))
	if !bytes.Equal(header[4:8], []byte("ftyp")) {
		return false, fmt.Errorf("not an mp4: first atom is %q", header[4:8])
	}
	if ftypSize+8 > len(header) {
		return false, fmt.Errorf("ftyp atom of %d bytes extends past the probe window", ftypSize)
	}

	next := header[ftypSize+4 : ftypSize+8]
	return bytes.Equal(next, []byte("moov")), nil
}
