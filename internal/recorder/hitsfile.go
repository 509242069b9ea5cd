package recorder

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/spf13/afero"
)

// WriteHits encodes counters as a little-endian int32 count followed by one
// int32 per counter.
func WriteHits(w io.Writer, hits []int32) error {
	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, int32(len(hits))); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, hits); err != nil {
		return err
	}
	return bw.Flush()
}

// ReadHits decodes counters written by WriteHits.
func ReadHits(r io.Reader) ([]int32, error) {
	br := bufio.NewReader(r)
	var n int32
	if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("failed to read hits count: %w", err)
	}
	if n < 0 {
		return nil, fmt.Errorf("invalid hits count %d", n)
	}
	hits := make([]int32, n)
	if err := binary.Read(br, binary.LittleEndian, hits); err != nil {
		return nil, fmt.Errorf("failed to read %d hits: %w", n, err)
	}
	return hits, nil
}

// ReadHitsFile reads the hits file at path.
func ReadHitsFile(fs afero.Fs, path string) ([]int32, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadHits(f)
}
