// Package chunker partitions a file into the ordered byte ranges of a
// multipart upload. The server dictates the part size; the client never
// chooses its own chunking granularity.
package chunker

import "fmt"

// Chunk is one byte range of the partition. Start is inclusive, End is
// exclusive, Index is zero-based.
type Chunk struct {
	Index int64
	Start int64
	End   int64
}

// Len returns the number of bytes covered by the chunk.
func (c Chunk) Len() int64 {
	return c.End - c.Start
}

// Sequencer lazily produces the chunks of one file, in index order. A
// Sequencer is single-use; create a new one to restart from the beginning.
type Sequencer struct {
	totalSize int64
	partSize  int64
	count     int64
	next      int64
}

// New creates a sequencer covering [0, totalSize) in partSize pieces.
// The chunk count is ceil(totalSize/partSize); the final chunk may be shorter
// than partSize but is never empty.
func New(totalSize, partSize int64) (*Sequencer, error) {
	if totalSize <= 0 {
		return nil, fmt.Errorf("total size must be positive, got %d", totalSize)
	}
	if partSize <= 0 {
		return nil, fmt.Errorf("part size must be positive, got %d", partSize)
	}
	return &Sequencer{
		totalSize: totalSize,
		partSize:  partSize,
		count:     (totalSize + partSize - 1) / partSize,
	}, nil
}

// Count returns the total number of chunks the sequencer will produce.
func (s *Sequencer) Count() int64 {
	return s.count
}

// HasNext reports whether another chunk remains.
func (s *Sequencer) HasNext() bool {
	return s.next < s.count
}

// Next returns the next chunk in index order. The second return value is
// false once the partition is exhausted.
func (s *Sequencer) Next() (Chunk, bool) {
	if s.next >= s.count {
		return Chunk{}, false
	}
	start := s.next * s.partSize
	end := start + s.partSize
	if end > s.totalSize {
		end = s.totalSize
	}
	c := Chunk{Index: s.next, Start: start, End: end}
	s.next++
	return c, true
}
