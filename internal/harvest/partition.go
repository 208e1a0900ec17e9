package harvest

import "fmt"

// SizePartitioner walks byte-size brackets [N, N+Width] for N = Start, Start+Width, ...
// up to and including End.
type SizePartitioner struct {
	Start int64
	End   int64
	Width int64
}

// NewSizePartitioner validates bounds and returns a SizePartitioner.
func NewSizePartitioner(start, end, width int64) (*SizePartitioner, error) {
	if start < 0 {
		return nil, fmt.Errorf("partition start must be >= 0, got %d", start)
	}
	if end < start {
		return nil, fmt.Errorf("partition end %d is before start %d", end, start)
	}
	if width <= 0 {
		return nil, fmt.Errorf("partition width must be > 0, got %d", width)
	}
	return &SizePartitioner{Start: start, End: end, Width: width}, nil
}

// First returns the first bracket of the sequence.
func (s *SizePartitioner) First() SearchPartition {
	return s.at(s.Start)
}

// Next returns the bracket following p.
func (s *SizePartitioner) Next(p SearchPartition) (SearchPartition, bool) {
	lower := p.Lower + s.Width
	if lower > s.End {
		return SearchPartition{}, false
	}
	return s.at(lower), true
}

// Contains reports whether p is a member of the sequence.
func (s *SizePartitioner) Contains(p SearchPartition) bool {
	if p.Lower < s.Start || p.Lower > s.End {
		return false
	}
	return (p.Lower-s.Start)%s.Width == 0 && p.Upper == p.Lower+s.Width
}

func (s *SizePartitioner) at(lower int64) SearchPartition {
	return SearchPartition{Lower: lower, Upper: lower + s.Width}
}
