package protocol

// Stats collects codec counters. It is safe for concurrent use and may be
// shared by every decoder and encoder of a process. A nil *Stats discards
// everything.
//
// The counter primitive is chosen at build time: 64-bit atomics by default,
// a mutex-guarded counter under the resp_noatomic64 tag for cores that lack
// wide atomic instructions.
type Stats struct {
	valuesDecoded counter
	bytesDecoded  counter
	incomplete    counter
	decodeErrors  counter
	valuesEncoded counter
	bytesEncoded  counter
	encodeErrors  counter
}

// StatsSnapshot is a point-in-time copy of Stats
type StatsSnapshot struct {
	ValuesDecoded uint64
	BytesDecoded  uint64
	Incomplete    uint64
	DecodeErrors  uint64
	ValuesEncoded uint64
	BytesEncoded  uint64
	EncodeErrors  uint64
}

// NewStats returns an empty counter set
func NewStats() *Stats {
	return &Stats{}
}

// Snapshot returns the current counter values
func (s *Stats) Snapshot() StatsSnapshot {
	if s == nil {
		return StatsSnapshot{}
	}
	return StatsSnapshot{
		ValuesDecoded: s.valuesDecoded.load(),
		BytesDecoded:  s.bytesDecoded.load(),
		Incomplete:    s.incomplete.load(),
		DecodeErrors:  s.decodeErrors.load(),
		ValuesEncoded: s.valuesEncoded.load(),
		BytesEncoded:  s.bytesEncoded.load(),
		EncodeErrors:  s.encodeErrors.load(),
	}
}

func (s *Stats) recordDecoded(n int) {
	if s == nil {
		return
	}
	s.valuesDecoded.add(1)
	s.bytesDecoded.add(uint64(n))
}

func (s *Stats) recordIncomplete() {
	if s == nil {
		return
	}
	s.incomplete.add(1)
}

func (s *Stats) recordDecodeError() {
	if s == nil {
		return
	}
	s.decodeErrors.add(1)
}

func (s *Stats) recordEncoded(n int) {
	if s == nil {
		return
	}
	s.valuesEncoded.add(1)
	s.bytesEncoded.add(uint64(n))
}

func (s *Stats) recordEncodeError() {
	if s == nil {
		return
	}
	s.encodeErrors.add(1)
}
