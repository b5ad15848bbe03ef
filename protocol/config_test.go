package protocol

import (
	"errors"
	"math"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, defaultProtocol, cfg.Protocol)
	assert.Equal(t, defaultStrict, cfg.Strict)
	assert.Equal(t, DefaultMaxInlineLen, cfg.MaxInlineLen)
	assert.Equal(t, int64(DefaultMaxBulkLen), cfg.MaxBulkLen)
	assert.Equal(t, int64(DefaultMaxElements), cfg.MaxElements)
	assert.Equal(t, DefaultMaxDepth, cfg.MaxDepth)
	assert.False(t, cfg.OwnedPayloads)
	assert.False(t, cfg.PlainErrors)
	assert.Nil(t, cfg.Stats)
}

func TestConfigOptions(t *testing.T) {
	stats := NewStats()
	cfg, err := NewConfig(
		WithProtocol(RESP3),
		WithStrict(true),
		WithMaxInlineLen(128),
		WithMaxBulkLen(1024),
		WithMaxElements(16),
		WithMaxDepth(3),
		WithOwnedPayloads(),
		WithPlainErrors(),
		WithStats(stats),
	)
	require.NoError(t, err)

	assert.Equal(t, RESP3, cfg.Protocol)
	assert.True(t, cfg.Strict)
	assert.Equal(t, 128, cfg.MaxInlineLen)
	assert.Equal(t, int64(1024), cfg.MaxBulkLen)
	assert.Equal(t, int64(16), cfg.MaxElements)
	assert.Equal(t, 3, cfg.MaxDepth)
	assert.True(t, cfg.OwnedPayloads)
	assert.True(t, cfg.PlainErrors)
	assert.Same(t, stats, cfg.Stats)
}

func TestConfigInvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
	}{
		{"protocol 1", WithProtocol(1)},
		{"protocol 4", WithProtocol(4)},
		{"zero inline length", WithMaxInlineLen(0)},
		{"negative bulk length", WithMaxBulkLen(-1)},
		{"zero elements", WithMaxElements(0)},
		{"negative depth", WithMaxDepth(-1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConfig(tt.opt)
			assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
		})
	}
}

func TestConfigWithCopies(t *testing.T) {
	base := DefaultConfig()
	derived, err := base.With(WithMaxDepth(2))
	require.NoError(t, err)

	assert.Equal(t, 2, derived.MaxDepth)
	assert.Equal(t, DefaultMaxDepth, base.MaxDepth)
}

func TestZeroConfigIsNormalized(t *testing.T) {
	dec := NewDecoder(Config{})
	cfg := dec.Config()

	assert.Equal(t, defaultProtocol, cfg.Protocol)
	assert.Equal(t, DefaultMaxDepth, cfg.MaxDepth)
	assert.Equal(t, DefaultMaxDepth, cap(dec.stack))
	assert.Equal(t, int64(DefaultMaxBulkLen), cfg.MaxBulkLen)
}

func TestVersionString(t *testing.T) {
	assert.Equal(t, "RESP2", RESP2.String())
	assert.Equal(t, "RESP3", RESP3.String())
}

func TestErrorKinds(t *testing.T) {
	assert.True(t, errors.Is(ErrNestingTooDeep, ErrLimitExceeded))
	assert.False(t, errors.Is(ErrLimitExceeded, ErrNestingTooDeep))
	assert.False(t, errors.Is(ErrMalformed, ErrIncomplete))

	err := &Error{Kind: ErrMalformed, Offset: 3, Msg: "bad"}
	assert.Equal(t, "resp: malformed at offset 3: bad", err.Error())
	assert.True(t, errors.Is(err, ErrMalformed))
	assert.Equal(t, ErrMalformed, KindOf(err))

	enc := &Error{Kind: ErrUnsupportedVariant, Offset: -1, Msg: "boolean"}
	assert.Equal(t, "resp: unsupported variant: boolean", enc.Error())

	assert.Equal(t, Kind(0), KindOf(errors.New("other")))
	assert.Equal(t, Kind(0), KindOf(nil))
}

func TestBufferAdvance(t *testing.T) {
	buf := NewBuffer([]byte("abcdef"))

	require.NoError(t, buf.Advance(2))
	assert.Equal(t, "cdef", string(buf.Remaining()))
	assert.Equal(t, 2, buf.Consumed())
	assert.Equal(t, 4, buf.Len())

	assert.Equal(t, ErrOutOfBounds, buf.Advance(5))
	assert.Equal(t, ErrOutOfBounds, buf.Advance(-1))
	assert.Equal(t, 2, buf.Consumed(), "a failed advance leaves the cursor alone")

	require.NoError(t, buf.Advance(4))
	assert.Equal(t, 0, buf.Len())

	buf.Reset([]byte("xy"))
	assert.Equal(t, 0, buf.Consumed())
	assert.Equal(t, "xy", string(buf.Remaining()))
}

func TestStatsNilSafe(t *testing.T) {
	var s *Stats
	s.recordDecoded(10)
	s.recordEncodeError()
	assert.Equal(t, StatsSnapshot{}, s.Snapshot())
}

func TestStatsConcurrent(t *testing.T) {
	stats := NewStats()
	cfg, err := NewConfig(WithProtocol(RESP2), WithStats(stats))
	require.NoError(t, err)

	const workers, perWorker = 8, 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			enc := NewEncoder(cfg)
			dec := NewDecoder(cfg)
			for i := 0; i < perWorker; i++ {
				out, err := enc.Append(nil, Int(int64(i)))
				if err != nil {
					t.Error(err)
					return
				}
				if _, err := dec.DecodeNext(NewBuffer(out)); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	snap := stats.Snapshot()
	assert.Equal(t, uint64(workers*perWorker), snap.ValuesEncoded)
	assert.Equal(t, uint64(workers*perWorker), snap.ValuesDecoded)
	assert.Equal(t, snap.BytesEncoded, snap.BytesDecoded)
}

// TestStatsCounterWidth pins the counter chosen by the build. Run it a second
// time with -tags resp_noatomic64 to cover the mutex-guarded counters.
func TestStatsCounterWidth(t *testing.T) {
	field, ok := reflect.TypeOf((*counter)(nil)).Elem().FieldByName("v")
	require.True(t, ok)
	if WideAtomics {
		assert.Equal(t, reflect.TypeOf((*atomic.Uint64)(nil)).Elem(), field.Type)
	} else {
		assert.Equal(t, reflect.Uint64, field.Type.Kind())
		_, guarded := reflect.TypeOf((*counter)(nil)).Elem().FieldByName("mu")
		assert.True(t, guarded, "narrow counters need a lock")
	}

	// the value must survive past 32 bits on either implementation
	var c counter
	c.add(math.MaxUint32)
	c.add(2)
	assert.Equal(t, uint64(math.MaxUint32)+2, c.load())

	stats := NewStats()
	for i := 0; i < 3; i++ {
		stats.recordEncoded(math.MaxInt32)
	}
	snap := stats.Snapshot()
	assert.Equal(t, uint64(3), snap.ValuesEncoded)
	assert.Equal(t, uint64(3*math.MaxInt32), snap.BytesEncoded)
}

func TestParseInt64(t *testing.T) {
	tests := []struct {
		in     string
		strict bool
		want   int64
		ok     bool
	}{
		{"0", true, 0, true},
		{"-1", true, -1, true},
		{"9223372036854775807", true, 9223372036854775807, true},
		{"-9223372036854775808", true, -9223372036854775808, true},
		{"9223372036854775808", true, 0, false},
		{"-9223372036854775809", true, 0, false},
		{"12345678901234567890", true, 0, false},
		{"", true, 0, false},
		{"-", true, 0, false},
		{"+5", true, 0, false},
		{"+5", false, 5, true},
		{" 7\t", false, 7, true},
		{" 7", true, 0, false},
		{"1a", false, 0, false},
	}

	for _, tt := range tests {
		got, ok := parseInt64([]byte(tt.in), tt.strict)
		assert.Equal(t, tt.ok, ok, "%q strict=%v", tt.in, tt.strict)
		if tt.ok {
			assert.Equal(t, tt.want, got, "%q", tt.in)
		}
	}
}

func TestValidDouble(t *testing.T) {
	valid := []string{"0", "-0", "1.5", "-1.5", "1e10", "1E-10", "1.5e+300", "10"}
	invalid := []string{"", "-", ".5", "1.", "+1", "1e", "1e+", "1.5.5", "inf", "0x10", " 1"}

	for _, s := range valid {
		assert.True(t, validDouble([]byte(s)), s)
	}
	for _, s := range invalid {
		assert.False(t, validDouble([]byte(s)), s)
	}
}

func TestValidBigNumber(t *testing.T) {
	assert.True(t, validBigNumber([]byte("123"), true))
	assert.True(t, validBigNumber([]byte("-123"), true))
	assert.False(t, validBigNumber([]byte("+123"), true))
	assert.True(t, validBigNumber([]byte("+123"), false))
	assert.False(t, validBigNumber([]byte("-"), false))
	assert.False(t, validBigNumber([]byte("1.5"), false))
}
