package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raniellyferreira/respwire/protocol"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		name     string
		protocol protocol.Version
		ref, sut protocol.Value
		diffs    []string
	}{
		{
			name:     "identical bulk",
			protocol: protocol.RESP2,
			ref:      protocol.BulkString("v"),
			sut:      protocol.BulkString("v"),
		},
		{
			name:     "different data",
			protocol: protocol.RESP2,
			ref:      protocol.BulkString("v"),
			sut:      protocol.BulkString("w"),
			diffs:    []string{`$: "v" != "w"`},
		},
		{
			name:     "different type",
			protocol: protocol.RESP2,
			ref:      protocol.SimpleString("OK"),
			sut:      protocol.BulkString("OK"),
			diffs:    []string{"$: type simple-string != bulk-string"},
		},
		{
			name:     "null kinds",
			protocol: protocol.RESP2,
			ref:      protocol.NullBulk(),
			sut:      protocol.NullArray(),
			diffs:    []string{"$: type bulk-string != array"},
		},
		{
			name:     "nested element",
			protocol: protocol.RESP2,
			ref:      protocol.Array(protocol.Int(1), protocol.Array(protocol.BulkString("a"))),
			sut:      protocol.Array(protocol.Int(1), protocol.Array(protocol.BulkString("b"))),
			diffs:    []string{`$[1][0]: "a" != "b"`},
		},
		{
			name:     "length",
			protocol: protocol.RESP2,
			ref:      protocol.Array(protocol.Int(1), protocol.Int(2)),
			sut:      protocol.Array(protocol.Int(1)),
			diffs:    []string{"$: length 2 != 1"},
		},
		{
			name:     "map value",
			protocol: protocol.RESP3,
			ref:      protocol.Map(protocol.Pair(protocol.BulkString("f"), protocol.Int(1))),
			sut:      protocol.Map(protocol.Pair(protocol.BulkString("f"), protocol.Int(2))),
			diffs:    []string{`${f}: "1" != "2"`},
		},
		{
			name:     "map key order",
			protocol: protocol.RESP3,
			ref: protocol.Map(
				protocol.Pair(protocol.BulkString("a"), protocol.Int(1)),
				protocol.Pair(protocol.BulkString("b"), protocol.Int(2)),
			),
			sut: protocol.Map(
				protocol.Pair(protocol.BulkString("b"), protocol.Int(2)),
				protocol.Pair(protocol.BulkString("a"), protocol.Int(1)),
			),
			diffs: []string{`$: key #0 "a" != "b"`, `$: key #1 "b" != "a"`},
		},
		{
			name:     "unencodable in RESP2",
			protocol: protocol.RESP2,
			ref:      protocol.Bool(true),
			sut:      protocol.Bool(true),
			diffs:    []string{"$: encoding"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := Compare("CMD", tt.protocol, tt.ref, tt.sut)
			assert.Equal(t, len(tt.diffs) == 0, report.Match)
			require.Len(t, report.Differences, len(tt.diffs))
			for i, want := range tt.diffs {
				assert.True(t, strings.HasPrefix(report.Differences[i], want),
					"difference %q should start with %q", report.Differences[i], want)
			}
		})
	}
}

func TestRunAgainstMiniredis(t *testing.T) {
	ref := miniredis.RunT(t)
	sut := miniredis.RunT(t)
	ref.Set("k", "v")
	sut.Set("k", "v")
	ref.HSet("h", "f", "1")
	sut.HSet("h", "f", "2")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, v := range []protocol.Version{protocol.RESP2, protocol.RESP3} {
		opts := Options{Ref: ref.Addr(), SUT: sut.Addr(), Protocol: v, Timeout: time.Second}

		report, err := Run(ctx, opts, []string{"GET", "k"})
		require.NoError(t, err)
		assert.True(t, report.Match, v.String())

		report, err = Run(ctx, opts, []string{"HGETALL", "h"})
		require.NoError(t, err)
		assert.False(t, report.Match, v.String())
		assert.NotEmpty(t, report.Differences)

		// error replies are compared, not returned
		report, err = Run(ctx, opts, []string{"NOSUCHCOMMAND"})
		require.NoError(t, err)
		assert.True(t, report.Match, v.String())
		assert.Equal(t, "error", report.Reference.Type)
	}

	_, err := Run(ctx, Options{Ref: ref.Addr(), SUT: sut.Addr(), Protocol: protocol.RESP2}, nil)
	assert.Error(t, err)
}

func TestRunUnreachable(t *testing.T) {
	ref := miniredis.RunT(t)
	sut := miniredis.RunT(t)
	addr := sut.Addr()
	sut.Close()

	_, err := Run(context.Background(), Options{Ref: ref.Addr(), SUT: addr, Protocol: protocol.RESP2, Timeout: time.Second}, []string{"PING"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "system "+addr)
}

func TestWriteReport(t *testing.T) {
	report := Compare("GET k", protocol.RESP2, protocol.BulkString("v"), protocol.NullBulk())

	var text bytes.Buffer
	WriteText(&text, report)
	assert.Contains(t, text.String(), "Command:   GET k (RESP2)")
	assert.Contains(t, text.String(), `Reference: bulk-string "$1\r\nv\r\n"`)
	assert.Contains(t, text.String(), `System:    null-bulk-string "$-1\r\n"`)
	assert.Contains(t, text.String(), "FAILURE: 1 differences found")

	var out bytes.Buffer
	require.NoError(t, WriteJSON(&out, report))

	var decoded Report
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, *report, decoded)
	assert.Contains(t, out.String(), `"match": false`)
}
