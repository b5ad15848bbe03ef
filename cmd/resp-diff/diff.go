package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/raniellyferreira/respwire"
	"github.com/raniellyferreira/respwire/protocol"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Options configures one comparison run
type Options struct {
	Ref      string
	SUT      string
	Protocol protocol.Version
	Password string
	Timeout  time.Duration
}

// Reply describes one endpoint's answer
type Reply struct {
	Type  string `json:"type"`
	Value string `json:"value"`
	Wire  string `json:"wire"` // canonical encoding, Go-quoted
}

// Report is the outcome of running one command against both endpoints
type Report struct {
	Command     string   `json:"command"`
	Protocol    int      `json:"protocol"`
	Match       bool     `json:"match"`
	Reference   Reply    `json:"reference"`
	System      Reply    `json:"system"`
	Differences []string `json:"differences,omitempty"`
}

// stderrLogger keeps connection errors visible without debug chatter
type stderrLogger struct{}

func (stderrLogger) Debug(msg string, fields ...respwire.Field) {}
func (stderrLogger) Info(msg string, fields ...respwire.Field)  {}
func (stderrLogger) Error(msg string, fields ...respwire.Field) {
	parts := []string{"ERROR: " + msg}
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s=%v", f.Key, f.Value))
	}
	log.Println(strings.Join(parts, " "))
}

// Run sends args to both endpoints and compares the replies
func Run(ctx context.Context, opts Options, args []string) (*Report, error) {
	if len(args) == 0 {
		return nil, errors.New("no command given")
	}

	ref, err := fetch(ctx, opts, opts.Ref, args)
	if err != nil {
		return nil, fmt.Errorf("reference %s: %w", opts.Ref, err)
	}
	sut, err := fetch(ctx, opts, opts.SUT, args)
	if err != nil {
		return nil, fmt.Errorf("system %s: %w", opts.SUT, err)
	}

	return Compare(strings.Join(args, " "), opts.Protocol, ref, sut), nil
}

func fetch(ctx context.Context, opts Options, addr string, args []string) (protocol.Value, error) {
	dialOpts := []respwire.Option{
		respwire.WithAddr(addr),
		respwire.WithProtocol(opts.Protocol),
		respwire.WithLogger(stderrLogger{}),
	}
	if opts.Password != "" {
		dialOpts = append(dialOpts, respwire.WithPassword(opts.Password))
	}
	if opts.Timeout > 0 {
		dialOpts = append(dialOpts,
			respwire.WithConnectTimeout(opts.Timeout),
			respwire.WithReadTimeout(opts.Timeout),
		)
	}

	client, err := respwire.Dial(ctx, dialOpts...)
	if err != nil {
		return protocol.Value{}, err
	}
	defer client.Close()

	cmd := make([]interface{}, len(args))
	for i, a := range args {
		cmd[i] = a
	}

	reply, err := client.Do(ctx, cmd...)
	var replyErr *respwire.ReplyError
	if err != nil && !errors.As(err, &replyErr) {
		return protocol.Value{}, err
	}
	// error replies are compared like any other value
	return reply, nil
}

// Compare checks ref and sut value by value, then byte for byte in their
// canonical encoding under v
func Compare(command string, v protocol.Version, ref, sut protocol.Value) *Report {
	cfg, _ := protocol.NewConfig(protocol.WithProtocol(v))

	refWire, refErr := protocol.AppendValue(nil, ref, cfg)
	sutWire, sutErr := protocol.AppendValue(nil, sut, cfg)

	report := &Report{
		Command:     command,
		Protocol:    int(v),
		Reference:   describe(ref, refWire, refErr),
		System:      describe(sut, sutWire, sutErr),
		Differences: diffValues("$", ref, sut),
	}

	if len(report.Differences) == 0 && (refErr != nil || sutErr != nil || !bytes.Equal(refWire, sutWire)) {
		report.Differences = append(report.Differences,
			fmt.Sprintf("$: encoding %s != %s", report.Reference.Wire, report.System.Wire))
	}
	report.Match = len(report.Differences) == 0
	return report
}

func describe(v protocol.Value, wire []byte, err error) Reply {
	r := Reply{Type: v.Type.String(), Value: v.String()}
	if v.IsNull {
		r.Type = "null-" + r.Type
	}
	if err != nil {
		r.Wire = "<" + err.Error() + ">"
	} else {
		r.Wire = strconv.Quote(string(wire))
	}
	return r
}

// diffValues lists every position where a and b differ. Paths use $ for
// the root, [i] for elements and {key} for map entries.
func diffValues(path string, a, b protocol.Value) []string {
	if a.Type != b.Type {
		return []string{fmt.Sprintf("%s: type %s != %s", path, a.Type, b.Type)}
	}
	if a.IsNull != b.IsNull {
		return []string{fmt.Sprintf("%s: %s != %s", path, a.String(), b.String())}
	}

	var out []string
	switch a.Type {
	case protocol.TypeArray, protocol.TypeSet, protocol.TypePush:
		if len(a.Array) != len(b.Array) {
			out = append(out, fmt.Sprintf("%s: length %d != %d", path, len(a.Array), len(b.Array)))
		}
		for i := 0; i < min(len(a.Array), len(b.Array)); i++ {
			out = append(out, diffValues(fmt.Sprintf("%s[%d]", path, i), a.Array[i], b.Array[i])...)
		}
	case protocol.TypeMap, protocol.TypeAttribute:
		out = append(out, diffPairs(path, a.Map, b.Map)...)
	default:
		// attributes are compared separately below
		if !protocol.Equal(withoutAttrs(a), withoutAttrs(b)) {
			out = append(out, fmt.Sprintf("%s: %q != %q", path, a.String(), b.String()))
		}
	}

	return append(out, diffPairs(path+"|attrs", a.Attrs, b.Attrs)...)
}

func withoutAttrs(v protocol.Value) protocol.Value {
	v.Attrs = nil
	return v
}

func diffPairs(path string, a, b []protocol.KeyValue) []string {
	var out []string
	if len(a) != len(b) {
		out = append(out, fmt.Sprintf("%s: %d entries != %d", path, len(a), len(b)))
	}
	for i := 0; i < min(len(a), len(b)); i++ {
		if !protocol.Equal(a[i].Key, b[i].Key) {
			out = append(out, fmt.Sprintf("%s: key #%d %q != %q", path, i, a[i].Key.String(), b[i].Key.String()))
			continue
		}
		out = append(out, diffValues(fmt.Sprintf("%s{%s}", path, a[i].Key.String()), a[i].Value, b[i].Value)...)
	}
	return out
}

// WriteText prints a human readable report
func WriteText(w io.Writer, r *Report) {
	fmt.Fprintf(w, "Command:   %s (RESP%d)\n", r.Command, r.Protocol)
	fmt.Fprintf(w, "Reference: %s %s\n", r.Reference.Type, r.Reference.Wire)
	fmt.Fprintf(w, "System:    %s %s\n", r.System.Type, r.System.Wire)
	fmt.Fprintln(w)

	if r.Match {
		fmt.Fprintln(w, "✅ Match")
		return
	}
	for _, d := range r.Differences {
		fmt.Fprintf(w, "  ❌ %s\n", d)
	}
	fmt.Fprintf(w, "❌ FAILURE: %d differences found\n", len(r.Differences))
}

// WriteJSON prints the report as indented JSON
func WriteJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
