// Package sse implements the server-sent-event framing used on both sides of
// the bridge: an incremental parser for the vendor's event stream and a
// flushing writer for the endpoints this service exposes. The parser is
// deliberately independent of any transport; it consumes whatever byte chunks
// the caller reads and never assumes a frame arrives whole.
package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"goa.design/clue/log"

	"github.com/odai-labs/bridge/event"
)

// DoneSentinel is the literal the vendor sends in place of JSON to terminate
// the stream.
const DoneSentinel = "[DONE]"

// Parser turns an incremental byte stream into discrete records. Feed may be
// called with chunks split at arbitrary byte offsets, including mid-line and
// mid-frame; partial input is carried over to the next call. A Parser is
// owned by a single read loop and is not safe for concurrent use.
type Parser struct {
	buf   []byte // unconsumed bytes, at most one partial line
	etype string // event: value of the frame being assembled
	data  []byte // accumulated data: lines, \n-joined
	seen  bool   // frame has at least one data: line
}

// NewParser returns an empty parser.
func NewParser() *Parser {
	return &Parser{}
}

// Feed consumes the next chunk and returns the records completed by it, in
// stream order. Frames whose data is not valid JSON are dropped with a
// warning; they never abort the parse or corrupt later frames.
func (p *Parser) Feed(ctx context.Context, chunk []byte) []event.Record {
	p.buf = append(p.buf, chunk...)
	var recs []event.Record
	for {
		i := bytes.IndexByte(p.buf, '\n')
		if i < 0 {
			return recs
		}
		line := strings.TrimRight(string(p.buf[:i]), "\r")
		p.buf = p.buf[i+1:]
		if rec, ok := p.consumeLine(ctx, line); ok {
			recs = append(recs, rec)
		}
	}
}

// consumeLine folds one complete line into the frame under assembly. A blank
// line finalizes the frame and may yield a record.
func (p *Parser) consumeLine(ctx context.Context, line string) (event.Record, bool) {
	if line == "" {
		return p.finalize(ctx)
	}
	if strings.HasPrefix(line, ":") {
		// SSE comment / keep-alive.
		return event.Record{}, false
	}
	if after, ok := strings.CutPrefix(line, "event:"); ok {
		p.etype = strings.TrimSpace(after)
		return event.Record{}, false
	}
	if after, ok := strings.CutPrefix(line, "data:"); ok {
		after = strings.TrimPrefix(after, " ")
		if p.seen {
			p.data = append(p.data, '\n')
		}
		p.data = append(p.data, after...)
		p.seen = true
	}
	// Unknown field names are ignored per the SSE grammar.
	return event.Record{}, false
}

// finalize closes the current frame. The done sentinel wins over whatever
// event: line accompanied it, matching the vendor's habit of terminating the
// stream with a bare data frame.
func (p *Parser) finalize(ctx context.Context) (event.Record, bool) {
	etype, data, seen := p.etype, p.data, p.seen
	p.etype, p.data, p.seen = "", nil, false
	if !seen && etype == "" {
		return event.Record{}, false
	}
	if string(data) == DoneSentinel {
		return event.Record{Type: event.TypeDone}, true
	}
	if etype == "" {
		log.Debug(ctx, log.KV{K: "msg", V: "sse frame without event type dropped"})
		return event.Record{}, false
	}
	if !json.Valid(data) {
		log.Warn(ctx,
			log.KV{K: "msg", V: "malformed sse payload dropped"},
			log.KV{K: "event_type", V: etype},
			log.KV{K: "bytes", V: len(data)})
		return event.Record{}, false
	}
	return event.Record{Type: event.Type(etype), Data: json.RawMessage(data)}, true
}
