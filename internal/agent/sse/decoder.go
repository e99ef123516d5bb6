// Package sse implements a byte-level, UTF-8-safe Server-Sent-Events decoder.
//
// Unlike providers/anthropic.go's ParseSSEStream, which scans an io.Reader
// line by line and relies on the caller handing it already-valid text, this
// decoder accepts raw byte chunks as they arrive off the wire — exactly the
// shape a streaming HTTP body delivers them in, where a single read() can
// split an SSE "\n\n" boundary or a multi-byte UTF-8 rune in half.
package sse

import "bytes"

// Event is one complete Server-Sent Event: an optional type, the joined
// data payload, and an optional id. Unknown SSE fields (retry, comments)
// are ignored per the SSE spec.
type Event struct {
	Type string
	Data string
	ID   string
}

// maxPendingUTF8 bounds how long a trailing partial UTF-8 sequence is held
// before it's discarded as malformed. A valid sequence is at most 4 bytes;
// 8 gives headroom without buffering indefinitely on a truly broken stream.
const maxPendingUTF8 = 8

// Decoder turns a sequence of byte chunks into complete SSE events,
// carrying partial state across Feed calls. It is not safe for concurrent
// use from multiple goroutines.
type Decoder struct {
	textBuf    []byte // bytes decoded so far that haven't yet formed a complete event
	pendingRaw []byte // trailing bytes that may be the start of a split UTF-8 sequence

	onMalformed func(pending []byte)
}

// NewDecoder creates a Decoder. onMalformed, if non-nil, is invoked with the
// discarded bytes whenever a pending UTF-8 sequence never completes and the
// bounded window is exceeded; callers typically log a warning here.
func NewDecoder(onMalformed func(pending []byte)) *Decoder {
	return &Decoder{onMalformed: onMalformed}
}

// Feed accepts the next chunk of raw bytes and returns zero or more
// complete events. Partial events and partial UTF-8 sequences are retained
// internally and completed by a subsequent Feed call.
func (d *Decoder) Feed(chunk []byte) []Event {
	decoded := d.completeUTF8(chunk)
	d.textBuf = append(d.textBuf, decoded...)
	return d.drainEvents()
}

// completeUTF8 reassembles chunk with any previously pending partial
// sequence, splits off a new trailing partial sequence (if any), and
// returns the portion that is safe to treat as complete UTF-8 text.
func (d *Decoder) completeUTF8(chunk []byte) []byte {
	buf := append(d.pendingRaw, chunk...)
	d.pendingRaw = nil

	splitAt := len(buf)
	if n := trailingPartialRuneLen(buf); n > 0 {
		splitAt = len(buf) - n
	}

	if splitAt < len(buf) {
		pending := buf[splitAt:]
		if len(pending) > maxPendingUTF8 {
			// Never completed across a bounded window: discard as malformed
			// rather than buffer forever.
			if d.onMalformed != nil {
				d.onMalformed(pending)
			}
		} else {
			d.pendingRaw = append([]byte(nil), pending...)
		}
	}

	return buf[:splitAt]
}

// trailingPartialRuneLen classifies the trailing bytes of buf and returns
// how many of them form an incomplete multi-byte UTF-8 sequence (0 if the
// tail is already complete, or isn't UTF-8 continuation material at all).
//
// The classification walks backwards over continuation bytes (0x80–0xBF),
// then inspects the leading byte that precedes them to determine the
// sequence's declared total length (1/2/3/4 bytes per the UTF-8 leading-byte
// pattern) and compares it against how many bytes are actually present.
func trailingPartialRuneLen(buf []byte) int {
	if len(buf) == 0 {
		return 0
	}

	i := len(buf) - 1
	contBytes := 0
	for i >= 0 && isContinuationByte(buf[i]) {
		contBytes++
		i--
		if contBytes >= 3 {
			// A leading byte can declare at most 3 continuation bytes (4-byte
			// sequence); more than that can't be a valid pending prefix.
			break
		}
	}

	if i < 0 {
		// Entire tail is continuation bytes with no leading byte in view —
		// can't determine sequence length; treat it all as pending.
		return len(buf)
	}

	lead := buf[i]
	declared := leadingByteSeqLen(lead)
	if declared == 0 {
		// Not a valid UTF-8 leading byte (or plain ASCII) — nothing pending.
		return 0
	}

	present := contBytes + 1 // +1 for the leading byte itself
	if present >= declared {
		return 0
	}
	return present
}

func isContinuationByte(b byte) bool {
	return b&0xC0 == 0x80 // 10xxxxxx
}

// leadingByteSeqLen returns the total sequence length (including the
// leading byte) a UTF-8 leading byte declares, or 0 if b is itself a
// continuation byte or not part of a multi-byte sequence.
func leadingByteSeqLen(b byte) int {
	switch {
	case b&0x80 == 0x00: // 0xxxxxxx — ASCII, complete on its own
		return 0
	case b&0xE0 == 0xC0: // 110xxxxx
		return 2
	case b&0xF0 == 0xE0: // 1110xxxx
		return 3
	case b&0xF8 == 0xF0: // 11110xxx
		return 4
	default:
		return 0
	}
}

// drainEvents scans textBuf for complete events (terminated by a blank
// line, LF-LF or CRLF-CRLF) and returns them, leaving any trailing partial
// event in textBuf.
func (d *Decoder) drainEvents() []Event {
	var events []Event

	for {
		idx, sepLen := findBlankLine(d.textBuf)
		if idx < 0 {
			break
		}

		raw := d.textBuf[:idx]
		d.textBuf = d.textBuf[idx+sepLen:]

		if ev, ok := parseEvent(raw); ok {
			events = append(events, ev)
		}
	}

	return events
}

// findBlankLine locates the first LF-LF or CRLF-CRLF boundary in buf,
// returning its start index and the separator's length, or (-1, 0) if none
// is present yet.
func findBlankLine(buf []byte) (int, int) {
	if idx := bytes.Index(buf, []byte("\n\n")); idx >= 0 {
		if crlf := bytes.Index(buf, []byte("\r\n\r\n")); crlf >= 0 && crlf <= idx {
			return crlf, 4
		}
		return idx, 2
	}
	if idx := bytes.Index(buf, []byte("\r\n\r\n")); idx >= 0 {
		return idx, 4
	}
	return -1, 0
}

// parseEvent parses one event's raw lines into an Event. A block with no
// event: or data: lines (e.g. a bare comment) yields ok=false.
func parseEvent(raw []byte) (Event, bool) {
	lines := bytes.Split(raw, []byte("\n"))

	var ev Event
	var dataLines []string
	hasContent := false

	for _, line := range lines {
		line = bytes.TrimSuffix(line, []byte("\r"))
		switch {
		case bytes.HasPrefix(line, []byte("event:")):
			ev.Type = string(bytes.TrimSpace(line[len("event:"):]))
			hasContent = true
		case bytes.HasPrefix(line, []byte("data:")):
			segment := bytes.TrimPrefix(line[len("data:"):], []byte(" "))
			dataLines = append(dataLines, string(segment))
			hasContent = true
		case bytes.HasPrefix(line, []byte("id:")):
			ev.ID = string(bytes.TrimSpace(line[len("id:"):]))
			hasContent = true
		default:
			// Unknown fields (retry:, comments starting with ':') are
			// ignored per the SSE spec.
		}
	}

	if !hasContent {
		return Event{}, false
	}

	ev.Data = joinDataLines(dataLines)
	return ev, true
}

func joinDataLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}
