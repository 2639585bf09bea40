package textimport

// Lexer is a streaming CSV tokenizer. It consumes raw byte buffers in
// arbitrary slices, keeps partial-record state across calls, and emits
// one callback per record with zero per-field allocation: field slices
// point into an internal record buffer that is reused between records.
//
// Quoting follows the usual convention: a field is quoted when its first
// byte is a double quote; inside quotes, delimiters and newlines are
// literal and a doubled quote escapes itself. An unquoted carriage
// return is discarded, so CRLF and LF both terminate records.
type Lexer struct {
	delim byte

	skipLinesWithExtraValues bool
	expectedFields           int
	ignoreNextLine           bool

	state     lexState
	recordBuf []byte
	fieldEnds []int
	fields    [][]byte

	started    bool
	lineNumber int64
	lineOffset int64

	maxLineLength int
	skippedLines  int64
}

type lexState uint8

const (
	stateFieldStart lexState = iota
	stateInField
	stateInQuoted
	stateQuoteInQuoted
)

// FieldHandler receives one record: its zero-based line number, the file
// offset of its first byte, and its field slices. The slices are only
// valid until the handler returns. Returning an error aborts parsing.
type FieldHandler func(lineNumber int64, lineOffset int64, fields [][]byte) error

// NewLexer creates a lexer for the given column delimiter.
func NewLexer(delim byte) *Lexer {
	return &Lexer{
		delim:                    delim,
		skipLinesWithExtraValues: true,
		recordBuf:                make([]byte, 0, 4096),
		fieldEnds:                make([]int, 0, 32),
		fields:                   make([][]byte, 0, 32),
	}
}

// SetSkipLinesWithExtraValues controls whether records with more fields
// than expected are dropped (default) or passed through.
func (l *Lexer) SetSkipLinesWithExtraValues(skip bool) {
	l.skipLinesWithExtraValues = skip
}

// SetExpectedFieldCount sets the field count used by the extra-values
// check. Zero disables the check.
func (l *Lexer) SetExpectedFieldCount(n int) {
	l.expectedFields = n
}

// SetIgnoreNextLine suppresses the callback for the next record; used to
// skip a header line.
func (l *Lexer) SetIgnoreNextLine(ignore bool) {
	l.ignoreNextLine = ignore
}

// SetLineNumber seeds the line counter, so chunks report global line
// numbers.
func (l *Lexer) SetLineNumber(n int64) {
	l.lineNumber = n
}

// MaxLineLength returns the longest raw record seen, including its
// newline.
func (l *Lexer) MaxLineLength() int {
	return l.maxLineLength
}

// SkippedLines returns the number of records dropped by the extra-values
// check.
func (l *Lexer) SkippedLines() int64 {
	return l.skippedLines
}

// Parse consumes a buffer that starts at absolute file offset baseOffset.
// maxLines bounds the number of records emitted; zero means unlimited.
// It returns the number of records emitted by this call.
func (l *Lexer) Parse(buf []byte, baseOffset int64, maxLines int64, handler FieldHandler) (int64, error) {
	var emitted int64

	for i := 0; i < len(buf); i++ {
		c := buf[i]
		abs := baseOffset + int64(i)

		if !l.started {
			l.started = true
			l.lineOffset = abs
			l.state = stateFieldStart
		}

		switch l.state {
		case stateFieldStart:
			switch c {
			case '"':
				l.state = stateInQuoted
			case l.delim:
				l.endField()
			case '\n':
				n, err := l.endRecord(abs, handler)
				if err != nil {
					return emitted, err
				}
				emitted += n
				if maxLines > 0 && emitted >= maxLines {
					return emitted, nil
				}
			case '\r':
				// discarded outside quotes
			default:
				l.recordBuf = append(l.recordBuf, c)
				l.state = stateInField
			}

		case stateInField:
			switch c {
			case l.delim:
				l.endField()
				l.state = stateFieldStart
			case '\n':
				n, err := l.endRecord(abs, handler)
				if err != nil {
					return emitted, err
				}
				emitted += n
				if maxLines > 0 && emitted >= maxLines {
					return emitted, nil
				}
			case '\r':
				// discarded outside quotes
			default:
				l.recordBuf = append(l.recordBuf, c)
			}

		case stateInQuoted:
			if c == '"' {
				l.state = stateQuoteInQuoted
			} else {
				l.recordBuf = append(l.recordBuf, c)
			}

		case stateQuoteInQuoted:
			switch c {
			case '"':
				l.recordBuf = append(l.recordBuf, '"')
				l.state = stateInQuoted
			case l.delim:
				l.endField()
				l.state = stateFieldStart
			case '\n':
				n, err := l.endRecord(abs, handler)
				if err != nil {
					return emitted, err
				}
				emitted += n
				if maxLines > 0 && emitted >= maxLines {
					return emitted, nil
				}
			case '\r':
				// wait for the \n that closes the record
			default:
				// stray byte after a closing quote; treat as literal
				l.recordBuf = append(l.recordBuf, c)
				l.state = stateInField
			}
		}
	}

	return emitted, nil
}

// ParseLast emits a trailing record that has no final newline.
func (l *Lexer) ParseLast(endOffset int64, handler FieldHandler) error {
	if !l.started {
		return nil
	}
	_, err := l.endRecord(endOffset-1, handler)
	return err
}

func (l *Lexer) endField() {
	l.fieldEnds = append(l.fieldEnds, len(l.recordBuf))
}

// endRecord finalizes the pending record at the newline with absolute
// offset nlOffset and invokes the handler unless the record is
// suppressed. Returns 1 when a record was emitted.
func (l *Lexer) endRecord(nlOffset int64, handler FieldHandler) (int64, error) {
	l.endField()

	rawLen := int(nlOffset - l.lineOffset + 1)
	if rawLen > l.maxLineLength {
		l.maxLineLength = rawLen
	}

	l.fields = l.fields[:0]
	prev := 0
	for _, end := range l.fieldEnds {
		l.fields = append(l.fields, l.recordBuf[prev:end])
		prev = end
	}

	lineNumber := l.lineNumber
	l.lineNumber++

	fields := l.fields
	l.recordBufReset()

	if l.ignoreNextLine {
		l.ignoreNextLine = false
		return 0, nil
	}

	if l.expectedFields > 0 && len(fields) > l.expectedFields && l.skipLinesWithExtraValues {
		l.skippedLines++
		return 0, nil
	}

	if handler != nil {
		if err := handler(lineNumber, l.prevLineOffset(), fields); err != nil {
			return 0, err
		}
	}
	return 1, nil
}

// prevLineOffset returns the start offset of the record just finalized.
func (l *Lexer) prevLineOffset() int64 {
	return l.lineOffset
}

func (l *Lexer) recordBufReset() {
	l.recordBuf = l.recordBuf[:0]
	l.fieldEnds = l.fieldEnds[:0]
	l.started = false
}
