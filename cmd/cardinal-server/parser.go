// Cardinal speaks RESP (REdis Serialization Protocol) on the wire.
//
// Speaking RESP means the server works out of the box with redis-cli,
// redis-benchmark and every Redis client library, so nobody needs a custom
// driver to talk to it. RESP is also length-prefixed, which makes it safe
// to ship arbitrary binary data (like serialized sketches) without any
// escaping.
//
// A server only ever receives commands in two shapes, and this parser
// implements exactly those:
//
// RESP Arrays (standard): an Array (*) of Bulk Strings ($), the format all
// programmatic clients use. Example: "*2\r\n$8\r\nSK.COUNT\r\n$1\r\nk\r\n"
//
// Inline commands (human/debug): space-separated words on one line, the
// format netcat and telnet produce. Example: "SK.COUNT k\r\n"
//
// The parser is hardened against hostile clients. Declared bulk lengths
// and array counts are bounded before any allocation happens, and line
// accumulation is capped, so neither "$999999999" nor a never-ending line
// can exhaust memory.

package main

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strconv"
)

// Protocol limits. These match Redis defaults and exist purely to bound
// what a single client can make the server allocate.
const (
	// MaxBulkLength limits bulk string size to 512MB.
	MaxBulkLength = 512 * 1024 * 1024

	// MaxArrayLen limits the number of elements in a RESP array.
	MaxArrayLen = 1 << 20

	// MaxLineSize limits header/inline command line length.
	MaxLineSize = 64 * 1024
)

var (
	ErrInvalidSyntax = errors.New("ERR protocol error: invalid syntax")
	ErrLineTooLong   = errors.New("ERR protocol error: line too long")
	ErrBulkTooLarge  = errors.New("ERR protocol error: bulk string exceeds 512MB limit")
	ErrArrayTooLong  = errors.New("ERR protocol error: array exceeds 1M elements limit")
)

type Parser struct {
	reader *bufio.Reader
}

func NewParser(conn io.Reader) *Parser {
	return &Parser{
		reader: bufio.NewReaderSize(conn, 4096),
	}
}

// Parse reads one command from the connection, in either supported format.
func (p *Parser) Parse() ([]string, error) {
	line, err := p.readLine()
	if err != nil {
		return nil, err
	}

	if len(line) == 0 {
		return nil, ErrInvalidSyntax
	}

	// '*' starts a RESP array; anything else is an inline command.
	if line[0] == '*' {
		return p.parseRESPArray(line)
	}

	return p.parseInline(line)
}

// readLine reads bytes until '\n', enforcing MaxLineSize so a client that
// never sends a newline cannot buffer without bound.
func (p *Parser) readLine() ([]byte, error) {
	line, isPrefix, err := p.reader.ReadLine()
	if err != nil {
		return nil, err
	}

	// Fast path: the whole line fit in the buffer.
	if !isPrefix {
		return line, nil
	}

	var buf bytes.Buffer
	buf.Write(line)

	for isPrefix {
		line, isPrefix, err = p.reader.ReadLine()
		if err != nil {
			return nil, err
		}

		// Check before writing so we never allocate past the limit.
		if buf.Len()+len(line) > MaxLineSize {
			return nil, ErrLineTooLong
		}
		buf.Write(line)
	}

	return buf.Bytes(), nil
}

// parseInline splits a space-separated command line.
func (p *Parser) parseInline(line []byte) ([]string, error) {
	parts := bytes.Fields(line)
	if len(parts) == 0 {
		return nil, ErrInvalidSyntax
	}

	result := make([]string, len(parts))
	for i, part := range parts {
		result[i] = string(part)
	}

	return result, nil
}

// parseRESPArray parses the standard *<count> array-of-bulk-strings form.
func (p *Parser) parseRESPArray(header []byte) ([]string, error) {
	count, err := strconv.Atoi(string(bytes.TrimSpace(header[1:])))
	if err != nil {
		return nil, ErrInvalidSyntax
	}

	// Null (*-1) and empty (*0) arrays.
	if count <= 0 {
		return []string{}, nil
	}

	if count > MaxArrayLen {
		return nil, ErrArrayTooLong
	}

	command := make([]string, 0, count)
	for i := 0; i < count; i++ {
		str, err := p.parseBulkString()
		if err != nil {
			return nil, err
		}
		command = append(command, str)
	}

	return command, nil
}

// Buffered returns the number of bytes waiting in the read buffer. A
// non-zero value means the client pipelined further commands, which lets
// the connection loop delay flushing responses.
func (p *Parser) Buffered() int {
	return p.reader.Buffered()
}

// parseBulkString reads one $<length>\r\n<data>\r\n element. Null bulk
// strings ($-1) decode to an empty string since no command here
// distinguishes the two.
func (p *Parser) parseBulkString() (string, error) {
	line, err := p.readLine()
	if err != nil {
		return "", err
	}

	if len(line) == 0 || line[0] != '$' {
		return "", ErrInvalidSyntax
	}

	length, err := strconv.Atoi(string(bytes.TrimSpace(line[1:])))
	if err != nil {
		return "", ErrInvalidSyntax
	}

	if length == -1 {
		return "", nil
	}
	if length < 0 {
		return "", ErrInvalidSyntax
	}
	if length > MaxBulkLength {
		return "", ErrBulkTooLarge
	}

	// Read data plus the trailing CRLF in one go.
	buf := make([]byte, length+2)
	if _, err := io.ReadFull(p.reader, buf); err != nil {
		return "", err
	}

	if buf[length] != '\r' || buf[length+1] != '\n' {
		return "", ErrInvalidSyntax
	}

	return string(buf[:length]), nil
}
