// parser.go implements the request half of RESP (REdis Serialization
// Protocol). Speaking RESP means the server works out of the box with
// redis-cli, redis-benchmark, and every standard Redis client library,
// and the length-prefixed framing keeps arbitrary binary arguments safe
// without escaping.
//
// Only the two formats a server ever receives are implemented:
//
//   - RESP arrays of bulk strings ("*2\r\n$9\r\nLLB.COUNT\r\n$5\r\nusers\r\n"),
//     the standard programmatic form, and
//   - inline commands ("LLB.COUNT users\r\n"), the space-separated form
//     produced by netcat/telnet during manual debugging.
//
// The parser is hardened against hostile input: bulk string lengths,
// array element counts, and line lengths are all capped before any
// allocation happens, so a client cannot force a huge allocation or
// unbounded buffering with a forged header.

package main

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strconv"
)

const (
	// MaxBulkLength caps one argument at 512MB, the Redis limit.
	MaxBulkLength = 512 * 1024 * 1024

	// MaxArrayLen caps the element count of one command.
	MaxArrayLen = 1 << 20

	// MaxLineSize caps header and inline command lines.
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

func NewParser(r io.Reader) *Parser {
	return &Parser{
		reader: bufio.NewReaderSize(r, 4096),
	}
}

// Parse reads a single command, in either RESP array or inline form.
func (p *Parser) Parse() ([]string, error) {
	line, err := p.readLine()
	if err != nil {
		return nil, err
	}
	if len(line) == 0 {
		return nil, ErrInvalidSyntax
	}

	if line[0] == '*' {
		return p.parseRESPArray(line)
	}
	return p.parseInline(line)
}

// Buffered returns the number of unconsumed bytes in the read buffer.
// A non-zero value means the client pipelined further commands; the
// connection loop uses this to delay flushing responses.
func (p *Parser) Buffered() int {
	return p.reader.Buffered()
}

// readLine reads up to '\n', enforcing MaxLineSize so a client that never
// sends a newline cannot grow the buffer without bound.
func (p *Parser) readLine() ([]byte, error) {
	line, isPrefix, err := p.reader.ReadLine()
	if err != nil {
		return nil, err
	}
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
		if buf.Len()+len(line) > MaxLineSize {
			return nil, ErrLineTooLong
		}
		buf.Write(line)
	}
	return buf.Bytes(), nil
}

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

func (p *Parser) parseRESPArray(header []byte) ([]string, error) {
	count, err := strconv.Atoi(string(bytes.TrimSpace(header[1:])))
	if err != nil {
		return nil, ErrInvalidSyntax
	}

	// Null (*-1) and empty (*0) arrays are valid but carry no command.
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

// parseBulkString reads one "$<length>\r\n<data>\r\n" element. Null bulk
// strings ($-1) decode to the empty string; no command here distinguishes
// null from empty.
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

	// Data plus trailing CRLF in one read.
	buf := make([]byte, length+2)
	if _, err := io.ReadFull(p.reader, buf); err != nil {
		return "", err
	}
	if buf[length] != '\r' || buf[length+1] != '\n' {
		return "", ErrInvalidSyntax
	}
	return string(buf[:length]), nil
}
