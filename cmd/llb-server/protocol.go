package main

import (
	"strconv"
	"strings"
)

// encodeCommand serializes a command and its arguments as a RESP array of
// bulk strings, the same wire form clients send. The persistence layer
// appends these to the journal, which keeps the log human-readable and
// replayable by the normal request parser.
//
// Example:
//
//	Input:  "LLB.ADD", ["users", "alice"]
//	Output: "*3\r\n$7\r\nLLB.ADD\r\n$5\r\nusers\r\n$5\r\nalice\r\n"
func encodeCommand(command string, args []string) []byte {
	var sb strings.Builder
	sb.Grow(64)

	sb.WriteString("*")
	sb.WriteString(strconv.Itoa(len(args) + 1))
	sb.WriteString("\r\n")

	sb.WriteString("$")
	sb.WriteString(strconv.Itoa(len(command)))
	sb.WriteString("\r\n")
	sb.WriteString(command)
	sb.WriteString("\r\n")

	for _, arg := range args {
		sb.WriteString("$")
		sb.WriteString(strconv.Itoa(len(arg)))
		sb.WriteString("\r\n")
		sb.WriteString(arg)
		sb.WriteString("\r\n")
	}

	return []byte(sb.String())
}
