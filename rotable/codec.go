package rotable

import (
	"fmt"
	"strings"
)

// ackToken marks a line as an acknowledgement wherever it appears.
const ackToken = "OK"

// EncodeLine returns cmd as UTF-8 bytes terminated by a single '\n'.
func EncodeLine(cmd string) []byte {
	b := make([]byte, 0, len(cmd)+1)
	b = append(b, cmd...)

	return append(b, '\n')
}

// DecodeLine decodes a raw line, stripping any trailing "\r" and "\n".
// Invalid UTF-8 sequences are replaced with U+FFFD.
func DecodeLine(b []byte) string {
	s := strings.TrimRight(string(b), "\r\n")

	return strings.ToValidUTF8(s, "\uFFFD")
}

// IsAck reports whether line acknowledges a command.
//
// The firmware may prefix the token with diagnostic text, so any line that
// contains "OK" counts, e.g. "stepsOK".
func IsAck(line string) bool {
	return strings.Contains(line, ackToken)
}

// FormatCommand joins verb and args with single spaces. Arguments are
// rendered with their default format, so booleans become "true" or "false".
func FormatCommand(verb string, args ...any) string {
	var sb strings.Builder
	sb.WriteString(verb)
	for _, arg := range args {
		sb.WriteByte(' ')
		fmt.Fprint(&sb, arg)
	}

	return sb.String()
}
