package mpd

import (
	"bufio"
	"strings"
	"unicode/utf8"
)

const (
	responseOK  = "OK"
	responseACK = "ACK"

	listBegin = "command_list_begin"
	listEnd   = "command_list_end"

	// maxMalformedLines is how many consecutive lines without a ": " separator
	// a response may carry before it is rejected
	maxMalformedLines = 3
)

// Pair is one "key: value" line of a response
type Pair struct {
	Key   string
	Value string
}

// Encode frames a single command. Commands must fit on one line.
func Encode(command string) ([]byte, error) {
	if strings.ContainsAny(command, "\r\n") {
		return nil, newError(Other, "command %q contains a line break", command)
	}
	buf := make([]byte, 0, len(command)+1)
	buf = append(buf, command...)
	return append(buf, '\n'), nil
}

// EncodeList frames commands as one command_list batch. The backend answers the
// whole batch with a single OK, or with an ACK naming the failed list index.
func EncodeList(commands ...string) ([]byte, error) {
	var sb strings.Builder
	sb.WriteString(listBegin)
	sb.WriteByte('\n')
	for _, command := range commands {
		frame, err := Encode(command)
		if err != nil {
			return nil, err
		}
		sb.Write(frame)
	}
	sb.WriteString(listEnd)
	sb.WriteByte('\n')
	return []byte(sb.String()), nil
}

// Quote wraps an argument in double quotes, escaping quotes and backslashes
func Quote(arg string) string {
	var sb strings.Builder
	sb.Grow(len(arg) + 2)
	sb.WriteByte('"')
	for _, r := range arg {
		if r == '"' || r == '\\' {
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	sb.WriteByte('"')
	return sb.String()
}

// splitPair splits a line at the first ": ". The value keeps any later separators.
func splitPair(line string) (Pair, bool) {
	key, value, ok := strings.Cut(line, ": ")
	if !ok {
		return Pair{}, false
	}
	return Pair{Key: key, Value: strings.TrimSpace(value)}, true
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", wrapError(IO, err)
	}
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r"), nil
}

// ReadResponse reads one response up to its OK or ACK terminator.
//
// An ACK line becomes an *Error with the server's code, or a Protocol error when
// the line cannot be parsed. Invalid UTF-8 and runs of malformed lines fail the
// response, but the remaining lines are still consumed so the next request
// starts at a response boundary.
func ReadResponse(r *bufio.Reader, policy CodePolicy) ([]Pair, error) {
	var (
		pairs     []Pair
		malformed int
		failure   *Error
	)

	for {
		line, err := readLine(r)
		if err != nil {
			return nil, err
		}

		if line == responseOK {
			if failure != nil {
				return nil, failure
			}
			return pairs, nil
		}

		if strings.HasPrefix(line, responseACK) {
			if failure != nil {
				return nil, failure
			}
			ack, parseErr := ParseACK(line, policy)
			if parseErr != nil {
				return nil, &Error{Kind: Protocol, Message: "unparseable ACK line", Err: parseErr}
			}
			return nil, ack
		}

		if failure != nil {
			continue
		}

		if !utf8.ValidString(line) {
			failure = newError(UTF8, "response line is not valid UTF-8")
			continue
		}

		pair, ok := splitPair(line)
		if !ok {
			malformed++
			if malformed >= maxMalformedLines {
				failure = newError(KeyValue, "%d consecutive lines are not key-value pairs", malformed)
			}
			continue
		}
		malformed = 0
		pairs = append(pairs, pair)
	}
}
