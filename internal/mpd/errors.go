package mpd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// ErrorKind classifies an Error. The first block mirrors MPD's ACK codes.
type ErrorKind int

const (
	NotAList ErrorKind = iota
	WrongArgument
	IncorrectPassword
	PermissionDenied
	UnknownCommand
	DoesNotExist
	PlaylistTooLarge
	System
	PlaylistLoad
	CannotUpdate
	PlayerSync
	AlreadyExists

	// IO is a network failure on the stream
	IO
	// UTF8 is a response line that is not valid UTF-8
	UTF8
	// InvalidConnection is a failed handshake, the peer is not MPD
	InvalidConnection
	// KeyValue is a response with too many lines that are not "key: value"
	KeyValue
	// Protocol is an ACK line that could not be parsed
	Protocol
	// Other is anything else
	Other
)

var ackCodes = map[uint64]ErrorKind{
	1:  NotAList,
	2:  WrongArgument,
	3:  IncorrectPassword,
	4:  PermissionDenied,
	5:  UnknownCommand,
	50: DoesNotExist,
	51: PlaylistTooLarge,
	52: System,
	53: PlaylistLoad,
	54: CannotUpdate,
	55: PlayerSync,
	56: AlreadyExists,
}

var kindNames = map[ErrorKind]string{
	NotAList:          "not a list",
	WrongArgument:     "wrong argument",
	IncorrectPassword: "incorrect password",
	PermissionDenied:  "permission denied",
	UnknownCommand:    "unknown command",
	DoesNotExist:      "does not exist",
	PlaylistTooLarge:  "playlist too large",
	System:            "system error",
	PlaylistLoad:      "playlist load",
	CannotUpdate:      "cannot update",
	PlayerSync:        "player sync",
	AlreadyExists:     "already exists",
	IO:                "i/o",
	UTF8:              "invalid utf-8",
	InvalidConnection: "invalid connection",
	KeyValue:          "key-value",
	Protocol:          "protocol",
	Other:             "other",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// IsACK reports whether the kind was reported by the backend in an ACK line
func (k ErrorKind) IsACK() bool {
	return k >= NotAList && k <= AlreadyExists
}

// Error is returned by every MPD operation. ACK errors carry the failed command,
// its position in a command list and the server message; the rest wrap Err.
type Error struct {
	Kind ErrorKind

	Command   string
	ListIndex uint32
	Message   string

	Err error
}

func (e *Error) Error() string {
	if e.Kind.IsACK() {
		return fmt.Sprintf("%s: at command %s (#%d)", e.Message, e.Command, e.ListIndex)
	}
	if e.Err != nil {
		if e.Message != "" {
			return fmt.Sprintf("%s: %v", e.Message, e.Err)
		}
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapError(kind ErrorKind, err error) *Error {
	var mpdErr *Error
	if errors.As(err, &mpdErr) {
		return mpdErr
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the kind of an error chain, Other for foreign errors
func KindOf(err error) ErrorKind {
	var mpdErr *Error
	if errors.As(err, &mpdErr) {
		return mpdErr.Kind
	}
	return Other
}

// IsTransient reports whether a failed request is worth a reconnect and retry.
// ACK errors are semantic rejections and handshake failures mean the wrong peer.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case IO, UTF8, KeyValue, Protocol:
		return true
	default:
		return false
	}
}

// CodePolicy decides what happens to an ACK code that is not in the known table
type CodePolicy int

const (
	// StrictCodes rejects unknown codes with an InvalidCode parse error
	StrictCodes CodePolicy = iota
	// LenientCodes maps unknown codes to UnknownCommand
	LenientCodes
)

// ParseErrorKind classifies a ParseError
type ParseErrorKind int

const (
	EmptyString ParseErrorKind = iota
	UnexpectedSymbol
	ExpectedNumber
	InvalidCode
)

func (k ParseErrorKind) String() string {
	switch k {
	case EmptyString:
		return "cannot parse error from empty string"
	case UnexpectedSymbol:
		return "encountered an unexpected symbol"
	case ExpectedNumber:
		return "expected a number"
	default:
		return "got invalid error code"
	}
}

// ParseError means an ACK line could not be interpreted at all. It is a different
// type from Error so callers can tell a server rejection from a garbled report.
type ParseError struct {
	Kind ParseErrorKind
	// Pos is the zero based character offset of the failure
	Pos int
	// Expected is the character the parser wanted, 0 if none
	Expected rune
}

func (e *ParseError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.String())
	if e.Expected != 0 {
		fmt.Fprintf(&sb, ", expected char '%c'", e.Expected)
	}
	fmt.Fprintf(&sb, " at position %d", e.Pos)
	return sb.String()
}

func expectedChar(chr rune, pos int) *ParseError {
	return &ParseError{Kind: UnexpectedSymbol, Pos: pos, Expected: chr}
}

func expectedNumber(pos int) *ParseError {
	return &ParseError{Kind: ExpectedNumber, Pos: pos}
}

type ackState int

const (
	expectACK ackState = iota
	expectOpenBracket
	readErrorCode
	readListIndex
	expectOpenBrace
	readFailedCommand
	readMessage
)

const ackLiteral = "ACK"

// ParseACK parses a line of the form
//
//	ACK [<code>@<list_index>] {<failed_command>} <message>
//
// into an Error. On failure the returned error is a *ParseError.
func ParseACK(line string, policy CodePolicy) (*Error, error) {
	if line == "" {
		return nil, &ParseError{Kind: EmptyString, Pos: 0}
	}

	var (
		state     = expectACK
		pos       = -1 // character offset of the current rune
		begin     int  // byte offset where the current field starts
		codeStart int  // character offset of the first code digit
		kind      ErrorKind
		listIndex uint32
		command   string
	)

	for i, chr := range line {
		pos++

		switch state {
		case expectACK:
			if chr != rune(ackLiteral[pos]) {
				return nil, expectedChar(rune(ackLiteral[pos]), pos)
			}
			if pos == len(ackLiteral)-1 {
				state = expectOpenBracket
			}

		case expectOpenBracket:
			if chr == '[' {
				begin = i + 1
				codeStart = pos + 1
				state = readErrorCode
			} else if !unicode.IsSpace(chr) {
				return nil, expectedChar('[', pos)
			}

		case readErrorCode:
			if chr == '@' {
				digits := line[begin:i]
				if digits == "" {
					return nil, expectedNumber(pos)
				}
				code, err := strconv.ParseUint(digits, 10, 32)
				if err != nil {
					return nil, &ParseError{Kind: InvalidCode, Pos: codeStart}
				}
				mapped, ok := ackCodes[code]
				if !ok {
					if policy != LenientCodes {
						return nil, &ParseError{Kind: InvalidCode, Pos: codeStart}
					}
					mapped = UnknownCommand
				}
				kind = mapped
				begin = i + 1
				state = readListIndex
			} else if chr < '0' || chr > '9' {
				return nil, expectedNumber(pos)
			}

		case readListIndex:
			if chr == ']' {
				n, err := strconv.ParseUint(line[begin:i], 10, 32)
				if err != nil {
					return nil, expectedNumber(pos)
				}
				listIndex = uint32(n)
				state = expectOpenBrace
			} else if chr < '0' || chr > '9' {
				return nil, expectedNumber(pos)
			}

		case expectOpenBrace:
			if chr == '{' {
				begin = i + 1
				state = readFailedCommand
			} else if !unicode.IsSpace(chr) {
				return nil, expectedChar('{', pos)
			}

		case readFailedCommand:
			if chr == '}' {
				command = line[begin:i]
				begin = i + 1
				state = readMessage
			}
		}

		if state == readMessage {
			break
		}
	}

	last := len([]rune(line)) - 1
	if state != readMessage {
		return nil, &ParseError{Kind: UnexpectedSymbol, Pos: last}
	}

	message := strings.TrimSpace(line[begin:])
	if message == "" {
		return nil, &ParseError{Kind: UnexpectedSymbol, Pos: last}
	}

	return &Error{
		Kind:      kind,
		Command:   command,
		ListIndex: listIndex,
		Message:   message,
	}, nil
}
