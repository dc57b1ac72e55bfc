package compiler

import (
	"bytes"
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrNoRuntimeCode is returned when no constructor/runtime boundary exists.
	ErrNoRuntimeCode = errors.New("no runtime code found after constructor")
	// ErrEmptyCode is returned for an empty program.
	ErrEmptyCode = errors.New("empty bytecode")
	// ErrNotHex is returned by DecodeHex for anything but even-length hex text.
	ErrNotHex = errors.New("not hex bytecode")
)

// ParseCode accepts hex text, with or without a 0x prefix, or raw bytecode.
// Raw code made only of bytes that are ASCII hex digits reads as hex text;
// callers that know the encoding use DecodeHex or the raw bytes directly.
func ParseCode(input []byte) []byte {
	if code, err := DecodeHex(input); err == nil {
		return code
	}
	return input
}

// DecodeHex decodes hex text, with or without a 0x prefix. Surrounding
// whitespace is ignored.
func DecodeHex(text []byte) ([]byte, error) {
	text = bytes.TrimSpace(text)
	if !isHexText(text) {
		return nil, ErrNotHex
	}
	return common.FromHex(string(text)), nil
}

func isHexText(b []byte) bool {
	if len(b) >= 2 && b[0] == '0' && (b[1] == 'x' || b[1] == 'X') {
		b = b[2:]
	}
	if len(b) == 0 || len(b)%2 != 0 {
		return false
	}
	for _, c := range b {
		switch {
		case '0' <= c && c <= '9', 'a' <= c && c <= 'f', 'A' <= c && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// Program is a deployment blob split into its constructor and runtime parts.
type Program struct {
	Code          []byte // the whole input
	RuntimeOffset int
}

// Runtime returns the runtime portion of the program.
func (p *Program) Runtime() []byte { return p.Code[p.RuntimeOffset:] }

// Constructor returns the deploy-time portion of the program.
func (p *Program) Constructor() []byte { return p.Code[:p.RuntimeOffset] }

// Split locates the runtime code: the first PUSH1 after the constructor has
// executed CODECOPY and then RETURN.
func Split(code []byte) (*Program, error) {
	if len(code) == 0 {
		return nil, ErrEmptyCode
	}
	var sawCopy, sawReturn bool
	for pc := 0; pc < len(code); {
		op := ByteCode(code[pc])
		switch {
		case sawReturn && op == PUSH1:
			return &Program{Code: code, RuntimeOffset: pc}, nil
		case op == CODECOPY:
			sawCopy = true
		case op == RETURN && sawCopy:
			sawReturn = true
		}
		pc += 1 + op.PushSize()
	}
	return nil, ErrNoRuntimeCode
}
