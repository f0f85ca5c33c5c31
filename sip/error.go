package sip

import (
	"fmt"

	"github.com/pkg/errors"
)

// 消息解析异常
type MessageError interface {
	error
	// Malformed: 语法正确, 但缺少必需的头或头的值无效
	Malformed() bool
	// Broken: 不完整或不是 SIP 消息
	Broken() bool
}

// dumpLimit bounds the raw message kept in an error.
const dumpLimit = 512

func describe(kind string, err error, raw string) string {
	s := kind + ": " + err.Error()
	if raw == "" {
		return s
	}
	if len(raw) > dumpLimit {
		raw = raw[:dumpLimit] + "..."
	}
	return fmt.Sprintf("%s\nMessage dump:\n%s", s, raw)
}

// BrokenMessageError 消息不完整, 或不是 SIP 消息
type BrokenMessageError struct {
	Err error
	Msg string
}

func (err *BrokenMessageError) Unwrap() error   { return err.Err }
func (err *BrokenMessageError) Malformed() bool { return false }
func (err *BrokenMessageError) Broken() bool    { return true }
func (err *BrokenMessageError) Error() string {
	if err == nil {
		return "<nil>"
	}
	return describe("BrokenMessageError", err.Err, err.Msg)
}

// MalformedMessageError 语法正确但逻辑上无效的消息
type MalformedMessageError struct {
	Err error
	Msg string
}

func (err *MalformedMessageError) Unwrap() error   { return err.Err }
func (err *MalformedMessageError) Malformed() bool { return true }
func (err *MalformedMessageError) Broken() bool    { return false }
func (err *MalformedMessageError) Error() string {
	if err == nil {
		return "<nil>"
	}
	return describe("MalformedMessageError", err.Err, err.Msg)
}

// IsParseError reports whether err came out of ParseMessage.
func IsParseError(err error) bool {
	var msgErr MessageError
	return errors.As(err, &msgErr)
}
