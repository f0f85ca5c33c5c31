package transaction

// 定义事务层常见异常
import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/zenghr0820/sipcore/sip"
)

var (
	// ErrLayerClosed is returned once Close has been called.
	ErrLayerClosed = errors.New("transaction layer closed")
	// ErrMailboxFull signals that the layer cannot keep up.
	ErrMailboxFull = errors.New("transaction mailbox full")
	// ErrUnmatchedResponse marks a response that belongs to no client
	// transaction; such responses are dropped.
	ErrUnmatchedResponse = errors.New("unmatched response")
	// ErrTimeout is the cause of every TxTimeoutError.
	ErrTimeout = errors.New("transaction timed out")
)

type TxError interface {
	error
	Key() sip.TxKey
	Timeout() bool
	Transport() bool
}

// 事务超时异常
type TxTimeoutError struct {
	Err   error
	TxKey sip.TxKey
	Timer string
}

func (err *TxTimeoutError) Unwrap() error   { return err.Err }
func (err *TxTimeoutError) Timeout() bool   { return true }
func (err *TxTimeoutError) Transport() bool { return false }
func (err *TxTimeoutError) Key() sip.TxKey  { return err.TxKey }
func (err *TxTimeoutError) Error() string {
	if err == nil {
		return "<nil>"
	}

	return fmt.Sprintf("transaction.TxTimeoutError<%s timer %s>: %s", err.TxKey, err.Timer, err.Err)
}

// 传输层异常
type TxTransportError struct {
	Err   error
	TxKey sip.TxKey
}

func (err *TxTransportError) Unwrap() error   { return err.Err }
func (err *TxTransportError) Timeout() bool   { return false }
func (err *TxTransportError) Transport() bool { return true }
func (err *TxTransportError) Key() sip.TxKey  { return err.TxKey }
func (err *TxTransportError) Error() string {
	if err == nil {
		return "<nil>"
	}

	return fmt.Sprintf("transaction.TxTransportError<%s>: %s", err.TxKey, err.Err)
}
