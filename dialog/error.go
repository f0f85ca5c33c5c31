package dialog

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/zenghr0820/sipcore/sip"
)

var (
	// ErrLayerClosed is returned once Close has been called.
	ErrLayerClosed = errors.New("dialog layer closed")
	// ErrNoAck fails a UAS INVITE dialog whose 2xx was never acknowledged.
	ErrNoAck = errors.New("2xx response not acknowledged")
)

// MethodError rejects a request handed to the wrong UAC entry point.
type MethodError struct {
	Method sip.RequestMethod
	Want   string
}

func (err *MethodError) Error() string {
	return fmt.Sprintf("MethodError: %s request, want %s", err.Method, err.Want)
}
