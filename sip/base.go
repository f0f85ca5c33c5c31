package sip

import (
	"fmt"
	"strings"

	uuid "github.com/satori/go.uuid"
	"github.com/zenghr0820/sipcore/utils"
)

/**
设置一些常用的类型
*/
const SipVersion string = "SIP/2.0"

// 请求类型
type RequestMethod string

func (method RequestMethod) String() string {
	return string(method)
}

// It's nicer to avoid using raw strings to represent methods, so the following standard
// method names are defined here as constants for convenience.
const (
	INVITE    RequestMethod = "INVITE"
	ACK       RequestMethod = "ACK"
	CANCEL    RequestMethod = "CANCEL"
	MESSAGE   RequestMethod = "MESSAGE"
	BYE       RequestMethod = "BYE"
	REGISTER  RequestMethod = "REGISTER"
	OPTIONS   RequestMethod = "OPTIONS"
	SUBSCRIBE RequestMethod = "SUBSCRIBE"
	NOTIFY    RequestMethod = "NOTIFY"
	REFER     RequestMethod = "REFER"
	INFO      RequestMethod = "INFO"
	PUBLISH   RequestMethod = "PUBLISH"
	UPDATE    RequestMethod = "UPDATE"
	PRACK     RequestMethod = "PRACK"
)

const (
	DefaultProtocol      = "UDP"
	DefaultUdpPort  Port = 5060
)

// 符合 RFC - 3261 Branch 的标识
const RFC3261BranchMagicCookie = "z9hG4bK"

// 端口
type Port uint16

// GenerateBranch returns random unique branch ID.
// 生成随机的 Branch Id
func GenerateBranch() string {
	return strings.Join([]string{
		RFC3261BranchMagicCookie,
		utils.RandString(32, false),
	}, "")
}

// GenerateTag returns a random From/To tag.
func GenerateTag() string {
	return utils.RandString(16, false)
}

// GenerateCallID returns a globally unique Call-ID value.
func GenerateCallID(host string) string {
	id := uuid.Must(uuid.NewV4(), nil).String()
	if host == "" {
		return id
	}
	return fmt.Sprintf("%s@%s", id, host)
}

func newMessageID() MessageID {
	return MessageID(uuid.Must(uuid.NewV4(), nil).String())
}
