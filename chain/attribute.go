// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package chain

import "fmt"

// ResponseCode is the outcome an oracle reports for a request.
type ResponseCode byte

const (
	Success                 ResponseCode = 0x00
	ProtocolNotSupported    ResponseCode = 0x10
	ConsensusUnreachable    ResponseCode = 0x12
	NotFound                ResponseCode = 0x14
	Timeout                 ResponseCode = 0x16
	Forbidden               ResponseCode = 0x18
	ResponseTooLarge        ResponseCode = 0x1a
	InsufficientFunds       ResponseCode = 0x1c
	ContentTypeNotSupported ResponseCode = 0x1f
	Error                   ResponseCode = 0xff
)

func (c ResponseCode) String() string {
	switch c {
	case Success:
		return "Success"
	case ProtocolNotSupported:
		return "ProtocolNotSupported"
	case ConsensusUnreachable:
		return "ConsensusUnreachable"
	case NotFound:
		return "NotFound"
	case Timeout:
		return "Timeout"
	case Forbidden:
		return "Forbidden"
	case ResponseTooLarge:
		return "ResponseTooLarge"
	case InsufficientFunds:
		return "InsufficientFunds"
	case ContentTypeNotSupported:
		return "ContentTypeNotSupported"
	case Error:
		return "Error"
	default:
		return fmt.Sprintf("ResponseCode(%d)", byte(c))
	}
}

// Valid reports whether [c] is a known response code.
func (c ResponseCode) Valid() bool {
	switch c {
	case Success, ProtocolNotSupported, ConsensusUnreachable, NotFound, Timeout,
		Forbidden, ResponseTooLarge, InsufficientFunds, ContentTypeNotSupported, Error:
		return true
	default:
		return false
	}
}

// Attribute is extra typed data attached to a transaction.
type Attribute interface {
	// AllowMultiple reports whether a transaction may carry more than one
	// attribute of this type.
	AllowMultiple() bool
}

// HighPriority moves a transaction to the front of the pool. Only the
// committee may use it.
type HighPriority struct{}

func (*HighPriority) AllowMultiple() bool { return false }

// OracleResponse carries the answer to oracle request [ID].
type OracleResponse struct {
	ID     uint64       `serialize:"true" json:"id"`
	Code   ResponseCode `serialize:"true" json:"code"`
	Result []byte       `serialize:"true" json:"result"`
}

func (*OracleResponse) AllowMultiple() bool { return false }
