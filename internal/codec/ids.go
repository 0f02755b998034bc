package codec

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Identifier prefixes clients use to tell entity kinds apart.
const (
	PrefixChatCompletion = "chatcmpl-"
	PrefixResponse       = "resp_"
	PrefixMessage        = "msg_"
	PrefixCall           = "call_"
	PrefixFunctionItem   = "fc_"
	PrefixReasoning      = "rs_"
	PrefixFingerprint    = "fp_"
)

func randomHex(n int) string {
	h := strings.ReplaceAll(uuid.NewString(), "-", "")
	if n > len(h) {
		n = len(h)
	}
	return h[:n]
}

// NewChatID returns a time-based chat completion identifier.
func NewChatID() string {
	return PrefixChatCompletion + strconv.FormatInt(time.Now().UnixMilli(), 10) + randomHex(8)
}

func NewFingerprint() string    { return PrefixFingerprint + randomHex(10) }
func NewCallID() string         { return PrefixCall + randomHex(24) }
func NewResponseID() string     { return PrefixResponse + randomHex(32) }
func NewMessageID() string      { return PrefixMessage + randomHex(32) }
func NewFunctionItemID() string { return PrefixFunctionItem + randomHex(32) }
func NewReasoningID() string    { return PrefixReasoning + randomHex(32) }

// CallIDOr returns id when it is set, otherwise a fresh call identifier.
func CallIDOr(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return NewCallID()
}
