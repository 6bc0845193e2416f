// ABOUTME: Session states and transport error classification
// ABOUTME: Transient network phrases trigger automatic reconnection instead of user-facing errors

package session

import (
	"errors"
	"strings"
)

// ErrNotConnected is surfaced when recording is requested without a connection
var ErrNotConnected = errors.New("请先连接服务器")

// State is the realtime session state
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateRecording
	StateReconnectPending
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateRecording:
		return "recording"
	case StateReconnectPending:
		return "reconnect_pending"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

var transientPhrases = []string{
	"software caused connection abort",
	"connection aborted",
	"connection was lost",
	"network connection was lost",
	"connection reset",
	"broken pipe",
	"abnormal closure",
}

var localizedTransientPhrases = []string{
	"连接终止",
	"连接已终止",
	"软件导致连接终止",
	"网络连接已断开",
}

// IsTransient reports whether a transport error message describes a network
// drop worth reconnecting after
func IsTransient(msg string) bool {
	lower := strings.ToLower(msg)
	for _, p := range transientPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	for _, p := range localizedTransientPhrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
