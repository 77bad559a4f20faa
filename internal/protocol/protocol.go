package protocol

import (
	"encoding/json"
	"strings"
)

const Version = "1.0"

var supportedVersions = []string{"1.0", "0.9"}

// Message types.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypeCatalog = "CATALOG"
	TypeObs     = "OBS"
	TypeCall    = "CALL"
	TypeResult  = "RESULT"
	TypeEvent   = "EVENT"
	TypeStop    = "STOP"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

func IsSupportedVersion(v string) bool {
	v = strings.TrimSpace(v)
	for _, s := range supportedVersions {
		if v == s {
			return true
		}
	}
	return false
}
