package hmr

import (
	"encoding/json"
	"fmt"

	"github.com/hotrun-dev/hotrun/internal/errors"
)

// PayloadType identifies a hot-update payload.
type PayloadType string

const (
	PayloadConnected  PayloadType = "connected"
	PayloadUpdate     PayloadType = "update"
	PayloadFullReload PayloadType = "full-reload"
	PayloadError      PayloadType = "error"
	PayloadClear      PayloadType = "clear"
)

// Update kinds carried in an update payload.
const (
	UpdateModule = "module-update"
	UpdateCSS    = "css-update"
)

// Update is one changed module in an update payload.
type Update struct {
	Type      string `json:"type"`
	Path      string `json:"path"`
	Timestamp int64  `json:"timestamp"`
}

// ErrorInfo describes an error payload.
type ErrorInfo struct {
	Message string `json:"message"`
	Module  string `json:"module,omitempty"`
}

// Payload is one hot-update message.
type Payload struct {
	Type    PayloadType `json:"type"`
	Updates []Update    `json:"updates,omitempty"`
	Path    string      `json:"path,omitempty"`
	Err     *ErrorInfo  `json:"err,omitempty"`
}

// Encode returns the JSON form of p.
func Encode(p Payload) []byte {
	data, err := json.Marshal(p)
	if err != nil {
		// Payload holds only strings and ints.
		panic(err)
	}
	return data
}

// Decode parses and validates a payload. Malformed JSON or an update without
// paths is an H300 error; an unknown type is H301.
func Decode(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, errors.New("H300").WithDetail(truncate(string(data), 120)).Wrap(err)
	}

	switch p.Type {
	case PayloadConnected, PayloadFullReload, PayloadError, PayloadClear:
		return p, nil
	case PayloadUpdate:
		if len(p.Updates) == 0 {
			return Payload{}, errors.New("H300").Wrap(fmt.Errorf("update payload has no updates"))
		}
		for i, u := range p.Updates {
			if u.Path == "" {
				return Payload{}, errors.New("H300").Wrap(fmt.Errorf("update %d has no path", i))
			}
		}
		return p, nil
	case "":
		return Payload{}, errors.New("H300").Wrap(fmt.Errorf("payload has no type"))
	default:
		return Payload{}, errors.New("H301").WithDetail(fmt.Sprintf("type %q", p.Type))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
