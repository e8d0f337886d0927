package protocol

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/benmeehan/hyperate-agent/internal/models"
)

// URLStyle selects how the device id reaches the server.
type URLStyle string

const (
	// URLStylePath appends the device id to the path: <base>/<device>?token=...
	URLStylePath URLStyle = "path"
	// URLStyleSocket uses the shared Phoenix socket endpoint; the device id
	// only travels in the join topic.
	URLStyleSocket URLStyle = "socket"
)

// BuildURL returns the WebSocket URL for one connection attempt.
// vsn is the Phoenix serializer version and is only sent for URLStyleSocket.
func BuildURL(base string, style URLStyle, session models.SessionConfig, vsn string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid server url %q: %w", base, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("invalid server url %q: scheme must be ws or wss", base)
	}

	query := u.Query()
	if session.AuthToken != "" {
		query.Set("token", session.AuthToken)
	}

	switch style {
	case URLStylePath, "":
		u.Path = strings.TrimRight(u.Path, "/") + "/" + url.PathEscape(session.DeviceID)
	case URLStyleSocket:
		if vsn != "" {
			v, err := semver.NewVersion(vsn)
			if err != nil {
				return "", fmt.Errorf("invalid protocol version %q: %w", vsn, err)
			}
			query.Set("vsn", v.String())
		}
	default:
		return "", fmt.Errorf("unknown url style %q", style)
	}

	u.RawQuery = query.Encode()
	return u.String(), nil
}
