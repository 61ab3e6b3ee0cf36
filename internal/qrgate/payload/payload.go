// Package payload builds and classifies the strings carried inside QR codes.
//
// Two shapes exist. Printed action point codes are URLs of the form
//
//	campus://v1/{action_type}?ap={action_point_id}&lc={location_code}
//
// and identity codes are signed tokens starting with token.IdentityPrefix.
package payload

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/campusops/qrgate/internal/qrgate/token"
	"github.com/campusops/qrgate/internal/qrgate/types"
)

const (
	Scheme  = "campus"
	Version = "v1"
)

var (
	ErrUnrecognised       = errors.New("unrecognised payload")
	ErrUnsupportedVersion = errors.New("unsupported payload version")
)

type Kind int

const (
	KindAction Kind = iota + 1
	KindIdentity
)

func (k Kind) String() string {
	switch k {
	case KindAction:
		return "action"
	case KindIdentity:
		return "identity"
	default:
		return "unknown"
	}
}

// Action is the content of a printed action point code.
type Action struct {
	ActionType    string
	ActionPointID string
	LocationCode  string
}

// Parsed is a classified payload. Exactly one of Action or Identity is set,
// according to Kind.
type Parsed struct {
	Kind     Kind
	Action   Action
	Identity string
}

// ForActionPoint returns the static payload printed for a mode_b point.
func ForActionPoint(ap types.ActionPoint) string {
	q := url.Values{}
	q.Set("ap", ap.ID)
	q.Set("lc", ap.LocationCode)
	u := url.URL{
		Scheme:   Scheme,
		Host:     Version,
		Path:     "/" + ap.ActionType,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// Parse classifies raw. It does not verify signatures or look anything up.
func Parse(raw string) (Parsed, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Parsed{}, ErrUnrecognised
	}
	if strings.HasPrefix(raw, token.IdentityPrefix) {
		return Parsed{Kind: KindIdentity, Identity: raw}, nil
	}

	u, err := url.Parse(raw)
	if err != nil || !strings.EqualFold(u.Scheme, Scheme) {
		return Parsed{}, ErrUnrecognised
	}
	if u.Host != Version {
		return Parsed{}, fmt.Errorf("%w: %q", ErrUnsupportedVersion, u.Host)
	}

	actionType := strings.Trim(u.Path, "/")
	q := u.Query()
	a := Action{
		ActionType:    actionType,
		ActionPointID: q.Get("ap"),
		LocationCode:  q.Get("lc"),
	}
	if a.ActionType == "" || strings.Contains(a.ActionType, "/") || a.ActionPointID == "" || a.LocationCode == "" {
		return Parsed{}, ErrUnrecognised
	}
	return Parsed{Kind: KindAction, Action: a}, nil
}
