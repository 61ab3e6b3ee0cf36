package service

import (
	"context"

	"github.com/campusops/qrgate/internal/qrgate/types"
)

// Authorizer decides whether a person may perform an action point's action.
type Authorizer interface {
	Authorize(ctx context.Context, personID string, ap types.ActionPoint) (bool, error)
}

// AccessPolicy restricts selected action types to listed person ids.
// Action types without a list are open to every verified person.
type AccessPolicy struct {
	AllowAll   bool
	Restricted map[string]map[string]struct{}
}

// NewAccessPolicy builds a policy from action_type -> person ids, the shape
// used by the catalog file.
func NewAccessPolicy(lists map[string][]string) AccessPolicy {
	p := AccessPolicy{Restricted: make(map[string]map[string]struct{}, len(lists))}
	for actionType, people := range lists {
		set := make(map[string]struct{}, len(people))
		for _, id := range people {
			set[id] = struct{}{}
		}
		p.Restricted[actionType] = set
	}
	return p
}

func (p AccessPolicy) Authorize(_ context.Context, personID string, ap types.ActionPoint) (bool, error) {
	if p.AllowAll {
		return true, nil
	}
	allowed, restricted := p.Restricted[ap.ActionType]
	if !restricted {
		return true, nil
	}
	_, ok := allowed[personID]
	return ok, nil
}
