// Package routeguard is the client-side mirror of the stage gate. It decides,
// before a view renders, whether to show it or navigate elsewhere, always
// from a snapshot fetched from the server and always through
// stagegate.Decide. It is advisory: the server gate still enforces every
// request.
package routeguard

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/amplio/onboard/internal/domain"
	"github.com/amplio/onboard/internal/stagegate"
)

// ErrRedirectLoop is returned when a navigation would redirect a second time.
var ErrRedirectLoop = errors.New("routeguard: redirect already issued for this navigation")

// Kind is what the client should do with a view.
type Kind string

const (
	Render   Kind = "render"
	Redirect Kind = "redirect"
)

// Action is the guard's answer for one path.
type Action struct {
	Kind   Kind
	Target string
}

// publicPaths render without a session.
var publicPaths = map[string]bool{
	stagegate.PathLogin: true,
	"/signup":           true,
	"/verify":           true,
}

// Navigation is one user-initiated navigation, including the redirect it may
// trigger. The snapshot is fetched at most once per Navigation.
type Navigation struct {
	Root string

	id         string
	mu         sync.Mutex
	snapshot   *domain.Snapshot
	fetched    bool
	redirected bool
}

// NewNavigation starts a navigation rooted at path.
func NewNavigation(root string) *Navigation {
	return &Navigation{Root: root, id: uuid.NewString()}
}

// Redirected reports whether this navigation already issued a redirect.
func (n *Navigation) Redirected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.redirected
}

// Guard evaluates views against the server snapshot.
type Guard struct {
	source SnapshotSource
	group  singleflight.Group
}

func NewGuard(source SnapshotSource) *Guard {
	return &Guard{source: source}
}

// Check decides what to do with path. The first Check of a navigation
// refreshes the snapshot from the server; concurrent checks for the same
// navigation share that fetch.
func (g *Guard) Check(ctx context.Context, nav *Navigation, path string) (Action, error) {
	snapshot, err := g.refresh(ctx, nav)
	if err != nil {
		return Action{}, err
	}

	var subject *stagegate.Subject
	if snapshot != nil {
		s := stagegate.FromSnapshot(*snapshot)
		subject = &s
	}

	target := resolve(subject, path)
	if target == "" || target == path {
		return Action{Kind: Render}, nil
	}

	nav.mu.Lock()
	defer nav.mu.Unlock()
	if nav.redirected {
		return Action{}, ErrRedirectLoop
	}
	nav.redirected = true
	return Action{Kind: Redirect, Target: target}, nil
}

// resolve returns where path should lead, or "" to render it.
func resolve(subject *stagegate.Subject, path string) string {
	if path == stagegate.PathRoot {
		return stagegate.Landing(subject)
	}
	if publicPaths[path] {
		if subject != nil {
			return stagegate.Landing(subject)
		}
		return ""
	}
	capability, ok := stagegate.CapabilityForPath(path)
	if !ok {
		return ""
	}
	decision := stagegate.Decide(subject, capability)
	switch decision.Outcome {
	case stagegate.Allow:
		return ""
	case stagegate.Redirect:
		return decision.Target
	default:
		// Role mismatch or no session: back to the caller's own landing
		// view, which is the login page when unauthenticated.
		return stagegate.Landing(subject)
	}
}

func (g *Guard) refresh(ctx context.Context, nav *Navigation) (*domain.Snapshot, error) {
	nav.mu.Lock()
	if nav.fetched {
		snap := nav.snapshot
		nav.mu.Unlock()
		return snap, nil
	}
	nav.mu.Unlock()

	v, err, _ := g.group.Do(nav.id, func() (any, error) {
		snap, err := g.source.Snapshot(ctx)
		if errors.Is(err, ErrUnauthenticated) {
			return (*domain.Snapshot)(nil), nil
		}
		if err != nil {
			return nil, err
		}
		return &snap, nil
	})
	if err != nil {
		return nil, err
	}
	snap, _ := v.(*domain.Snapshot)

	nav.mu.Lock()
	if !nav.fetched {
		nav.snapshot = snap
		nav.fetched = true
	}
	snap = nav.snapshot
	nav.mu.Unlock()
	return snap, nil
}
