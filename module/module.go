// Package module implements §6's module effect routing: modules validate
// and apply CItems deterministically, never holding references to each
// other, with delivery driven by the driver as HighestFinalizedRound
// advances. Grounded on the teacher's evidence.Pool — the nearest analogue
// in the teacher tree to "validate an incoming item deterministically,
// decide accept/reject, then apply a resulting state change" — generalized
// from a single hardcoded evidence-only pool to an arbitrary set of
// modules dispatched by ModuleId.
package module

import (
	"errors"
	"fmt"

	"github.com/bfte-project/bfte/consensus"
)

// Effect is a module-level side effect produced by accepting a CItem —
// distinct from engine.Effect, which reports consensus-level transitions
// (round finalized). A module.Effect is module-defined payload bytes the
// module itself knows how to interpret; the router only knows which
// ModuleId it's addressed to.
type Effect struct {
	ModuleId consensus.ModuleId
	Payload  []byte
}

// Module is one federation-level application module: a deterministic,
// side-effect-free validator/applier of CItems tagged with its ModuleId.
// Process and ApplyEffect must never read wall-clock time, randomness, or
// any state outside what the module itself owns — every peer running the
// same module at the same version must reach the same result from the
// same finalized CItem sequence (the Determinism property, extended to
// module code).
type Module interface {
	ID() consensus.ModuleId

	// Process validates item against the module's own state and reports
	// whether it is accepted, plus any Effects it should in turn apply.
	// Process itself must not mutate module state — only ApplyEffect does,
	// and only once an accepted item's round is actually finalized.
	Process(item consensus.CItem) (accept bool, effects []Effect, err error)

	// ApplyEffect applies a previously-accepted Effect to the module's own
	// state. The router calls this exactly once per effect, in round
	// order, driven by the driver's persisted last_delivered_round cursor
	// — ApplyEffect itself does not need to guard against redelivery.
	ApplyEffect(e Effect) error
}

// ErrUnknownModule is returned when a CItem or Effect names a ModuleId with
// no registered Module.
var ErrUnknownModule = fmt.Errorf("module: no module registered for this id")

// Router dispatches CItems and Effects to the Module registered for their
// ModuleId. Modules never hold references to each other (§9) — all
// cross-module interaction happens through Effects the router delivers.
type Router struct {
	modules map[consensus.ModuleId]Module
}

// NewRouter builds a Router from a set of modules, keyed by their own
// declared ID.
func NewRouter(modules ...Module) *Router {
	r := &Router{modules: make(map[consensus.ModuleId]Module, len(modules))}
	for _, m := range modules {
		r.modules[m.ID()] = m
	}
	return r
}

// Process routes item to its module, or ErrUnknownModule if none is
// registered for item.ModuleId.
func (r *Router) Process(item consensus.CItem) (bool, []Effect, error) {
	m, ok := r.modules[item.ModuleId]
	if !ok {
		return false, nil, fmt.Errorf("%w: %d", ErrUnknownModule, item.ModuleId)
	}
	return m.Process(item)
}

// Deliver processes a finalized round's CItems in canonical order, then
// applies every resulting Effect to its module, in the order the Effects
// were produced. It is the driver's responsibility to call Deliver exactly
// once per finalized round (tracked via the persisted last_delivered_round
// cursor) — Deliver itself has no notion of "already delivered". A CItem can
// reach here addressed to a ModuleId no module on this build registers (an
// operator mistake, or a module this peer doesn't compile in) — by the time
// Deliver runs the round is already finalized consensus-wide, so Deliver
// treats ErrUnknownModule as "not accepted" rather than aborting the whole
// round's delivery; every other module's effects in the same round still
// land, and every correct peer reaches the same (non-)outcome for it.
func (r *Router) Deliver(items []consensus.CItem) ([]Effect, error) {
	var all []Effect
	for _, item := range items {
		accept, effects, err := r.Process(item)
		if err != nil {
			if errors.Is(err, ErrUnknownModule) {
				continue
			}
			return all, err
		}
		if !accept {
			continue
		}
		all = append(all, effects...)
	}
	for _, e := range all {
		m, ok := r.modules[e.ModuleId]
		if !ok {
			continue
		}
		if err := m.ApplyEffect(e); err != nil {
			return all, err
		}
	}
	return all, nil
}
