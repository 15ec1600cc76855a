// Package actioneval implements spec.md §4.6's "Action evaluator" task: it
// re-evaluates an <ACTR>'s criterion against its subject resource, gates
// firing on its <DEPR> dependencies, and executes the action primitive when
// the criterion (and dependencies) are satisfied. It satisfies
// internal/scheduler's ActionEvaluator interface so the scheduler can drive
// it on a tick without importing this package back.
package actioneval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/onem2m-cse/cse/infrastructure/logging"
	"github.com/onem2m-cse/cse/internal/resource"
	"github.com/onem2m-cse/cse/internal/store"
)

// ActionRequest is the minimal request shape needed to execute an action
// primitive; deliberately narrow (like internal/group's SubRequest) to
// avoid an actioneval<->dispatch import cycle. A dispatch-facing adapter in
// cmd/cseserver bridges the two.
type ActionRequest struct {
	Operation  resource.Operation
	To         string
	Originator string
	Payload    map[string]interface{}
}

// ActionResponse is the matching minimal result.
type ActionResponse struct {
	RSC int
	PC  interface{}
}

// ActionDispatcher executes an action primitive against the CSE.
type ActionDispatcher interface {
	Dispatch(ctx context.Context, req ActionRequest) ActionResponse
}

// primitiveOp maps an apv.op letter to the resource.Operation the
// dispatcher expects.
var primitiveOp = map[string]resource.Operation{
	"C": resource.OpCreate,
	"U": resource.OpUpdate,
	"D": resource.OpDelete,
}

// armState is the in-memory transition/arming state for one <ACTR>,
// tracked across evaluation ticks. Not persisted: a scheduler restart
// re-arms every active action, which is an acceptable reset per spec.md's
// "restart semantics are deterministic (replace then start)".
type armState struct {
	armedAt         time.Time
	prevSatisfied   bool
	depEverTrueSince map[string]bool // DEPR ri -> has been true since arming
}

// Evaluator implements internal/scheduler's ActionEvaluator.
type Evaluator struct {
	Store      store.Store
	Dispatcher ActionDispatcher
	Originator string // originator used for action-primitive dispatch, e.g. "CAdmin"
	Log        *logging.Logger

	mu     sync.Mutex
	states map[string]*armState
}

// New builds an Evaluator.
func New(st store.Store, dispatcher ActionDispatcher, originator string, log *logging.Logger) *Evaluator {
	if originator == "" {
		originator = "CAdmin"
	}
	return &Evaluator{Store: st, Dispatcher: dispatcher, Originator: originator, Log: log, states: make(map[string]*armState)}
}

// Evaluate re-evaluates rec's criterion and fires its action primitive per
// spec.md §4.6: "re-evaluate the criterion; when first satisfied (evm=once)
// fire and move to off; for periodic, fire on each tick it holds; for
// continuous, fire once per transition."
func (e *Evaluator) Evaluate(ctx context.Context, rec store.ActionRecord, now time.Time) error {
	if rec.Evm == "off" {
		return nil
	}

	actr, err := e.Store.GetResource(ctx, rec.RI)
	if err != nil {
		return fmt.Errorf("loading actr %s: %w", rec.RI, err)
	}

	satisfied, err := e.criterionHolds(ctx, actr, rec.OrcRI)
	if err != nil {
		return fmt.Errorf("evaluating actr %s criterion: %w", rec.RI, err)
	}

	state := e.stateFor(rec.RI, now)

	depsSatisfied, err := e.dependenciesSatisfied(ctx, rec.DependencyRIs, state)
	if err != nil {
		return fmt.Errorf("evaluating actr %s dependencies: %w", rec.RI, err)
	}

	fire := false
	switch rec.Evm {
	case "once":
		fire = satisfied && depsSatisfied
	case "periodic":
		fire = satisfied && depsSatisfied
	case "continuous":
		fire = satisfied && depsSatisfied && !state.prevSatisfied
	}
	state.prevSatisfied = satisfied && depsSatisfied

	rec.LastEvalAt = now
	newEvm := rec.Evm
	newPrst := "armed"

	if fire {
		newPrst = "fired"
		if err := e.fireActionPrimitive(ctx, actr); err != nil {
			if e.Log != nil {
				e.Log.WithError(err).WithFields(map[string]interface{}{"actr": rec.RI}).Warn("action primitive dispatch failed")
			}
		}
		if rec.Evm == "once" {
			newEvm = "off"
			newPrst = "off"
			e.clearState(rec.RI)
		}
	}

	actr.Set("prst", newPrst)
	if err := e.Store.PutResource(ctx, actr); err != nil {
		return fmt.Errorf("persisting actr %s prst: %w", rec.RI, err)
	}

	rec.Evm = newEvm
	rec.Prst = newPrst
	return e.Store.PutAction(ctx, rec)
}

// criterionHolds loads the subject resource (orcRI) and evaluates actr's
// "evc" criterion against it.
func (e *Evaluator) criterionHolds(ctx context.Context, actr *resource.Resource, orcRI string) (bool, error) {
	evcRaw, ok := actr.Get("evc")
	if !ok {
		return false, fmt.Errorf("actr missing evc")
	}
	criterion, err := DecodeCriterion(evcRaw)
	if err != nil {
		return false, err
	}
	subject, err := e.Store.GetResource(ctx, orcRI)
	if err != nil {
		return false, fmt.Errorf("loading subject %s: %w", orcRI, err)
	}
	value, _ := subject.Get(criterion.Subject)
	return criterion.Evaluate(value)
}

// dependenciesSatisfied applies spec.md's sfc semantics: "Dependencies
// (<DEPR>) with sfc=true require their criteria to hold simultaneously;
// those with sfc=false only require ever-been-true since action arming."
func (e *Evaluator) dependenciesSatisfied(ctx context.Context, depRIs []string, state *armState) (bool, error) {
	if len(depRIs) == 0 {
		return true, nil
	}
	allSatisfied := true
	for _, depRI := range depRIs {
		dep, err := e.Store.GetResource(ctx, depRI)
		if err != nil {
			return false, fmt.Errorf("loading depr %s: %w", depRI, err)
		}
		sriRaw, _ := dep.Get("sri")
		sri, _ := sriRaw.(string)
		evcRaw, ok := dep.Get("evc")
		if !ok {
			return false, fmt.Errorf("depr %s missing evc", depRI)
		}
		criterion, err := DecodeCriterion(evcRaw)
		if err != nil {
			return false, err
		}
		subject, err := e.Store.GetResource(ctx, sri)
		if err != nil {
			return false, fmt.Errorf("loading depr %s subject %s: %w", depRI, sri, err)
		}
		value, _ := subject.Get(criterion.Subject)
		holds, err := criterion.Evaluate(value)
		if err != nil {
			return false, err
		}
		if holds {
			state.depEverTrueSince[depRI] = true
		}

		sfc, _ := dep.Get("sfc")
		sfcBool, _ := sfc.(bool)
		if sfcBool {
			if !holds {
				allSatisfied = false
			}
		} else {
			if !state.depEverTrueSince[depRI] {
				allSatisfied = false
			}
		}
	}
	return allSatisfied, nil
}

// fireActionPrimitive decodes and dispatches actr's "apv" action primitive.
func (e *Evaluator) fireActionPrimitive(ctx context.Context, actr *resource.Resource) error {
	if e.Dispatcher == nil {
		return nil
	}
	apvRaw, ok := actr.Get("apv")
	if !ok {
		return fmt.Errorf("actr missing apv")
	}
	primitive, err := DecodeActionPrimitive(apvRaw)
	if err != nil {
		return err
	}
	op, ok := primitiveOp[primitive.Operation]
	if !ok {
		return fmt.Errorf("apv.op %q is not C/U/D", primitive.Operation)
	}
	resp := e.Dispatcher.Dispatch(ctx, ActionRequest{
		Operation:  op,
		To:         primitive.To,
		Originator: e.Originator,
		Payload:    primitive.Content,
	})
	if resp.RSC >= 4000 {
		return fmt.Errorf("action primitive dispatch returned rsc %d", resp.RSC)
	}
	return nil
}

func (e *Evaluator) stateFor(actrRI string, now time.Time) *armState {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.states[actrRI]
	if !ok {
		s = &armState{armedAt: now, depEverTrueSince: make(map[string]bool)}
		e.states[actrRI] = s
	}
	return s
}

func (e *Evaluator) clearState(actrRI string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.states, actrRI)
}
