// Package healer runs the tiered self-healing state machine. It is driven
// only by health outcomes and acts through the service manager.
package healer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"workshop/internal/constants"
	"workshop/internal/errors"
	"workshop/internal/incident"
	"workshop/internal/logger"
	"workshop/internal/service"
)

// Recoverer is the slice of the service manager the healer drives
type Recoverer interface {
	Restart(ctx context.Context, id string, opts ...service.Option) error
	DeepRestart(ctx context.Context, id string) error
	CascadeRestart(ctx context.Context, id string) error
	Status(id string) (service.State, error)
	SetNeedsIntervention(id string, needs bool)
}

// IncidentLog records escalation episodes
type IncidentLog interface {
	Open(ctx context.Context, serviceID string, tier int) (*incident.Incident, error)
	Annotate(ctx context.Context, id, author, text string) (*incident.Annotation, error)
	Resolve(ctx context.Context, id string) (*incident.Incident, error)
	List(ctx context.Context, filter incident.Filter) ([]*incident.Incident, error)
}

// Config holds the thresholds of the state machine
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	// SettleWindow is the minimum time after an action before the next
	// tier may fire
	SettleWindow  time.Duration
	ActionTimeout time.Duration
}

// DefaultConfig returns the built-in thresholds
func DefaultConfig() Config {
	return Config{
		FailureThreshold: constants.DefaultFailureThreshold,
		SuccessThreshold: constants.DefaultSuccessThreshold,
		SettleWindow:     constants.DefaultSettleWindow,
		ActionTimeout:    constants.DefaultActionTimeout,
	}
}

// State is the escalation state of one service
type State struct {
	ServiceID            string    `json:"service_id"`
	Tier                 Tier      `json:"tier"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	LastAction           Action    `json:"last_action,omitempty"`
	LastActionAt         time.Time `json:"last_action_at,omitempty"`
	IncidentID           string    `json:"incident_id,omitempty"`
}

// TierChange is published whenever a service changes tier
type TierChange struct {
	ServiceID  string    `json:"service_id"`
	From       Tier      `json:"from"`
	To         Tier      `json:"to"`
	Action     Action    `json:"action"`
	IncidentID string    `json:"incident_id,omitempty"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

type entry struct {
	// held for the whole of Observe, so actions for one service never overlap
	mu    sync.Mutex
	state State
}

// Healer owns one escalation state per service
type Healer struct {
	manager   Recoverer
	incidents IncidentLog
	notifier  Notifier
	cfg       Config

	mu      sync.Mutex
	entries map[string]*entry

	hookMu   sync.RWMutex
	onChange []func(TierChange)

	now func() time.Time
}

// New creates a healer. A nil notifier only logs escalations.
func New(manager Recoverer, incidents IncidentLog, notifier Notifier, cfg Config) *Healer {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = constants.DefaultFailureThreshold
	}
	if cfg.SuccessThreshold < 1 {
		cfg.SuccessThreshold = constants.DefaultSuccessThreshold
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = constants.DefaultActionTimeout
	}
	return &Healer{
		manager:   manager,
		incidents: incidents,
		notifier:  notifier,
		cfg:       cfg,
		entries:   make(map[string]*entry),
		now:       time.Now,
	}
}

// OnTierChange registers a callback run after every tier change
func (h *Healer) OnTierChange(fn func(TierChange)) {
	h.hookMu.Lock()
	defer h.hookMu.Unlock()
	h.onChange = append(h.onChange, fn)
}

func (h *Healer) entryFor(id string) *entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[id]
	if !ok {
		e = &entry{state: State{ServiceID: id}}
		h.entries[id] = e
	}
	return e
}

// State returns the escalation state of a service
func (h *Healer) State(id string) State {
	e := h.entryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// States returns every known escalation state ordered by service id
func (h *Healer) States() []State {
	h.mu.Lock()
	entries := make([]*entry, 0, len(h.entries))
	for _, e := range h.entries {
		entries = append(entries, e)
	}
	h.mu.Unlock()

	out := make([]State, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.state)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceID < out[j].ServiceID })
	return out
}

// Restore rebuilds elevated tiers from incidents left open by a previous run
func (h *Healer) Restore(ctx context.Context) error {
	open, err := h.incidents.List(ctx, incident.Filter{Status: "open"})
	if err != nil {
		return fmt.Errorf("failed to restore escalation state: %w", err)
	}

	for _, inc := range open {
		tier := Tier(inc.Tier)
		if tier < Tier1 || tier > Exhausted {
			continue
		}
		e := h.entryFor(inc.ServiceID)
		e.mu.Lock()
		e.state.Tier = tier
		e.state.IncidentID = inc.ID
		e.state.LastActionAt = inc.UpdatedAt
		e.mu.Unlock()

		if tier == Exhausted {
			h.manager.SetNeedsIntervention(inc.ServiceID, true)
		}
		logger.WithFields(logger.Fields{
			"service":  inc.ServiceID,
			"incident": inc.ID,
			"tier":     tier.String(),
		}).Info("Restored escalation state")
	}
	return nil
}

// Observe folds one health outcome into the service's state machine and
// runs any recovery action before returning.
func (h *Healer) Observe(ctx context.Context, id string, success bool) {
	e := h.entryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()

	st := &e.state
	if success {
		st.ConsecutiveFailures = 0
		st.ConsecutiveSuccesses++
		if st.Tier.Elevated() && st.ConsecutiveSuccesses >= h.cfg.SuccessThreshold {
			h.deescalate(ctx, st)
		}
		return
	}

	st.ConsecutiveSuccesses = 0
	if st.Tier == Exhausted {
		return
	}
	if h.deliberatelyStopped(id) {
		st.ConsecutiveFailures = 0
		return
	}

	st.ConsecutiveFailures++
	if st.ConsecutiveFailures < h.cfg.FailureThreshold {
		return
	}
	if st.Tier.Elevated() && h.now().Sub(st.LastActionAt) < h.cfg.SettleWindow {
		return
	}
	h.escalate(ctx, st)
}

func (h *Healer) deliberatelyStopped(id string) bool {
	s, err := h.manager.Status(id)
	return err == nil && s.Status == service.StatusStopped
}

// escalate moves st to the next tier and performs its action. The caller
// holds the entry lock.
func (h *Healer) escalate(ctx context.Context, st *State) {
	next, action, ok := Next(st.Tier)
	if !ok {
		return
	}
	from := st.Tier
	id := st.ServiceID

	st.Tier = next
	st.LastAction = action
	st.LastActionAt = h.now()
	st.ConsecutiveFailures = 0

	log := logger.WithFields(logger.Fields{
		"service": id,
		"tier":    next.String(),
		"action":  string(action),
	})
	log.Warn("Escalating self-healing")

	inc, err := h.incidents.Open(ctx, id, int(next))
	if err != nil {
		log.WithError(err).Error("Failed to record incident")
	} else {
		st.IncidentID = inc.ID
	}

	actionErr := h.perform(ctx, id, action)
	note := h.describe(next, action, actionErr)
	if actionErr != nil {
		log.WithError(actionErr).Error("Recovery action failed")
	} else {
		log.Info("Recovery action completed")
	}

	if next == Exhausted {
		h.manager.SetNeedsIntervention(id, true)
	}
	h.annotate(ctx, st.IncidentID, note)

	if next == Exhausted {
		if err := h.notify(ctx, st); err != nil {
			log.WithError(err).Error("Escalation notification failed")
			h.annotate(ctx, st.IncidentID, fmt.Sprintf("Notification failed: %v", err))
			if actionErr == nil {
				actionErr = err
			}
		}
	}

	change := TierChange{
		ServiceID:  id,
		From:       from,
		To:         next,
		Action:     action,
		IncidentID: st.IncidentID,
		At:         st.LastActionAt,
	}
	if actionErr != nil {
		change.Error = actionErr.Error()
	}
	h.publish(change)
}

func (h *Healer) perform(ctx context.Context, id string, action Action) error {
	if action == ActionEscalate {
		return nil
	}

	actx, cancel := context.WithTimeout(ctx, h.cfg.ActionTimeout)
	defer cancel()

	switch action {
	case ActionRestart:
		return h.manager.Restart(actx, id)
	case ActionDeepRestart:
		return h.manager.DeepRestart(actx, id)
	case ActionCascadeRestart:
		return h.manager.CascadeRestart(actx, id)
	}
	return errors.InvalidInput(string(action), "known recovery action")
}

func (h *Healer) notify(ctx context.Context, st *State) error {
	nctx, cancel := context.WithTimeout(ctx, h.cfg.ActionTimeout)
	defer cancel()
	return h.notifier.Notify(nctx, NewEscalation(st.ServiceID, st.IncidentID, h.now()))
}

func (h *Healer) describe(tier Tier, action Action, err error) string {
	var what string
	switch action {
	case ActionRestart:
		what = "Restarted service"
	case ActionDeepRestart:
		what = "Deep restart: killed process and cleared transient state"
	case ActionCascadeRestart:
		what = "Cascade restart of service and its dependents"
	case ActionEscalate:
		what = "Escalated to operator; service needs manual intervention"
	}
	note := fmt.Sprintf("Entered %s. %s", tier, what)
	if err != nil {
		note = fmt.Sprintf("%s (failed: %v)", note, err)
	}
	return note
}

// deescalate returns st to Normal and closes its incident. The caller holds
// the entry lock.
func (h *Healer) deescalate(ctx context.Context, st *State) {
	from := st.Tier
	id := st.ServiceID
	incidentID := st.IncidentID

	st.Tier = Normal
	st.ConsecutiveFailures = 0
	st.LastAction = ActionNone
	st.IncidentID = ""

	h.manager.SetNeedsIntervention(id, false)

	log := logger.WithFields(logger.Fields{
		"service":  id,
		"from":     from.String(),
		"incident": incidentID,
	})
	log.Info("Service recovered")

	if incidentID != "" {
		h.annotate(ctx, incidentID, fmt.Sprintf("Recovered after %d consecutive successful checks", st.ConsecutiveSuccesses))
		if _, err := h.incidents.Resolve(ctx, incidentID); err != nil {
			log.WithError(err).Error("Failed to resolve incident")
		}
	}

	h.publish(TierChange{
		ServiceID:  id,
		From:       from,
		To:         Normal,
		Action:     ActionNone,
		IncidentID: incidentID,
		At:         h.now(),
	})
}

// Reset returns a service to Normal after an operator resolved its open
// incident by hand. It reports false when incidentID is not the service's
// current escalation episode.
func (h *Healer) Reset(id, incidentID string) bool {
	e := h.entryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()

	st := &e.state
	if !st.Tier.Elevated() || st.IncidentID != incidentID {
		return false
	}
	from := st.Tier

	st.Tier = Normal
	st.ConsecutiveFailures = 0
	st.ConsecutiveSuccesses = 0
	st.LastAction = ActionNone
	st.IncidentID = ""

	h.manager.SetNeedsIntervention(id, false)

	logger.WithFields(logger.Fields{
		"service":  id,
		"from":     from.String(),
		"incident": incidentID,
	}).Info("Escalation reset by operator")

	h.publish(TierChange{
		ServiceID:  id,
		From:       from,
		To:         Normal,
		Action:     ActionNone,
		IncidentID: incidentID,
		At:         h.now(),
	})
	return true
}

func (h *Healer) annotate(ctx context.Context, incidentID, text string) {
	if incidentID == "" {
		return
	}
	if _, err := h.incidents.Annotate(ctx, incidentID, constants.HealerAnnotationAuthor, text); err != nil {
		logger.WithError(err).WithField("incident", incidentID).Error("Failed to annotate incident")
	}
}

func (h *Healer) publish(c TierChange) {
	h.hookMu.RLock()
	hooks := h.onChange
	h.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(c)
	}
}
