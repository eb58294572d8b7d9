// Package incident keeps the durable record of escalation episodes.
// Every write is committed before the call returns.
package incident

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"workshop/internal/db"
	"workshop/internal/errors"
	"workshop/internal/logger"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Annotation is one entry in an incident's timeline
type Annotation struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Incident is one escalation episode for a service
type Incident struct {
	ID          string       `json:"id"`
	ServiceID   string       `json:"service_id"`
	Tier        int          `json:"tier"`
	OpenedAt    time.Time    `json:"opened_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	ResolvedAt  *time.Time   `json:"resolved_at,omitempty"`
	Annotations []Annotation `json:"annotations"`
}

// Open reports whether the incident is unresolved
func (i *Incident) Open() bool {
	return i.ResolvedAt == nil
}

// Filter narrows List. Status is "open", "closed" or empty for both.
type Filter struct {
	Status    string `json:"status,omitempty" query:"status"`
	ServiceID string `json:"service,omitempty" query:"service"`
	Limit     int    `json:"limit,omitempty" query:"limit"`
}

func (f Filter) toRepo() (db.IncidentFilter, error) {
	out := db.IncidentFilter{ServiceID: f.ServiceID, Limit: f.Limit}
	switch strings.ToLower(f.Status) {
	case "", "all":
	case "open":
		open := true
		out.Open = &open
	case "closed", "resolved":
		open := false
		out.Open = &open
	default:
		return out, errors.InvalidInput(f.Status, "open, closed or all")
	}
	if f.Limit < 0 {
		return out, errors.InvalidInput(fmt.Sprint(f.Limit), "non-negative limit")
	}
	return out, nil
}

// ChangeKind names an incident mutation
type ChangeKind string

const (
	ChangeOpened    ChangeKind = "opened"
	ChangeUpdated   ChangeKind = "updated"
	ChangeAnnotated ChangeKind = "annotated"
	ChangeResolved  ChangeKind = "resolved"
)

// Change is published after a mutation is committed
type Change struct {
	Kind     ChangeKind `json:"kind"`
	Incident *Incident  `json:"incident"`
}

// Logger opens, annotates and resolves incidents
type Logger struct {
	repo *db.IncidentRepository

	// writes are serialized so the open-or-update check and its insert
	// see the same view
	writeMu sync.Mutex

	hookMu   sync.RWMutex
	onChange []func(Change)

	now func() time.Time
}

// NewLogger creates an incident logger over a migrated incidents store
func NewLogger(database *db.DB) *Logger {
	return &Logger{
		repo: db.NewIncidentRepository(database),
		now:  time.Now,
	}
}

// OnChange registers a callback run after each committed mutation
func (l *Logger) OnChange(fn func(Change)) {
	l.hookMu.Lock()
	defer l.hookMu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Open creates the open incident for serviceID at tier, or moves the
// existing open incident to tier.
func (l *Logger) Open(ctx context.Context, serviceID string, tier int) (*Incident, error) {
	if serviceID == "" {
		return nil, errors.InvalidInput("service", "non-empty service id")
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	at := l.now().UTC()
	var (
		row  *db.Incident
		kind = ChangeUpdated
	)
	err := l.repo.DB().Transaction(ctx, func(tx *sqlx.Tx) error {
		existing, err := l.repo.OpenForService(ctx, tx, serviceID)
		if err != nil {
			return err
		}
		if existing != nil {
			if err := l.repo.UpdateTier(ctx, tx, existing.ID, tier, at); err != nil {
				return err
			}
			existing.Tier = tier
			existing.UpdatedAt = at
			row = existing
			return nil
		}

		seq, err := l.repo.NextSeq(ctx, tx)
		if err != nil {
			return err
		}
		row = &db.Incident{
			ID:        FormatID(seq),
			Seq:       seq,
			ServiceID: serviceID,
			Tier:      tier,
			OpenedAt:  at,
			UpdatedAt: at,
		}
		kind = ChangeOpened
		return l.repo.Create(ctx, tx, row)
	})
	if err != nil {
		return nil, err
	}

	inc, err := l.hydrate(ctx, row)
	if err != nil {
		return nil, err
	}

	logger.WithFields(logger.Fields{
		"incident": inc.ID,
		"service":  serviceID,
		"tier":     tier,
	}).Infof("Incident %s", kind)

	l.publish(kind, inc)
	return inc, nil
}

// Annotate appends a note to an incident's timeline
func (l *Logger) Annotate(ctx context.Context, id, author, text string) (*Annotation, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.InvalidInput("text", "non-empty annotation text")
	}
	if author == "" {
		author = "operator"
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	row := &db.Annotation{
		ID:         uuid.New().String(),
		IncidentID: id,
		Author:     author,
		Text:       text,
		CreatedAt:  l.now().UTC(),
	}
	err := l.repo.DB().Transaction(ctx, func(tx *sqlx.Tx) error {
		if _, err := l.repo.Get(ctx, tx, id); err != nil {
			return err
		}
		return l.repo.AddAnnotation(ctx, tx, row)
	})
	if err != nil {
		return nil, err
	}

	logger.WithFields(logger.Fields{
		"incident": id,
		"author":   author,
	}).Debug("Incident annotated")

	if inc, err := l.Get(ctx, id); err == nil {
		l.publish(ChangeAnnotated, inc)
	}

	a := toAnnotation(*row)
	return &a, nil
}

// Resolve closes an incident. Resolving a closed incident is a no-op.
func (l *Logger) Resolve(ctx context.Context, id string) (*Incident, error) {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	var (
		row      *db.Incident
		resolved bool
	)
	err := l.repo.DB().Transaction(ctx, func(tx *sqlx.Tx) error {
		var err error
		resolved, err = l.repo.Resolve(ctx, tx, id, l.now().UTC())
		if err != nil {
			return err
		}
		row, err = l.repo.Get(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	inc, err := l.hydrate(ctx, row)
	if err != nil {
		return nil, err
	}

	if resolved {
		logger.WithFields(logger.Fields{
			"incident": id,
			"service":  inc.ServiceID,
			"tier":     inc.Tier,
		}).Info("Incident resolved")
		l.publish(ChangeResolved, inc)
	}
	return inc, nil
}

// Get returns one incident with its annotations
func (l *Logger) Get(ctx context.Context, id string) (*Incident, error) {
	row, err := l.repo.Get(ctx, l.repo.DB(), id)
	if err != nil {
		return nil, err
	}
	return l.hydrate(ctx, row)
}

// OpenFor returns the open incident for a service, or nil
func (l *Logger) OpenFor(ctx context.Context, serviceID string) (*Incident, error) {
	row, err := l.repo.OpenForService(ctx, l.repo.DB(), serviceID)
	if err != nil || row == nil {
		return nil, err
	}
	return l.hydrate(ctx, row)
}

// List returns incidents matching filter ordered by when they opened
func (l *Logger) List(ctx context.Context, filter Filter) ([]*Incident, error) {
	repoFilter, err := filter.toRepo()
	if err != nil {
		return nil, err
	}

	rows, err := l.repo.List(ctx, repoFilter)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	notes, err := l.repo.Annotations(ctx, ids...)
	if err != nil {
		return nil, err
	}

	out := make([]*Incident, 0, len(rows))
	for _, r := range rows {
		out = append(out, toIncident(r, notes[r.ID]))
	}
	return out, nil
}

// CountOpen returns the number of unresolved incidents
func (l *Logger) CountOpen(ctx context.Context) (int, error) {
	return l.repo.CountOpen(ctx)
}

func (l *Logger) hydrate(ctx context.Context, row *db.Incident) (*Incident, error) {
	notes, err := l.repo.Annotations(ctx, row.ID)
	if err != nil {
		return nil, err
	}
	return toIncident(*row, notes[row.ID]), nil
}

func (l *Logger) publish(kind ChangeKind, inc *Incident) {
	l.hookMu.RLock()
	hooks := l.onChange
	l.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(Change{Kind: kind, Incident: inc})
	}
}

// FormatID renders an incident sequence number as its public id
func FormatID(seq int64) string {
	return fmt.Sprintf("INC-%04d", seq)
}

func toIncident(row db.Incident, notes []db.Annotation) *Incident {
	inc := &Incident{
		ID:          row.ID,
		ServiceID:   row.ServiceID,
		Tier:        row.Tier,
		OpenedAt:    row.OpenedAt.UTC(),
		UpdatedAt:   row.UpdatedAt.UTC(),
		Annotations: make([]Annotation, 0, len(notes)),
	}
	if row.ResolvedAt.Valid {
		at := row.ResolvedAt.Time.UTC()
		inc.ResolvedAt = &at
	}
	for _, n := range notes {
		inc.Annotations = append(inc.Annotations, toAnnotation(n))
	}
	return inc
}

func toAnnotation(a db.Annotation) Annotation {
	return Annotation{ID: a.ID, Author: a.Author, Text: a.Text, CreatedAt: a.CreatedAt.UTC()}
}
