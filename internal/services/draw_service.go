package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"secretfriend/internal/models"

	"github.com/google/logger"
	"github.com/google/uuid"
)

// notSentCancelled marks the givers a cancelled run never reached.
const notSentCancelled = "not sent (draw cancelled)"

// DrawSession holds the data for a single user/tenant.
type DrawSession struct {
	Participants []models.Participant
	Config       models.DeliveryConfig
	Run          *models.DrawRun
	// retry holds the assignments of the last run that were not delivered.
	retry        []models.Assignment
	failures     []models.DeliveryFailure
	cancel       context.CancelFunc
	LastActivity time.Time
}

// Options tunes the draw pipeline.
type Options struct {
	MinParticipants  int
	PacingDelay      time.Duration
	KeepParticipants bool
	IdleTTL          time.Duration
	// DefaultConfig fills in credentials a tenant has not set.
	DefaultConfig models.DeliveryConfig
}

// DrawService manages multiple draw sessions.
type DrawService struct {
	mu       sync.Mutex
	sessions map[string]*DrawSession // Key: tenantID

	generator  *Generator
	dispatcher *Dispatcher
	opts       Options
}

// NewDrawService creates and initializes a new DrawService.
func NewDrawService(generator *Generator, dispatcher *Dispatcher, opts Options) *DrawService {
	if opts.MinParticipants <= 0 {
		opts.MinParticipants = 3
	}
	if opts.PacingDelay < 0 {
		opts.PacingDelay = 0
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = time.Hour
	}
	return &DrawService{
		sessions:   make(map[string]*DrawSession),
		generator:  generator,
		dispatcher: dispatcher,
		opts:       opts,
	}
}

// getSession returns a session for a tenant, creating one if it doesn't exist.
// The caller must hold s.mu.
func (s *DrawService) getSession(tenantID string) *DrawSession {
	session, exists := s.sessions[tenantID]
	if !exists {
		session = &DrawSession{}
		s.sessions[tenantID] = session
	}
	session.LastActivity = time.Now()
	return session
}

// GetParticipants returns a copy of the participants registered by a tenant.
func (s *DrawService) GetParticipants(tenantID string) []models.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Participant{}, s.getSession(tenantID).Participants...)
}

// AddParticipant registers a participant for a specific tenant.
func (s *DrawService) AddParticipant(tenantID, name, email string) error {
	name, email = strings.TrimSpace(name), strings.TrimSpace(email)
	if name == "" || email == "" {
		return ErrInvalidParticipant
	}
	if !strings.Contains(email, "@") {
		return ErrInvalidEmail
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	session := s.getSession(tenantID)
	for _, p := range session.Participants {
		if p.Email == email {
			return ErrDuplicateEmail
		}
	}
	session.Participants = append(session.Participants, models.Participant{Name: name, Email: email})
	return nil
}

// RemoveParticipant removes the participant with the given email.
func (s *DrawService) RemoveParticipant(tenantID, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session := s.getSession(tenantID)
	for i, p := range session.Participants {
		if p.Email == email {
			session.Participants = append(session.Participants[:i:i], session.Participants[i+1:]...)
			return nil
		}
	}
	return ErrUnknownParticipant
}

// ClearParticipants removes every participant of a tenant.
func (s *DrawService) ClearParticipants(tenantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getSession(tenantID).Participants = nil
}

// SetConfig stores the delivery credentials of a tenant.
func (s *DrawService) SetConfig(tenantID string, cfg models.DeliveryConfig) {
	cfg.ServiceID = strings.TrimSpace(cfg.ServiceID)
	cfg.TemplateID = strings.TrimSpace(cfg.TemplateID)
	cfg.PublicKey = strings.TrimSpace(cfg.PublicKey)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.getSession(tenantID).Config = cfg
}

// GetConfig returns the effective delivery credentials of a tenant.
func (s *DrawService) GetConfig(tenantID string) models.DeliveryConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.effectiveConfig(s.getSession(tenantID))
}

func (s *DrawService) effectiveConfig(session *DrawSession) models.DeliveryConfig {
	cfg := session.Config
	if cfg.ServiceID == "" {
		cfg.ServiceID = s.opts.DefaultConfig.ServiceID
	}
	if cfg.TemplateID == "" {
		cfg.TemplateID = s.opts.DefaultConfig.TemplateID
	}
	if cfg.PublicKey == "" {
		cfg.PublicKey = s.opts.DefaultConfig.PublicKey
	}
	return cfg
}

// GetRun returns a snapshot of the current or last draw run of a tenant.
func (s *DrawService) GetRun(tenantID string) (models.DrawRun, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := s.getSession(tenantID).Run
	if run == nil {
		return models.DrawRun{Status: models.RunIdle}, false
	}
	cp := *run
	cp.Outcomes = append([]models.GiverOutcome(nil), run.Outcomes...)
	return cp, true
}

// GetFailures returns the undelivered notifications of the last run, including
// the givers a cancelled run never reached.
func (s *DrawService) GetFailures(tenantID string) []models.DeliveryFailure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.DeliveryFailure(nil), s.getSession(tenantID).failures...)
}

// RunDraw performs a draw for a tenant: it generates the assignments and
// notifies every participant. onProgress is called after each request.
func (s *DrawService) RunDraw(ctx context.Context, tenantID string, onProgress func(models.ProgressEvent)) (models.DispatchReport, error) {
	s.mu.Lock()
	session := s.getSession(tenantID)
	if session.cancel != nil {
		s.mu.Unlock()
		return models.DispatchReport{}, ErrDrawInProgress
	}
	if len(session.Participants) < s.opts.MinParticipants {
		s.mu.Unlock()
		return models.DispatchReport{}, ErrInsufficientParticipants
	}
	cfg := s.effectiveConfig(session)
	if !cfg.Complete() {
		s.mu.Unlock()
		return models.DispatchReport{}, ErrConfigurationMissing
	}

	givers := append([]models.Participant(nil), session.Participants...)
	receivers, err := s.generator.Generate(givers)
	if err != nil {
		session.Run = &models.DrawRun{
			ID:         uuid.NewString(),
			Status:     models.RunFailed,
			Total:      len(givers),
			Error:      err.Error(),
			StartedAt:  time.Now(),
			FinishedAt: time.Now(),
		}
		session.retry, session.failures = nil, nil
		s.mu.Unlock()
		logger.Errorf("Draw for tenant %s failed: %v", tenantID, err)
		return models.DispatchReport{}, err
	}
	assignments := Pair(givers, receivers)
	runCtx, run := s.startRun(ctx, session, assignments)
	s.mu.Unlock()

	return s.execute(runCtx, tenantID, session, run, assignments, cfg, onProgress)
}

// RetryFailed re-sends only the notifications the last run did not deliver.
func (s *DrawService) RetryFailed(ctx context.Context, tenantID string, onProgress func(models.ProgressEvent)) (models.DispatchReport, error) {
	s.mu.Lock()
	session := s.getSession(tenantID)
	if session.cancel != nil {
		s.mu.Unlock()
		return models.DispatchReport{}, ErrDrawInProgress
	}
	if len(session.retry) == 0 {
		s.mu.Unlock()
		return models.DispatchReport{}, ErrNothingToRetry
	}
	cfg := s.effectiveConfig(session)
	if !cfg.Complete() {
		s.mu.Unlock()
		return models.DispatchReport{}, ErrConfigurationMissing
	}
	assignments := append([]models.Assignment(nil), session.retry...)
	runCtx, run := s.startRun(ctx, session, assignments)
	s.mu.Unlock()

	return s.execute(runCtx, tenantID, session, run, assignments, cfg, onProgress)
}

// CancelDraw asks the active run of a tenant to stop before its next request.
func (s *DrawService) CancelDraw(tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session := s.getSession(tenantID)
	if session.cancel == nil {
		return ErrNoActiveDraw
	}
	session.cancel()
	return nil
}

// startRun marks the session as running. The caller must hold s.mu.
func (s *DrawService) startRun(ctx context.Context, session *DrawSession, assignments []models.Assignment) (context.Context, *models.DrawRun) {
	run := &models.DrawRun{
		ID:        uuid.NewString(),
		Status:    models.RunRunning,
		Total:     len(assignments),
		Outcomes:  make([]models.GiverOutcome, len(assignments)),
		StartedAt: time.Now(),
	}
	for i, a := range assignments {
		run.Outcomes[i] = models.GiverOutcome{Name: a.Giver.Name, Email: a.Giver.Email, State: models.OutcomePending}
	}
	runCtx, cancel := context.WithCancel(ctx)
	session.Run = run
	session.cancel = cancel
	return runCtx, run
}

func (s *DrawService) execute(ctx context.Context, tenantID string, session *DrawSession, run *models.DrawRun, assignments []models.Assignment, cfg models.DeliveryConfig, onProgress func(models.ProgressEvent)) (models.DispatchReport, error) {
	logger.Infof("Draw %s started for tenant %s with %d notifications", run.ID, tenantID, len(assignments))

	report, err := s.dispatcher.Dispatch(ctx, assignments, cfg, s.opts.PacingDelay, func(ev models.ProgressEvent) {
		s.mu.Lock()
		run.Completed = ev.Completed
		run.Sent = ev.Sent
		run.Failed = ev.Failed
		run.Outcomes[ev.Completed-1].State = ev.LastOutcome
		s.mu.Unlock()
		if onProgress != nil {
			onProgress(ev)
		}
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	session.cancel()
	session.cancel = nil
	run.FinishedAt = time.Now()

	if err != nil {
		run.Status = models.RunFailed
		run.Error = err.Error()
		logger.Errorf("Draw %s for tenant %s failed: %v", run.ID, tenantID, err)
		return report, err
	}

	errs := make(map[string]string, len(report.Failed))
	session.failures = append([]models.DeliveryFailure(nil), report.Failed...)
	session.retry = nil
	for _, f := range report.Failed {
		errs[f.Assignment.Giver.Email] = f.Error
		session.retry = append(session.retry, f.Assignment)
	}
	for i := range run.Outcomes {
		if msg, ok := errs[run.Outcomes[i].Email]; ok {
			run.Outcomes[i].Error = msg
		}
	}
	// Whoever a cancelled run never reached stays eligible for a retry.
	if processed := report.Sent + len(report.Failed); processed < len(assignments) {
		for _, a := range assignments[processed:] {
			session.retry = append(session.retry, a)
			session.failures = append(session.failures, models.DeliveryFailure{Assignment: a, Error: notSentCancelled})
		}
	}

	switch report.Status {
	case models.StatusCancelled:
		run.Status = models.RunCancelled
	case models.StatusAllFailed:
		run.Status = models.RunFailed
	default:
		run.Status = models.RunCompleted
	}
	if report.Status == models.StatusAllSent && !s.opts.KeepParticipants {
		session.Participants = nil
	}

	logger.Infof("Draw %s for tenant %s finished: status=%s sent=%d failed=%d", run.ID, tenantID, report.Status, report.Sent, len(report.Failed))
	return report, nil
}

// CleanUpInactiveSessions removes idle sessions that have no draw running.
func (s *DrawService) CleanUpInactiveSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for tenantID, session := range s.sessions {
		if session.cancel == nil && time.Since(session.LastActivity) > s.opts.IdleTTL {
			logger.Infof("Removing inactive session for tenant: %s", tenantID)
			delete(s.sessions, tenantID)
		}
	}
}

// ClearSession removes all data associated with a specific tenant.
func (s *DrawService) ClearSession(tenantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[tenantID]; ok && session.cancel != nil {
		session.cancel()
	}
	delete(s.sessions, tenantID)
	logger.Infof("Cleared session for tenant: %s", tenantID)
}
