package service

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"time"

	"github.com/garyjia/fleet-maintenance/internal/application/dispatcher"
	"github.com/garyjia/fleet-maintenance/internal/application/linktoken"
	"github.com/garyjia/fleet-maintenance/internal/application/port"
	"github.com/garyjia/fleet-maintenance/internal/application/workflow"
	"github.com/garyjia/fleet-maintenance/internal/domain/entity"
	"github.com/garyjia/fleet-maintenance/internal/domain/event"
	domainwf "github.com/garyjia/fleet-maintenance/internal/domain/workflow"
	"github.com/garyjia/fleet-maintenance/internal/metrics"
)

// Badge event published on the administrative channel
const BadgeEventName = "maintenance.badge"

// NotificationConfig configures the notification fan-out
type NotificationConfig struct {
	// BaseURL is the public address link URLs are built on
	BaseURL      string
	AdminChannel string
	TokenTTL     time.Duration
}

// BadgePayload is the absolute count of items needing attention
type BadgePayload struct {
	RequestID int64                `json:"request_id,omitempty"`
	Counts    entity.PendingCounts `json:"counts"`
	Total     int                  `json:"total"`
}

// NotificationService performs the best-effort side effects of a committed transition
type NotificationService interface {
	// RegisterHandlers subscribes the fan-out handlers on the dispatcher
	RegisterHandlers(d dispatcher.Dispatcher)

	// BroadcastPending publishes recomputed pending counts to the admin channel
	BroadcastPending(ctx context.Context, requestID int64) error

	// NotifyNextActors emails whoever is responsible for the request in state.
	// Nothing is sent when the request has already moved past state; an empty
	// state means the request's current one.
	NotifyNextActors(ctx context.Context, requestID int64, state domainwf.State) error
}

type notificationServiceImpl struct {
	requestRepo   port.RequestRepository
	referenceRepo port.ReferenceRepository
	mailer        port.Mailer
	publisher     port.Publisher
	tokens        *linktoken.Service
	policy        *workflow.StagePolicy
	cfg           NotificationConfig
	logger        Logger
}

// NewNotificationService creates a new NotificationService
func NewNotificationService(
	requestRepo port.RequestRepository,
	referenceRepo port.ReferenceRepository,
	mailer port.Mailer,
	publisher port.Publisher,
	tokens *linktoken.Service,
	policy *workflow.StagePolicy,
	cfg NotificationConfig,
	logger Logger,
) NotificationService {
	return &notificationServiceImpl{
		requestRepo:   requestRepo,
		referenceRepo: referenceRepo,
		mailer:        mailer,
		publisher:     publisher,
		tokens:        tokens,
		policy:        policy,
		cfg:           cfg,
		logger:        loggerOrNop(logger),
	}
}

// RegisterHandlers implements NotificationService
func (s *notificationServiceImpl) RegisterHandlers(d dispatcher.Dispatcher) {
	badge := func(ctx context.Context, evt *event.Event) error {
		return s.BroadcastPending(ctx, evt.RequestID)
	}
	mail := func(ctx context.Context, evt *event.Event) error {
		return s.NotifyNextActors(ctx, evt.RequestID, domainwf.State(evt.GetPayloadString(event.KeyTo)))
	}

	d.SubscribeNamed(event.TypeRequestSubmitted, "badge", badge)
	d.SubscribeNamed(event.TypeRequestTransitioned, "badge", badge)
	d.SubscribeNamed(event.TypeRequestBilled, "badge", badge)
	d.SubscribeNamed(event.TypeBillingPending, "badge", badge)

	d.SubscribeNamed(event.TypeRequestSubmitted, "email", mail)
	d.SubscribeNamed(event.TypeRequestTransitioned, "email", mail)
}

// BroadcastPending implements NotificationService
func (s *notificationServiceImpl) BroadcastPending(ctx context.Context, requestID int64) error {
	counts, err := s.requestRepo.CountPending(ctx)
	if err != nil {
		metrics.RecordNotification("broadcast", err)
		return fmt.Errorf("%w: count pending: %v", domainwf.ErrNotificationFailure, err)
	}

	metrics.SetPending(entity.StageVerification, counts.Verification)
	metrics.SetPending(entity.StageRecommendation, counts.Recommendation)
	metrics.SetPending(entity.StageApproval, counts.Approval)
	metrics.SetPending("billing", counts.BillingPending)

	payload := BadgePayload{RequestID: requestID, Counts: counts, Total: counts.Total()}
	err = s.publisher.Publish(ctx, s.cfg.AdminChannel, BadgeEventName, payload)
	metrics.RecordNotification("broadcast", err)
	if err != nil {
		return fmt.Errorf("%w: publish badge: %v", domainwf.ErrNotificationFailure, err)
	}
	return nil
}

// NotifyNextActors implements NotificationService
func (s *notificationServiceImpl) NotifyNextActors(ctx context.Context, requestID int64, state domainwf.State) error {
	req, err := s.requestRepo.GetByID(ctx, requestID)
	if err != nil {
		return fmt.Errorf("%w: load request %d: %v", domainwf.ErrNotificationFailure, requestID, err)
	}
	if req == nil {
		return fmt.Errorf("%w: request %d not found", domainwf.ErrNotificationFailure, requestID)
	}

	current := domainwf.DeriveState(req)
	if state == "" {
		state = current
	}
	if state != current {
		// a later event covers the current state
		s.logger.Info("Skipping notification, request has moved on",
			"request_id", requestID,
			"event_state", state,
			"state", current,
		)
		return nil
	}

	actors, action := s.policy.NextActors(req, state)
	if len(actors) == 0 {
		s.logger.Info("No recipients for notification", "request_id", requestID, "state", state)
		return nil
	}

	asset := fmt.Sprintf("#%d", req.AssetID)
	if a, err := s.referenceRepo.GetAsset(ctx, req.AssetID); err == nil && a != nil {
		asset = a.RegisterNumber
	}

	var errs []error
	for _, actorID := range actors {
		emp, err := s.referenceRepo.GetEmployee(ctx, actorID)
		if err != nil || emp == nil || emp.Email == "" {
			s.logger.Info("Skipping notification, no email on record", "request_id", requestID, "ramco_id", actorID)
			continue
		}

		var mail port.Mail
		if action == "" {
			mail, err = s.statusMail(req, state, emp, asset)
		} else {
			mail, err = s.actionMail(req, action, emp, asset)
		}
		if err == nil {
			err = s.mailer.SendMail(ctx, mail)
		}
		metrics.RecordNotification(s.mailer.Name(), err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %v", actorID, err))
			continue
		}

		s.logger.Info("Notification sent",
			"request_id", requestID,
			"state", state,
			"recipient", actorID,
			"transport", s.mailer.Name(),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", domainwf.ErrNotificationFailure, errors.Join(errs...))
	}
	return nil
}

func (s *notificationServiceImpl) actionMail(req *entity.MaintenanceRequest, action domainwf.Action, emp *entity.Employee, asset string) (port.Mail, error) {
	token, err := s.tokens.Issue(req.ID, emp.RamcoID, action, s.cfg.TokenTTL)
	if err != nil {
		return port.Mail{}, fmt.Errorf("issue link token: %w", err)
	}

	body, err := render(actionMailTemplate, actionMailData{
		Recipient:   emp.FullName,
		RequestID:   req.ID,
		Asset:       asset,
		Stage:       action.Stage(),
		Description: req.Description,
		ProceedURL:  s.linkURL(token, domainwf.DecisionProceed),
		RejectURL:   s.linkURL(token, domainwf.DecisionReject),
		ExpiresAt:   time.Now().Add(s.tokens.EffectiveTTL(s.cfg.TokenTTL)).Format("2006-01-02 15:04"),
	})
	if err != nil {
		return port.Mail{}, err
	}

	return port.Mail{
		To:       []string{emp.Email},
		Subject:  fmt.Sprintf("Maintenance request #%d awaiting %s", req.ID, action.Stage()),
		HTMLBody: body,
	}, nil
}

func (s *notificationServiceImpl) statusMail(req *entity.MaintenanceRequest, state domainwf.State, emp *entity.Employee, asset string) (port.Mail, error) {
	comment := ""
	switch {
	case req.Cancellation != nil:
		comment = req.Cancellation.Comment
	case req.Approval != nil:
		comment = req.Approval.Comment
	case req.Recommendation != nil:
		comment = req.Recommendation.Comment
	case req.Verification != nil:
		comment = req.Verification.Comment
	}

	status := strings.ToLower(state.String())
	body, err := render(statusMailTemplate, statusMailData{
		Recipient: emp.FullName,
		RequestID: req.ID,
		Asset:     asset,
		Status:    status,
		Comment:   comment,
	})
	if err != nil {
		return port.Mail{}, err
	}

	return port.Mail{
		To:       []string{emp.Email},
		Subject:  fmt.Sprintf("Maintenance request #%d %s", req.ID, status),
		HTMLBody: body,
	}, nil
}

func (s *notificationServiceImpl) linkURL(token string, decision domainwf.Decision) template.URL {
	q := url.Values{}
	q.Set("token", token)
	q.Set("decision", string(decision))
	return template.URL(strings.TrimRight(s.cfg.BaseURL, "/") + "/api/v1/links/authorize?" + q.Encode())
}
