package service

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/fleet-maintenance/internal/application/dispatcher"
	"github.com/garyjia/fleet-maintenance/internal/application/linktoken"
	"github.com/garyjia/fleet-maintenance/internal/application/workflow"
	"github.com/garyjia/fleet-maintenance/internal/domain/entity"
	"github.com/garyjia/fleet-maintenance/internal/domain/event"
	domainwf "github.com/garyjia/fleet-maintenance/internal/domain/workflow"
)

var tokenInLink = regexp.MustCompile(`token=([A-Za-z0-9._-]+)`)

type notificationFixture struct {
	repo      *memRequestRepo
	mailer    *recordingMailer
	publisher *recordingPublisher
	tokens    *linktoken.Service
	svc       NotificationService
}

func newNotificationFixture(t *testing.T, reqs ...*entity.MaintenanceRequest) *notificationFixture {
	t.Helper()
	tokens, err := linktoken.NewService(linktoken.Config{Secret: "test-secret"})
	require.NoError(t, err)

	f := &notificationFixture{
		repo:      newMemRequestRepo(reqs...),
		mailer:    &recordingMailer{},
		publisher: &recordingPublisher{},
		tokens:    tokens,
	}
	policy := workflow.NewStagePolicy(workflow.PolicyConfig{
		Verifiers:    []string{"A"},
		Recommenders:   []string{"B", "NOMAIL"},
		Administrators: []string{"A"},
	})
	f.svc = NewNotificationService(f.repo, fullReferences(), f.mailer, f.publisher, tokens, policy,
		NotificationConfig{BaseURL: "https://fleet.example.com/", AdminChannel: "admin"}, nil)
	return f
}

func TestNotificationService_EmailsNextActorWithLink(t *testing.T) {
	req := &entity.MaintenanceRequest{ID: 5, RequesterID: "R1", AssetID: 7, Verification: stage("A", entity.DecisionProceed)}
	f := newNotificationFixture(t, req)

	require.NoError(t, f.svc.NotifyNextActors(context.Background(), 5, domainwf.StateVerified))

	require.Len(t, f.mailer.mails, 1, "recommender without an email is skipped")
	mail := f.mailer.mails[0]
	assert.Equal(t, []string{"b@example.com"}, mail.To)
	assert.Contains(t, mail.Subject, "recommendation")
	assert.Contains(t, mail.HTMLBody, "https://fleet.example.com/api/v1/links/authorize?")
	assert.Contains(t, mail.HTMLBody, "WXY 1234")
	assert.Contains(t, mail.HTMLBody, "decision=proceed")
	assert.Contains(t, mail.HTMLBody, "decision=reject")

	m := tokenInLink.FindStringSubmatch(mail.HTMLBody)
	require.Len(t, m, 2)
	grant, err := f.tokens.VerifyFor(context.Background(), m[1], 5, domainwf.ActionRecommend)
	require.NoError(t, err)
	assert.Equal(t, "B", grant.ActorID)
}

func TestNotificationService_TerminalNoticeToRequester(t *testing.T) {
	req := &entity.MaintenanceRequest{ID: 6, RequesterID: "R1", AssetID: 7}
	req.Verification = &entity.StageDecision{ActorID: "A", Decision: entity.DecisionReject, Comment: "duplicate"}
	f := newNotificationFixture(t, req)

	require.NoError(t, f.svc.NotifyNextActors(context.Background(), 6, domainwf.StateRejected))

	require.Len(t, f.mailer.mails, 1)
	mail := f.mailer.mails[0]
	assert.Equal(t, []string{"aina@example.com"}, mail.To)
	assert.Contains(t, mail.Subject, "rejected")
	assert.Contains(t, mail.HTMLBody, "duplicate")
	assert.NotContains(t, mail.HTMLBody, "token=")
}

func TestNotificationService_SkipsStateAlreadyLeft(t *testing.T) {
	req := &entity.MaintenanceRequest{ID: 5, RequesterID: "R1", AssetID: 7, Verification: stage("A", entity.DecisionProceed)}
	f := newNotificationFixture(t, req)

	require.NoError(t, f.svc.NotifyNextActors(context.Background(), 5, domainwf.StateNew))
	assert.Empty(t, f.mailer.mails, "verifiers are not mailed once the request is verified")

	require.NoError(t, f.svc.NotifyNextActors(context.Background(), 5, ""))
	require.Len(t, f.mailer.mails, 1)
	assert.Equal(t, []string{"b@example.com"}, f.mailer.mails[0].To)
}

func TestNotificationService_QueuedTransitionsMailLatestStateOnce(t *testing.T) {
	req := &entity.MaintenanceRequest{
		ID:             8,
		RequesterID:    "R1",
		AssetID:        7,
		Verification:   stage("A", entity.DecisionProceed),
		Recommendation: stage("B", entity.DecisionProceed),
	}
	f := newNotificationFixture(t, req)
	d := dispatcher.NewDispatcher(dispatcher.WithWorkers(1))
	f.svc.RegisterHandlers(d)

	// both transitions committed before the queue drained
	d.DispatchAsync(context.Background(), event.NewEvent(event.TypeRequestTransitioned, 8, map[string]interface{}{
		event.KeyFrom: domainwf.StateNew.String(),
		event.KeyTo:   domainwf.StateVerified.String(),
	}))
	d.DispatchAsync(context.Background(), event.NewEvent(event.TypeRequestTransitioned, 8, map[string]interface{}{
		event.KeyFrom: domainwf.StateVerified.String(),
		event.KeyTo:   domainwf.StateRecommended.String(),
	}))
	require.NoError(t, d.Close())

	require.Len(t, f.mailer.mails, 1)
	mail := f.mailer.mails[0]
	assert.Equal(t, []string{"a@example.com"}, mail.To)
	assert.Contains(t, mail.Subject, "approval")
	assert.Len(t, f.publisher.messages, 2, "every transition still refreshes the badge")
}

func TestNotificationService_MailFailureIsNotificationFailure(t *testing.T) {
	f := newNotificationFixture(t, &entity.MaintenanceRequest{ID: 1, RequesterID: "R1", AssetID: 7})
	f.mailer.err = errors.New("smtp: 421 service not available")

	err := f.svc.NotifyNextActors(context.Background(), 1, domainwf.StateNew)
	assert.ErrorIs(t, err, domainwf.ErrNotificationFailure)
}

func TestNotificationService_BroadcastPending(t *testing.T) {
	f := newNotificationFixture(t)
	f.repo.counts = entity.PendingCounts{Verification: 2, Approval: 1, BillingPending: 1}

	require.NoError(t, f.svc.BroadcastPending(context.Background(), 3))

	require.Len(t, f.publisher.messages, 1)
	msg := f.publisher.messages[0]
	assert.Equal(t, "admin", msg.channel)
	assert.Equal(t, BadgeEventName, msg.event)
	payload, ok := msg.payload.(BadgePayload)
	require.True(t, ok)
	assert.Equal(t, 4, payload.Total)
	assert.Equal(t, int64(3), payload.RequestID)
}

func TestNotificationService_BroadcastFailure(t *testing.T) {
	f := newNotificationFixture(t)
	f.publisher.err = errors.New("redis: connection refused")

	err := f.svc.BroadcastPending(context.Background(), 1)
	assert.ErrorIs(t, err, domainwf.ErrNotificationFailure)
}

func TestNotificationService_RegisterHandlers(t *testing.T) {
	f := newNotificationFixture(t)
	d := dispatcher.NewDispatcher()
	defer d.Close()

	f.svc.RegisterHandlers(d)

	assert.Len(t, d.ListHandlers(event.TypeRequestTransitioned), 2)
	assert.Len(t, d.ListHandlers(event.TypeRequestSubmitted), 2)
	assert.Len(t, d.ListHandlers(event.TypeRequestBilled), 1)
	assert.Len(t, d.ListHandlers(event.TypeBillingPending), 1)
}
