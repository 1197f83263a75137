package ticketmail

import (
	"context"
	"testing"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-ticketmail/adapters/gocommand"
	ticketcommand "github.com/goliatone/go-ticketmail/command"
	"github.com/goliatone/go-ticketmail/core"
	ticketquery "github.com/goliatone/go-ticketmail/query"
)

type stubFacadeService struct {
	revoked   []string
	ingested  []string
	healthFor string
}

func (s *stubFacadeService) GenerateAuthURL(context.Context, core.AuthURLRequest) (core.AuthURLResponse, error) {
	return core.AuthURLResponse{AuthURL: "https://login.example/authorize", State: "st_1"}, nil
}

func (s *stubFacadeService) HandleCallback(context.Context, core.CallbackRequest) (core.Connection, error) {
	return core.Connection{ID: "conn_1", Active: true}, nil
}

func (s *stubFacadeService) RevokeTokens(_ context.Context, connectionID string) (bool, error) {
	s.revoked = append(s.revoked, connectionID)
	return true, nil
}

func (s *stubFacadeService) RefreshToken(context.Context, string) (bool, error) { return true, nil }

func (s *stubFacadeService) ProvisionConnection(_ context.Context, req core.ProvisionRequest) (core.Connection, error) {
	return core.Connection{ID: "conn_new", UserID: req.UserID, TenantID: req.TenantID}, nil
}

func (s *stubFacadeService) DisconnectConnection(context.Context, string) error { return nil }

func (s *stubFacadeService) ProcessEmails(_ context.Context, req core.IngestionRequest) (core.IngestionResult, error) {
	s.ingested = append(s.ingested, "flat:"+req.ConnectionID)
	return core.IngestionResult{Processed: 1}, nil
}

func (s *stubFacadeService) ProcessEmailsWithThreading(_ context.Context, req core.IngestionRequest) (core.IngestionResult, error) {
	s.ingested = append(s.ingested, "threaded:"+req.ConnectionID)
	return core.IngestionResult{Processed: 2}, nil
}

func (s *stubFacadeService) GetProcessingStats(context.Context, string) (map[core.ProcessingStatus]int, error) {
	return map[core.ProcessingStatus]int{core.ProcessingStatusSuccess: 3}, nil
}

func (s *stubFacadeService) Health(_ context.Context, connectionID string) core.HealthReport {
	s.healthFor = connectionID
	return core.HealthReport{ConnectionID: connectionID, Status: core.HealthStatusHealthy}
}

func TestNewFacade_WiresCommandsAndQueries(t *testing.T) {
	facade, err := NewFacade(&stubFacadeService{})
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	commands := facade.Commands()
	if commands.GenerateAuthURL == nil || commands.HandleCallback == nil || commands.ProcessEmails == nil || commands.SendTicketEvent == nil {
		t.Fatalf("expected command handlers to be wired")
	}
	queries := facade.Queries()
	if queries.GetProcessingStats == nil || queries.Health == nil {
		t.Fatalf("expected query handlers to be wired")
	}
	if _, err := NewFacade(nil); err == nil {
		t.Fatalf("expected nil service error")
	}
}

func TestFacade_CommandAndQueryDelegation(t *testing.T) {
	svc := &stubFacadeService{}
	facade, err := NewFacade(svc)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	if err := facade.Commands().RevokeTokens.Execute(context.Background(), ticketcommand.RevokeTokensMessage{ConnectionID: "conn_1"}); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if len(svc.revoked) != 1 || svc.revoked[0] != "conn_1" {
		t.Fatalf("unexpected revoke delegation %v", svc.revoked)
	}

	stats, err := facade.Queries().GetProcessingStats.Query(context.Background(), ticketquery.GetProcessingStatsMessage{ConnectionID: "conn_1"})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats[core.ProcessingStatusSuccess] != 3 {
		t.Fatalf("unexpected stats %#v", stats)
	}

	// Without a sender the command reports a dependency error instead of panicking.
	if err := facade.Commands().SendTicketEvent.Execute(context.Background(), ticketcommand.SendTicketEventMessage{}); err == nil {
		t.Fatalf("expected missing dispatcher error")
	}
}

func TestFacade_RegisterRoutesThroughDispatcher(t *testing.T) {
	svc := &stubFacadeService{}
	facade, err := NewFacade(svc)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	adapter := gocommand.NewRegistryAdapter(gocmd.NewRegistry())
	subs, err := facade.Register(adapter)
	if err != nil {
		t.Fatalf("register facade: %v", err)
	}
	defer subs.Close()
	if subs.Len() != 11 {
		t.Fatalf("expected 11 subscriptions, got %d", subs.Len())
	}
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	collector := gocmd.NewResult[core.IngestionResult]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	if err := gocommand.Dispatch(ctx, ticketcommand.ProcessEmailsMessage{
		Request:  core.IngestionRequest{ConnectionID: "conn_1"},
		Threaded: true,
	}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if out, _ := collector.Load(); out.Processed != 2 {
		t.Fatalf("expected threaded result, got %#v", out)
	}

	report, err := gocommand.Query[ticketquery.HealthMessage, core.HealthReport](context.Background(), ticketquery.HealthMessage{ConnectionID: "conn_1"})
	if err != nil {
		t.Fatalf("health query: %v", err)
	}
	if report.Status != core.HealthStatusHealthy || svc.healthFor != "conn_1" {
		t.Fatalf("unexpected health report %#v", report)
	}
}
