package service

import (
	"alcyxob/coaching-app/internal/domain"
	"alcyxob/coaching-app/internal/logger"
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/errgroup"
)

// BulkGenerateRequest runs the same generation for several clients.
type BulkGenerateRequest struct {
	TemplateID               primitive.ObjectID
	CoachID                  primitive.ObjectID
	ClientIDs                []primitive.ObjectID
	StartDate                time.Time
	EndDate                  *time.Time
	MaxOccurrences           *int
	Customizations           *domain.SessionCustomization
	ApplyClientCustomization *bool
}

// ClientOutcome is the per-client part of a bulk run. Exactly one of Result
// or Error is set.
type ClientOutcome struct {
	ClientID primitive.ObjectID
	Result   *GenerateResult
	Error    string
}

type BulkGenerateResult struct {
	BatchID        string
	Outcomes       []ClientOutcome
	TotalGenerated int
	FailedClients  int
}

// BulkGenerate generates for every client under one batch id. Clients run
// concurrently up to the configured limit; one client's failure does not
// stop the others.
func (s *generationService) BulkGenerate(ctx context.Context, req BulkGenerateRequest) (*BulkGenerateResult, error) {
	const op = "service.GenerationService.BulkGenerate"

	clients := uniqueIDs(req.ClientIDs)
	if len(clients) == 0 {
		return nil, fmt.Errorf("%w: at least one clientId is required", ErrInvalidRequest)
	}
	if err := validateWindow(req.TemplateID, req.CoachID, req.StartDate, req.EndDate, req.MaxOccurrences); err != nil {
		return nil, err
	}

	// Fail fast on template problems instead of repeating them per client.
	tmpl, err := s.recurringTemplate(ctx, req.TemplateID, req.CoachID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !tmpl.IsActive {
		return nil, fmt.Errorf("%s: %w", op, ErrTemplateInactive)
	}

	batchID := s.newID()
	outcomes := make([]ClientOutcome, len(clients))

	var g errgroup.Group
	g.SetLimit(s.opts.BulkConcurrency)
	for i, clientID := range clients {
		i, clientID := i, clientID
		g.Go(func() error {
			res, err := s.generate(ctx, GenerateRequest{
				TemplateID:               req.TemplateID,
				CoachID:                  req.CoachID,
				ClientID:                 clientID,
				StartDate:                req.StartDate,
				EndDate:                  req.EndDate,
				MaxOccurrences:           req.MaxOccurrences,
				Customizations:           req.Customizations,
				ApplyClientCustomization: req.ApplyClientCustomization,
			}, batchID)

			outcomes[i] = ClientOutcome{ClientID: clientID, Result: res}
			if err != nil {
				s.log.Warn("bulk generation failed for client",
					slog.String("batch_id", batchID),
					slog.String("client_id", clientID.Hex()),
					logger.Err(err))
				outcomes[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	out := &BulkGenerateResult{BatchID: batchID, Outcomes: outcomes}
	for _, o := range outcomes {
		if o.Result != nil {
			out.TotalGenerated += o.Result.TotalGenerated
		}
		if o.Error != "" || (o.Result != nil && !o.Result.Success) {
			out.FailedClients++
		}
	}

	s.log.Info("bulk generation finished",
		slog.String("batch_id", batchID),
		slog.Int("clients", len(clients)),
		slog.Int("generated", out.TotalGenerated),
		slog.Int("failed_clients", out.FailedClients))
	return out, nil
}

func uniqueIDs(ids []primitive.ObjectID) []primitive.ObjectID {
	seen := make(map[primitive.ObjectID]struct{}, len(ids))
	out := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		if id.IsZero() {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
