package service

import (
	"context"
	"fmt"
	"time"

	"procedure-assistant-be/internal/dto"
	"procedure-assistant-be/internal/pkg/logger"
	"procedure-assistant-be/internal/repository/audit"
)

const auditModule = "AUDIT_SERVICE"

// AuditReader is the query side of the routing audit log.
type AuditReader interface {
	Summarize(ctx context.Context, since time.Time) (*audit.Summary, error)
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
}

type IRoutingAuditService interface {
	Summary(ctx context.Context, window time.Duration) (*dto.RoutingAuditSummaryResponse, error)
	RunRetention(ctx context.Context, retention, every time.Duration)
}

type routingAuditService struct {
	reader AuditReader
	logger logger.ILogger
	now    func() time.Time
}

func NewRoutingAuditService(reader AuditReader, logger logger.ILogger) IRoutingAuditService {
	return &routingAuditService{reader: reader, logger: logger, now: time.Now}
}

func (s *routingAuditService) Summary(ctx context.Context, window time.Duration) (*dto.RoutingAuditSummaryResponse, error) {
	if window <= 0 {
		return nil, fmt.Errorf("%w: window must be positive", ErrInvalidAuditWindow)
	}
	since := s.now().Add(-window)
	sum, err := s.reader.Summarize(ctx, since)
	if err != nil {
		return nil, err
	}
	return &dto.RoutingAuditSummaryResponse{
		Since:          since.UTC(),
		Total:          sum.Total,
		Answers:        sum.Answers,
		Clarifications: sum.Clarifications,
		Overridden:     sum.Overridden,
		Degraded:       sum.Degraded,
		ByConfidence:   sum.ByLevel,
	}, nil
}

// RunRetention deletes old audit records every interval until ctx is done.
func (s *routingAuditService) RunRetention(ctx context.Context, retention, every time.Duration) {
	if retention <= 0 || every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		if _, err := s.reader.Cleanup(ctx, retention); err != nil && ctx.Err() == nil {
			s.logger.Warn(auditModule, "Audit retention sweep failed", map[string]interface{}{"error": err.Error()})
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
