package application

import (
	"context"
	"time"

	"github.com/wyfcoding/securitieslending/internal/decision"
	eventdomain "github.com/wyfcoding/securitieslending/internal/event/domain"
	"github.com/wyfcoding/securitieslending/internal/locate/domain"
	"github.com/wyfcoding/securitieslending/pkg/idgen"
)

const expiryBatch = 500

// Cancel PENDING → CANCELLED
func (e *Engine) Cancel(ctx context.Context, requestID string) (*domain.LocateRequest, error) {
	req, err := e.Repo.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	expected := req.Version
	if err := req.Cancel(e.now()); err != nil {
		return nil, err
	}
	if err := e.Repo.Update(ctx, req, expected); err != nil {
		if decision.KindOf(err) == decision.KindConflict {
			return nil, decision.NewStateError("locate %s resolved concurrently", requestID)
		}
		return nil, err
	}
	e.logger.InfoContext(ctx, "locate cancelled", "request_id", requestID)
	e.publishWorkflow(ctx, e.lifecycleEvent(req, eventdomain.EventLocateCancelled, false))
	return req, nil
}

// ExpireApprovals 将 asOf 时已过期的批准置为 EXPIRED，返回处理条数
func (e *Engine) ExpireApprovals(ctx context.Context, asOf time.Time) (int, error) {
	expired := 0
	for {
		batch, err := e.Repo.ListExpirable(ctx, asOf, expiryBatch)
		if err != nil {
			return expired, err
		}
		progressed := 0
		for _, req := range batch {
			expected := req.Version
			if err := req.Expire(asOf); err != nil {
				e.logger.WarnContext(ctx, "skip locate expiry", "request_id", req.RequestID, "error", err)
				continue
			}
			if err := e.Repo.Update(ctx, req, expected); err != nil {
				if decision.KindOf(err) == decision.KindConflict {
					continue
				}
				return expired, err
			}
			expired++
			progressed++
			e.publishWorkflow(ctx, e.lifecycleEvent(req, eventdomain.EventLocateExpired, true))
		}
		if len(batch) < expiryBatch || progressed == 0 {
			return expired, nil
		}
	}
}

// RunExpirySweep 周期性执行过期处理直到 ctx 取消
func (e *Engine) RunExpirySweep(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := e.ExpireApprovals(ctx, e.now())
			if err != nil {
				e.logger.ErrorContext(ctx, "locate expiry sweep failed", "error", err)
				continue
			}
			if n > 0 {
				e.logger.InfoContext(ctx, "locate approvals expired", "count", n)
			}
		}
	}
}

func (e *Engine) lifecycleEvent(req *domain.LocateRequest, eventType string, automatic bool) eventdomain.WorkflowEvent {
	return eventdomain.WorkflowEvent{
		EventID:           idgen.EventID(),
		EventType:         eventType,
		WorkflowType:      eventdomain.WorkflowLocate,
		WorkflowID:        req.RequestID,
		LocateID:          req.RequestID,
		Status:            string(req.Status),
		SecurityID:        req.SecurityID,
		ClientID:          req.ClientID,
		AggregationUnitID: req.AggregationUnitID,
		IsAutomatic:       automatic,
		ActionTimestamp:   req.UpdatedAt,
	}
}
