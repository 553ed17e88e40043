package executor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/nomadbarefoot/surf/internal/types"
)

// defaultBatchConcurrency bounds parallel batch work when the request does
// not set its own limit.
const defaultBatchConcurrency = 5

// Batch runs several operations against one session, sequentially or with
// bounded parallelism, and reports per-operation outcomes in request order.
// One failed operation never aborts its siblings.
func (e *Executor) Batch(ctx context.Context, req *types.BatchRequest) (*types.BatchResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	// Resolve the session up front so a dead session fails the envelope
	// instead of every operation in it.
	if _, err := e.registry.Get(req.SessionID); err != nil {
		return nil, err
	}

	start := time.Now()
	results := make([]types.BatchOperationResult, len(req.Operations))

	if req.Parallel {
		limit := req.MaxConcurrent
		if limit <= 0 {
			limit = defaultBatchConcurrency
		}
		sem := semaphore.NewWeighted(int64(limit))
		var wg sync.WaitGroup
		for i, op := range req.Operations {
			wg.Add(1)
			go func(i int, op types.BatchOperation) {
				defer wg.Done()
				if err := sem.Acquire(ctx, 1); err != nil {
					results[i] = failedOperation(op.Type, err)
					return
				}
				defer sem.Release(1)
				results[i] = e.runOne(ctx, req.SessionID, op)
			}(i, op)
		}
		wg.Wait()
	} else {
		for i, op := range req.Operations {
			results[i] = e.runOne(ctx, req.SessionID, op)
		}
	}

	res := &types.BatchResult{
		Results:    results,
		Total:      len(results),
		Parallel:   req.Parallel,
		DurationMs: durationMs(start),
	}
	for _, r := range results {
		if r.Success {
			res.Succeeded++
		} else {
			res.Failed++
		}
	}

	log.Info().
		Str("session_id", req.SessionID).
		Int("total", res.Total).
		Int("succeeded", res.Succeeded).
		Int("failed", res.Failed).
		Bool("parallel", req.Parallel).
		Msg("Batch completed")
	return res, nil
}

func (e *Executor) runOne(ctx context.Context, sessionID string, op types.BatchOperation) types.BatchOperationResult {
	data, err := e.run(ctx, sessionID, op)
	if err != nil {
		return failedOperation(op.Type, err)
	}
	return types.BatchOperationResult{Operation: op.Type, Success: true, Data: data}
}

func failedOperation(opType string, err error) types.BatchOperationResult {
	res := types.BatchOperationResult{
		Operation: opType,
		Error:     err.Error(),
		ErrorCode: types.ErrorCode(err),
	}
	var bop *types.BrowserOperationError
	if errors.As(err, &bop) {
		res.Details = bop.Details
	}
	return res
}

// dispatch decodes a batch operation's params into the matching request and
// runs it. The batch session ID always wins over one embedded in params.
func (e *Executor) dispatch(ctx context.Context, sessionID string, op types.BatchOperation) (any, error) {
	switch op.Type {
	case types.OpNavigate:
		var req types.NavigateRequest
		if err := decodeParams(op.Params, &req); err != nil {
			return nil, err
		}
		req.SessionID = sessionID
		return e.Navigate(ctx, &req)
	case types.OpExtract:
		var req types.ExtractRequest
		if err := decodeParams(op.Params, &req); err != nil {
			return nil, err
		}
		req.SessionID = sessionID
		return e.Extract(ctx, &req)
	case types.OpExtractStructured:
		var req types.ExtractStructuredRequest
		if err := decodeParams(op.Params, &req); err != nil {
			return nil, err
		}
		req.SessionID = sessionID
		return e.ExtractStructured(ctx, &req)
	case types.OpDetectCaptcha:
		var req struct {
			TimeoutMs int `json:"timeout"`
		}
		if err := decodeParams(op.Params, &req); err != nil {
			return nil, err
		}
		return e.DetectCaptcha(ctx, sessionID, req.TimeoutMs)
	case types.OpInteract:
		var req types.InteractRequest
		if err := decodeParams(op.Params, &req); err != nil {
			return nil, err
		}
		req.SessionID = sessionID
		return e.Interact(ctx, &req)
	case types.OpScreenshot:
		var req types.ScreenshotRequest
		if err := decodeParams(op.Params, &req); err != nil {
			return nil, err
		}
		req.SessionID = sessionID
		return e.Screenshot(ctx, &req)
	default:
		return nil, types.NewValidationError("type", "unknown operation type: "+op.Type)
	}
}

func decodeParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return types.NewValidationError("params", err.Error())
	}
	return nil
}
