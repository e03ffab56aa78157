package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/AnTengye/escrowdash/chain"
	"github.com/AnTengye/escrowdash/config"
	"github.com/AnTengye/escrowdash/model"
	"github.com/AnTengye/escrowdash/pkg/logger"
	"github.com/AnTengye/escrowdash/pkg/tez"
)

// ChainClient is the write path of the chain adapter.
type ChainClient interface {
	Contract() string
	Estimate(ctx context.Context, params model.TransferParams) (model.Estimate, error)
	Send(ctx context.Context, params model.TransferParams, fees model.Fees) (chain.Operation, error)
}

// FeePolicy is the fixed headroom added on top of a node estimate.
type FeePolicy struct {
	GasBuffer                int64
	MinimalNanotezPerGasUnit int64
	StorageBuffer            int64
}

func FeePolicyFromConfig(cfg *config.SubmitConfig) FeePolicy {
	return FeePolicy{
		GasBuffer:                cfg.GasBuffer,
		MinimalNanotezPerGasUnit: cfg.MinimalNanotezPerGasUnit,
		StorageBuffer:            cfg.StorageBuffer,
	}
}

// PadFees computes the submitted limits:
//
//	fee     = suggested + ceil(gasBuffer * nanotezPerGas / 1000) + opSize
//	gas     = estimated gas + gasBuffer
//	storage = estimated storage + storageBuffer
func PadFees(est model.Estimate, p FeePolicy) model.Fees {
	buffer := (p.GasBuffer*p.MinimalNanotezPerGasUnit + 999) / 1000
	return model.Fees{
		Fee:          est.SuggestedFee + tez.Mutez(buffer) + tez.Mutez(est.OpSize),
		GasLimit:     est.GasLimit + p.GasBuffer,
		StorageLimit: est.StorageLimit + p.StorageBuffer,
	}
}

const (
	outcomeConfirmed = "confirmed"
	outcomeEstimate  = "estimation_failed"
	outcomeSubmit    = "submission_failed"
	outcomeTimeout   = "timeout"
)

// Pipeline runs every mutating contract call: estimate, pad, send, then
// await confirmation.
type Pipeline struct {
	client        ChainClient
	policy        FeePolicy
	confirmations int
	timeout       time.Duration
	guard         *InFlight
	notifier      Notifier
	receipts      *ReceiptStore
	archive       ReceiptArchiver
	metrics       *Metrics
	now           func() time.Time
}

type PipelineOption func(*Pipeline)

func WithNotifier(n Notifier) PipelineOption {
	return func(p *Pipeline) { p.notifier = n }
}

func WithReceipts(s *ReceiptStore) PipelineOption {
	return func(p *Pipeline) { p.receipts = s }
}

func WithArchive(a ReceiptArchiver) PipelineOption {
	return func(p *Pipeline) { p.archive = a }
}

func WithMetrics(m *Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

func NewPipeline(client ChainClient, cfg *config.SubmitConfig, opts ...PipelineOption) *Pipeline {
	confirmations := cfg.Confirmations
	if confirmations < 1 {
		confirmations = 1
	}
	p := &Pipeline{
		client:        client,
		policy:        FeePolicyFromConfig(cfg),
		confirmations: confirmations,
		timeout:       time.Duration(cfg.ConfirmTimeoutSeconds) * time.Second,
		guard:         NewInFlight(),
		notifier:      LogNotifier{},
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Busy reports whether an operation for transactionID is in flight.
func (p *Pipeline) Busy(transactionID string) bool {
	return p.guard.Busy(transactionID)
}

// Submission is a broadcast operation whose confirmation is still pending.
type Submission struct {
	OpHash        string
	Action        string
	TransactionID string

	done    chan struct{}
	receipt *model.Receipt
	err     error
}

// Done is closed once the operation is confirmed or has failed.
func (s *Submission) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the operation settles. Cancelling ctx stops waiting but
// not the confirmation tracking.
func (s *Submission) Wait(ctx context.Context) (*model.Receipt, error) {
	select {
	case <-s.done:
		return s.receipt, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Submit runs a and waits for its final result.
func (p *Pipeline) Submit(ctx context.Context, a Action) (*model.Receipt, error) {
	s, err := p.Start(ctx, a)
	if err != nil {
		return nil, err
	}
	return s.Wait(ctx)
}

// Start estimates and broadcasts a, returning once the operation has a hash.
// Estimation and broadcast errors are returned directly; confirmation runs
// in the background. A second Start for the same transaction id before the
// first settles returns model.ErrBusy.
func (p *Pipeline) Start(ctx context.Context, a Action) (*Submission, error) {
	if !p.guard.Acquire(a.TransactionID) {
		return nil, model.ErrBusy
	}
	released := false
	defer func() {
		if !released {
			p.guard.Release(a.TransactionID)
		}
	}()

	if a.Sender != "" {
		ctx = logger.WithAddress(ctx, a.Sender)
	}
	params := a.params(p.client.Contract())

	est, err := p.client.Estimate(ctx, params)
	if err != nil {
		err = &model.EstimationError{Entrypoint: a.Entrypoint, Err: err}
		p.fail(ctx, a, "", outcomeEstimate, err)
		return nil, err
	}

	fees := PadFees(est, p.policy)
	logger.Debug(ctx, "fees padded",
		"action", a.Name,
		"suggested_fee", est.SuggestedFee,
		"fee", fees.Fee,
		"gas_limit", fees.GasLimit,
		"storage_limit", fees.StorageLimit,
	)

	op, err := p.client.Send(ctx, params, fees)
	if err != nil {
		err = &model.SubmissionError{Entrypoint: a.Entrypoint, Err: err}
		p.fail(ctx, a, "", outcomeSubmit, err)
		return nil, err
	}

	receipt := &model.Receipt{
		ID:            uuid.NewString(),
		Action:        a.Name,
		Entrypoint:    a.Entrypoint,
		TransactionID: a.TransactionID,
		Sender:        a.Sender,
		OpHash:        op.Hash(),
		Amount:        a.Amount,
		Estimate:      est,
		Fees:          fees,
		Events:        []model.ConfirmationEvent{},
		SubmittedAt:   p.now(),
	}

	s := &Submission{
		OpHash:        receipt.OpHash,
		Action:        a.Name,
		TransactionID: a.TransactionID,
		done:          make(chan struct{}),
	}

	ctx = logger.WithOpHash(ctx, receipt.OpHash)
	logger.Info(ctx, "operation broadcast", "action", a.Name, "transaction_id", a.TransactionID)
	p.metrics.AddInFlight(ctx, a.Name, 1)

	released = true
	go p.confirm(context.WithoutCancel(ctx), a, op, receipt, s)
	return s, nil
}

func (p *Pipeline) confirm(ctx context.Context, a Action, op chain.Operation, r *model.Receipt, s *Submission) {
	defer close(s.done)
	defer p.guard.Release(a.TransactionID)
	defer p.metrics.AddInFlight(ctx, a.Name, -1)

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	events, errs := op.Confirmations(ctx, p.confirmations)
	for ev := range events {
		r.Events = append(r.Events, ev)
		logger.Debug(ctx, "confirmation", "level", ev.Level, "confirmation", ev.CurrentConfirmation)
	}

	if err := <-errs; err != nil {
		if p.timeout > 0 && errors.Is(err, context.DeadlineExceeded) {
			s.err = &model.TimeoutError{OpHash: r.OpHash, After: p.timeout}
			p.fail(ctx, a, r.OpHash, outcomeTimeout, s.err)
			return
		}
		s.err = &model.SubmissionError{Entrypoint: a.Entrypoint, OpHash: r.OpHash, Err: err}
		p.fail(ctx, a, r.OpHash, outcomeSubmit, s.err)
		return
	}

	r.ConfirmedAt = p.now()
	s.receipt = r

	if p.receipts != nil {
		p.receipts.Save(r)
	}
	if p.archive != nil {
		if err := p.archive.Archive(ctx, r); err != nil {
			logger.Warn(ctx, "failed to archive receipt", "receipt_id", r.ID, "error", err)
		}
	}

	p.metrics.RecordSubmission(ctx, a.Name, outcomeConfirmed)
	p.metrics.RecordConfirmation(ctx, a.Name, r.ConfirmedAt.Sub(r.SubmittedAt))
	logger.Info(ctx, "operation confirmed", "action", a.Name, "transaction_id", a.TransactionID, "events", len(r.Events))
	p.notifier.Notify(ctx, Notice{
		Level:         NoticeSuccess,
		Message:       SuccessMessage,
		Action:        a.Name,
		TransactionID: a.TransactionID,
		OpHash:        r.OpHash,
		At:            r.ConfirmedAt,
	})
}

func (p *Pipeline) fail(ctx context.Context, a Action, opHash, outcome string, err error) {
	p.metrics.RecordSubmission(ctx, a.Name, outcome)
	logger.Error(ctx, "operation failed", "action", a.Name, "transaction_id", a.TransactionID, "outcome", outcome, "error", err)
	p.notifier.Notify(ctx, Notice{
		Level:         NoticeError,
		Message:       err.Error(),
		Action:        a.Name,
		TransactionID: a.TransactionID,
		OpHash:        opHash,
		At:            p.now(),
	})
}
