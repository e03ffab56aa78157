package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AnTengye/escrowdash/model"
	"github.com/AnTengye/escrowdash/pkg/logger"
)

// Observer tracks operation inclusion and confirmation depth through the
// indexer by polling the operation and the chain head.
type Observer struct {
	indexerURL string
	httpClient *http.Client
	interval   time.Duration
}

func NewObserver(indexerURL string, httpClient *http.Client, interval time.Duration) *Observer {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Observer{
		indexerURL: strings.TrimRight(indexerURL, "/"),
		httpClient: httpClient,
		interval:   interval,
	}
}

type operationStatus struct {
	Level  int64  `json:"level"`
	Status string `json:"status"`
	Errors []struct {
		Type string `json:"type"`
	} `json:"errors"`
}

type headResponse struct {
	Level int64 `json:"level"`
}

// Watch polls until the operation reaches required confirmations.
//
// Every increase of the confirmation count is sent on the events channel.
// Completion closes events with nothing sent on the error channel; failure
// sends exactly one error and then closes both. Inclusion with a status other
// than "applied" is a failure. Transient indexer errors are retried on the
// next tick.
func (o *Observer) Watch(ctx context.Context, opHash string, required int) (<-chan model.ConfirmationEvent, <-chan error) {
	events := make(chan model.ConfirmationEvent)
	errs := make(chan error, 1)
	if required < 1 {
		required = 1
	}

	go func() {
		defer close(events)
		defer close(errs)

		ctx := logger.WithOpHash(ctx, opHash)
		ticker := time.NewTicker(o.interval)
		defer ticker.Stop()

		last := 0
		for {
			done, err := o.poll(ctx, opHash, required, &last, events)
			if err != nil {
				errs <- err
				return
			}
			if done {
				return
			}

			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			case <-ticker.C:
			}
		}
	}()

	return events, errs
}

func (o *Observer) poll(ctx context.Context, opHash string, required int, last *int, events chan<- model.ConfirmationEvent) (bool, error) {
	var ops []operationStatus
	if err := o.get(ctx, "/v1/operations/transactions/"+opHash, &ops); err != nil {
		logger.Debug(ctx, "operation poll failed", "error", err)
		return false, nil
	}
	if len(ops) == 0 {
		return false, nil
	}

	op := ops[0]
	if op.Status != "applied" {
		reason := op.Status
		if len(op.Errors) > 0 {
			types := make([]string, len(op.Errors))
			for i, e := range op.Errors {
				types[i] = e.Type
			}
			reason += ": " + strings.Join(types, ", ")
		}
		return false, fmt.Errorf("operation %s", reason)
	}

	var head headResponse
	if err := o.get(ctx, "/v1/head", &head); err != nil {
		logger.Debug(ctx, "head poll failed", "error", err)
		return false, nil
	}

	confirmations := int(head.Level-op.Level) + 1
	if confirmations <= *last {
		return false, nil
	}
	*last = confirmations

	select {
	case events <- model.ConfirmationEvent{Level: head.Level, CurrentConfirmation: confirmations}:
	case <-ctx.Done():
		return false, ctx.Err()
	}

	return confirmations >= required, nil
}

func (o *Observer) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.indexerURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("indexer returned %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
