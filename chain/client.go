// Package chain is the adapter between the dashboard core and the network:
// the wallet signer bridge for estimates, signing and wallet permissions, and
// the indexer for confirmation tracking. A Client is process-wide and safe
// for concurrent use.
package chain

import (
	"context"

	"github.com/AnTengye/escrowdash/config"
	"github.com/AnTengye/escrowdash/model"
)

// Operation is a broadcast operation awaiting confirmation.
type Operation interface {
	Hash() string
	// Confirmations streams confirmation events until n is reached (events
	// closed, no error) or the stream fails (one error).
	Confirmations(ctx context.Context, n int) (<-chan model.ConfirmationEvent, <-chan error)
}

type Client struct {
	contract string
	network  string
	appName  string
	signer   *Signer
	observer *Observer
}

func NewClient(cfg *config.ChainConfig, signer *Signer, observer *Observer) *Client {
	return &Client{
		contract: cfg.ContractAddress,
		network:  cfg.Network,
		appName:  cfg.AppName,
		signer:   signer,
		observer: observer,
	}
}

// Contract returns the escrow contract address.
func (c *Client) Contract() string {
	return c.contract
}

func (c *Client) Estimate(ctx context.Context, params model.TransferParams) (model.Estimate, error) {
	return c.signer.Estimate(ctx, params)
}

// Send broadcasts params with the given limits.
func (c *Client) Send(ctx context.Context, params model.TransferParams, fees model.Fees) (Operation, error) {
	hash, err := c.signer.Inject(ctx, params, fees)
	if err != nil {
		return nil, err
	}
	return &operation{hash: hash, observer: c.observer}, nil
}

func (c *Client) ActiveAccount(ctx context.Context) (string, error) {
	return c.signer.ActiveAccount(ctx)
}

// RequestPermissions connects the wallet on the configured network.
func (c *Client) RequestPermissions(ctx context.Context) (string, error) {
	return c.signer.RequestPermissions(ctx, c.network, c.appName)
}

func (c *Client) ClearActiveAccount(ctx context.Context) error {
	return c.signer.ClearActiveAccount(ctx)
}

type operation struct {
	hash     string
	observer *Observer
}

func (o *operation) Hash() string { return o.hash }

func (o *operation) Confirmations(ctx context.Context, n int) (<-chan model.ConfirmationEvent, <-chan error) {
	return o.observer.Watch(ctx, o.hash, n)
}
