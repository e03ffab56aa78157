package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AnTengye/escrowdash/model"
	"github.com/AnTengye/escrowdash/pkg/tez"
)

// BridgeError is a non-2xx answer from the wallet signer bridge.
type BridgeError struct {
	Status  int
	Message string
}

func (e *BridgeError) Error() string {
	return fmt.Sprintf("signer bridge %d: %s", e.Status, e.Message)
}

// Signer talks to the wallet signer bridge, the sidecar that holds the
// wallet permission and signs operations on the user's behalf.
type Signer struct {
	baseURL    string
	httpClient *http.Client
}

func NewSigner(baseURL string, timeout time.Duration) *Signer {
	return &Signer{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type accountResponse struct {
	Address string `json:"address"`
}

type permissionRequest struct {
	Network string `json:"network"`
	AppName string `json:"app_name"`
}

type estimateResponse struct {
	SuggestedFee tez.Mutez `json:"suggested_fee_mutez"`
	GasLimit     int64     `json:"gas_limit"`
	StorageLimit int64     `json:"storage_limit"`
	OpSize       int64     `json:"op_size"`
}

type injectRequest struct {
	model.TransferParams
	Fee          tez.Mutez `json:"fee"`
	GasLimit     int64     `json:"gas_limit"`
	StorageLimit int64     `json:"storage_limit"`
}

type injectResponse struct {
	OpHash string `json:"op_hash"`
}

// ActiveAccount returns the address of the active wallet account, or "" when
// no account is connected.
func (s *Signer) ActiveAccount(ctx context.Context) (string, error) {
	var out accountResponse
	err := s.do(ctx, http.MethodGet, "/account", nil, &out)
	var be *BridgeError
	if errors.As(err, &be) && be.Status == http.StatusNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return out.Address, nil
}

// RequestPermissions asks the wallet to connect to network and returns the
// granted address.
func (s *Signer) RequestPermissions(ctx context.Context, network, appName string) (string, error) {
	var out accountResponse
	if err := s.do(ctx, http.MethodPost, "/permissions", permissionRequest{Network: network, AppName: appName}, &out); err != nil {
		return "", err
	}
	if out.Address == "" {
		return "", fmt.Errorf("wallet granted permission without an address")
	}
	return out.Address, nil
}

// ClearActiveAccount drops the wallet permission.
func (s *Signer) ClearActiveAccount(ctx context.Context) error {
	return s.do(ctx, http.MethodDelete, "/account", nil, nil)
}

func (s *Signer) Estimate(ctx context.Context, params model.TransferParams) (model.Estimate, error) {
	var out estimateResponse
	if err := s.do(ctx, http.MethodPost, "/estimate", params, &out); err != nil {
		return model.Estimate{}, err
	}
	return model.Estimate{
		SuggestedFee: out.SuggestedFee,
		GasLimit:     out.GasLimit,
		StorageLimit: out.StorageLimit,
		OpSize:       out.OpSize,
	}, nil
}

// Inject signs and broadcasts the transfer with the given limits and returns
// the operation hash.
func (s *Signer) Inject(ctx context.Context, params model.TransferParams, fees model.Fees) (string, error) {
	req := injectRequest{
		TransferParams: params,
		Fee:            fees.Fee,
		GasLimit:       fees.GasLimit,
		StorageLimit:   fees.StorageLimit,
	}
	var out injectResponse
	if err := s.do(ctx, http.MethodPost, "/operations", req, &out); err != nil {
		return "", err
	}
	if out.OpHash == "" {
		return "", fmt.Errorf("signer bridge returned no operation hash")
	}
	return out.OpHash, nil
}

func (s *Signer) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(respBody))
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &BridgeError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w, body: %s", err, string(respBody))
	}
	return nil
}
