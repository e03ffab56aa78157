package chain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AnTengye/escrowdash/config"
	"github.com/AnTengye/escrowdash/model"
)

func drain(events <-chan model.ConfirmationEvent, errs <-chan error) ([]model.ConfirmationEvent, error) {
	var got []model.ConfirmationEvent
	for ev := range events {
		got = append(got, ev)
	}
	return got, <-errs
}

func TestObserverWatchCompletes(t *testing.T) {
	var headCalls, opCalls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/operations/transactions/ooHash":
			if opCalls.Add(1) == 1 {
				w.Write([]byte(`[]`))
				return
			}
			w.Write([]byte(`[{"level":100,"status":"applied"}]`))
		case "/v1/head":
			fmt.Fprintf(w, `{"level":%d}`, 99+headCalls.Add(1))
		default:
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	o := NewObserver(server.URL, server.Client(), 5*time.Millisecond)
	got, err := drain(o.Watch(context.Background(), "ooHash", 2))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	want := []model.ConfirmationEvent{{Level: 100, CurrentConfirmation: 1}, {Level: 101, CurrentConfirmation: 2}}
	if len(got) != len(want) {
		t.Fatalf("Expected %d events, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Event %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestObserverWatchFailedOperation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"level":100,"status":"failed","errors":[{"type":"proto.script_rejected"}]}]`))
	}))
	defer server.Close()

	o := NewObserver(server.URL, server.Client(), 5*time.Millisecond)
	got, err := drain(o.Watch(context.Background(), "ooHash", 1))
	if err == nil {
		t.Fatal("Expected error for failed operation")
	}
	if !strings.Contains(err.Error(), "failed: proto.script_rejected") {
		t.Errorf("Unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected no events, got %v", got)
	}
}

func TestObserverWatchCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	o := NewObserver(server.URL, server.Client(), 5*time.Millisecond)
	_, err := drain(o.Watch(ctx, "ooHash", 1))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestClientSendReturnsObservableOperation(t *testing.T) {
	signer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"op_hash":"ooSent"}`))
	}))
	defer signer.Close()
	indexer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/head" {
			w.Write([]byte(`{"level":7}`))
			return
		}
		if r.URL.Path != "/v1/operations/transactions/ooSent" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`[{"level":7,"status":"applied"}]`))
	}))
	defer indexer.Close()

	c := NewClient(&config.ChainConfig{ContractAddress: "KT1test", Network: "ghostnet"},
		NewSigner(signer.URL, time.Second),
		NewObserver(indexer.URL, indexer.Client(), 5*time.Millisecond))

	if c.Contract() != "KT1test" {
		t.Errorf("Expected KT1test, got %s", c.Contract())
	}

	op, err := c.Send(context.Background(), model.TransferParams{Entrypoint: model.EntrypointApprove}, model.Fees{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if op.Hash() != "ooSent" {
		t.Errorf("Expected ooSent, got %s", op.Hash())
	}

	got, err := drain(op.Confirmations(context.Background(), 1))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].CurrentConfirmation != 1 || got[0].Level != 7 {
		t.Errorf("Unexpected events %v", got)
	}
}
