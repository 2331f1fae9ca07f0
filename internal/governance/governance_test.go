package governance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/errs"
)

type failingGate struct{}

func (failingGate) CheckMode(context.Context) (Mode, error) {
	return "", assert.AnError
}

func (failingGate) Escalate(context.Context, string, []Finding) error {
	return assert.AnError
}

func TestGuard_UnrestrictedSkipsGate(t *testing.T) {
	g := NewGuard(failingGate{}, false, nil)
	assert.NoError(t, g.Check(context.Background()))
}

func TestGuard_RestrictedFailsClosed(t *testing.T) {
	ctx := context.Background()

	err := NewGuard(failingGate{}, true, nil).Check(ctx)
	assert.True(t, errs.IsGateDenied(err), "unreachable gate: got %v", err)

	gate := NewStaticGate(ModeBlock, false)
	err = NewGuard(gate, true, nil).Check(ctx)
	assert.True(t, errs.IsGateDenied(err), "BLOCK: got %v", err)

	gate.SetMode(ModeAllow)
	assert.NoError(t, NewGuard(gate, true, nil).Check(ctx))
}

func TestGuard_CheckEscalatedIgnoresMode(t *testing.T) {
	gate := NewStaticGate(ModeBlock, false)
	g := NewGuard(gate, false, nil)

	assert.NoError(t, g.Check(context.Background()))
	assert.True(t, errs.IsGateDenied(g.CheckEscalated(context.Background())))
}

func TestStaticGate_BlockOnEscalate(t *testing.T) {
	gate := NewStaticGate(ModeAllow, true)
	ctx := context.Background()

	require.NoError(t, gate.Escalate(ctx, "art-1", []Finding{{Type: "SSN", Offset: 4, Length: 11}}))

	mode, err := gate.CheckMode(ctx)
	require.NoError(t, err)
	assert.Equal(t, ModeBlock, mode)
	require.Len(t, gate.Escalations(), 1)
	assert.Equal(t, "art-1", gate.Escalations()[0].ArtifactID)
}

func TestHTTPGate(t *testing.T) {
	var escalated atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/mode":
			_ = json.NewEncoder(w).Encode(map[string]string{"mode": "ALLOW"})
		case r.Method == http.MethodPost && r.URL.Path == "/escalations":
			var body struct {
				ArtifactID string    `json:"artifact_id"`
				Findings   []Finding `json:"findings"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ArtifactID == "" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			escalated.Add(1)
			w.WriteHeader(http.StatusAccepted)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	gate := NewHTTPGate(srv.URL+"/", time.Second, DefaultBreakerConfig("gate"), nil)
	ctx := context.Background()

	mode, err := gate.CheckMode(ctx)
	require.NoError(t, err)
	assert.Equal(t, ModeAllow, mode)

	require.NoError(t, gate.Escalate(ctx, "art-1", []Finding{{Type: "MRN", Offset: 0, Length: 8}}))
	assert.Equal(t, int32(1), escalated.Load())
}

func TestHTTPGate_UnknownModeIsBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"mode": "MAYBE"})
	}))
	defer srv.Close()

	mode, err := NewHTTPGate(srv.URL, time.Second, DefaultBreakerConfig("gate"), nil).CheckMode(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ModeBlock, mode)
}

func TestHTTPGate_BreakerOpensAfterFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := DefaultBreakerConfig("gate")
	cfg.MinRequests = 2
	cfg.Timeout = time.Minute
	gate := NewHTTPGate(srv.URL, time.Second, cfg, nil)
	guard := NewGuard(gate, true, nil)

	for i := 0; i < 5; i++ {
		err := guard.Check(context.Background())
		assert.True(t, errs.IsGateDenied(err), "attempt %d: got %v", i, err)
	}
	assert.Equal(t, int32(2), calls.Load(), "open breaker must short-circuit calls")
}

func TestHTTPScanner(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Text string `json:"text"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		var findings []Finding
		if body.Text == "MRN 12345678" {
			findings = append(findings, Finding{Type: "MRN", Offset: 4, Length: 8})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"findings": findings})
	}))
	defer srv.Close()

	scanner := NewHTTPScanner(srv.URL, time.Second, DefaultBreakerConfig("scanner"), nil)

	findings, err := scanner.Scan(context.Background(), "MRN 12345678")
	require.NoError(t, err)
	assert.Equal(t, []Finding{{Type: "MRN", Offset: 4, Length: 8}}, findings)

	findings, err = scanner.Scan(context.Background(), "nothing here")
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestNoopScanner(t *testing.T) {
	findings, err := NoopScanner{}.Scan(context.Background(), "anything")
	assert.NoError(t, err)
	assert.Empty(t, findings)
}
