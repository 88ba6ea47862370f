package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ics-guard/icsguard/internal/controllerclient"
	"github.com/ics-guard/icsguard/internal/eventbus"
	"github.com/ics-guard/icsguard/internal/flowstore"
	"github.com/ics-guard/icsguard/internal/inference"
	"github.com/ics-guard/icsguard/internal/policyengine"
)

type stubController struct {
	events []eventbus.Event
}

func (s *stubController) Topology(ctx context.Context) (controllerclient.Topology, error) {
	return controllerclient.Topology{}, nil
}
func (s *stubController) Alerts(ctx context.Context) ([]controllerclient.Alert, error) { return nil, nil }
func (s *stubController) HoneypotLogs(ctx context.Context) ([]controllerclient.HoneypotLog, error) {
	return nil, nil
}
func (s *stubController) Policies() []*policyengine.Policy            { return nil }
func (s *stubController) GetPolicy(id string) (*policyengine.Policy, bool) { return nil, false }
func (s *stubController) CreatePolicy(p *policyengine.Policy)         {}
func (s *stubController) UpdatePolicy(p *policyengine.Policy)         {}
func (s *stubController) DeletePolicy(id string)                      {}
func (s *stubController) PredictFlow(flow *flowstore.Flow) flowstore.DetectionResult {
	return flowstore.DetectionResult{}
}
func (s *stubController) PredictBatch(flows []*flowstore.Flow) []flowstore.DetectionResult {
	return nil
}
func (s *stubController) ModelMeta() inference.Artifacts { return inference.Artifacts{} }
func (s *stubController) RecentEvents(limit int, typeFilter eventbus.EventType) []eventbus.Event {
	return s.events
}

func newTestServer() (*Server, *stubController) {
	c := &stubController{}
	noopStream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	return NewServer(c, noopStream, nil), c
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEventsLogs_PerPageClampedTo200(t *testing.T) {
	c := &stubController{}
	for i := 0; i < 500; i++ {
		c.events = append(c.events, eventbus.Event{Type: eventbus.EventTopologyChange})
	}
	noopStream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	srv := NewServer(c, noopStream, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/events/logs?page=1&per_page=1000", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"per_page":200`)
}

func TestPolicyGet_NotFoundReturns404(t *testing.T) {
	srv, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/policies/missing", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
