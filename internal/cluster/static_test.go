package cluster

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soltixdb/distro/internal/logging"
	"github.com/soltixdb/distro/internal/models"
)

type recorder struct {
	mu    sync.Mutex
	calls [][]string
}

func (r *recorder) fn(healthy []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, healthy)
}

func (r *recorder) last() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return nil
	}
	return r.calls[len(r.calls)-1]
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestStatic_InitialMembersHealthy(t *testing.T) {
	s := NewStatic(StaticConfig{Self: "b:1", Members: []string{"c:1", "a:1", "b:1"}}, logging.NewDevelopment())

	assert.Equal(t, "b:1", s.Self())
	assert.Equal(t, []string{"a:1", "b:1", "c:1"}, s.HealthyMembers())
}

func TestStatic_SelfAlwaysPresent(t *testing.T) {
	s := NewStatic(StaticConfig{Self: "b:1", Members: []string{"a:1"}}, logging.NewDevelopment())
	assert.Equal(t, []string{"a:1", "b:1"}, s.HealthyMembers())
}

func TestStatic_ProbeMarksUnhealthy(t *testing.T) {
	s := NewStatic(StaticConfig{Self: "a:1", Members: []string{"a:1", "b:1", "c:1"}}, logging.NewDevelopment())
	httpmock.ActivateNonDefault(s.Client().GetClient())
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodGet, "http://b:1/health",
		httpmock.NewStringResponder(http.StatusOK, `{"status":"up"}`))
	httpmock.RegisterResponder(http.MethodGet, "http://c:1/health",
		httpmock.NewErrorResponder(errors.New("connection refused")))

	rec := &recorder{}
	s.Subscribe(rec.fn)

	s.Probe(context.Background())
	assert.Equal(t, []string{"a:1", "b:1"}, s.HealthyMembers())
	assert.Equal(t, []string{"a:1", "b:1"}, rec.last())
	assert.Equal(t, []models.Member{
		{Address: "a:1", Healthy: true},
		{Address: "b:1", Healthy: true},
		{Address: "c:1", Healthy: false},
	}, s.Members())

	// unchanged result, no notification
	s.Probe(context.Background())
	assert.Equal(t, 1, rec.count())

	// c recovers
	httpmock.RegisterResponder(http.MethodGet, "http://c:1/health",
		httpmock.NewStringResponder(http.StatusOK, `{"status":"starting"}`))
	s.Probe(context.Background())
	assert.Equal(t, []string{"a:1", "b:1", "c:1"}, rec.last())
}

func TestStatic_ServerErrorIsUnhealthy(t *testing.T) {
	s := NewStatic(StaticConfig{Self: "a:1", Members: []string{"b:1"}}, logging.NewDevelopment())
	httpmock.ActivateNonDefault(s.Client().GetClient())
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodGet, "http://b:1/health",
		httpmock.NewStringResponder(http.StatusServiceUnavailable, ""))

	s.Probe(context.Background())
	assert.Equal(t, []string{"a:1"}, s.HealthyMembers())
}

func TestStatic_SetMembers(t *testing.T) {
	s := NewStatic(StaticConfig{Self: "a:1", Members: []string{"a:1", "b:1"}}, logging.NewDevelopment())
	rec := &recorder{}
	s.Subscribe(rec.fn)

	s.SetMembers([]string{"a:1", "b:1", "d:1"})
	assert.Equal(t, []string{"a:1", "b:1", "d:1"}, rec.last())

	s.SetMembers([]string{"d:1"})
	assert.Equal(t, []string{"a:1", "d:1"}, s.HealthyMembers())
}

func TestStatic_StartProbesPeriodically(t *testing.T) {
	s := NewStatic(StaticConfig{
		Self:     "a:1",
		Members:  []string{"a:1", "b:1"},
		Interval: 10 * time.Millisecond,
	}, logging.NewDevelopment())
	httpmock.ActivateNonDefault(s.Client().GetClient())
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodGet, "http://b:1/health",
		httpmock.NewErrorResponder(errors.New("down")))

	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool {
		return len(s.HealthyMembers()) == 1
	}, time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()
}
