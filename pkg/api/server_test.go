package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovehq/grove/pkg/config"
	"github.com/grovehq/grove/pkg/engine"
	"github.com/grovehq/grove/pkg/events"
	"github.com/grovehq/grove/pkg/policy"
	"github.com/grovehq/grove/pkg/profile"
	"github.com/grovehq/grove/pkg/storage"
	"github.com/grovehq/grove/pkg/types"
)

func newTestServer(t *testing.T) (*Server, *storage.BoltStore) {
	t.Helper()
	s, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	profiles := profile.NewRegistry()
	profiles.Register(profile.FakeType())
	policies := policy.NewRegistry()
	policies.Register(policy.ScalingOutType())

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	svc := engine.NewService(s, profiles, policies, broker, config.Default())
	return NewServer(svc, config.Default()), s
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func createProfileReq(t *testing.T, srv *Server) string {
	t.Helper()
	w := doJSON(t, srv, http.MethodPost, "/v1/profiles", map[string]interface{}{
		"name": "web-server",
		"type": profile.FakeTypeName,
		"spec": map[string]interface{}{"flavor": "small"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	out := decode(t, w)
	return out["profile"].(map[string]interface{})["id"].(string)
}

func createClusterReq(t *testing.T, srv *Server, profileID string) string {
	t.Helper()
	w := doJSON(t, srv, http.MethodPost, "/v1/clusters", map[string]interface{}{
		"name":             "web",
		"profile_id":       profileID,
		"desired_capacity": 2,
		"min_size":         1,
		"max_size":         4,
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	out := decode(t, w)
	return out["cluster"].(map[string]interface{})["id"].(string)
}

func TestCreateClusterReturnsLocation(t *testing.T) {
	srv, s := newTestServer(t)
	profileID := createProfileReq(t, srv)

	w := doJSON(t, srv, http.MethodPost, "/v1/clusters", map[string]interface{}{
		"name":             "web",
		"profile_id":       profileID,
		"desired_capacity": 2,
		"min_size":         1,
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	location := w.Header().Get("Location")
	require.NotEmpty(t, location)

	out := decode(t, w)
	actionID := out["action"].(string)
	assert.Equal(t, "/v1/actions/"+actionID, location)

	a, err := s.GetAction(actionID)
	require.NoError(t, err)
	assert.Equal(t, types.ClusterCreate, a.Action)

	// The location URL resolves through the API.
	got := doJSON(t, srv, http.MethodGet, location, nil)
	require.Equal(t, http.StatusOK, got.Code)
}

func TestListRejectsUnknownQueryKey(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/v1/clusters?bogus=1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/v1/clusters?status=ACTIVE", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/v1/actions?owner=me", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetMissingClusterIs404(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv, http.MethodGet, "/v1/clusters/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateClusterValidationIs400(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv, http.MethodPost, "/v1/clusters", map[string]interface{}{
		"name":       "web",
		"profile_id": "ghost",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestClusterActionMultiplexer(t *testing.T) {
	srv, s := newTestServer(t)
	profileID := createProfileReq(t, srv)
	clusterID := createClusterReq(t, srv, profileID)

	w := doJSON(t, srv, http.MethodPost, "/v1/clusters/"+clusterID+"/actions", map[string]interface{}{
		"scale_out": map[string]interface{}{"count": 2},
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	out := decode(t, w)
	a, err := s.GetAction(out["action"].(string))
	require.NoError(t, err)
	assert.Equal(t, types.ClusterScaleOut, a.Action)
	assert.Equal(t, float64(2), a.Inputs["count"])
}

func TestClusterActionRejectsUnknownAndMultiple(t *testing.T) {
	srv, _ := newTestServer(t)
	profileID := createProfileReq(t, srv)
	clusterID := createClusterReq(t, srv, profileID)

	w := doJSON(t, srv, http.MethodPost, "/v1/clusters/"+clusterID+"/actions", map[string]interface{}{
		"explode": map[string]interface{}{},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/v1/clusters/"+clusterID+"/actions", map[string]interface{}{
		"scale_out": map[string]interface{}{"count": 1},
		"scale_in":  map[string]interface{}{"count": 1},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestClusterResizeViaMultiplexer(t *testing.T) {
	srv, s := newTestServer(t)
	profileID := createProfileReq(t, srv)
	clusterID := createClusterReq(t, srv, profileID)

	w := doJSON(t, srv, http.MethodPost, "/v1/clusters/"+clusterID+"/actions", map[string]interface{}{
		"resize": map[string]interface{}{
			"adjustment_type": types.ExactCapacity,
			"number":          3,
			"strict":          true,
		},
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	out := decode(t, w)
	a, err := s.GetAction(out["action"].(string))
	require.NoError(t, err)
	assert.Equal(t, types.ClusterResize, a.Action)
	assert.Equal(t, types.ExactCapacity, a.Inputs["adjustment_type"])
}

func TestProfileDeleteInUseIs409(t *testing.T) {
	srv, _ := newTestServer(t)
	profileID := createProfileReq(t, srv)
	createClusterReq(t, srv, profileID)

	w := doJSON(t, srv, http.MethodDelete, "/v1/profiles/"+profileID, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestDeleteClusterReturnsLocation(t *testing.T) {
	srv, s := newTestServer(t)
	profileID := createProfileReq(t, srv)
	clusterID := createClusterReq(t, srv, profileID)

	w := doJSON(t, srv, http.MethodDelete, "/v1/clusters/"+clusterID, nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	out := decode(t, w)
	a, err := s.GetAction(out["action"].(string))
	require.NoError(t, err)
	assert.Equal(t, types.ClusterDelete, a.Action)
}

func TestNodeActionMultiplexer(t *testing.T) {
	srv, s := newTestServer(t)
	profileID := createProfileReq(t, srv)

	w := doJSON(t, srv, http.MethodPost, "/v1/nodes", map[string]interface{}{
		"name":       "solo",
		"profile_id": profileID,
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	nodeID := decode(t, w)["node"].(map[string]interface{})["id"].(string)

	w = doJSON(t, srv, http.MethodPost, "/v1/nodes/"+nodeID+"/actions", map[string]interface{}{
		"recover": map[string]interface{}{"operation": "recreate"},
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	a, err := s.GetAction(decode(t, w)["action"].(string))
	require.NoError(t, err)
	assert.Equal(t, types.NodeRecover, a.Action)
	assert.Equal(t, "recreate", a.Inputs["operation"])
}

func TestSignalAction(t *testing.T) {
	srv, s := newTestServer(t)
	profileID := createProfileReq(t, srv)
	clusterID := createClusterReq(t, srv, profileID)

	w := doJSON(t, srv, http.MethodPost, "/v1/clusters/"+clusterID+"/actions", map[string]interface{}{
		"check": map[string]interface{}{},
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	actionID := decode(t, w)["action"].(string)

	w = doJSON(t, srv, http.MethodPost, "/v1/actions/"+actionID+"/signal", map[string]interface{}{
		"signal": "CANCEL",
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	sig, err := s.SignalQuery(actionID)
	require.NoError(t, err)
	assert.Equal(t, types.SignalCancel, sig)

	w = doJSON(t, srv, http.MethodPost, "/v1/actions/"+actionID+"/signal", map[string]interface{}{
		"signal": "EXPLODE",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPolicyCRUD(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/v1/policies", map[string]interface{}{
		"name": "grow",
		"type": policy.ScalingOutName,
		"spec": map[string]interface{}{
			"adjustment": map[string]interface{}{"type": types.ChangeInCapacity, "number": 1},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	policyID := decode(t, w)["policy"].(map[string]interface{})["id"].(string)

	w = doJSON(t, srv, http.MethodGet, "/v1/policies/"+policyID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodPatch, "/v1/policies/"+policyID, map[string]interface{}{
		"name": "grow-renamed",
	})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodDelete, "/v1/policies/"+policyID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestPolicyCreateBadSpecIs400(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/v1/policies", map[string]interface{}{
		"name": "grow",
		"type": policy.ScalingOutName,
		"spec": map[string]interface{}{
			"adjustment": map[string]interface{}{"type": "SIDEWAYS"},
		},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEventsEndpoint(t *testing.T) {
	srv, s := newTestServer(t)
	require.NoError(t, s.CreateEvent(&types.Event{
		Level:   types.EventInfo,
		ObjType: "cluster",
		ObjID:   "c1",
		Status:  "ACTIVE",
		Reason:  "Cluster creation succeeded",
	}))

	w := doJSON(t, srv, http.MethodGet, "/v1/events?obj_type=cluster", nil)
	require.Equal(t, http.StatusOK, w.Code)
	out := decode(t, w)
	assert.Len(t, out["events"], 1)
}

func TestClusterPoliciesEndpoints(t *testing.T) {
	srv, s := newTestServer(t)
	profileID := createProfileReq(t, srv)
	clusterID := createClusterReq(t, srv, profileID)

	require.NoError(t, s.CreateBinding(&types.ClusterPolicy{
		ClusterID: clusterID,
		PolicyID:  "p1",
		Priority:  30,
		Enabled:   true,
	}))

	w := doJSON(t, srv, http.MethodGet, "/v1/clusters/"+clusterID+"/policies", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["cluster_policies"], 1)

	w = doJSON(t, srv, http.MethodGet, "/v1/clusters/"+clusterID+"/policies/p1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/v1/clusters/"+clusterID+"/policies/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
