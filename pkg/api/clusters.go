package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/grovehq/grove/pkg/engine"
	"github.com/grovehq/grove/pkg/storage"
)

func (s *Server) listClusters(c *gin.Context) {
	if !checkQuery(c, "status", "name", "limit", "marker", "sort", "global_project") {
		return
	}
	clusters, err := s.svc.ClusterList(storage.ClusterFilter{
		Status: c.Query("status"),
		Name:   c.Query("name"),
		Limit:  queryInt(c, "limit"),
		Marker: c.Query("marker"),
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"clusters": clusters})
}

func (s *Server) createCluster(c *gin.Context) {
	var req engine.ClusterCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	cluster, actionID, err := s.svc.ClusterCreate(req)
	if err != nil {
		fail(c, err)
		return
	}
	accepted(c, actionID, gin.H{"cluster": cluster})
}

func (s *Server) getCluster(c *gin.Context) {
	cluster, err := s.svc.ClusterGet(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cluster": cluster})
}

func (s *Server) updateCluster(c *gin.Context) {
	var req engine.ClusterUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	actionID, err := s.svc.ClusterUpdate(c.Param("id"), req)
	if err != nil {
		fail(c, err)
		return
	}
	accepted(c, actionID, nil)
}

func (s *Server) deleteCluster(c *gin.Context) {
	actionID, err := s.svc.ClusterDelete(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	accepted(c, actionID, nil)
}

// clusterAction multiplexes POST /clusters/{id}/actions. The body holds
// exactly one key naming the operation.
func (s *Server) clusterAction(c *gin.Context) {
	var body map[string]json.RawMessage
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err.Error())
		return
	}
	if len(body) != 1 {
		badRequest(c, "body must contain exactly one action")
		return
	}

	id := c.Param("id")
	var (
		actionID string
		err      error
	)
	for op, raw := range body {
		switch op {
		case "resize":
			var req engine.ClusterResizeRequest
			if uerr := json.Unmarshal(raw, &req); uerr != nil {
				badRequest(c, uerr.Error())
				return
			}
			actionID, err = s.svc.ClusterResize(id, req)
		case "scale_out":
			var req struct {
				Count int `json:"count"`
			}
			if uerr := json.Unmarshal(raw, &req); uerr != nil {
				badRequest(c, uerr.Error())
				return
			}
			actionID, err = s.svc.ClusterScaleOut(id, req.Count)
		case "scale_in":
			var req struct {
				Count int `json:"count"`
			}
			if uerr := json.Unmarshal(raw, &req); uerr != nil {
				badRequest(c, uerr.Error())
				return
			}
			actionID, err = s.svc.ClusterScaleIn(id, req.Count)
		case "add_nodes":
			var req struct {
				Nodes []string `json:"nodes"`
			}
			if uerr := json.Unmarshal(raw, &req); uerr != nil {
				badRequest(c, uerr.Error())
				return
			}
			actionID, err = s.svc.ClusterAddNodes(id, req.Nodes)
		case "del_nodes":
			var req struct {
				Nodes   []string `json:"nodes"`
				Destroy bool     `json:"destroy_after_deletion"`
			}
			if uerr := json.Unmarshal(raw, &req); uerr != nil {
				badRequest(c, uerr.Error())
				return
			}
			actionID, err = s.svc.ClusterDelNodes(id, req.Nodes, req.Destroy)
		case "check":
			var params map[string]interface{}
			if uerr := json.Unmarshal(raw, &params); uerr != nil {
				badRequest(c, uerr.Error())
				return
			}
			actionID, err = s.svc.ClusterCheck(id, params)
		case "recover":
			var params map[string]interface{}
			if uerr := json.Unmarshal(raw, &params); uerr != nil {
				badRequest(c, uerr.Error())
				return
			}
			actionID, err = s.svc.ClusterRecover(id, params)
		case "policy_attach":
			req := struct {
				PolicyID string `json:"policy_id"`
				Priority *int   `json:"priority"`
				Enabled  *bool  `json:"enabled"`
			}{}
			if uerr := json.Unmarshal(raw, &req); uerr != nil {
				badRequest(c, uerr.Error())
				return
			}
			priority := 50
			if req.Priority != nil {
				priority = *req.Priority
			}
			enabled := true
			if req.Enabled != nil {
				enabled = *req.Enabled
			}
			actionID, err = s.svc.PolicyAttach(id, req.PolicyID, priority, enabled)
		case "policy_detach":
			var req struct {
				PolicyID string `json:"policy_id"`
			}
			if uerr := json.Unmarshal(raw, &req); uerr != nil {
				badRequest(c, uerr.Error())
				return
			}
			actionID, err = s.svc.PolicyDetach(id, req.PolicyID)
		case "policy_update":
			var req struct {
				PolicyID string `json:"policy_id"`
				Priority *int   `json:"priority"`
				Enabled  *bool  `json:"enabled"`
			}
			if uerr := json.Unmarshal(raw, &req); uerr != nil {
				badRequest(c, uerr.Error())
				return
			}
			actionID, err = s.svc.PolicyUpdateBinding(id, req.PolicyID, req.Priority, req.Enabled)
		default:
			badRequest(c, "unknown action "+op)
			return
		}
	}
	if err != nil {
		fail(c, err)
		return
	}
	accepted(c, actionID, nil)
}

func (s *Server) listClusterPolicies(c *gin.Context) {
	if !checkQuery(c) {
		return
	}
	bindings, err := s.svc.BindingList(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cluster_policies": bindings})
}

func (s *Server) getClusterPolicy(c *gin.Context) {
	binding, err := s.svc.BindingGet(c.Param("id"), c.Param("policy_id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cluster_policy": binding})
}
