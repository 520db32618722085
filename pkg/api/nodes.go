package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/grovehq/grove/pkg/engine"
	"github.com/grovehq/grove/pkg/storage"
)

func (s *Server) listNodes(c *gin.Context) {
	if !checkQuery(c, "cluster_id", "status", "name", "limit", "marker", "sort") {
		return
	}
	nodes, err := s.svc.NodeList(storage.NodeFilter{
		ClusterID: c.Query("cluster_id"),
		Status:    c.Query("status"),
		Name:      c.Query("name"),
		Limit:     queryInt(c, "limit"),
		Marker:    c.Query("marker"),
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"nodes": nodes})
}

func (s *Server) createNode(c *gin.Context) {
	var req engine.NodeCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	node, actionID, err := s.svc.NodeCreate(req)
	if err != nil {
		fail(c, err)
		return
	}
	accepted(c, actionID, gin.H{"node": node})
}

func (s *Server) getNode(c *gin.Context) {
	node, err := s.svc.NodeGet(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"node": node})
}

func (s *Server) updateNode(c *gin.Context) {
	var req engine.NodeUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	actionID, err := s.svc.NodeUpdate(c.Param("id"), req)
	if err != nil {
		fail(c, err)
		return
	}
	accepted(c, actionID, nil)
}

func (s *Server) deleteNode(c *gin.Context) {
	actionID, err := s.svc.NodeDelete(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	accepted(c, actionID, nil)
}

// nodeAction multiplexes POST /nodes/{id}/actions between check and
// recover.
func (s *Server) nodeAction(c *gin.Context) {
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
		var params map[string]interface{}
		if uerr := json.Unmarshal(raw, &params); uerr != nil {
			badRequest(c, uerr.Error())
			return
		}
		switch op {
		case "check":
			actionID, err = s.svc.NodeCheck(id, params)
		case "recover":
			actionID, err = s.svc.NodeRecover(id, params)
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
