package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/grovehq/grove/pkg/storage"
	"github.com/grovehq/grove/pkg/types"
)

func (s *Server) listActions(c *gin.Context) {
	if !checkQuery(c, "target", "action", "status", "limit", "marker", "sort") {
		return
	}
	actions, err := s.svc.ActionList(storage.ActionFilter{
		Target: c.Query("target"),
		Action: c.Query("action"),
		Status: c.Query("status"),
		Limit:  queryInt(c, "limit"),
		Marker: c.Query("marker"),
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"actions": actions})
}

func (s *Server) getAction(c *gin.Context) {
	a, err := s.svc.ActionGet(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"action": a})
}

func (s *Server) signalAction(c *gin.Context) {
	var req struct {
		Signal string `json:"signal" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := s.svc.ActionSignal(c.Param("id"), types.Signal(req.Signal)); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) listEvents(c *gin.Context) {
	if !checkQuery(c, "obj_type", "obj_id", "level", "limit", "marker", "sort") {
		return
	}
	evts, err := s.svc.EventList(storage.EventFilter{
		ObjType: c.Query("obj_type"),
		ObjID:   c.Query("obj_id"),
		Level:   c.Query("level"),
		Limit:   queryInt(c, "limit"),
		Marker:  c.Query("marker"),
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evts})
}
