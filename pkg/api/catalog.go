package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/grovehq/grove/pkg/engine"
)

func (s *Server) listProfiles(c *gin.Context) {
	if !checkQuery(c, "limit", "marker", "sort") {
		return
	}
	profiles, err := s.svc.ProfileList()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profiles": profiles})
}

func (s *Server) createProfile(c *gin.Context) {
	var req engine.ProfileCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	p, err := s.svc.ProfileCreate(req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"profile": p})
}

func (s *Server) getProfile(c *gin.Context) {
	p, err := s.svc.ProfileGet(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": p})
}

func (s *Server) updateProfile(c *gin.Context) {
	var req struct {
		Name     string            `json:"name"`
		Metadata map[string]string `json:"metadata"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	p, err := s.svc.ProfileUpdate(c.Param("id"), req.Name, req.Metadata)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": p})
}

func (s *Server) deleteProfile(c *gin.Context) {
	if err := s.svc.ProfileDelete(c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listPolicies(c *gin.Context) {
	if !checkQuery(c, "limit", "marker", "sort") {
		return
	}
	policies, err := s.svc.PolicyList()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"policies": policies})
}

func (s *Server) createPolicy(c *gin.Context) {
	var req engine.PolicyCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	p, err := s.svc.PolicyCreate(req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"policy": p})
}

func (s *Server) getPolicy(c *gin.Context) {
	p, err := s.svc.PolicyGet(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"policy": p})
}

func (s *Server) updatePolicy(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	p, err := s.svc.PolicyUpdate(c.Param("id"), req.Name)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"policy": p})
}

func (s *Server) deletePolicy(c *gin.Context) {
	if err := s.svc.PolicyDelete(c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
