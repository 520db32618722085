package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/grovehq/grove/pkg/config"
	"github.com/grovehq/grove/pkg/engine"
	"github.com/grovehq/grove/pkg/log"
	"github.com/grovehq/grove/pkg/storage"
)

// Server is the REST v1 front of one engine instance.
type Server struct {
	svc    *engine.Service
	cfg    *config.Config
	router *gin.Engine
	http   *http.Server
	logger zerolog.Logger
}

// NewServer wires the REST routes over the engine service.
func NewServer(svc *engine.Service, cfg *config.Config) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		svc:    svc,
		cfg:    cfg,
		router: gin.New(),
		logger: log.WithComponent("api"),
	}
	s.router.Use(gin.Recovery(), s.observe())
	s.routes()
	return s
}

func (s *Server) routes() {
	v1 := s.router.Group("/v1")

	v1.GET("/clusters", s.listClusters)
	v1.POST("/clusters", s.createCluster)
	v1.GET("/clusters/:id", s.getCluster)
	v1.PATCH("/clusters/:id", s.updateCluster)
	v1.DELETE("/clusters/:id", s.deleteCluster)
	v1.POST("/clusters/:id/actions", s.clusterAction)
	v1.GET("/clusters/:id/policies", s.listClusterPolicies)
	v1.GET("/clusters/:id/policies/:policy_id", s.getClusterPolicy)

	v1.GET("/nodes", s.listNodes)
	v1.POST("/nodes", s.createNode)
	v1.GET("/nodes/:id", s.getNode)
	v1.PATCH("/nodes/:id", s.updateNode)
	v1.DELETE("/nodes/:id", s.deleteNode)
	v1.POST("/nodes/:id/actions", s.nodeAction)

	v1.GET("/profiles", s.listProfiles)
	v1.POST("/profiles", s.createProfile)
	v1.GET("/profiles/:id", s.getProfile)
	v1.PATCH("/profiles/:id", s.updateProfile)
	v1.DELETE("/profiles/:id", s.deleteProfile)

	v1.GET("/policies", s.listPolicies)
	v1.POST("/policies", s.createPolicy)
	v1.GET("/policies/:id", s.getPolicy)
	v1.PATCH("/policies/:id", s.updatePolicy)
	v1.DELETE("/policies/:id", s.deletePolicy)

	v1.GET("/actions", s.listActions)
	v1.GET("/actions/:id", s.getAction)
	v1.POST("/actions/:id/signal", s.signalAction)

	v1.GET("/events", s.listEvents)
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves the API until Shutdown.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:         s.cfg.APIAddr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Info().Str("addr", s.cfg.APIAddr).Msg("API server listening")
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// fail maps service errors onto the REST status codes.
func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrConflict):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// accepted answers a mutation that produced an action.
func accepted(c *gin.Context, actionID string, body gin.H) {
	location := "/v1/actions/" + actionID
	c.Header("Location", location)
	if body == nil {
		body = gin.H{}
	}
	body["action"] = actionID
	body["location"] = location
	c.JSON(http.StatusAccepted, body)
}

// checkQuery rejects unknown query keys with 400.
func checkQuery(c *gin.Context, allowed ...string) bool {
	permitted := map[string]bool{}
	for _, k := range allowed {
		permitted[k] = true
	}
	for k := range c.Request.URL.Query() {
		if !permitted[k] {
			badRequest(c, "unknown query parameter "+strconv.Quote(k))
			return false
		}
	}
	return true
}

func queryInt(c *gin.Context, key string) int {
	if v := c.Query(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}
