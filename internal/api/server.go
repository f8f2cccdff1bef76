// Package api is the thin HTTP surface (spec §4.6): POST /trade,
// POST /guardian, GET /health. Grounded on SynapseStrike's gin.Context +
// (s *Server) handleX(c *gin.Context) handler shape.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/archer-trading/execution-core/internal/guardian"
	"github.com/archer-trading/execution-core/internal/position"
	"github.com/archer-trading/execution-core/internal/repo"
	"github.com/archer-trading/execution-core/internal/rules"
	"github.com/archer-trading/execution-core/internal/venue"
)

// FleetUser is one configured fleet member the /trade handler fans a
// signal out to.
type FleetUser struct {
	UserID string
	Client venue.Client
}

// Server wires the gin engine to the execution core's components.
type Server struct {
	Engine *gin.Engine

	Fleet      []FleetUser
	Rules      repo.RulesRepo
	RuleEngine *rules.Engine
	Guard      *position.Guard
	Dispatcher *guardian.Dispatcher
	JWTSecret  []byte
}

// NewServer builds a gin.Engine with auth middleware and routes attached.
func NewServer(fleet []FleetUser, rulesRepo repo.RulesRepo, ruleEngine *rules.Engine, guard *position.Guard, dispatcher *guardian.Dispatcher, jwtSecret []byte) *Server {
	s := &Server{
		Fleet:      fleet,
		Rules:      rulesRepo,
		RuleEngine: ruleEngine,
		Guard:      guard,
		Dispatcher: dispatcher,
		JWTSecret:  jwtSecret,
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())
	engine.GET("/health", s.handleHealth)

	protected := engine.Group("/")
	protected.Use(s.authMiddleware())
	protected.POST("/trade", s.handleTrade)
	protected.POST("/guardian", s.handleGuardian)

	s.Engine = engine
	return s
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().Str("method", c.Request.Method).Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).Dur("latency", time.Since(start)).Msg("http request")
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// userFanOut runs fn for every fleet user concurrently and waits for all to
// finish (spec §5: "across users for the same signal, execution is
// concurrent; order of completion is unspecified").
func userFanOut(ctx context.Context, fleet []FleetUser, fn func(ctx context.Context, user FleetUser) gin.H) []gin.H {
	results := make([]gin.H, len(fleet))
	var wg sync.WaitGroup
	for i, user := range fleet {
		wg.Add(1)
		go func(i int, user FleetUser) {
			defer wg.Done()
			results[i] = fn(ctx, user)
		}(i, user)
	}
	wg.Wait()
	return results
}
