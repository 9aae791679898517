// Package api exposes the HTTP surface: the streaming creation endpoint, the
// queue-delivered job endpoints, and health/metrics.
package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/hsrmk/skystack/internal/config"
	"github.com/hsrmk/skystack/internal/domain"
	"github.com/hsrmk/skystack/internal/lifecycle"
	"github.com/hsrmk/skystack/internal/logger"
)

const (
	healthCheckTimeout   = 2 * time.Second
	healthStatusHealthy  = "healthy"
	healthStatusDegraded = "degraded"
	serviceVersion       = "1.0.0"
)

// Lifecycle is the service surface the handlers drive.
type Lifecycle interface {
	CreateNewsletter(ctx context.Context, url string, emit lifecycle.EventSink) (*domain.Newsletter, error)
	CreateDormantNewsletter(ctx context.Context, job domain.DormantCreateJob) (*domain.Newsletter, error)
	ActivateDormantNewsletter(ctx context.Context, shortID string) error
	ResyncNewsletter(ctx context.Context, job domain.ResyncJob) (int, error)
	ImportOlderPosts(ctx context.Context, job domain.BackfillJob) (int, error)
	CheckDueResyncs(ctx context.Context) (map[string]string, error)
	BuildUserGraph(ctx context.Context, job domain.GraphJob) error
	FollowUser(ctx context.Context, job domain.FollowJob) error
	CheckNewAnnouncements(ctx context.Context) (map[string]string, error)
	Announce(ctx context.Context, job domain.AnnounceJob) error
	UpdateList(ctx context.Context, job domain.UpdateListJob) (*lifecycle.ListUpdateResult, error)
	UpdateAllLists(ctx context.Context, jobs []domain.UpdateListJob) (map[string]string, error)
}

// FailureReader lists failure-log entries in triage order.
type FailureReader interface {
	ListByPriority(ctx context.Context, limit int) ([]domain.FailureLogEntry, error)
}

// Router holds the API dependencies.
type Router struct {
	service     Lifecycle
	failures    FailureReader
	db          *sqlx.DB
	redisClient *redis.Client
	registry    *prometheus.Registry
	cfg         *config.Config
	logger      logger.Logger
}

// NewRouter creates the API router.
func NewRouter(service Lifecycle, failures FailureReader, db *sqlx.DB, redisClient *redis.Client, registry *prometheus.Registry, cfg *config.Config, log logger.Logger) *Router {
	return &Router{
		service:     service,
		failures:    failures,
		db:          db,
		redisClient: redisClient,
		registry:    registry,
		cfg:         cfg,
		logger:      log,
	}
}

// SetupRoutes builds the gin engine.
func (r *Router) SetupRoutes() *gin.Engine {
	if !r.cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(requestLogger(r.logger))

	router.GET("/health", r.healthCheck)
	if r.registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})))
	}

	// Job endpoints are invoked by the task queue and the scheduler trigger;
	// all carry the service bearer token.
	protected := router.Group("/", bearerAuth(r.cfg.Auth.ServiceToken))
	protected.POST("/newsletters", r.createNewsletter)
	protected.POST("/newsletters/dormant", r.createDormantNewsletter)
	protected.POST("/newsletters/activate", r.activateNewsletter)
	protected.POST("/newsletters/resync", r.resyncNewsletter)
	protected.POST("/newsletters/older-posts", r.importOlderPosts)
	protected.POST("/newsletters/graph", r.buildUserGraph)
	protected.POST("/newsletters/check", r.checkDueResyncs)
	protected.POST("/announce/check", r.checkAnnouncements)
	protected.POST("/announce", r.announce)
	protected.POST("/follow", r.followUser)
	protected.POST("/follow/batch", r.followBatch)
	protected.POST("/lists/update", r.updateList)
	protected.POST("/lists/update-all", r.updateAllLists)
	protected.GET("/failures", r.listFailures)

	return router
}

func (r *Router) healthCheck(c *gin.Context) {
	health := gin.H{
		"status":  healthStatusHealthy,
		"service": "skystack",
		"version": serviceVersion,
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	dbConnected := r.db != nil && r.db.PingContext(ctx) == nil
	if !dbConnected {
		health["status"] = healthStatusDegraded
	}
	health["database"] = gin.H{"connected": dbConnected}

	redisConnected := r.redisClient != nil && r.redisClient.Ping(ctx).Err() == nil
	if !redisConnected && health["status"] == healthStatusHealthy {
		health["status"] = healthStatusDegraded
	}
	health["redis"] = gin.H{"connected": redisConnected}

	c.JSON(200, health)
}
