// Package http is the gin service surface over the ledger core. Every
// cryptographic decision lives in the usecase layer; handlers only bind,
// dispatch, and map errors to status codes.
package http

import (
	"context"
	"log"
	"net/http"
	"time"

	"custodia/internal/config"
	"custodia/internal/domain"
	"custodia/internal/infra/anchor"
	"custodia/internal/infra/db"
	"custodia/internal/infra/headcache"
	"custodia/internal/infra/keys/soft"
	"custodia/internal/infra/memstore"
	"custodia/internal/infra/policyrego"
	"custodia/internal/usecase"

	"github.com/gin-gonic/gin"
)

type Server struct {
	cfg config.Config
	r   *gin.Engine

	sealer      *usecase.Sealer
	ledger      *usecase.LedgerService
	artifacts   usecase.ArtifactRepository
	checkpoints usecase.CheckpointRepository
	keyManager  *soft.Manager
	anchors     usecase.AnchorSubmitter
	vaultID     string
}

type ServerDeps struct {
	Sealer      *usecase.Sealer
	Ledger      *usecase.LedgerService
	Artifacts   usecase.ArtifactRepository
	Checkpoints usecase.CheckpointRepository
	KeyManager  *soft.Manager
	Anchors     usecase.AnchorSubmitter
	VaultID     string
}

func NewServerWithDeps(cfg config.Config, deps ServerDeps) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		cfg:         cfg,
		r:           r,
		sealer:      deps.Sealer,
		ledger:      deps.Ledger,
		artifacts:   deps.Artifacts,
		checkpoints: deps.Checkpoints,
		keyManager:  deps.KeyManager,
		anchors:     deps.Anchors,
		vaultID:     deps.VaultID,
	}
	s.routes()
	return s
}

// NewServer wires the default dependency graph: Postgres when a DSN is
// configured, in-memory stores otherwise, Redis head cache when available.
func NewServer(cfg config.Config, store *db.Store) (*Server, error) {
	manager, issuerKey, err := soft.NewManagerFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	var (
		receipts    usecase.ReceiptRepository
		artifacts   usecase.ArtifactRepository
		checkpoints usecase.CheckpointRepository
	)
	if store != nil && store.DB != nil {
		receipts = db.NewReceiptRepository(store.DB)
		artifacts = db.NewArtifactRepository(store.DB)
		checkpoints = db.NewCheckpointRepository(store.DB)
	} else {
		mem := memstore.New()
		receipts = mem
		artifacts = mem
		checkpoints = mem
	}

	var cache usecase.HeadCache
	if cfg.RedisAddr != "" {
		redisCache, err := headcache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB,
			time.Duration(cfg.HeadCacheTTL)*time.Second)
		if err == nil {
			cache = redisCache
		} else {
			log.Printf("redis head cache unavailable: %v", err)
		}
	}

	var engine usecase.EnforcementEngine
	if cfg.RegoBundlePath != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		engine, err = policyrego.NewEngineFromBundlePath(ctx, cfg.RegoBundlePath, cfg.CustodiaEnv, cfg.RegoBundleSHA256)
		if err != nil {
			return nil, err
		}
	}

	var anchors usecase.AnchorSubmitter
	switch cfg.AnchorMode {
	case "rekor":
		anchors, err = anchor.NewRekorClient(cfg.AnchorEndpoint, issuerKey, nil)
		if err != nil {
			return nil, err
		}
	default:
		anchors = anchor.NewSimulated(cfg.AnchorNetwork)
	}

	emit := func(record domain.CheckpointRecord) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		record = anchorCheckpoint(ctx, anchors, record)
		if err := checkpoints.SaveCheckpoint(ctx, record); err != nil {
			log.Printf("persist checkpoint %s: %v", record.CheckpointID, err)
		}
	}

	ledger := usecase.NewLedgerService(usecase.NewChainWriter(issuerKey), receipts, artifacts)
	ledger.Cache = cache
	if engine != nil {
		ledger.Engine = engine
	}
	ledger.Checkpoints = usecase.NewCheckpointManager(
		cfg.CheckpointMaxReceipts, cfg.CheckpointInterval(), issuerKey, emit)
	ledger.Checkpoints.OnFlushError = func(err error) {
		log.Printf("%v", err)
	}

	return NewServerWithDeps(cfg, ServerDeps{
		Sealer:      usecase.NewSealer(issuerKey),
		Ledger:      ledger,
		Artifacts:   artifacts,
		Checkpoints: checkpoints,
		KeyManager:  manager,
		Anchors:     anchors,
		VaultID:     cfg.CustodiaEnv,
	}), nil
}

// anchorCheckpoint submits the checkpoint root best-effort. A failed submit
// leaves the proof absent; verification later reports that as a caveat.
func anchorCheckpoint(ctx context.Context, anchors usecase.AnchorSubmitter, record domain.CheckpointRecord) domain.CheckpointRecord {
	if anchors == nil {
		return record
	}
	proof, err := anchors.Submit(ctx, []byte(record.MerkleRoot))
	if err != nil {
		log.Printf("anchor checkpoint %s: %v", record.CheckpointID, err)
		return record
	}
	record.AnchorProof = &proof
	return record
}

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := s.r.Group("/v1")
	{
		v1.GET("/artifacts/:artifact_id", s.handleGetArtifact)
		v1.POST("/artifacts/:artifact_id/attestations", s.handleAddAttestation)

		v1.POST("/runs", s.handleStartRun)
		v1.POST("/runs/:run_id/events", s.handleRecordEvent)
		v1.POST("/runs/:run_id/end", s.handleEndRun)
		v1.GET("/runs/:run_id/head", s.handleHead)
		v1.GET("/runs/:run_id/receipts", s.handleListReceipts)
		v1.POST("/runs/:run_id/checkpoint", s.handleCheckpoint)
		v1.GET("/runs/:run_id/checkpoints", s.handleListCheckpoints)
		v1.GET("/runs/:run_id/bundle", s.handleExportBundle)

		v1.POST("/verify/bundle", s.handleVerifyBundle)
	}

	s.r.NoRoute(s.handleNoRoute)
}

func (s *Server) Run() error {
	return s.r.Run(s.cfg.HTTPAddr)
}
