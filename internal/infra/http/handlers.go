package http

import (
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"custodia/internal/domain"
	"custodia/internal/infra/bundles"
	"custodia/internal/usecase"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type sealRequest struct {
	VaultID       string `json:"vault_id"`
	ArtifactID    string `json:"artifact_id,omitempty"`
	SubjectBase64 string `json:"subject_base64"`
	Metadata      any    `json:"metadata"`

	IssuedAt  string  `json:"issued_at,omitempty"`
	NotBefore string  `json:"not_before,omitempty"`
	NotAfter  *string `json:"not_after,omitempty"`

	IntegrityPolicy   domain.IntegrityPolicy   `json:"integrity_policy"`
	EnforcementPolicy domain.EnforcementPolicy `json:"enforcement_policy"`
	KeySchedule       []domain.ScheduledKey    `json:"key_schedule,omitempty"`

	PreviousArtifactRef *domain.ArtifactRef `json:"previous_artifact_ref,omitempty"`
}

type attestRequest struct {
	Attestor string `json:"attestor"`
	KeyID    string `json:"key_id"`
}

type startRunRequest struct {
	RunID      string `json:"run_id,omitempty"`
	ArtifactID string `json:"artifact_id"`
}

type recordEventRequest struct {
	EventType   string              `json:"event_type"`
	Condition   string              `json:"condition,omitempty"`
	Measurement *domain.Measurement `json:"measurement,omitempty"`
	Decision    *domain.Decision    `json:"decision,omitempty"`
}

type bundleResponse struct {
	Manifest domain.BundleManifest `json:"manifest"`
	Files    map[string]string     `json:"files"` // path -> base64 content
}

type verifyBundleRequest struct {
	Files map[string]string `json:"files"` // path -> base64 content
}

func (s *Server) handleSeal(c *gin.Context) {
	if s.sealer == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	var req sealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	subject, err := base64.StdEncoding.DecodeString(req.SubjectBase64)
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_SUBJECT_ENCODING", "subject_base64 is not valid base64")
		return
	}

	input := usecase.SealInput{
		VaultID:             req.VaultID,
		ArtifactID:          req.ArtifactID,
		SubjectBytes:        subject,
		Metadata:            req.Metadata,
		IntegrityPolicy:     req.IntegrityPolicy,
		EnforcementPolicy:   req.EnforcementPolicy,
		KeySchedule:         req.KeySchedule,
		PreviousArtifactRef: req.PreviousArtifactRef,
	}
	if input.IssuedAt, err = parseTimeField(req.IssuedAt); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_TIMESTAMP", "issued_at is not RFC 3339")
		return
	}
	if input.NotBefore, err = parseTimeField(req.NotBefore); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_TIMESTAMP", "not_before is not RFC 3339")
		return
	}
	if req.NotAfter != nil {
		notAfter, err := time.Parse(time.RFC3339, *req.NotAfter)
		if err != nil {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_TIMESTAMP", "not_after is not RFC 3339")
			return
		}
		input.NotAfter = &notAfter
	}

	artifact, err := s.sealer.Seal(input)
	if err != nil {
		writeError(c, err)
		return
	}
	if s.artifacts != nil {
		if err := s.artifacts.SaveArtifact(c.Request.Context(), artifact); err != nil {
			writeError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, artifact)
}

func (s *Server) handleGetArtifact(c *gin.Context) {
	if s.artifacts == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	artifact, err := s.artifacts.GetArtifact(c.Request.Context(), c.Param("artifact_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, artifact)
}

func (s *Server) handleAddAttestation(c *gin.Context) {
	if s.artifacts == nil || s.keyManager == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	var req attestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if req.Attestor == "" || req.KeyID == "" {
		writeErrorCode(c, http.StatusBadRequest, "MISSING_FIELD", "attestor and key_id are required")
		return
	}
	pair, ok := s.keyManager.Get(req.KeyID)
	if !ok {
		writeErrorCode(c, http.StatusNotFound, "KEY_UNKNOWN", "key not held by this service")
		return
	}
	artifact, err := s.artifacts.GetArtifact(c.Request.Context(), c.Param("artifact_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	updated, err := usecase.AddAttestation(*artifact, req.Attestor, pair, time.Now().UTC())
	if err != nil {
		writeError(c, err)
		return
	}
	if err := s.artifacts.SaveArtifact(c.Request.Context(), updated); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) handleStartRun(c *gin.Context) {
	if s.ledger == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	var req startRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if req.ArtifactID == "" {
		writeErrorCode(c, http.StatusBadRequest, "MISSING_FIELD", "artifact_id is required")
		return
	}
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	receipt, err := s.ledger.StartRun(c.Request.Context(), runID, req.ArtifactID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

func (s *Server) handleRecordEvent(c *gin.Context) {
	if s.ledger == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	var req recordEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	receipt, err := s.ledger.RecordEvent(c.Request.Context(), usecase.RecordEventInput{
		RunID:       c.Param("run_id"),
		EventType:   domain.EventType(req.EventType),
		Condition:   usecase.Condition(req.Condition),
		Measurement: req.Measurement,
		Decision:    req.Decision,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

func (s *Server) handleEndRun(c *gin.Context) {
	if s.ledger == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	receipt, err := s.ledger.EndRun(c.Request.Context(), c.Param("run_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

func (s *Server) handleHead(c *gin.Context) {
	if s.ledger == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	head, err := s.ledger.Head(c.Request.Context(), c.Param("run_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if head == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, head)
}

func (s *Server) handleListReceipts(c *gin.Context) {
	if s.ledger == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	receipts, err := s.ledger.Receipts.ListByRun(c.Request.Context(), c.Param("run_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipts)
}

func (s *Server) handleCheckpoint(c *gin.Context) {
	if s.ledger == nil || s.ledger.Checkpoints == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	record, err := s.ledger.Checkpoints.Flush(c.Param("run_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if record == nil {
		c.JSON(http.StatusOK, gin.H{"status": "empty", "message": "no receipts pending checkpoint"})
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) handleListCheckpoints(c *gin.Context) {
	if s.checkpoints == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	records, err := s.checkpoints.ListCheckpoints(c.Request.Context(), c.Param("run_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func (s *Server) handleExportBundle(c *gin.Context) {
	if s.ledger == nil || s.artifacts == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	ctx := c.Request.Context()
	runID := c.Param("run_id")

	receipts, err := s.ledger.Receipts.ListByRun(ctx, runID)
	if err != nil {
		writeError(c, err)
		return
	}
	if len(receipts) == 0 {
		writeError(c, domain.ErrNotFound)
		return
	}
	artifact, err := s.artifacts.GetArtifact(ctx, receipts[0].ArtifactID)
	if err != nil {
		writeError(c, err)
		return
	}

	var checkpoints []domain.CheckpointRecord
	if s.checkpoints != nil {
		if checkpoints, err = s.checkpoints.ListCheckpoints(ctx, runID); err != nil {
			writeError(c, err)
			return
		}
	}
	inclusions, err := inclusionProofs(checkpoints, receipts)
	if err != nil {
		writeError(c, err)
		return
	}

	keyring, err := usecase.BuildKeyring(s.sealer.Key, s.vaultID, nil)
	if err != nil {
		writeError(c, err)
		return
	}

	files, manifest, err := bundles.Assemble(bundles.ExportInput{
		RunID:       runID,
		Artifact:    *artifact,
		Receipts:    receipts,
		Checkpoints: checkpoints,
		Inclusions:  inclusions,
		Keyring:     &keyring,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	out := bundleResponse{Manifest: manifest, Files: make(map[string]string, len(files))}
	for path, content := range files {
		out.Files[path] = base64.StdEncoding.EncodeToString(content)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleVerifyBundle(c *gin.Context) {
	var req verifyBundleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if len(req.Files) == 0 {
		writeErrorCode(c, http.StatusBadRequest, "MISSING_FIELD", "files are required")
		return
	}
	files := make(map[string][]byte, len(req.Files))
	for path, encoded := range req.Files {
		content, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_FILE_ENCODING", "file "+path+" is not valid base64")
			return
		}
		files[path] = content
	}
	contents, err := bundles.Load(files)
	if err != nil {
		writeError(c, err)
		return
	}
	verdict := usecase.VerifyBundle(contents, time.Now().UTC())
	c.JSON(http.StatusOK, verdict)
}

// inclusionProofs derives an inclusion proof for every leaf of every
// checkpoint, matching leaves back to receipt ids by sequence.
func inclusionProofs(checkpoints []domain.CheckpointRecord, receipts []domain.Receipt) ([]domain.InclusionProof, error) {
	idBySeq := make(map[int64]string, len(receipts))
	for _, receipt := range receipts {
		idBySeq[receipt.SequenceNumber] = receipt.ReceiptID
	}
	var out []domain.InclusionProof
	for _, record := range checkpoints {
		ids := make([]string, len(record.LeafHashes))
		for i := range record.LeafHashes {
			ids[i] = idBySeq[record.BatchRange.StartSequence+int64(i)]
		}
		proofs, err := usecase.CheckpointProofs(record, ids)
		if err != nil {
			return nil, err
		}
		out = append(out, proofs...)
	}
	return out, nil
}

func (s *Server) handleNoRoute(c *gin.Context) {
	if c.Request.Method == http.MethodPost && c.Request.URL.Path == "/v1/artifacts:seal" {
		s.handleSeal(c)
		return
	}
	writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
}

func parseTimeField(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, value)
}

func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrMalformedInput):
		status, code = http.StatusBadRequest, "MALFORMED_INPUT"
	case errors.Is(err, domain.ErrSignatureInvalid):
		status, code = http.StatusBadRequest, "SIGNATURE_INVALID"
	case errors.Is(err, domain.ErrHashMismatch):
		status, code = http.StatusBadRequest, "HASH_MISMATCH"
	case errors.Is(err, domain.ErrChainBreak):
		status, code = http.StatusConflict, "CHAIN_BREAK"
	case errors.Is(err, domain.ErrReceiptIDMismatch):
		status, code = http.StatusBadRequest, "RECEIPT_ID_MISMATCH"
	case errors.Is(err, domain.ErrExpired):
		status, code = http.StatusBadRequest, "ARTIFACT_EXPIRED"
	case errors.Is(err, domain.ErrNotYetValid):
		status, code = http.StatusBadRequest, "ARTIFACT_NOT_YET_VALID"
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	}
	writeErrorCode(c, status, code, err.Error())
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{
		Code:    code,
		Message: message,
	})
}
