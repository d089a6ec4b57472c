package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"bitbucket.org/mmdatafocus/properties_backend/config"
	"bitbucket.org/mmdatafocus/properties_backend/models"
	"bitbucket.org/mmdatafocus/properties_backend/utils"
	"bitbucket.org/mmdatafocus/properties_backend/workflow"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// respondError maps the workflow error taxonomy onto HTTP statuses. Anything
// unmapped is an internal error and gets logged with the correlation id.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, utils.ErrSessionNotFound), errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrConcurrentRunConflict), errors.Is(err, utils.ErrValidationPrecondition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrInputDataMissing), errors.Is(err, utils.ErrRuleEvaluation):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		config.LogError(config.GetLogger(), "handlers.go", "respondError",
			c.Request.Method+" "+c.FullPath(), c.Request.URL.Path, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func intParam(c *gin.Context, name string) (int, bool) {
	value, err := strconv.Atoi(c.Param(name))
	if err != nil || value <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be a positive integer"})
		return 0, false
	}
	return value, true
}

func createSessionHandler(c *gin.Context) {
	propertyId, ok := intParam(c, "propertyId")
	if !ok {
		return
	}
	periodId := c.Param("periodId")
	if periodId == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "periodId is required"})
		return
	}

	correlationId, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
	session, err := models.CreateSession(c.Request.Context(), propertyId, periodId, correlationId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

type runRequest struct {
	Options *workflow.RunOptions `json:"options"`
}

// runSessionHandler starts a run asynchronously. The caller gets 202 with the
// session to poll; conflicts with an in-flight run for the same property and
// period are rejected up front with 409.
func runSessionHandler(c *gin.Context) {
	sessionId, ok := intParam(c, "id")
	if !ok {
		return
	}

	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	opts := workflow.DefaultRunOptions()
	if req.Options != nil {
		opts = *req.Options
	}

	session, err := models.GetSessionById(c.Request.Context(), sessionId)
	if err != nil {
		respondError(c, err)
		return
	}
	if session.State != models.SessionStateCreated && session.State != models.SessionStateCompleted {
		c.JSON(http.StatusConflict, gin.H{
			"error": "session cannot run from state " + string(session.State),
		})
		return
	}
	running, err := models.HasRunningSession(c.Request.Context(), session.PropertyId, session.PeriodId, session.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	if running {
		respondError(c, utils.ErrConcurrentRunConflict)
		return
	}

	// Detach from the request context; the run outlives the HTTP exchange.
	// The correlation id travels with it for log stitching.
	runCtx := context.Background()
	if correlationId, found := utils.GetCorrelationIdFromContext(c.Request.Context()); found {
		runCtx = utils.SetCorrelationIdInContext(runCtx, correlationId)
	}
	go func() {
		if err := workflow.RunReconciliation(runCtx, sessionId, opts); err != nil {
			config.LogError(config.GetLogger(), "handlers.go", "runSessionHandler",
				"background run", sessionId, err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"session_id": sessionId, "state": models.SessionStateRunning})
}

func cancelSessionHandler(c *gin.Context) {
	sessionId, ok := intParam(c, "id")
	if !ok {
		return
	}
	if _, err := models.GetSessionById(c.Request.Context(), sessionId); err != nil {
		respondError(c, err)
		return
	}
	if !workflow.CancelReconciliation(sessionId) {
		c.JSON(http.StatusConflict, gin.H{"error": "no run in flight for this session on this instance"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"session_id": sessionId, "cancelling": true})
}

func validateSessionHandler(c *gin.Context) {
	sessionId, ok := intParam(c, "id")
	if !ok {
		return
	}
	score, err := workflow.ValidateSession(c.Request.Context(), sessionId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, score)
}

func getSessionHandler(c *gin.Context) {
	sessionId, ok := intParam(c, "id")
	if !ok {
		return
	}
	session, err := models.GetSessionById(c.Request.Context(), sessionId)
	if err != nil {
		respondError(c, err)
		return
	}

	response := gin.H{"session": session}
	if session.State == models.SessionStateCompleted || session.State == models.SessionStateValidated {
		if score, err := workflow.GetHealthScore(c.Request.Context(), sessionId); err == nil {
			response["health_score"] = score
		}
	}
	c.JSON(http.StatusOK, response)
}

func getMatchesHandler(c *gin.Context) {
	sessionChildListHandler(c, func(ctx context.Context, sessionId int) (interface{}, error) {
		return models.GetMatchesBySession(ctx, sessionId)
	})
}

func getDiscrepanciesHandler(c *gin.Context) {
	sessionChildListHandler(c, func(ctx context.Context, sessionId int) (interface{}, error) {
		return models.GetDiscrepanciesBySession(ctx, sessionId)
	})
}

func getRuleResultsHandler(c *gin.Context) {
	sessionChildListHandler(c, func(ctx context.Context, sessionId int) (interface{}, error) {
		return models.GetRuleResultsBySession(ctx, sessionId)
	})
}

func sessionChildListHandler(c *gin.Context, load func(context.Context, int) (interface{}, error)) {
	sessionId, ok := intParam(c, "id")
	if !ok {
		return
	}
	if _, err := models.GetSessionById(c.Request.Context(), sessionId); err != nil {
		respondError(c, err)
		return
	}
	rows, err := load(c.Request.Context(), sessionId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

// getSessionAnomaliesHandler lists anomaly records for the session's
// property and period. Anomaly scans run per property/period, independent of
// sessions; the session route is a convenience for reviewers.
func getSessionAnomaliesHandler(c *gin.Context) {
	sessionId, ok := intParam(c, "id")
	if !ok {
		return
	}
	session, err := models.GetSessionById(c.Request.Context(), sessionId)
	if err != nil {
		respondError(c, err)
		return
	}
	records, err := models.GetAnomaliesByPropertyPeriod(c.Request.Context(), session.PropertyId, session.PeriodId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func listRulesHandler(c *gin.Context) {
	rules, err := models.GetRules(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rules)
}

type rulePayload struct {
	Name                  string           `json:"name" binding:"required"`
	Formula               string           `json:"formula" binding:"required"`
	ToleranceAbsolute     *decimal.Decimal `json:"tolerance_absolute"`
	TolerancePercent      *decimal.Decimal `json:"tolerance_percent"`
	RequireBothTolerances bool             `json:"require_both_tolerances"`
	Enabled               *bool            `json:"enabled"`
}

func createRuleHandler(c *gin.Context) {
	var payload rulePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := workflow.ParseFormula(payload.Formula); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid formula: " + err.Error()})
		return
	}
	if err := utils.ValidateTolerances(payload.ToleranceAbsolute, payload.TolerancePercent, payload.RequireBothTolerances); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rule := models.ReconciliationRule{
		Name:                  payload.Name,
		Formula:               payload.Formula,
		ToleranceAbsolute:     payload.ToleranceAbsolute,
		TolerancePercent:      payload.TolerancePercent,
		RequireBothTolerances: payload.RequireBothTolerances,
		Enabled:               true,
	}
	if payload.Enabled != nil {
		rule.Enabled = *payload.Enabled
	}
	if err := models.CreateRule(c.Request.Context(), &rule); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

type rulePatchPayload struct {
	Name                  *string          `json:"name"`
	Formula               *string          `json:"formula"`
	ToleranceAbsolute     *decimal.Decimal `json:"tolerance_absolute"`
	TolerancePercent      *decimal.Decimal `json:"tolerance_percent"`
	RequireBothTolerances *bool            `json:"require_both_tolerances"`
	Enabled               *bool            `json:"enabled"`
}

// updateRuleHandler edits a rule in place. Edits only affect future runs;
// persisted rule results keep the formula text they were computed with.
func updateRuleHandler(c *gin.Context) {
	ruleId, ok := intParam(c, "id")
	if !ok {
		return
	}
	var payload rulePatchPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rule, err := models.GetRuleById(c.Request.Context(), ruleId)
	if err != nil {
		respondError(c, err)
		return
	}

	updates := map[string]interface{}{}
	if payload.Name != nil {
		updates["name"] = *payload.Name
	}
	if payload.Formula != nil {
		if _, err := workflow.ParseFormula(*payload.Formula); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid formula: " + err.Error()})
			return
		}
		updates["formula"] = *payload.Formula
	}
	if payload.ToleranceAbsolute != nil {
		updates["tolerance_absolute"] = payload.ToleranceAbsolute
	}
	if payload.TolerancePercent != nil {
		updates["tolerance_percent"] = payload.TolerancePercent
	}
	if payload.RequireBothTolerances != nil {
		updates["require_both_tolerances"] = *payload.RequireBothTolerances
	}
	if payload.Enabled != nil {
		updates["enabled"] = *payload.Enabled
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no fields to update"})
		return
	}

	absolute := rule.ToleranceAbsolute
	if payload.ToleranceAbsolute != nil {
		absolute = payload.ToleranceAbsolute
	}
	percent := rule.TolerancePercent
	if payload.TolerancePercent != nil {
		percent = payload.TolerancePercent
	}
	requireBoth := rule.RequireBothTolerances
	if payload.RequireBothTolerances != nil {
		requireBoth = *payload.RequireBothTolerances
	}
	if err := utils.ValidateTolerances(absolute, percent, requireBoth); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := models.UpdateRule(c.Request.Context(), rule, updates); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

type matchReviewPayload struct {
	Status models.MatchStatus `json:"status" binding:"required"`
}

func reviewMatchHandler(c *gin.Context) {
	matchId, ok := intParam(c, "id")
	if !ok {
		return
	}
	var payload matchReviewPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !payload.Status.IsValid() || payload.Status == models.MatchStatusPending {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be approved or rejected"})
		return
	}

	match, err := models.UpdateMatchStatus(c.Request.Context(), matchId, payload.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, match)
}

func getAnomaliesHandler(c *gin.Context) {
	propertyId, ok := intParam(c, "propertyId")
	if !ok {
		return
	}
	records, err := models.GetAnomaliesByPropertyPeriod(c.Request.Context(), propertyId, c.Param("periodId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

type anomalyScanPayload struct {
	PeriodId string   `json:"period_id" binding:"required"`
	Fields   []string `json:"fields" binding:"required,min=1,dive,required"`
}

func anomalyScanHandler(c *gin.Context) {
	propertyId, ok := intParam(c, "propertyId")
	if !ok {
		return
	}
	var payload anomalyScanPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	detector := workflow.NewAnomalyDetector(config.ReconcileSettings(), config.GetLogger())
	records, err := detector.ScanFields(c.Request.Context(), propertyId, payload.PeriodId, payload.Fields)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func getHealthTrendHandler(c *gin.Context) {
	propertyId, ok := intParam(c, "propertyId")
	if !ok {
		return
	}
	points, err := models.GetHealthTrend(c.Request.Context(), propertyId, c.Param("periodId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, points)
}
