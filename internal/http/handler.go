package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"go.ngs.io/glacier-enricher/internal/adapter/store"
	"go.ngs.io/glacier-enricher/internal/adapter/store/csv"
	"go.ngs.io/glacier-enricher/internal/domain"
	"go.ngs.io/glacier-enricher/internal/usecase"
)

// ErrorColumn is appended to CSV responses with each failed row's error kind.
const ErrorColumn = "enrich_error"

// Options controls request parsing and response rendering.
type Options struct {
	Columns      csv.Columns
	NoDataMarker string
}

// Handler handles HTTP requests for point enrichment.
type Handler struct {
	enricher *usecase.Enricher
	lookup   store.DatasetLookup
	opts     Options
}

// NewHandler creates a new HTTP handler.
func NewHandler(enricher *usecase.Enricher, lookup store.DatasetLookup, opts Options) *Handler {
	return &Handler{
		enricher: enricher,
		lookup:   lookup,
		opts:     opts,
	}
}

// ObservationInput is one point in an enrich request.
type ObservationInput struct {
	Key string  `json:"key" binding:"required"`
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// EnrichRequest is the JSON body of POST /v1/enrich.
type EnrichRequest struct {
	Variables    []string           `json:"variables"`
	Observations []ObservationInput `json:"observations" binding:"required"`
}

// ObservationResult is one enriched point. Values are null unless present.
type ObservationResult struct {
	Row    int                 `json:"row"`
	Key    string              `json:"key"`
	Lat    float64             `json:"lat"`
	Lon    float64             `json:"lon"`
	Values map[string]*float64 `json:"values"`
	States map[string]string   `json:"states"`
	Error  string              `json:"error,omitempty"`
}

// EnrichResponse is the JSON response of POST /v1/enrich.
type EnrichResponse struct {
	Observations []ObservationResult `json:"observations"`
	Report       *domain.Report      `json:"report"`
}

func newResult(o *domain.Observation, vars domain.VariableSet) ObservationResult {
	res := ObservationResult{
		Row:    o.Row,
		Key:    o.Key,
		Lat:    o.Lat,
		Lon:    o.Lon,
		Values: make(map[string]*float64, len(vars)),
		States: make(map[string]string, len(vars)),
	}
	for _, name := range vars {
		v := o.Get(name)
		if f, ok := v.Float(); ok {
			res.Values[name] = &f
		} else {
			res.Values[name] = nil
		}
		res.States[name] = v.State.String()
	}
	return res
}

// enricherFor returns an enricher for the requested variables, or the
// configured one when none are given.
func (h *Handler) enricherFor(names []string) (*usecase.Enricher, error) {
	if len(names) == 0 {
		return h.enricher, nil
	}
	return h.enricher.WithVariables(names...)
}

// Enrich handles POST /v1/enrich. JSON bodies get a JSON response; text/csv
// bodies are enriched and returned as CSV with an error column.
func (h *Handler) Enrich(c *gin.Context) {
	if strings.HasPrefix(c.ContentType(), "text/csv") {
		h.enrichCSV(c)
		return
	}

	var req EnrichRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	enricher, err := h.enricherFor(req.Variables)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	obs := make([]*domain.Observation, len(req.Observations))
	for i, in := range req.Observations {
		obs[i] = domain.NewObservation(i, in.Key, in.Lon, in.Lat)
	}

	report, runErr := enricher.Run(c.Request.Context(), obs)

	vars := enricher.Config().Variables
	resp := EnrichResponse{
		Observations: make([]ObservationResult, len(obs)),
		Report:       report,
	}
	for i, o := range obs {
		resp.Observations[i] = newResult(o, vars)
		if f, ok := report.FailureFor(o.Row); ok {
			resp.Observations[i].Error = f.Message
		}
	}

	if runErr != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": runErr.Error(), "result": resp})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) enrichCSV(c *gin.Context) {
	table, err := csv.LoadObservations(c.Request.Body, h.opts.Columns)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var names []string
	if v := c.Query("variables"); v != "" {
		names = strings.Split(v, ",")
	}
	enricher, err := h.enricherFor(names)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report, runErr := enricher.Run(c.Request.Context(), table.Observations)
	if runErr != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": runErr.Error(), "report": report})
		return
	}

	c.Header("X-Enrich-Run-Id", report.RunID)
	c.Header("X-Enrich-Failed", strconv.Itoa(report.Failed))
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Status(http.StatusOK)
	err = table.Write(c.Writer, enricher.Config().Variables, csv.WriteOptions{
		NoDataMarker: h.opts.NoDataMarker,
		ErrorColumn:  ErrorColumn,
		Report:       report,
	})
	if err != nil {
		_ = c.Error(err)
	}
}

// GetSample handles GET /v1/datasets/:key/sample.
func (h *Handler) GetSample(c *gin.Context) {
	key := c.Param("key")

	latStr := c.Query("lat")
	lonStr := c.Query("lon")
	if latStr == "" || lonStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lat and lon parameters are required"})
		return
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid latitude: %v", err)})
		return
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid longitude: %v", err)})
		return
	}

	var vars domain.VariableSet
	if v := c.Query("variables"); v != "" {
		vars, err = domain.NewVariableSet(strings.Split(v, ",")...)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	o, err := h.enricher.Sample(key, lon, lat, vars)
	if err != nil {
		c.JSON(statusFor(err), gin.H{
			"error": err.Error(),
			"kind":  domain.ErrorKind(err),
		})
		return
	}

	if len(vars) == 0 {
		vars = h.enricher.Config().Variables
	}
	c.JSON(http.StatusOK, newResult(o, vars))
}

// ListDatasets handles GET /v1/datasets.
func (h *Handler) ListDatasets(c *gin.Context) {
	keys, err := h.lookup.Keys()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"datasets": keys,
		"count":    len(keys),
	})
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func statusFor(err error) int {
	switch domain.ErrorKind(err) {
	case domain.KindMissingDataset:
		return http.StatusNotFound
	case domain.KindMissingVariable, domain.KindTransform, domain.KindOutOfGrid:
		return http.StatusUnprocessableEntity
	}
	if errors.Is(err, domain.ErrNoVariables) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
