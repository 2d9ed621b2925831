// Package handlers adapts the stateless pipeline stage functions onto gin's
// HTTP routing layer: bind the JSON body into a map, invoke the stage, mirror
// its StageResponse back out as the HTTP response.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"snapflow-core/internal/pipeline"
)

// Stages holds the dependencies every stage handler closes over.
type Stages struct {
	Deps pipeline.Deps
}

func NewStages(deps pipeline.Deps) *Stages {
	return &Stages{Deps: deps}
}

func bindEvent(c *gin.Context) (map[string]any, bool) {
	var event map[string]any
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body: " + err.Error()})
		return nil, false
	}
	return event, true
}

func (s *Stages) Gateway(c *gin.Context) {
	event, ok := bindEvent(c)
	if !ok {
		return
	}
	resp := pipeline.Gateway(c.Request.Context(), event, s.Deps)
	c.JSON(resp.StatusCode, resp.Body)
}

func (s *Stages) Discovery(c *gin.Context) {
	event, ok := bindEvent(c)
	if !ok {
		return
	}
	resp := pipeline.Discovery(c.Request.Context(), event, s.Deps)
	c.JSON(resp.StatusCode, resp.Body)
}

func (s *Stages) Process(c *gin.Context) {
	event, ok := bindEvent(c)
	if !ok {
		return
	}
	resp := pipeline.Process(c.Request.Context(), event, s.Deps)
	c.JSON(resp.StatusCode, resp.Body)
}

func (s *Stages) Finalize(c *gin.Context) {
	event, ok := bindEvent(c)
	if !ok {
		return
	}
	resp := pipeline.Finalize(c.Request.Context(), event, s.Deps)
	c.JSON(resp.StatusCode, resp.Body)
}
