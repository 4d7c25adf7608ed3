/*
Copyright © 2026 The echomind Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package routes

import (
	"errors"
	"net/http"
	"sync"

	"github.com/echomind/echomind/pkg/customerrors"
	"github.com/echomind/echomind/pkg/middleware"
	"github.com/echomind/echomind/pkg/services"
	"github.com/echomind/echomind/pkg/utils/pagination"
	"github.com/echomind/echomind/pkg/utils/response"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type ImportRoutes struct {
	service *services.ImportService
}

var (
	importRoutes *ImportRoutes
	importOnce   sync.Once
)

func GetImportRoutes() *ImportRoutes {
	importOnce.Do(func() {
		importRoutes = &ImportRoutes{
			service: services.GetImportService(),
		}
	})
	return importRoutes
}

func (r *ImportRoutes) RegisterRoutes(router *gin.RouterGroup) {
	importGroup := router.Group("/imports")
	importGroup.Use(middleware.TenantMiddleware())
	{
		importGroup.GET("", r.ListJobs)
		importGroup.POST("", r.CreateJob)
		importGroup.PUT("/:jobId/upload", r.Upload)
		importGroup.POST("/:jobId/process", r.Process)
		importGroup.GET("/:jobId/status", r.Status)
	}
}

func (r *ImportRoutes) ListJobs(c *gin.Context) {
	var pageRequest pagination.PageRequest
	if err := c.ShouldBindQuery(&pageRequest); err != nil {
		response.Failed(c, customerrors.ErrInvalidParams)
		return
	}
	pageRequest.ApplyDefaults()

	jobs, err := r.service.ListJobs(c, middleware.UserID(c), &pageRequest)
	if err != nil {
		response.Failed(c, err)
		return
	}
	response.OK(c, jobs)
}

func (r *ImportRoutes) CreateJob(c *gin.Context) {
	job, err := r.service.CreateJob(c, middleware.UserID(c))
	if err != nil {
		response.Failed(c, err)
		return
	}
	response.OK(c, job)
}

func (r *ImportRoutes) Upload(c *gin.Context) {
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}

	job, err := r.service.Upload(c, middleware.UserID(c), jobID, c.Request.Body)
	if err != nil {
		response.Failed(c, err)
		return
	}
	response.OK(c, job)
}

func (r *ImportRoutes) Process(c *gin.Context) {
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}

	job, err := r.service.Process(c, middleware.UserID(c), jobID)
	if err != nil {
		response.Failed(c, mapPipelineError(err))
		return
	}
	response.OK(c, job)
}

func (r *ImportRoutes) Status(c *gin.Context) {
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}

	job, err := r.service.Status(c, middleware.UserID(c), jobID)
	if err != nil {
		response.Failed(c, err)
		return
	}
	response.OK(c, job)
}

func jobIDParam(c *gin.Context) (uuid.UUID, bool) {
	jobID, err := uuid.Parse(c.Param("jobId"))
	if err != nil {
		response.Failed(c, customerrors.ErrInvalidParams)
		return uuid.Nil, false
	}
	return jobID, true
}

// mapPipelineError translates pipeline sentinels into user-facing
// responses; everything else falls through untouched.
func mapPipelineError(err error) error {
	switch {
	case errors.Is(err, customerrors.ErrQuickPassTimeout):
		return customerrors.NewBusinessError(http.StatusGatewayTimeout, "import took too long, please retry with the same file")
	case errors.Is(err, customerrors.ErrQuotaExhausted):
		return customerrors.NewBusinessError(http.StatusServiceUnavailable, "embedding quota exhausted, processing will resume later")
	case errors.Is(err, customerrors.ErrEmbeddingUnavailable):
		return customerrors.NewBusinessError(http.StatusServiceUnavailable, "embedding provider unavailable, processing will resume later")
	default:
		return err
	}
}
