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
	"sync"

	"github.com/echomind/echomind/pkg/customerrors"
	"github.com/echomind/echomind/pkg/embedding"
	"github.com/echomind/echomind/pkg/middleware"
	"github.com/echomind/echomind/pkg/services"
	"github.com/echomind/echomind/pkg/utils/response"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type MemoryRoutes struct {
	importService *services.ImportService
	retrieval     *services.RetrievalService
	embedder      *embedding.Client
}

var (
	memoryRoutes *MemoryRoutes
	memoryOnce   sync.Once
)

func GetMemoryRoutes() *MemoryRoutes {
	memoryOnce.Do(func() {
		memoryRoutes = &MemoryRoutes{
			importService: services.GetImportService(),
			retrieval:     services.GetRetrievalService(),
			embedder:      services.GetEmbeddingClient(),
		}
	})
	return memoryRoutes
}

func (r *MemoryRoutes) RegisterRoutes(router *gin.RouterGroup) {
	memoryGroup := router.Group("/memory")
	memoryGroup.Use(middleware.TenantMiddleware())
	{
		memoryGroup.GET("/status", r.Status)
		memoryGroup.POST("/search", r.Search)
		memoryGroup.DELETE("", r.Delete)
	}

	healthGroup := router.Group("/health")
	{
		healthGroup.GET("/embedding", r.EmbeddingHealth)
	}
}

type searchRequest struct {
	Query string `json:"query" binding:"required,notblank"`
	TopK  int    `json:"topK"`
}

func (r *MemoryRoutes) Search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Failed(c, customerrors.ErrInvalidParams)
		return
	}

	result, err := r.retrieval.Search(c, middleware.UserID(c), req.Query, req.TopK)
	if err != nil {
		response.Failed(c, err)
		return
	}
	response.OK(c, result)
}

func (r *MemoryRoutes) Status(c *gin.Context) {
	status, err := r.importService.MemoryStatus(c, middleware.UserID(c))
	if err != nil {
		response.Failed(c, err)
		return
	}
	response.OK(c, status)
}

type deleteRequest struct {
	ChunkIDs []uuid.UUID `json:"chunkIds"`
}

type deleteResult struct {
	DeletedChunks int64 `json:"deletedChunks"`
}

// Delete removes the named chunks, or the user's whole memory when the
// body is empty.
func (r *MemoryRoutes) Delete(c *gin.Context) {
	var req deleteRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Failed(c, customerrors.ErrInvalidParams)
			return
		}
	}

	deleted, err := r.importService.DeleteMemory(c, middleware.UserID(c), req.ChunkIDs)
	if err != nil {
		response.Failed(c, err)
		return
	}
	response.OK(c, deleteResult{DeletedChunks: deleted})
}

type embeddingHealth struct {
	Breaker embedding.BreakerStatus `json:"breaker"`
	Usage   embedding.Usage         `json:"usage"`
	Model   string                  `json:"model"`
}

func (r *MemoryRoutes) EmbeddingHealth(c *gin.Context) {
	response.OK(c, embeddingHealth{
		Breaker: r.embedder.Breaker().Status(),
		Usage:   r.embedder.Usage(),
		Model:   r.embedder.Model(),
	})
}
