package httpapi

import (
	"errors"
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"

	"github.com/cagent-gateway/tenantgw/internal/backup"
	"github.com/cagent-gateway/tenantgw/internal/tenant"
)

type statusResponse struct {
	Version      string `json:"version"`
	TenantCount  int    `json:"tenantCount"`
	Goroutines   int    `json:"goroutines"`
	MetricsCount int    `json:"metricsSamples"`
}

func (s *Server) handleStatus(c echo.Context) error {
	tenants, err := s.tenants.List()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list tenants")
	}

	return c.JSON(http.StatusOK, statusResponse{
		Version:      "1",
		TenantCount:  len(tenants),
		Goroutines:   runtime.NumGoroutine(),
		MetricsCount: s.metricsRing.Len(),
	})
}

func (s *Server) handleMetrics(c echo.Context) error {
	return c.JSON(http.StatusOK, s.metricsRing.Snapshot())
}

func (s *Server) handleGetTenant(c echo.Context) error {
	tenantID := c.Param("tenantId")

	entry, ok, err := s.tenants.Get(tenantID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load tenant")
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "tenant not found")
	}

	return c.JSON(http.StatusOK, entry)
}

type createTenantRequest struct {
	DisplayName string `json:"displayName"`
}

type createTenantResponse struct {
	TenantID string `json:"tenantId"`
	Token    string `json:"token"`
}

func (s *Server) handleCreateTenant(c echo.Context) error {
	tenantID := c.Param("tenantId")

	var req createTenantRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	token, err := s.tenants.Create(tenantID, tenant.CreateOpts{DisplayName: req.DisplayName})
	switch {
	case err == tenant.ErrInvalidID:
		return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant id")
	case err == tenant.ErrExists:
		return echo.NewHTTPError(http.StatusBadRequest, "tenant already exists")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create tenant")
	}

	return c.JSON(http.StatusCreated, createTenantResponse{TenantID: tenantID, Token: token})
}

func (s *Server) handleDeleteTenant(c echo.Context) error {
	tenantID := c.Param("tenantId")
	deleteData := c.QueryParam("deleteData") == "true"

	err := s.tenants.Remove(tenantID, tenant.RemoveOpts{DeleteData: deleteData})
	switch {
	case err == tenant.ErrNotFound:
		return echo.NewHTTPError(http.StatusNotFound, "tenant not found")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to delete tenant")
	}

	return c.NoContent(http.StatusOK)
}

type backupResponse struct {
	Key string `json:"key"`
}

func (s *Server) handleBackup(c echo.Context) error {
	tenantID := c.Param("tenantId")

	key, err := s.backups.Backup(c.Request().Context(), tenantID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "backup failed: "+err.Error())
	}

	return c.JSON(http.StatusOK, backupResponse{Key: key})
}

type restoreRequest struct {
	Key string `json:"key"`
}

func (s *Server) handleRestore(c echo.Context) error {
	tenantID := c.Param("tenantId")

	var req restoreRequest
	if err := c.Bind(&req); err != nil || req.Key == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "key is required")
	}

	if err := s.backups.Restore(c.Request().Context(), tenantID, req.Key); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "restore failed: "+err.Error())
	}

	return c.NoContent(http.StatusOK)
}

func (s *Server) handleListBackups(c echo.Context) error {
	tenantID := c.Param("tenantId")

	backups, err := s.backups.ListBackups(c.Request().Context(), tenantID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list backups")
	}

	return c.JSON(http.StatusOK, backups)
}

func (s *Server) handleDeleteBackup(c echo.Context) error {
	tenantID := c.Param("tenantId")
	key := c.Param("*")
	if key == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "backup key is required")
	}

	err := s.backups.DeleteBackup(c.Request().Context(), tenantID, key)
	switch {
	case errors.Is(err, backup.ErrBackupNotOwned):
		return echo.NewHTTPError(http.StatusForbidden, "backup does not belong to tenant")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to delete backup")
	}

	return c.NoContent(http.StatusOK)
}
