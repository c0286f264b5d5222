package web

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bill-scraper/jobs"
	"github.com/bill-scraper/naming"
	"github.com/bill-scraper/notify"
)

const (
	recentLimit  = 10
	historyLimit = 20
)

type handler struct {
	deps   *Dependencies
	logger *slog.Logger
}

type startJobRequest struct {
	Mode    string `json:"mode"`
	Vendor  string `json:"vendor"`
	Account *int   `json:"account"`
	EmailTo string `json:"email_to"`
}

type updateSettingsRequest struct {
	DefaultEmailTo *string `json:"default_email_to"`
}

// RecentFile is one entry of the recent downloads listing
type RecentFile struct {
	Name string `json:"name"`
	Time string `json:"time"`
	Size string `json:"size"`
}

// VendorInfo describes a vendor and its selectable account indexes
type VendorInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Accounts    []int  `json:"accounts"`
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "error": message})
}

// startJob handles POST /api/start-job
func (h *handler) startJob(c *gin.Context) {
	if active, busy := h.deps.Jobs.Active(); busy {
		h.logger.Warn("start-job rejected, job already running", "active_job", active)
		fail(c, http.StatusConflict, "A job is already running. Please wait for it to complete")
		return
	}

	var req startJobRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	emailTo, err := notify.ValidateAddress(req.EmailTo)
	if err != nil {
		fail(c, http.StatusBadRequest, fmt.Sprintf("Invalid email address: %v", err))
		return
	}
	if emailTo == "" && h.deps.Settings != nil {
		saved, err := h.deps.Settings.Load(LocalUser)
		if err != nil {
			h.logger.Warn("failed to load settings, using configured recipients", "error", err)
		}
		emailTo = saved.DefaultEmailTo
	}

	mode := jobs.Mode(req.Mode)
	if mode == "" {
		mode = jobs.ModeAll
	}
	account := 0
	if mode == jobs.ModeSingle && req.Account == nil && h.knownVendor(req.Vendor) {
		fail(c, http.StatusBadRequest, `account is required when mode is "single"`)
		return
	}
	if req.Account != nil {
		account = *req.Account
	}

	id, err := h.deps.Jobs.CreateJob(c.Request.Context(), jobs.Request{
		Mode:           mode,
		Vendor:         req.Vendor,
		Account:        account,
		NotifyOverride: emailTo,
		RequestedBy:    LocalUser,
	})
	var (
		conflict *jobs.ConflictError
		invalid  *jobs.InvalidTargetError
	)
	switch {
	case errors.As(err, &conflict):
		fail(c, http.StatusConflict, "A job is already running. Please wait for it to complete")
		return
	case errors.As(err, &invalid):
		fail(c, http.StatusBadRequest, invalid.Message)
		return
	case errors.Is(err, jobs.ErrStopped):
		fail(c, http.StatusServiceUnavailable, "The server is shutting down")
		return
	case err != nil:
		c.Error(err)
		fail(c, http.StatusInternalServerError, "Failed to start job")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"job_id":  id,
		"message": "Job started",
		"mode":    mode,
	})
}

func (h *handler) knownVendor(name string) bool {
	for _, p := range h.deps.Jobs.Profiles() {
		if p.Name == name {
			return true
		}
	}
	return false
}

// jobStatus handles GET /api/job-status/:job_id
func (h *handler) jobStatus(c *gin.Context) {
	snap, err := h.deps.Jobs.GetStatus(c.Param("job_id"))
	if errors.Is(err, jobs.ErrJobNotFound) {
		fail(c, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		c.Error(err)
		fail(c, http.StatusInternalServerError, "Failed to get job")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "job": snap})
}

// jobHistory handles GET /api/jobs
func (h *handler) jobHistory(c *gin.Context) {
	if h.deps.History == nil {
		c.JSON(http.StatusOK, gin.H{"success": true, "jobs": []any{}})
		return
	}

	limit := historyLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			fail(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := h.deps.History.Recent(c.Request.Context(), limit)
	if err != nil {
		c.Error(err)
		fail(c, http.StatusInternalServerError, "Failed to read job history")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "jobs": records})
}

// vendors handles GET /api/vendors
func (h *handler) vendors(c *gin.Context) {
	profiles := h.deps.Jobs.Profiles()
	list := make([]VendorInfo, 0, len(profiles))
	for i := range profiles {
		p := &profiles[i]
		accounts := make([]int, p.MaxAccounts())
		for j := range accounts {
			accounts[j] = j
		}
		list = append(list, VendorInfo{Name: p.Name, DisplayName: p.DisplayName(), Accounts: accounts})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "vendors": list})
}

// recent handles GET /api/recent
func (h *handler) recent(c *gin.Context) {
	files, err := recentFiles(h.deps.DownloadDir, recentLimit)
	if err != nil {
		c.Error(err)
		fail(c, http.StatusInternalServerError, "Failed to list downloads")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "files": files})
}

// me handles GET /api/me
func (h *handler) me(c *gin.Context) {
	settings, err := h.loadSettings()
	if err != nil {
		h.logger.Warn("failed to load settings", "error", err)
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"user": gin.H{
			"user_id":  LocalUser,
			"name":     "Local User",
			"settings": settings,
		},
	})
}

// updateSettings handles POST /api/settings
func (h *handler) updateSettings(c *gin.Context) {
	var req updateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	settings, err := h.loadSettings()
	if err != nil {
		h.logger.Warn("failed to load settings, starting fresh", "error", err)
	}
	if req.DefaultEmailTo != nil {
		email, err := notify.ValidateAddress(*req.DefaultEmailTo)
		if err != nil {
			fail(c, http.StatusBadRequest, fmt.Sprintf("Invalid email address: %v", err))
			return
		}
		settings.DefaultEmailTo = email
	}

	if h.deps.Settings == nil {
		fail(c, http.StatusServiceUnavailable, "Settings are not available")
		return
	}
	if err := h.deps.Settings.Save(LocalUser, settings); err != nil {
		c.Error(err)
		fail(c, http.StatusInternalServerError, "Failed to save settings")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "settings": settings})
}

func (h *handler) loadSettings() (Settings, error) {
	if h.deps.Settings == nil {
		return Settings{}, nil
	}
	return h.deps.Settings.Load(LocalUser)
}

// recentFiles lists the newest finished PDFs in dir, newest first. A missing dir is empty.
func recentFiles(dir string, limit int) ([]RecentFile, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return []RecentFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read download dir: %w", err)
	}

	type pdfFile struct {
		name    string
		modTime time.Time
		size    int64
	}
	var pdfs []pdfFile
	for _, e := range entries {
		if e.IsDir() || naming.IsTemp(e.Name()) || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		pdfs = append(pdfs, pdfFile{name: e.Name(), modTime: info.ModTime(), size: info.Size()})
	}

	sort.Slice(pdfs, func(i, j int) bool { return pdfs[i].modTime.After(pdfs[j].modTime) })
	if len(pdfs) > limit {
		pdfs = pdfs[:limit]
	}

	files := make([]RecentFile, 0, len(pdfs))
	for _, f := range pdfs {
		files = append(files, RecentFile{
			Name: f.name,
			Time: f.modTime.Format("2006-01-02 15:04:05"),
			Size: fmt.Sprintf("%.1f KB", float64(f.size)/1024),
		})
	}
	return files, nil
}
