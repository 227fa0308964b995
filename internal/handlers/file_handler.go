package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"catalog-import-service/internal/intake"
	"catalog-import-service/internal/middleware"
	"catalog-import-service/internal/models"
	"catalog-import-service/internal/services"
	"github.com/gin-gonic/gin"
)

const (
	csvContentType  = "text/csv"
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// UploadFile creates a session from a multipart csv, json or xlsx upload
// @Summary Upload import file
// @Tags Import Sessions
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "CSV, JSON or XLSX file"
// @Param batchSize formData int false "Rows per batch"
// @Param maxRetries formData int false "Retries per failed batch"
// @Param skipDuplicates formData bool false "Skip existing SKUs"
// @Param strictMode formData bool false "Fail the session on any failed record"
// @Success 201 {object} models.SuccessResponse
// @Failure 400 {object} models.ErrorResponse
// @Router /api/v1/import-sessions/upload [post]
func (h *SessionHandler) UploadFile(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxUploadBytes)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondServiceError(c, models.NewImportError(models.ErrorKindFileUpload, models.CodeFileTooLarge,
				fmt.Sprintf("file exceeds the %d MB upload limit", h.cfg.MaxUploadBytes>>20)).
				WithRemediation("split the file into smaller uploads"))
			return
		}
		respondError(c, http.StatusBadRequest, "FILE_REQUIRED", "Please upload a CSV, JSON or Excel file")
		return
	}
	defer file.Close()

	format, err := intake.DetectFormat(header.Filename)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	parsed, err := intake.Parse(format, file)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	h.create(c, services.SessionInput{
		FileName:   header.Filename,
		FileSize:   header.Size,
		FileFormat: format,
		Columns:    parsed.Columns,
		Records:    parsed.Records,
		Options:    formOptions(c),
	})
}

func formOptions(c *gin.Context) models.ImportOptions {
	var opts models.ImportOptions
	if v, err := strconv.Atoi(c.PostForm("batchSize")); err == nil && v > 0 {
		opts.BatchSize = v
	}
	if v, err := strconv.Atoi(c.PostForm("maxRetries")); err == nil && v >= 0 {
		opts.MaxRetries = &v
	}
	if v, err := strconv.ParseFloat(c.PostForm("failureTolerance"), 64); err == nil && v >= 0 && v <= 1 {
		opts.FailureTolerance = &v
	}
	opts.SkipDuplicates = c.PostForm("skipDuplicates") == "true"
	opts.StrictMode = c.PostForm("strictMode") == "true"
	return opts
}

// DownloadTemplate returns the import template
// @Summary Download import template
// @Tags Import Sessions
// @Produce octet-stream
// @Param format query string false "csv or xlsx" default(csv)
// @Success 200 {file} file
// @Router /api/v1/import/template [get]
func (h *SessionHandler) DownloadTemplate(c *gin.Context) {
	schema := h.service.Schema()
	var buf bytes.Buffer

	switch format := c.DefaultQuery("format", "csv"); format {
	case "csv":
		if err := intake.WriteTemplateCSV(&buf, schema); err != nil {
			h.logger.WithError(err).Error("Failed to write CSV template")
			respondError(c, http.StatusInternalServerError, "TEMPLATE_ERROR", "Failed to generate template")
			return
		}
		c.Header("Content-Disposition", "attachment; filename=products_import_template.csv")
		c.Data(http.StatusOK, csvContentType, buf.Bytes())
	case "xlsx":
		if err := intake.WriteTemplateXLSX(&buf, schema); err != nil {
			h.logger.WithError(err).Error("Failed to write XLSX template")
			respondError(c, http.StatusInternalServerError, "TEMPLATE_ERROR", "Failed to generate template")
			return
		}
		c.Header("Content-Disposition", "attachment; filename=products_import_template.xlsx")
		c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
	default:
		respondError(c, http.StatusBadRequest, models.CodeUnsupportedFormat, "format must be csv or xlsx")
	}
}

// ExportErrors returns validation findings and failed records as a workbook
// @Summary Export error report
// @Tags Import Sessions
// @Produce octet-stream
// @Param id path string true "Session ID"
// @Success 200 {file} file
// @Failure 404 {object} models.ErrorResponse
// @Router /api/v1/import-sessions/{id}/errors/export [get]
func (h *SessionHandler) ExportErrors(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	findings, failures, err := h.service.ErrorReport(c.Request.Context(), middleware.GetTenantID(c), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	var buf bytes.Buffer
	if err := intake.WriteErrorReport(&buf, findings, failures); err != nil {
		h.logger.WithError(err).WithField("session_id", id.String()).Error("Failed to write error report")
		respondError(c, http.StatusInternalServerError, "REPORT_ERROR", "Failed to generate error report")
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=import_errors_%s.xlsx", id))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}
