package jobs

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/zombor/invoice-importer/internal/extraction"
	"github.com/zombor/invoice-importer/internal/inventory"
)

const (
	maxUploadSize = int64(50 << 20) // 50MB
	anonymousUser = "anonymous"
)

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

type submitResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"jobId"`
}

type extractResponse struct {
	Success  bool                `json:"success"`
	Products []extraction.Record `json:"products"`
	Metadata extractMetadata     `json:"metadata"`
}

type extractMetadata struct {
	Pages            int    `json:"pages"`
	TextLength       int    `json:"textLength"`
	ProductsFound    int    `json:"productsFound"`
	Parser           string `json:"parser"`
	ExtractionTimeMs int64  `json:"extractionTimeMs"`
}

type userJobsResponse struct {
	Jobs []Job `json:"jobs"`
}

type importResponse struct {
	Success  bool                 `json:"success"`
	JobID    string               `json:"jobId"`
	Products []*inventory.Product `json:"products"`
}

type inventoryResponse struct {
	Products []*inventory.Product `json:"products"`
}

// handleHealth reports liveness and the build version
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Version: s.version})
}

// handleExtract accepts a PDF upload. With async=true it queues a job and replies
// 202 with its ID; otherwise it extracts inline and replies with the records.
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, failure("PDF too large (max 50MB)", ""))
			return
		}
		writeJSON(w, http.StatusBadRequest, failure("Error parsing form", err.Error()))
		return
	}

	f, header, err := r.FormFile("pdf")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, failure("No PDF file provided", ""))
		return
	}
	defer f.Close()

	if !isPDF(header.Filename, header.Header.Get("Content-Type")) {
		writeJSON(w, http.StatusBadRequest, failure("File must be a PDF", ""))
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeJSON(w, http.StatusInternalServerError, failure("Error reading file", ""))
		return
	}
	if len(data) == 0 {
		writeJSON(w, http.StatusBadRequest, failure("Empty PDF file", ""))
		return
	}

	parser := r.FormValue("parser")

	if r.FormValue("async") != "true" {
		s.extractNow(w, r, header.Filename, data, parser)
		return
	}

	owner := s.ownerID(r)
	job, err := s.service.Submit(owner, header.Filename, data, parser)
	if err != nil {
		slog.Error("Error submitting job", "filename", header.Filename, "owner", owner, "error", err)
		switch {
		case errors.Is(err, extraction.ErrUnknownParser):
			writeJSON(w, http.StatusBadRequest, failure("Unknown parser", err.Error()))
		case errors.Is(err, ErrStoreClosed):
			writeJSON(w, http.StatusServiceUnavailable, failure("Server is shutting down", ""))
		default:
			writeJSON(w, http.StatusInternalServerError, failure("Failed to queue PDF extraction", ""))
		}
		return
	}

	slog.Info("Queued extraction job", "job", job.ID, "owner", owner, "file", header.Filename, "size", len(data))
	writeJSON(w, http.StatusAccepted, submitResponse{Success: true, JobID: job.ID})
}

func (s *Server) extractNow(w http.ResponseWriter, r *http.Request, fileName string, data []byte, parser string) {
	start := time.Now()
	result, used, err := s.service.ExtractNow(r.Context(), fileName, data, parser)
	if err != nil {
		switch {
		case errors.Is(err, extraction.ErrUnknownParser):
			writeJSON(w, http.StatusBadRequest, failure("Unknown parser", err.Error()))
		case errors.Is(err, extraction.ErrDocumentUnreadable):
			writeJSON(w, http.StatusUnprocessableEntity, failure("Could not read PDF document", err.Error()))
		default:
			writeJSON(w, http.StatusInternalServerError, failure("PDF extraction failed", err.Error()))
		}
		return
	}

	writeJSON(w, http.StatusOK, extractResponse{
		Success:  true,
		Products: result.Products,
		Metadata: extractMetadata{
			Pages:            result.PagesCount,
			TextLength:       result.TextLength,
			ProductsFound:    len(result.Products),
			Parser:           used,
			ExtractionTimeMs: time.Since(start).Milliseconds(),
		},
	})
}

// handleStatus returns one job by jobId, or every job of a userId. jobId wins
// when both are given.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if jobID := query.Get("jobId"); jobID != "" {
		job, err := s.service.GetJob(jobID)
		if err != nil {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "Job not found"})
			return
		}
		writeJSON(w, http.StatusOK, job)
		return
	}

	if userID := query.Get("userId"); userID != "" {
		writeJSON(w, http.StatusOK, userJobsResponse{Jobs: s.service.GetUserJobs(userID)})
		return
	}

	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Missing jobId or userId"})
}

// handleDocument streams back the archived upload of a job
func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("jobId")
	if jobID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Missing jobId"})
		return
	}

	data, err := s.service.GetDocument(jobID)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownJob):
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "Job not found"})
		case errors.Is(err, ErrDocumentNotFound):
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "Document not found"})
		default:
			slog.Error("Error reading document", "job", jobID, "error", err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
		}
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Write(data)
}

// handleImport moves a completed job's records into its owner's inventory
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("jobId")
	if jobID == "" {
		writeJSON(w, http.StatusBadRequest, failure("Missing jobId", ""))
		return
	}

	products, err := s.service.Import(jobID)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownJob):
			writeJSON(w, http.StatusNotFound, failure("Job not found", ""))
		case errors.Is(err, ErrJobNotCompleted):
			writeJSON(w, http.StatusConflict, failure("Job is not completed", err.Error()))
		default:
			slog.Error("Error importing job", "job", jobID, "error", err)
			writeJSON(w, http.StatusInternalServerError, failure("Import failed", ""))
		}
		return
	}

	writeJSON(w, http.StatusOK, importResponse{Success: true, JobID: jobID, Products: products})
}

// handleInventory lists the products of a userId, defaulting to the caller
func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("userId")
	if owner == "" {
		owner = s.ownerID(r)
	}

	products, err := s.service.ListProducts(owner)
	if err != nil {
		slog.Error("Error listing products", "owner", owner, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, inventoryResponse{Products: products})
}

// ownerID picks the job owner: the userId form value, then the basic auth user
func (s *Server) ownerID(r *http.Request) string {
	if owner := strings.TrimSpace(r.FormValue("userId")); owner != "" {
		return owner
	}
	if user, _ := s.credentials(r); user != "" {
		return user
	}
	return anonymousUser
}

// isPDF accepts a file by its extension or declared content type
func isPDF(filename, contentType string) bool {
	if strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "application/pdf"
}
