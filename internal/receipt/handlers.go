package receipt

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/zombor/receipt-scanner/internal/scanning"
)

// maxUploadSize handles high-resolution phone photos
const maxUploadSize = int64(50 << 20)

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// jsonError writes {"error": message} with CORS headers set
func jsonError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// writeJSON encodes v as the response body
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok\n"))
}

// upload is a receipt file read from a multipart form
type upload struct {
	filename    string
	contentType string
	data        []byte
}

// readUpload reads the "file" field of a multipart form. It writes the
// error response itself and returns false when the form is unusable
func readUpload(w http.ResponseWriter, r *http.Request) (*upload, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			errorMsg = "File is too large. Maximum size is 50MB. Please compress or resize your image."
		}
		jsonError(w, errorMsg, http.StatusBadRequest)
		return nil, false
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		errorMsg := "No file provided"
		if errors.Is(err, http.ErrMissingFile) {
			errorMsg = "No file was selected. Please choose a file to upload."
		}
		jsonError(w, errorMsg, http.StatusBadRequest)
		return nil, false
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		jsonError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return nil, false
	}

	return &upload{
		filename:    header.Filename,
		contentType: uploadContentType(header.Header.Get("Content-Type"), header.Filename, data),
		data:        data,
	}, true
}

// uploadContentType falls back to the file extension, then to sniffing the
// data, when the client sent no usable content type
func uploadContentType(contentType, filename string, data []byte) string {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	}
	mediaType, _, err := mime.ParseMediaType(mimetype.Detect(data).String())
	if err != nil {
		return "application/octet-stream"
	}
	return mediaType
}

// scanErrorStatus maps scanning failures to a response code
func scanErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, scanning.ErrRecognition):
		return http.StatusUnprocessableEntity, "Could not read receipt. Try a sharper, well lit photo."
	case errors.Is(err, scanning.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType, "Unsupported file format. Supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF."
	case errors.Is(err, ErrInvalidData):
		return http.StatusUnprocessableEntity, err.Error()
	default:
		return http.StatusInternalServerError, "Error processing receipt"
	}
}

// handleScanReceipt reads an upload without saving a receipt
func (s *Server) handleScanReceipt(w http.ResponseWriter, r *http.Request) {
	up, ok := readUpload(w, r)
	if !ok {
		return
	}

	scan, err := s.service.ScanReceipt(r.Context(), up.filename, up.data, up.contentType)
	if err != nil {
		slog.Error("Error scanning receipt", "filename", up.filename, "error", err)
		code, msg := scanErrorStatus(err)
		jsonError(w, msg, code)
		return
	}

	writeJSON(w, http.StatusOK, scan)
}

// handleCreateReceipt saves a receipt. A multipart upload is scanned and
// saved in one step; a JSON body is a reviewed Submission
func (s *Server) handleCreateReceipt(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		s.handleUploadReceipt(w, r)
		return
	}

	var sub Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	receipt, err := s.service.CreateReceipt(&sub)
	if err != nil {
		if errors.Is(err, ErrInvalidData) {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		slog.Error("Error creating receipt", "error", err)
		jsonError(w, "Error saving receipt", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, receipt)
}

func (s *Server) handleUploadReceipt(w http.ResponseWriter, r *http.Request) {
	up, ok := readUpload(w, r)
	if !ok {
		return
	}

	receipt, err := s.service.ProcessReceipt(r.Context(), up.filename, up.data, up.contentType)
	if err != nil {
		slog.Error("Error processing receipt", "filename", up.filename, "error", err)
		code, msg := scanErrorStatus(err)
		jsonError(w, msg, code)
		return
	}

	writeJSON(w, http.StatusCreated, receipt)
}

// handleListReceipts returns one page of receipts
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	page := 0
	if p := r.URL.Query().Get("page"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			corsError(w, "Invalid page", http.StatusBadRequest)
			return
		}
		page = n
	}

	result, err := s.service.ListReceipts(page)
	if err != nil {
		slog.Error("Error listing receipts", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCountReceipts(w http.ResponseWriter, r *http.Request) {
	n, err := s.service.CountReceipts()
	if err != nil {
		slog.Error("Error counting receipts", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

// receiptID parses the {id} path value
func receiptID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		corsError(w, "Invalid receipt ID", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// handleGetReceipt returns a single receipt
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := receiptID(w, r)
	if !ok {
		return
	}
	receipt, err := s.service.GetReceipt(id)
	if errors.Is(err, ErrNotFound) {
		corsError(w, "Receipt not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Error getting receipt", "id", id, "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, receipt)
}

// handleGetReceiptFile returns the file for a receipt
func (s *Server) handleGetReceiptFile(w http.ResponseWriter, r *http.Request) {
	id, ok := receiptID(w, r)
	if !ok {
		return
	}
	data, contentType, err := s.service.GetReceiptFile(id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			slog.Error("Error getting receipt file", "id", id, "error", err)
		}
		corsError(w, "File not found", http.StatusNotFound)
		return
	}

	// Rows saved before content types were recorded have none
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}
