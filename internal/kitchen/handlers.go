package kitchen

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/zombor/fridgecheck/internal/pipeline"
	"github.com/zombor/fridgecheck/internal/scanning"
)

// Maximum upload size, large enough for several high-resolution phone photos
const maxFormSize = int64(50 << 20)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	var validationErrs validator.ValidationErrors
	switch {
	case errors.Is(err, pipeline.ErrBusy), errors.Is(err, pipeline.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrUnknownCandidate), errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, scanning.ErrInvalidImage),
		errors.Is(err, scanning.ErrNoImage),
		errors.Is(err, scanning.ErrNoAPIKey),
		errors.As(err, &validationErrs):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respondError(w http.ResponseWriter, action string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "action", action, "error", err)
		writeError(w, "Internal server error", status)
		return
	}
	slog.Warn("Request rejected", "action", action, "status", status, "error", err)
	writeError(w, err.Error(), status)
}

// apiKeyFor returns the stored preference key, falling back to the configured one
func (s *Server) apiKeyFor(prefs *Preferences) string {
	if prefs != nil && prefs.APIKey != "" {
		return prefs.APIKey
	}
	return s.apiKey
}

func wantsWait(r *http.Request) bool {
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	return wait
}

// respondStarted answers a request that kicked off a model call
func (s *Server) respondStarted(w http.ResponseWriter, r *http.Request) {
	if !wantsWait(r) {
		writeJSON(w, http.StatusAccepted, s.scan.Snapshot())
		return
	}
	snap, err := s.scan.Wait(r.Context())
	if err != nil {
		writeError(w, "Request cancelled while waiting", http.StatusRequestTimeout)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleGetScan returns the current pipeline state
func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.scan.Snapshot())
}

// handleResetScan discards the current run
func (s *Server) handleResetScan(w http.ResponseWriter, r *http.Request) {
	s.scan.Reset()
	writeJSON(w, http.StatusOK, s.scan.Snapshot())
}

// handleCaptureImages accepts one or more photos in "file" form fields
func (s *Server) handleCaptureImages(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			errorMsg = "Upload is too large. Maximum size is 50MB."
		}
		writeError(w, errorMsg, http.StatusBadRequest)
		return
	}

	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		writeError(w, "No file was selected. Please choose a photo to upload.", http.StatusBadRequest)
		return
	}

	raws := make([]scanning.RawImage, 0, len(headers))
	for _, header := range headers {
		data, err := readFormFile(header)
		if err != nil {
			slog.Error("Error reading file data", "error", err, "filename", header.Filename)
			writeError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
			return
		}
		raws = append(raws, scanning.RawImage{Data: data, ContentType: contentTypeFor(header)})
	}

	if err := s.scan.CaptureImages(r.Context(), raws...); err != nil {
		respondError(w, "capture images", err)
		return
	}
	writeJSON(w, http.StatusOK, s.scan.Snapshot())
}

func readFormFile(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// contentTypeFor uses the part's declared type, else guesses from the file extension
func contentTypeFor(header *multipart.FileHeader) string {
	contentType := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(header.Filename)) {
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
	default:
		return "application/octet-stream"
	}
}

// handleStartAnalysis sends the captured images to the model
func (s *Server) handleStartAnalysis(w http.ResponseWriter, r *http.Request) {
	prefs, err := s.service.GetPreferences()
	if err != nil {
		respondError(w, "load preferences", err)
		return
	}
	if err := s.scan.StartAnalysis(s.apiKeyFor(prefs)); err != nil {
		respondError(w, "start analysis", err)
		return
	}
	s.respondStarted(w, r)
}

// handleToggleIngredient flips the selection of one detected ingredient
func (s *Server) handleToggleIngredient(w http.ResponseWriter, r *http.Request) {
	if !s.scan.ToggleSelection(r.PathValue("id")) {
		writeError(w, "Ingredient not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.scan.Snapshot())
}

// handleStartGeneration asks the model for recipes from the selected ingredients
func (s *Server) handleStartGeneration(w http.ResponseWriter, r *http.Request) {
	prefs, err := s.service.GetPreferences()
	if err != nil {
		respondError(w, "load preferences", err)
		return
	}
	staples, err := s.service.PantryNames()
	if err != nil {
		respondError(w, "load pantry", err)
		return
	}

	err = s.scan.StartGeneration(pipeline.Preferences{
		DietaryRestrictions: prefs.DietaryRestrictions,
		Allergies:           prefs.Allergies,
		CuisinePreferences:  prefs.CuisinePreferences,
		ServingSize:         prefs.ServingSize,
	}, staples, s.apiKeyFor(prefs))
	if err != nil {
		respondError(w, "start generation", err)
		return
	}
	s.respondStarted(w, r)
}

// handleCommitPantry adds the selected ingredients to the pantry
func (s *Server) handleCommitPantry(w http.ResponseWriter, r *http.Request) {
	added, err := s.scan.CommitSelectedToPantry()
	if err != nil {
		respondError(w, "commit pantry", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"added": added})
}

// handleSaveScanRecipe saves one generated recipe
func (s *Server) handleSaveScanRecipe(w http.ResponseWriter, r *http.Request) {
	id, err := s.scan.SaveRecipe(r.PathValue("id"))
	if err != nil {
		respondError(w, "save recipe", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// handleSaveScanRecord stores the current run in the scan history
func (s *Server) handleSaveScanRecord(w http.ResponseWriter, r *http.Request) {
	id, err := s.scan.SaveScanRecord()
	if err != nil {
		respondError(w, "save scan record", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// handleListPantry returns the pantry contents
func (s *Server) handleListPantry(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListPantryItems()
	if err != nil {
		respondError(w, "list pantry", err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// handleDeletePantryItem removes one pantry item
func (s *Server) handleDeletePantryItem(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeletePantryItem(r.PathValue("id")); err != nil {
		respondError(w, "delete pantry item", err)
		return
	}
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleListRecipes returns saved recipes, optionally only favorites
func (s *Server) handleListRecipes(w http.ResponseWriter, r *http.Request) {
	favoritesOnly, _ := strconv.ParseBool(r.URL.Query().Get("favorites"))
	recipes, err := s.service.ListRecipes(favoritesOnly)
	if err != nil {
		respondError(w, "list recipes", err)
		return
	}
	writeJSON(w, http.StatusOK, recipes)
}

// handleToggleFavorite flips the favorite flag of a saved recipe
func (s *Server) handleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	recipe, err := s.service.ToggleFavorite(r.PathValue("id"))
	if err != nil {
		respondError(w, "toggle favorite", err)
		return
	}
	writeJSON(w, http.StatusOK, recipe)
}

// handleDeleteRecipe removes a saved recipe
func (s *Server) handleDeleteRecipe(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteRecipe(r.PathValue("id")); err != nil {
		respondError(w, "delete recipe", err)
		return
	}
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleListScans returns the scan history
func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	records, err := s.service.ListScans()
	if err != nil {
		respondError(w, "list scans", err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// handleDeleteScan removes a scan record and its images
func (s *Server) handleDeleteScan(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteScan(r.PathValue("id")); err != nil {
		respondError(w, "delete scan", err)
		return
	}
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleGetScanImage serves one processed image of a scan
func (s *Server) handleGetScanImage(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil {
		writeError(w, "Invalid image index", http.StatusBadRequest)
		return
	}
	data, err := s.service.GetScanImage(r.PathValue("id"), n)
	if err != nil {
		respondError(w, "get scan image", err)
		return
	}
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(data)
}

// preferencesView hides the stored key, reporting only whether one is set
type preferencesView struct {
	Preferences
	HasAPIKey bool `json:"has_api_key"`
}

// handleGetPreferences returns the user's preferences
func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := s.service.GetPreferences()
	if err != nil {
		respondError(w, "get preferences", err)
		return
	}
	view := preferencesView{Preferences: *prefs, HasAPIKey: s.apiKeyFor(prefs) != ""}
	view.APIKey = ""
	writeJSON(w, http.StatusOK, view)
}

// preferencesRequest leaves the stored key untouched when api_key is absent
type preferencesRequest struct {
	DietaryRestrictions []string `json:"dietary_restrictions"`
	Allergies           []string `json:"allergies"`
	CuisinePreferences  []string `json:"cuisine_preferences"`
	ServingSize         int      `json:"serving_size"`
	APIKey              *string  `json:"api_key"`
}

// handleSavePreferences validates and stores the user's preferences
func (s *Server) handleSavePreferences(w http.ResponseWriter, r *http.Request) {
	var req preferencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	current, err := s.service.GetPreferences()
	if err != nil {
		respondError(w, "get preferences", err)
		return
	}
	prefs := &Preferences{
		DietaryRestrictions: req.DietaryRestrictions,
		Allergies:           req.Allergies,
		CuisinePreferences:  req.CuisinePreferences,
		ServingSize:         req.ServingSize,
		APIKey:              current.APIKey,
	}
	if req.APIKey != nil {
		prefs.APIKey = strings.TrimSpace(*req.APIKey)
	}

	if err := s.service.SavePreferences(prefs); err != nil {
		respondError(w, "save preferences", err)
		return
	}
	view := preferencesView{Preferences: *prefs, HasAPIKey: s.apiKeyFor(prefs) != ""}
	view.APIKey = ""
	writeJSON(w, http.StatusOK, view)
}

// handleTestAPIKey sends a minimal request to check the key. The key in the
// body is tested if present, else the one recipe generation would use.
func (s *Server) handleTestAPIKey(w http.ResponseWriter, r *http.Request) {
	if s.pinger == nil {
		writeError(w, "Key test not available", http.StatusNotImplemented)
		return
	}

	var req struct {
		APIKey string `json:"api_key"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, "Invalid JSON body", http.StatusBadRequest)
			return
		}
	}

	key := strings.TrimSpace(req.APIKey)
	if key == "" {
		prefs, err := s.service.GetPreferences()
		if err != nil {
			respondError(w, "get preferences", err)
			return
		}
		key = s.apiKeyFor(prefs)
	}
	if key == "" {
		respondError(w, "test api key", scanning.ErrNoAPIKey)
		return
	}

	if err := s.pinger.Ping(r.Context(), key); err != nil {
		slog.Warn("API key test failed", "error", err)
		writeJSON(w, http.StatusOK, map[string]any{"valid": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true})
}
