package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"filevault/internal/domain"
	"filevault/internal/service"
)

// ContainerHandler отдает операции контейнеров по HTTP
type ContainerHandler struct {
	registry *service.Registry
}

type CreateFileResponse struct {
	FileID uuid.UUID `json:"file_id"`
}

type CreateVersionResponse struct {
	FileID    uuid.UUID `json:"file_id"`
	VersionID uuid.UUID `json:"version_id"`
}

func NewContainerHandler(registry *service.Registry) *ContainerHandler {
	return &ContainerHandler{registry: registry}
}

// Routes регистрирует маршруты под /containers/{container}
func (h *ContainerHandler) Routes(r chi.Router) {
	r.Route("/containers/{container}/files", func(r chi.Router) {
		r.Post("/", h.CreateFile)
		r.Get("/", h.ListFiles)

		r.Route("/{uuid}", func(r chi.Router) {
			r.Get("/", h.ReadFile)
			r.Get("/header", h.GetHeader)
			r.Post("/versions", h.CreateVersion)
			r.Delete("/versions/{version}", h.DeleteVersion)
		})
	})
}

// CreateFile создает файл, тело запроса - содержимое
func (h *ContainerHandler) CreateFile(w http.ResponseWriter, r *http.Request) {
	container, ok := h.container(w, r)
	if !ok {
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		http.Error(w, "Missing file name", http.StatusBadRequest)
		return
	}

	fileID, err := container.Create(r.Context(), name, r.Body)
	if err != nil {
		writeError(w, "Failed to create file", err)
		return
	}

	writeJSON(w, http.StatusCreated, CreateFileResponse{FileID: fileID})
}

// CreateVersion загружает новую версию существующего файла
func (h *ContainerHandler) CreateVersion(w http.ResponseWriter, r *http.Request) {
	container, ok := h.container(w, r)
	if !ok {
		return
	}
	fileID, ok := parseUUIDParam(w, r, "uuid")
	if !ok {
		return
	}

	id, err := container.CreateVersion(r.Context(), fileID, r.Body)
	if err != nil {
		writeError(w, "Failed to create file version", err)
		return
	}

	writeJSON(w, http.StatusCreated, CreateVersionResponse{FileID: id.FileID, VersionID: id.VersionID})
}

// ListFiles возвращает страницу заголовков
func (h *ContainerHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	container, ok := h.container(w, r)
	if !ok {
		return
	}

	page := 0
	if raw := r.URL.Query().Get("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "Invalid page", http.StatusBadRequest)
			return
		}
		page = parsed
	}

	headers, err := container.ListHeaders(r.Context(), page)
	if err != nil {
		writeError(w, "Failed to list files", err)
		return
	}

	writeJSON(w, http.StatusOK, headers)
}

// GetHeader возвращает заголовок файла со всеми версиями
func (h *ContainerHandler) GetHeader(w http.ResponseWriter, r *http.Request) {
	container, ok := h.container(w, r)
	if !ok {
		return
	}
	fileID, ok := parseUUIDParam(w, r, "uuid")
	if !ok {
		return
	}

	header, err := container.GetHeader(r.Context(), fileID)
	if err != nil {
		writeError(w, "Failed to get file header", err)
		return
	}
	if header == nil {
		writeError(w, "Failed to get file header", fmt.Errorf("%w: %s", domain.ErrFileNotFound, fileID))
		return
	}

	writeJSON(w, http.StatusOK, header)
}

// ReadFile отдает содержимое активной или указанной версии
func (h *ContainerHandler) ReadFile(w http.ResponseWriter, r *http.Request) {
	container, ok := h.container(w, r)
	if !ok {
		return
	}
	fileID, ok := parseUUIDParam(w, r, "uuid")
	if !ok {
		return
	}

	var versionID *uuid.UUID
	if raw := r.URL.Query().Get("version"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "Invalid version UUID", http.StatusBadRequest)
			return
		}
		versionID = &parsed
	}

	content, err := container.Read(r.Context(), fileID, versionID)
	if err != nil {
		writeError(w, "Failed to read file", err)
		return
	}
	defer content.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	if sized, ok := content.(interface{ Size() int64 }); ok {
		w.Header().Set("Content-Length", strconv.FormatInt(sized.Size(), 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, content); err != nil {
		log.Printf("[Handler] Failed to stream file %s: %v", fileID, err)
	}
}

// DeleteVersion планирует удаление версии
func (h *ContainerHandler) DeleteVersion(w http.ResponseWriter, r *http.Request) {
	container, ok := h.container(w, r)
	if !ok {
		return
	}
	fileID, ok := parseUUIDParam(w, r, "uuid")
	if !ok {
		return
	}
	versionID, ok := parseUUIDParam(w, r, "version")
	if !ok {
		return
	}

	if err := container.DeleteVersion(r.Context(), fileID, versionID); err != nil {
		writeError(w, "Failed to delete file version", err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (h *ContainerHandler) container(w http.ResponseWriter, r *http.Request) (*service.Container, bool) {
	container, err := h.registry.Container(chi.URLParam(r, "container"))
	if err != nil {
		writeError(w, "Unknown container", err)
		return nil, false
	}
	return container, true
}

func parseUUIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, name)
	if raw == "" {
		http.Error(w, fmt.Sprintf("Missing %s", name), http.StatusBadRequest)
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		http.Error(w, "Invalid UUID format", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Handler] Failed to encode response: %v", err)
	}
}

// writeError переводит ошибки сервиса в HTTP статусы
func writeError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("[Handler] %s: %v", message, err)
	}
	http.Error(w, fmt.Sprintf("%s: %v", message, err), status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists), errors.Is(err, domain.ErrInvalidOperation):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrCancelled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
