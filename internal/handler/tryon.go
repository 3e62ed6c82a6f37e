package handler

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/fitroom/backend/internal/contextkeys"
	"github.com/fitroom/backend/internal/domain"
	"github.com/fitroom/backend/internal/service"
	"github.com/go-chi/chi/v5"
)

// TryOnHandler handles the storefront try-on endpoints behind the app proxy.
type TryOnHandler struct {
	svc            *service.TryOnService
	uploadMaxBytes int64
}

// NewTryOnHandler creates a new TryOnHandler.
func NewTryOnHandler(svc *service.TryOnService, uploadMaxBytes int64) *TryOnHandler {
	return &TryOnHandler{svc: svc, uploadMaxBytes: uploadMaxBytes}
}

// CreateSession handles POST /proxy/tryon/sessions. The multipart form
// carries dressImage and modelImage as either files or URL strings plus a
// category field. Responds with the session id as soon as the job is
// reserved and dispatched; generation continues in the background.
func (h *TryOnHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	shop := r.Context().Value(contextkeys.ShopDomain).(string)

	// Cap the whole body: two images plus form overhead.
	r.Body = http.MaxBytesReader(w, r.Body, 2*h.uploadMaxBytes+1<<20)
	if err := r.ParseMultipartForm(h.uploadMaxBytes); err != nil {
		Error(w, domain.ErrBadRequest("invalid multipart form"))
		return
	}

	modelImage, err := h.imageInput(r, "modelImage")
	if err != nil {
		Error(w, err)
		return
	}
	dressImage, err := h.imageInput(r, "dressImage")
	if err != nil {
		Error(w, err)
		return
	}

	req := domain.CreateSessionRequest{
		ModelImage: modelImage,
		DressImage: dressImage,
		Category:   r.FormValue("category"),
	}
	if !req.ModelImage.Present() || !req.DressImage.Present() || req.Category == "" {
		Error(w, domain.ErrBadRequest("dressImage, modelImage & category are all required"))
		return
	}

	session, err := h.svc.CreateSession(r.Context(), shop, req)
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, map[string]string{"sessionId": session.ID})
}

// Confirm handles GET /proxy/tryon/sessions/{sessionId}/confirm.
func (h *TryOnHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	if sessionID == "" {
		Error(w, domain.ErrBadRequest("missing sessionId"))
		return
	}

	status, err := h.svc.Confirm(r.Context(), sessionID)
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, status)
}

// Result handles GET /proxy/tryon/sessions/{sessionId}/result. Returns the
// newest successful output, or 404 while the job is still running or failed.
func (h *TryOnHandler) Result(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	if sessionID == "" {
		Error(w, domain.ErrBadRequest("missing sessionId"))
		return
	}

	result, err := h.svc.Result(r.Context(), sessionID)
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, result)
}

// imageInput reads one form field that is either an uploaded file or a URL
// string value.
func (h *TryOnHandler) imageInput(r *http.Request, field string) (domain.ImageInput, error) {
	file, header, err := r.FormFile(field)
	if err == nil {
		defer file.Close()
		data, readErr := readLimited(file, h.uploadMaxBytes)
		if readErr != nil {
			return domain.ImageInput{}, domain.ErrBadRequest(fmt.Sprintf("%s exceeds the upload limit", field))
		}
		return domain.ImageInput{Data: data, Filename: header.Filename}, nil
	}
	if err != http.ErrMissingFile {
		if _, ok := err.(*http.MaxBytesError); ok {
			return domain.ImageInput{}, domain.ErrBadRequest(fmt.Sprintf("%s exceeds the upload limit", field))
		}
	}
	return domain.ImageInput{URL: r.FormValue(field)}, nil
}

func readLimited(file multipart.File, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(file, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("file too large")
	}
	return data, nil
}
