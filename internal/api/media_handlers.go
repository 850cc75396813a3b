package api

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"keepsake-api/internal/models"
	"keepsake-api/internal/observability/logging"
	"keepsake-api/internal/storage"
)

const (
	maxUploadBytes = 100 << 20

	minBinarySize = 100
	maxBinarySize = 1024
)

// MediaHandlers composes the generic resource handler set with the media
// routes that do not fit the uniform contract: multipart upload, binary
// retrieval, link management, and the present-era draw.
type MediaHandlers struct {
	handler *Handler
	generic *ResourceHandlers[models.Media]
}

// NewMediaHandlers wires the media surface over the shared Handler.
func NewMediaHandlers(h *Handler) *MediaHandlers {
	store := storage.MediaResources{Repo: h.Store}
	generic := NewResourceHandlers[models.Media](h, store, func(media models.Media) any {
		return newMediaResponse(media)
	})
	return &MediaHandlers{handler: h, generic: generic}
}

// Collection handles /api/media: list and filter come from the generic set,
// create is the multipart upload.
func (mh *MediaHandlers) Collection(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		mh.upload(w, r)
		return
	}
	mh.generic.Collection(w, r)
}

// ByID dispatches the /api/media/ sub-routes. The links and request routes
// sit under the same prefix, so they are routed here rather than in the mux.
func (mh *MediaHandlers) ByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/media/"), "/")
	segments := strings.Split(rest, "/")
	switch segments[0] {
	case "links":
		mh.links(w, r, segments)
		return
	case "request":
		mh.request(w, r)
		return
	case "search", "get":
		mh.generic.ByID(w, r)
		return
	}
	user, ok := mh.handler.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	if len(segments) != 1 || segments[0] == "" {
		writeFailure(w, http.StatusNotFound, "not found")
		return
	}
	id := segments[0]
	switch r.Method {
	case http.MethodGet:
		mh.show(w, r, user, id)
	case http.MethodPost:
		writeFailure(w, http.StatusNotImplemented, "media records cannot be updated")
	case http.MethodDelete:
		mh.destroy(w, r, user, id)
	default:
		methodNotAllowed(w, r, "GET, POST, DELETE")
	}
}

// upload accepts a multipart form with a file part. Era and locket arrive as
// request headers. The binary is stored before the record so a failure never
// leaves a record pointing at a missing payload.
func (mh *MediaHandlers) upload(w http.ResponseWriter, r *http.Request) {
	user, ok := mh.handler.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	if mh.handler.Blobs == nil {
		writeFailure(w, http.StatusInternalServerError, "internal error")
		return
	}

	era, ok := models.ParseEra(r.Header.Get("era"))
	if !ok {
		writeFailure(w, http.StatusBadRequest, fmt.Sprintf("invalid era %q", r.Header.Get("era")))
		return
	}
	locket, ok := models.ParseLocket(r.Header.Get("locket"))
	if !ok {
		writeFailure(w, http.StatusBadRequest, fmt.Sprintf("invalid locket %q", r.Header.Get("locket")))
		return
	}

	upload, err := readMultipartMedia(r)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}

	key, err := generateBlobKey()
	if err != nil {
		_ = os.Remove(upload.tempPath)
		writeFailure(w, http.StatusInternalServerError, "internal error")
		return
	}
	handle, err := mh.handler.Blobs.Put(r.Context(), upload.tempPath, upload.originalName, upload.contentType, key)
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, "internal error")
		return
	}

	media, err := mh.handler.Store.CreateMedia(storage.CreateMediaParams{
		OwnerID:     user.ID,
		Path:        handle,
		ContentType: upload.contentType,
		Era:         era,
		Locket:      locket,
		Emotions:    upload.emotions,
	})
	if err != nil {
		// The stored binary is deliberately left behind: deleting it here
		// could race a retry reusing the handle. Logged for operator cleanup.
		logging.FromContext(r.Context()).Error("media blob orphaned after record failure",
			"path", handle,
			"error", err,
		)
		writeStorageError(w, err)
		return
	}
	mh.handler.Metrics.RecordUpload(string(media.Era))
	writeReply(w, http.StatusCreated, "created", newMediaResponse(media))
}

// show streams the binary payload for an owned media record. The size
// parameter is validated against the documented bounds but resizing is the
// storage collaborator's concern, so the value is otherwise unused here.
func (mh *MediaHandlers) show(w http.ResponseWriter, r *http.Request, user models.User, id string) {
	media, ok := mh.handler.Store.GetMedia(id)
	if !ok || media.OwnerID != user.ID {
		writeFailure(w, http.StatusNotFound, "not found")
		return
	}
	if sizeParam := strings.TrimSpace(r.URL.Query().Get("size")); sizeParam != "" {
		size, err := strconv.Atoi(sizeParam)
		if err != nil || size < minBinarySize || size > maxBinarySize {
			writeFailure(w, http.StatusBadRequest, fmt.Sprintf("size must be between %d and %d", minBinarySize, maxBinarySize))
			return
		}
	}
	if mh.handler.Blobs == nil {
		writeFailure(w, http.StatusInternalServerError, "internal error")
		return
	}
	body, info, err := mh.handler.Blobs.Open(r.Context(), media.Path)
	if err != nil {
		writeFailure(w, http.StatusNotFound, "not found")
		return
	}
	defer body.Close()

	contentType := media.ContentType
	if contentType == "" {
		contentType = info.ContentType
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=300")
	if seeker, ok := body.(io.ReadSeeker); ok {
		http.ServeContent(w, r, "", info.ModTime, seeker)
		return
	}
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	_, _ = io.Copy(w, body)
}

// destroy deletes the binary first and the record second. A record deletion
// failure after the binary is gone is surfaced as a server error and logged
// for operator follow-up; the record is not repaired automatically.
func (mh *MediaHandlers) destroy(w http.ResponseWriter, r *http.Request, user models.User, id string) {
	media, ok := mh.handler.Store.GetMedia(id)
	if !ok || media.OwnerID != user.ID {
		writeFailure(w, http.StatusNotFound, "not found")
		return
	}
	if mh.handler.Blobs == nil {
		writeFailure(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := mh.handler.Blobs.Delete(r.Context(), media.Path); err != nil {
		writeFailure(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := mh.handler.Store.DeleteMedia(id); err != nil {
		logging.FromContext(r.Context()).Error("media record orphaned after binary deletion",
			"mediaId", id,
			"path", media.Path,
			"error", err,
		)
		writeFailure(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeReply(w, http.StatusOK, "deleted", nil)
}

type createLinkRequest struct {
	MediaID string `json:"mediaId"`
	LinkID  string `json:"linkId"`
}

// links serves GET /api/media/links/{id} and POST /api/media/links.
func (mh *MediaHandlers) links(w http.ResponseWriter, r *http.Request, segments []string) {
	user, ok := mh.handler.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	switch {
	case r.Method == http.MethodGet && len(segments) == 2 && segments[1] != "":
		mh.listLinks(w, segments[1])
	case r.Method == http.MethodPost && len(segments) == 1:
		mh.createLink(w, r, user)
	default:
		writeFailure(w, http.StatusNotFound, "not found")
	}
}

// listLinks returns the media's link id array as stored, dangling ids
// included. The route intentionally performs no ownership check; it matches
// the long-standing reader contract, and ids are unguessable.
func (mh *MediaHandlers) listLinks(w http.ResponseWriter, id string) {
	media, ok := mh.handler.Store.GetMedia(id)
	if !ok {
		writeFailure(w, http.StatusNotFound, "not found")
		return
	}
	writeReply(w, http.StatusOK, "success", media.Links)
}

// createLink attaches a cross-era link. Both records are resolved through the
// caller's own collection; a missing or foreign record on either side reads
// as not-found. Rule rejections (same era, duplicate) return the same success
// reply as a created link, and only a storage failure is an error. The
// outcome feeds metrics so rejected traffic stays visible.
func (mh *MediaHandlers) createLink(w http.ResponseWriter, r *http.Request, user models.User) {
	var req createLinkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}
	source, ok := mh.handler.Store.GetMedia(req.MediaID)
	if !ok || source.OwnerID != user.ID {
		writeFailure(w, http.StatusNotFound, "not found")
		return
	}
	target, ok := mh.handler.Store.GetMedia(req.LinkID)
	if !ok || target.OwnerID != user.ID {
		writeFailure(w, http.StatusNotFound, "not found")
		return
	}
	outcome, err := mh.handler.Store.AttachLink(req.MediaID, req.LinkID)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	mh.handler.Metrics.RecordLinkOutcome(string(outcome))
	writeReply(w, http.StatusOK, "link processed", nil)
}

// request draws one of the caller's present-era media uniformly at random
// and records the view. Only the id is returned; the caller fetches the
// binary through the show route.
func (mh *MediaHandlers) request(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}
	user, ok := mh.handler.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	media, found, err := mh.handler.Store.PickPresent(user.ID)
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !found {
		writeFailure(w, http.StatusNotFound, "not found")
		return
	}
	mh.handler.Metrics.RecordPresentDraw()
	writeReply(w, http.StatusOK, "success", map[string]string{"id": media.ID})
}

type uploadedMedia struct {
	tempPath     string
	originalName string
	contentType  string
	emotions     []string
}

// readMultipartMedia streams the file part to a temp file and collects the
// optional emotions field. The caller owns the temp file.
func readMultipartMedia(r *http.Request) (*uploadedMedia, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("multipart form required: %w", err)
	}
	upload := &uploadedMedia{}
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			cleanupUpload(upload)
			return nil, fmt.Errorf("read multipart form: %w", err)
		}
		switch part.FormName() {
		case "file":
			if upload.tempPath != "" {
				part.Close()
				cleanupUpload(upload)
				return nil, fmt.Errorf("multiple file parts are not supported")
			}
			tempPath, written, err := spoolPart(part)
			part.Close()
			if err != nil {
				cleanupUpload(upload)
				return nil, err
			}
			if written == 0 {
				_ = os.Remove(tempPath)
				cleanupUpload(upload)
				return nil, fmt.Errorf("file part is empty")
			}
			upload.tempPath = tempPath
			upload.originalName = part.FileName()
			upload.contentType = part.Header.Get("Content-Type")
		case "emotions":
			value, err := io.ReadAll(io.LimitReader(part, 4096))
			part.Close()
			if err != nil {
				cleanupUpload(upload)
				return nil, fmt.Errorf("read emotions field: %w", err)
			}
			for _, emotion := range strings.Split(string(value), ",") {
				if trimmed := strings.TrimSpace(emotion); trimmed != "" {
					upload.emotions = append(upload.emotions, trimmed)
				}
			}
		default:
			part.Close()
		}
	}
	if upload.tempPath == "" {
		return nil, fmt.Errorf("file part is required")
	}
	return upload, nil
}

func spoolPart(part io.Reader) (string, int64, error) {
	tempFile, err := os.CreateTemp("", "keepsake-upload-*")
	if err != nil {
		return "", 0, fmt.Errorf("create temp upload: %w", err)
	}
	written, err := io.Copy(tempFile, io.LimitReader(part, maxUploadBytes+1))
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tempFile.Name())
		return "", 0, fmt.Errorf("spool upload: %w", err)
	}
	if written > maxUploadBytes {
		_ = os.Remove(tempFile.Name())
		return "", 0, fmt.Errorf("upload exceeds %d bytes", int64(maxUploadBytes))
	}
	return tempFile.Name(), written, nil
}

func cleanupUpload(upload *uploadedMedia) {
	if upload != nil && upload.tempPath != "" {
		_ = os.Remove(upload.tempPath)
	}
}

func generateBlobKey() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
