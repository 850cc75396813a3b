package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"keepsake-api/internal/models"
	"keepsake-api/internal/storage"
)

// ResourceHandlers implements the uniform HTTP surface for one resource kind
// by straight delegation to its ResourceStore. Owner-scoping is applied
// automatically when the store reports it is owned; an ownership mismatch on
// show, update, or destroy reads as not-found so the existence of other
// users' records never leaks.
type ResourceHandlers[R models.Entity] struct {
	handler *Handler
	store   storage.ResourceStore[R]
	respond func(R) any
}

// NewResourceHandlers binds the generic handler set to a store. respond maps
// an entity to its JSON response shape.
func NewResourceHandlers[R models.Entity](h *Handler, store storage.ResourceStore[R], respond func(R) any) *ResourceHandlers[R] {
	return &ResourceHandlers[R]{handler: h, store: store, respond: respond}
}

func (rh *ResourceHandlers[R]) basePath() string {
	return "/api/" + rh.store.Name() + "/"
}

func (rh *ResourceHandlers[R]) respondList(items []R) []any {
	response := make([]any, 0, len(items))
	for _, item := range items {
		response = append(response, rh.respond(item))
	}
	return response
}

// ownerScope resolves the owner filter for the authenticated user. Unowned
// stores are not scoped.
func (rh *ResourceHandlers[R]) ownerScope(user models.User) string {
	if rh.store.Owned() {
		return user.ID
	}
	return ""
}

// visible reports whether the authenticated user may act on the entity.
func (rh *ResourceHandlers[R]) visible(user models.User, entity R) bool {
	if !rh.store.Owned() {
		return true
	}
	return entity.EntityOwner() == user.ID
}

// Collection handles the bare resource path: list (optionally filtered by
// query parameters, AND-ed) and create.
func (rh *ResourceHandlers[R]) Collection(w http.ResponseWriter, r *http.Request) {
	user, ok := rh.handler.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		filters := filterParams(r)
		if len(filters) > 0 {
			items := rh.store.Filter(rh.ownerScope(user), filters)
			writeReply(w, http.StatusOK, "success", rh.respondList(items))
			return
		}
		items := rh.store.List(rh.ownerScope(user))
		writeReply(w, http.StatusOK, "success", rh.respondList(items))
	case http.MethodPost:
		fields, err := decodeFields(r)
		if err != nil {
			writeFailure(w, http.StatusBadRequest, err.Error())
			return
		}
		entity, err := rh.store.Create(user.ID, fields)
		if err != nil {
			writeStorageError(w, err)
			return
		}
		writeReply(w, http.StatusCreated, "created", rh.respond(entity))
	default:
		methodNotAllowed(w, r, "GET, POST")
	}
}

// ByID handles the sub-path routes: show, update, destroy, plus the search
// and pagination sub-routes.
func (rh *ResourceHandlers[R]) ByID(w http.ResponseWriter, r *http.Request) {
	user, ok := rh.handler.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, rh.basePath()), "/")
	if rest == "" {
		writeFailure(w, http.StatusNotFound, "not found")
		return
	}
	segments := strings.Split(rest, "/")
	switch segments[0] {
	case "search":
		rh.search(w, r, user, segments)
		return
	case "get":
		rh.page(w, r, user, segments)
		return
	}
	if len(segments) != 1 {
		writeFailure(w, http.StatusNotFound, "not found")
		return
	}
	rh.byID(w, r, user, segments[0])
}

func (rh *ResourceHandlers[R]) search(w http.ResponseWriter, r *http.Request, user models.User, segments []string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}
	if len(segments) != 3 || segments[1] == "" || segments[2] == "" {
		writeFailure(w, http.StatusBadRequest, "search requires a field and a term")
		return
	}
	items := rh.store.Search(rh.ownerScope(user), segments[1], segments[2])
	writeReply(w, http.StatusOK, "success", rh.respondList(items))
}

func (rh *ResourceHandlers[R]) page(w http.ResponseWriter, r *http.Request, user models.User, segments []string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}
	if len(segments) != 3 {
		writeFailure(w, http.StatusBadRequest, "pagination requires a page and a limit")
		return
	}
	page, err := strconv.Atoi(segments[1])
	if err != nil || page < 0 {
		writeFailure(w, http.StatusBadRequest, fmt.Sprintf("invalid page %q", segments[1]))
		return
	}
	limit, err := strconv.Atoi(segments[2])
	if err != nil || limit <= 0 {
		writeFailure(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", segments[2]))
		return
	}
	items := rh.store.Page(rh.ownerScope(user), page, limit)
	writeReply(w, http.StatusOK, "success", rh.respondList(items))
}

func (rh *ResourceHandlers[R]) byID(w http.ResponseWriter, r *http.Request, user models.User, id string) {
	switch r.Method {
	case http.MethodGet:
		entity, ok := rh.store.Get(id)
		if !ok || !rh.visible(user, entity) {
			writeFailure(w, http.StatusNotFound, "not found")
			return
		}
		writeReply(w, http.StatusOK, "success", rh.respond(entity))
	case http.MethodPost:
		entity, ok := rh.store.Get(id)
		if !ok || !rh.visible(user, entity) {
			writeFailure(w, http.StatusNotFound, "not found")
			return
		}
		fields, err := decodeFields(r)
		if err != nil {
			writeFailure(w, http.StatusBadRequest, err.Error())
			return
		}
		updated, err := rh.store.Update(entity.EntityID(), fields)
		if err != nil {
			writeStorageError(w, err)
			return
		}
		writeReply(w, http.StatusOK, "updated", rh.respond(updated))
	case http.MethodDelete:
		entity, ok := rh.store.Get(id)
		if !ok || !rh.visible(user, entity) {
			writeFailure(w, http.StatusNotFound, "not found")
			return
		}
		if err := rh.store.Delete(entity.EntityID()); err != nil {
			writeStorageError(w, err)
			return
		}
		writeReply(w, http.StatusOK, "deleted", nil)
	default:
		methodNotAllowed(w, r, "GET, POST, DELETE")
	}
}

// NewUserHandlers binds the generic handler set to the user store.
func NewUserHandlers(h *Handler) *ResourceHandlers[models.User] {
	return NewResourceHandlers[models.User](h, storage.UserResources{Repo: h.Store}, func(user models.User) any {
		return newUserResponse(user)
	})
}

// NewDeviceHandlers binds the generic handler set to the device store.
func NewDeviceHandlers(h *Handler) *ResourceHandlers[models.Device] {
	return NewResourceHandlers[models.Device](h, storage.DeviceResources{Repo: h.Store}, func(device models.Device) any {
		return newDeviceResponse(device)
	})
}

// decodeFields reads a flat string-valued JSON object, the wire shape of the
// generic create and update operations.
func decodeFields(r *http.Request) (map[string]string, error) {
	fields := make(map[string]string)
	if err := decodeJSON(r, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// filterParams collects query parameters into an exact-match filter set. The
// token parameter is reserved for authentication and never filters.
func filterParams(r *http.Request) map[string]string {
	filters := make(map[string]string)
	for key, values := range r.URL.Query() {
		if key == "token" || len(values) == 0 {
			continue
		}
		filters[key] = values[0]
	}
	return filters
}
