package storage

import (
	"strings"

	"keepsake-api/internal/models"
)

// ResourceStore is the capability contract the generic handler set is
// parameterized over: uniform CRUD plus search, exact-match filtering, and
// pagination for one resource kind. Owned reports whether records carry a
// per-user owner; the handler layer applies or skips owner-scoping from that
// flag alone. Search, Filter, and Page share one implementation over List
// output, so every backend gets identical matching semantics.
type ResourceStore[R models.Entity] interface {
	Name() string
	Owned() bool
	Get(id string) (R, bool)
	List(ownerID string) []R
	Create(ownerID string, fields map[string]string) (R, error)
	Update(id string, fields map[string]string) (R, error)
	Delete(id string) error
	Search(ownerID, field, term string) []R
	Filter(ownerID string, fields map[string]string) []R
	Page(ownerID string, page, limit int) []R
}

// searchEntities keeps entities whose named field contains the term,
// case-folded. An unknown field matches nothing.
func searchEntities[R models.Entity](items []R, field, term string) []R {
	foldedTerm := foldCaser.String(strings.TrimSpace(term))
	matched := make([]R, 0)
	for _, item := range items {
		value, ok := item.Field(field)
		if !ok {
			continue
		}
		if strings.Contains(foldCaser.String(value), foldedTerm) {
			matched = append(matched, item)
		}
	}
	return matched
}

// filterEntities keeps entities matching every supplied field exactly (AND
// semantics). An unknown field eliminates all candidates.
func filterEntities[R models.Entity](items []R, fields map[string]string) []R {
	matched := make([]R, 0, len(items))
	for _, item := range items {
		keep := true
		for field, expected := range fields {
			value, ok := item.Field(field)
			if !ok || value != expected {
				keep = false
				break
			}
		}
		if keep {
			matched = append(matched, item)
		}
	}
	return matched
}

// pageEntities slices the 0-indexed page of at most limit entities. An
// out-of-range page yields an empty slice, never an error.
func pageEntities[R models.Entity](items []R, page, limit int) []R {
	if page < 0 || limit <= 0 {
		return []R{}
	}
	start := page * limit
	if start >= len(items) {
		return []R{}
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

// UserResources adapts the repository's user operations to the generic
// contract. Users own themselves, so owner-scoping collapses to "the
// caller's own account".
type UserResources struct {
	Repo Repository
}

func (UserResources) Name() string { return "users" }
func (UserResources) Owned() bool  { return true }

func (r UserResources) Get(id string) (models.User, bool) { return r.Repo.GetUser(id) }

func (r UserResources) List(ownerID string) []models.User {
	if ownerID == "" {
		return r.Repo.ListUsers()
	}
	if user, ok := r.Repo.GetUser(ownerID); ok {
		return []models.User{user}
	}
	return []models.User{}
}

// Create is unsupported through the generic path; accounts are created via
// the signup flow so credentials never pass through field maps.
func (r UserResources) Create(ownerID string, fields map[string]string) (models.User, error) {
	return models.User{}, Validationf("users are created via signup")
}

func (r UserResources) Update(id string, fields map[string]string) (models.User, error) {
	update := UserUpdate{}
	if value, ok := fields["displayName"]; ok {
		v := value
		update.DisplayName = &v
	}
	if value, ok := fields["email"]; ok {
		v := value
		update.Email = &v
	}
	return r.Repo.UpdateUser(id, update)
}

func (r UserResources) Delete(id string) error { return r.Repo.DeleteUser(id) }

func (r UserResources) Search(ownerID, field, term string) []models.User {
	return searchEntities(r.List(ownerID), field, term)
}

func (r UserResources) Filter(ownerID string, fields map[string]string) []models.User {
	return filterEntities(r.List(ownerID), fields)
}

func (r UserResources) Page(ownerID string, page, limit int) []models.User {
	return pageEntities(r.List(ownerID), page, limit)
}

// DeviceResources adapts the repository's device operations to the generic
// contract.
type DeviceResources struct {
	Repo Repository
}

func (DeviceResources) Name() string { return "devices" }
func (DeviceResources) Owned() bool  { return true }

func (r DeviceResources) Get(id string) (models.Device, bool) { return r.Repo.GetDevice(id) }

func (r DeviceResources) List(ownerID string) []models.Device { return r.Repo.ListDevices(ownerID) }

func (r DeviceResources) Create(ownerID string, fields map[string]string) (models.Device, error) {
	return r.Repo.CreateDevice(CreateDeviceParams{
		OwnerID:   ownerID,
		Name:      fields["name"],
		Platform:  fields["platform"],
		PushToken: fields["pushToken"],
	})
}

func (r DeviceResources) Update(id string, fields map[string]string) (models.Device, error) {
	update := DeviceUpdate{}
	if value, ok := fields["name"]; ok {
		v := value
		update.Name = &v
	}
	if value, ok := fields["platform"]; ok {
		v := value
		update.Platform = &v
	}
	if value, ok := fields["pushToken"]; ok {
		v := value
		update.PushToken = &v
	}
	return r.Repo.UpdateDevice(id, update)
}

func (r DeviceResources) Delete(id string) error { return r.Repo.DeleteDevice(id) }

func (r DeviceResources) Search(ownerID, field, term string) []models.Device {
	return searchEntities(r.List(ownerID), field, term)
}

func (r DeviceResources) Filter(ownerID string, fields map[string]string) []models.Device {
	return filterEntities(r.List(ownerID), fields)
}

func (r DeviceResources) Page(ownerID string, page, limit int) []models.Device {
	return pageEntities(r.List(ownerID), page, limit)
}

// MediaResources adapts the repository's media operations to the generic
// contract. The media handler composes these with its own upload, binary,
// link, and draw routes; generic Create and Update are rejected because
// media is created by upload and mutated only through link attachment.
type MediaResources struct {
	Repo Repository
}

func (MediaResources) Name() string { return "media" }
func (MediaResources) Owned() bool  { return true }

func (r MediaResources) Get(id string) (models.Media, bool) { return r.Repo.GetMedia(id) }

func (r MediaResources) List(ownerID string) []models.Media { return r.Repo.ListMedia(ownerID) }

func (r MediaResources) Create(ownerID string, fields map[string]string) (models.Media, error) {
	return models.Media{}, Validationf("media is created via upload")
}

func (r MediaResources) Update(id string, fields map[string]string) (models.Media, error) {
	return models.Media{}, ErrNotImplemented
}

func (r MediaResources) Delete(id string) error { return r.Repo.DeleteMedia(id) }

func (r MediaResources) Search(ownerID, field, term string) []models.Media {
	return searchEntities(r.List(ownerID), field, term)
}

func (r MediaResources) Filter(ownerID string, fields map[string]string) []models.Media {
	return filterEntities(r.List(ownerID), fields)
}

func (r MediaResources) Page(ownerID string, page, limit int) []models.Media {
	return pageEntities(r.List(ownerID), page, limit)
}

var (
	_ ResourceStore[models.User]   = UserResources{}
	_ ResourceStore[models.Device] = DeviceResources{}
	_ ResourceStore[models.Media]  = MediaResources{}
)
