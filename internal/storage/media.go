package storage

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"keepsake-api/internal/models"
)

// LinkOutcome classifies the result of a link attachment. Every outcome
// except a storage failure is surfaced to HTTP callers as success; the
// enum exists for logging and metrics.
type LinkOutcome string

const (
	LinkCreated       LinkOutcome = "created"
	LinkDuplicate     LinkOutcome = "duplicate"
	LinkRejected      LinkOutcome = "rejected"
	LinkMissingTarget LinkOutcome = "missing-target"
)

// CreateMediaParams captures the metadata recorded alongside an uploaded
// binary. Path is the opaque blob handle returned by the blob store.
type CreateMediaParams struct {
	OwnerID     string
	Path        string
	ContentType string
	Era         models.Era
	Locket      models.Locket
	Emotions    []string
}

func (s *Store) CreateMedia(params CreateMediaParams) (models.Media, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Users[params.OwnerID]; !ok {
		return models.Media{}, fmt.Errorf("owner %s: %w", params.OwnerID, ErrNotFound)
	}
	if strings.TrimSpace(params.Path) == "" {
		return models.Media{}, Validationf("media path is required")
	}
	era := params.Era
	if era == "" {
		era = models.EraPast
	}
	locket := params.Locket
	if locket == "" {
		locket = models.LocketNone
	}

	id, err := generateID()
	if err != nil {
		return models.Media{}, err
	}

	now := time.Now().UTC()
	media := models.Media{
		ID:          id,
		OwnerID:     params.OwnerID,
		Path:        strings.TrimSpace(params.Path),
		ContentType: strings.TrimSpace(params.ContentType),
		Era:         era,
		Locket:      locket,
		Links:       []string{},
		Emotions:    normalizeEmotions(params.Emotions),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s.data.Media[id] = media
	if err := s.persist(); err != nil {
		delete(s.data.Media, id)
		return models.Media{}, err
	}

	return media, nil
}

func normalizeEmotions(emotions []string) []string {
	if len(emotions) == 0 {
		return nil
	}
	normalized := make([]string, 0, len(emotions))
	seen := make(map[string]struct{})
	for _, emotion := range emotions {
		trimmed := foldCaser.String(strings.TrimSpace(emotion))
		if trimmed == "" {
			continue
		}
		if _, exists := seen[trimmed]; exists {
			continue
		}
		seen[trimmed] = struct{}{}
		normalized = append(normalized, trimmed)
	}
	if len(normalized) == 0 {
		return nil
	}
	sort.Strings(normalized)
	return normalized
}

func (s *Store) GetMedia(id string) (models.Media, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	media, ok := s.data.Media[id]
	if !ok {
		return models.Media{}, false
	}
	return cloneMedia(media), true
}

func cloneMedia(media models.Media) models.Media {
	cloned := media
	if media.Links != nil {
		cloned.Links = append([]string(nil), media.Links...)
	}
	if media.Emotions != nil {
		cloned.Emotions = append([]string(nil), media.Emotions...)
	}
	return cloned
}

// ListMedia returns media ordered by creation time, filtered to the owner
// when ownerID is non-empty.
func (s *Store) ListMedia(ownerID string) []models.Media {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]models.Media, 0, len(s.data.Media))
	for _, media := range s.data.Media {
		if ownerID != "" && media.OwnerID != ownerID {
			continue
		}
		items = append(items, cloneMedia(media))
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items
}

// DeleteMedia removes the media record only. Callers are responsible for
// deleting the backing blob first; see the media handler for the ordering
// contract.
func (s *Store) DeleteMedia(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)

	if _, ok := updatedData.Media[id]; !ok {
		return fmt.Errorf("media %s: %w", id, ErrNotFound)
	}
	delete(updatedData.Media, id)

	// Dangling link ids on other records are tolerated: the link list is
	// resolved lazily and a missing target reads as absent.

	if err := s.persistDataset(updatedData); err != nil {
		return err
	}

	s.data = updatedData

	return nil
}

// AttachLink connects the source media to the target when the cross-era and
// deduplication rules allow it. The check and the append run under one write
// lock acquisition, so two concurrent attachments cannot both pass the
// duplicate check. The edge is recorded on the source only; the reverse
// direction requires its own call.
func (s *Store) AttachLink(sourceID, targetID string) (LinkOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	source, ok := s.data.Media[sourceID]
	if !ok {
		return "", fmt.Errorf("media %s: %w", sourceID, ErrNotFound)
	}
	target, ok := s.data.Media[targetID]
	if !ok {
		return LinkMissingTarget, nil
	}
	if target.Era == source.Era {
		return LinkRejected, nil
	}
	if source.HasLink(targetID) {
		return LinkDuplicate, nil
	}

	updated := cloneMedia(source)
	updated.Links = append(updated.Links, targetID)
	updated.UpdatedAt = time.Now().UTC()

	s.data.Media[sourceID] = updated
	if err := s.persist(); err != nil {
		s.data.Media[sourceID] = source
		return "", err
	}

	return LinkCreated, nil
}

// PickPresent draws one of the user's present-era media uniformly at random
// and appends the corresponding view event. The draw and the append share a
// single lock acquisition, so every successful draw is recorded exactly
// once. The boolean is false when the user has no present-era media.
func (s *Store) PickPresent(userID string) (models.Media, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := make([]models.Media, 0)
	for _, media := range s.data.Media {
		if media.OwnerID == userID && media.Era == models.EraPresent {
			candidates = append(candidates, media)
		}
	}
	if len(candidates) == 0 {
		return models.Media{}, false, nil
	}
	// Stable ordering before the draw keeps the selection independent of map
	// iteration order.
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ID < candidates[j].ID
	})
	selected := candidates[rand.Intn(len(candidates))]

	id, err := generateID()
	if err != nil {
		return models.Media{}, false, err
	}
	event := models.ViewEvent{
		ID:        id,
		MediaID:   selected.ID,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}

	s.data.ViewEvents[id] = event
	if err := s.persist(); err != nil {
		delete(s.data.ViewEvents, id)
		return models.Media{}, false, err
	}

	return cloneMedia(selected), true, nil
}

// ViewEventsForUser returns the user's view events ordered by creation time.
// The HTTP surface exposes no route over these; the accessor exists for
// operational tooling and tests.
func (s *Store) ViewEventsForUser(userID string) []models.ViewEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make([]models.ViewEvent, 0)
	for _, event := range s.data.ViewEvents {
		if event.UserID == userID {
			events = append(events, event)
		}
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
	return events
}
