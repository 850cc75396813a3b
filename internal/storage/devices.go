package storage

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"keepsake-api/internal/models"
)

// CreateDeviceParams captures the attributes that can be set when registering
// a device.
type CreateDeviceParams struct {
	OwnerID   string
	Name      string
	Platform  string
	PushToken string
}

func (s *Store) CreateDevice(params CreateDeviceParams) (models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Users[params.OwnerID]; !ok {
		return models.Device{}, fmt.Errorf("owner %s: %w", params.OwnerID, ErrNotFound)
	}
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return models.Device{}, Validationf("name is required")
	}

	id, err := generateID()
	if err != nil {
		return models.Device{}, err
	}

	now := time.Now().UTC()
	device := models.Device{
		ID:        id,
		OwnerID:   params.OwnerID,
		Name:      name,
		Platform:  strings.TrimSpace(params.Platform),
		PushToken: strings.TrimSpace(params.PushToken),
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.data.Devices[id] = device
	if err := s.persist(); err != nil {
		delete(s.data.Devices, id)
		return models.Device{}, err
	}

	return device, nil
}

func (s *Store) GetDevice(id string) (models.Device, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	device, ok := s.data.Devices[id]
	return device, ok
}

// ListDevices returns devices ordered by creation time, filtered to the
// owner when ownerID is non-empty.
func (s *Store) ListDevices(ownerID string) []models.Device {
	s.mu.RLock()
	defer s.mu.RUnlock()

	devices := make([]models.Device, 0, len(s.data.Devices))
	for _, device := range s.data.Devices {
		if ownerID != "" && device.OwnerID != ownerID {
			continue
		}
		devices = append(devices, device)
	}
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].CreatedAt.Before(devices[j].CreatedAt)
	})
	return devices
}

// DeviceUpdate represents the fields that can be modified for an existing
// device.
type DeviceUpdate struct {
	Name      *string
	Platform  *string
	PushToken *string
}

func (s *Store) UpdateDevice(id string, update DeviceUpdate) (models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)

	device, ok := updatedData.Devices[id]
	if !ok {
		return models.Device{}, fmt.Errorf("device %s: %w", id, ErrNotFound)
	}

	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return models.Device{}, Validationf("name cannot be empty")
		}
		device.Name = name
	}
	if update.Platform != nil {
		device.Platform = strings.TrimSpace(*update.Platform)
	}
	if update.PushToken != nil {
		device.PushToken = strings.TrimSpace(*update.PushToken)
	}

	device.UpdatedAt = time.Now().UTC()
	updatedData.Devices[id] = device
	if err := s.persistDataset(updatedData); err != nil {
		return models.Device{}, err
	}

	s.data = updatedData

	return device, nil
}

func (s *Store) DeleteDevice(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Devices[id]; !ok {
		return fmt.Errorf("device %s: %w", id, ErrNotFound)
	}

	removed := s.data.Devices[id]
	delete(s.data.Devices, id)
	if err := s.persist(); err != nil {
		s.data.Devices[id] = removed
		return err
	}
	return nil
}
