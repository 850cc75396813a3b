package storage

import (
	"context"

	"keepsake-api/internal/models"
)

// Repository exposes the datastore operations required by the API handlers.
// Both the JSON-file store and the Postgres repository satisfy it.
type Repository interface {
	Ping(ctx context.Context) error

	CreateUser(params CreateUserParams) (models.User, error)
	AuthenticateUser(email, password string) (models.User, error)
	GetUser(id string) (models.User, bool)
	FindUserByEmail(email string) (models.User, bool)
	ListUsers() []models.User
	UpdateUser(id string, update UserUpdate) (models.User, error)
	DeleteUser(id string) error

	CreateDevice(params CreateDeviceParams) (models.Device, error)
	GetDevice(id string) (models.Device, bool)
	ListDevices(ownerID string) []models.Device
	UpdateDevice(id string, update DeviceUpdate) (models.Device, error)
	DeleteDevice(id string) error

	CreateMedia(params CreateMediaParams) (models.Media, error)
	GetMedia(id string) (models.Media, bool)
	ListMedia(ownerID string) []models.Media
	DeleteMedia(id string) error

	AttachLink(sourceID, targetID string) (LinkOutcome, error)
	PickPresent(userID string) (models.Media, bool, error)
	ViewEventsForUser(userID string) []models.ViewEvent
}

var _ Repository = (*Store)(nil)
