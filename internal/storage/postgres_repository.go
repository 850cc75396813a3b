package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"keepsake-api/internal/models"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// PostgresRepository persists the dataset to Postgres, allowing multiple API
// replicas to share state. Link and emotion lists are stored as text arrays;
// the link append happens in a single conditional UPDATE so concurrent
// attachments cannot both pass the duplicate check.
type PostgresRepository struct {
	pool *pgxpool.Pool
	cfg  PostgresConfig
}

// NewPostgresRepository opens a Postgres-backed repository and applies the
// schema migration.
func NewPostgresRepository(dsn string, opts ...PostgresOption) (*PostgresRepository, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections >= 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	repo := &PostgresRepository{pool: pool, cfg: cfg}
	if err := repo.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

// Close releases the connection pool, honouring the context deadline.
func (r *PostgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Ping verifies database connectivity.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func isPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

const userColumns = "id, display_name, email, password_hash, created_at, updated_at"

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	err := row.Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	return user, err
}

func (r *PostgresRepository) CreateUser(params CreateUserParams) (models.User, error) {
	email := normalizeEmail(params.Email)
	if email == "" {
		return models.User{}, Validationf("email is required")
	}
	displayName := strings.TrimSpace(params.DisplayName)
	if displayName == "" {
		return models.User{}, Validationf("displayName is required")
	}
	if params.Password == "" {
		return models.User{}, Validationf("password is required")
	}

	id, err := generateID()
	if err != nil {
		return models.User{}, err
	}
	hashed, err := hashPassword(params.Password)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	_, err = r.pool.Exec(context.Background(), `
INSERT INTO users (id, display_name, email, password_hash, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)
`, id, displayName, email, hashed, now)
	if err != nil {
		if isPgCode(err, pgErrUniqueViolation) {
			return models.User{}, Validationf("email %s already in use", email)
		}
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}

	return models.User{
		ID:           id,
		DisplayName:  displayName,
		Email:        email,
		PasswordHash: hashed,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (r *PostgresRepository) GetUser(id string) (models.User, bool) {
	row := r.pool.QueryRow(context.Background(),
		"SELECT "+userColumns+" FROM users WHERE id = $1", id)
	user, err := scanUser(row)
	if err != nil {
		return models.User{}, false
	}
	return user, true
}

func (r *PostgresRepository) FindUserByEmail(email string) (models.User, bool) {
	row := r.pool.QueryRow(context.Background(),
		"SELECT "+userColumns+" FROM users WHERE email = $1", normalizeEmail(email))
	user, err := scanUser(row)
	if err != nil {
		return models.User{}, false
	}
	return user, true
}

func (r *PostgresRepository) ListUsers() []models.User {
	rows, err := r.pool.Query(context.Background(),
		"SELECT "+userColumns+" FROM users ORDER BY created_at")
	if err != nil {
		return nil
	}
	defer rows.Close()

	users := make([]models.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil
		}
		users = append(users, user)
	}
	return users
}

func (r *PostgresRepository) AuthenticateUser(email, password string) (models.User, error) {
	if password == "" {
		return models.User{}, ErrInvalidCredentials
	}
	user, ok := r.FindUserByEmail(email)
	if !ok {
		return models.User{}, ErrInvalidCredentials
	}
	if err := verifyPassword(user.PasswordHash, password); err != nil {
		return models.User{}, err
	}
	return user, nil
}

func (r *PostgresRepository) UpdateUser(id string, update UserUpdate) (models.User, error) {
	ctx := context.Background()
	user, ok := r.GetUser(id)
	if !ok {
		return models.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}

	if update.DisplayName != nil {
		name := strings.TrimSpace(*update.DisplayName)
		if name == "" {
			return models.User{}, Validationf("displayName cannot be empty")
		}
		user.DisplayName = name
	}
	if update.Email != nil {
		email := normalizeEmail(*update.Email)
		if email == "" {
			return models.User{}, Validationf("email cannot be empty")
		}
		user.Email = email
	}
	user.UpdatedAt = time.Now().UTC()

	_, err := r.pool.Exec(ctx, `
UPDATE users SET display_name = $2, email = $3, updated_at = $4 WHERE id = $1
`, id, user.DisplayName, user.Email, user.UpdatedAt)
	if err != nil {
		if isPgCode(err, pgErrUniqueViolation) {
			return models.User{}, Validationf("email %s already in use", user.Email)
		}
		return models.User{}, fmt.Errorf("update user: %w", err)
	}
	return user, nil
}

func (r *PostgresRepository) DeleteUser(id string) error {
	tag, err := r.pool.Exec(context.Background(), "DELETE FROM users WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return nil
}

const deviceColumns = "id, owner_id, name, platform, push_token, created_at, updated_at"

func scanDevice(row pgx.Row) (models.Device, error) {
	var device models.Device
	err := row.Scan(&device.ID, &device.OwnerID, &device.Name, &device.Platform, &device.PushToken, &device.CreatedAt, &device.UpdatedAt)
	return device, err
}

func (r *PostgresRepository) CreateDevice(params CreateDeviceParams) (models.Device, error) {
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
	_, err = r.pool.Exec(context.Background(), `
INSERT INTO devices (id, owner_id, name, platform, push_token, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)
`, device.ID, device.OwnerID, device.Name, device.Platform, device.PushToken, now)
	if err != nil {
		if isPgCode(err, pgErrForeignKeyViolation) {
			return models.Device{}, fmt.Errorf("owner %s: %w", params.OwnerID, ErrNotFound)
		}
		return models.Device{}, fmt.Errorf("insert device: %w", err)
	}
	return device, nil
}

func (r *PostgresRepository) GetDevice(id string) (models.Device, bool) {
	row := r.pool.QueryRow(context.Background(),
		"SELECT "+deviceColumns+" FROM devices WHERE id = $1", id)
	device, err := scanDevice(row)
	if err != nil {
		return models.Device{}, false
	}
	return device, true
}

func (r *PostgresRepository) ListDevices(ownerID string) []models.Device {
	query := "SELECT " + deviceColumns + " FROM devices ORDER BY created_at"
	args := []any{}
	if ownerID != "" {
		query = "SELECT " + deviceColumns + " FROM devices WHERE owner_id = $1 ORDER BY created_at"
		args = append(args, ownerID)
	}
	rows, err := r.pool.Query(context.Background(), query, args...)
	if err != nil {
		return nil
	}
	defer rows.Close()

	devices := make([]models.Device, 0)
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil
		}
		devices = append(devices, device)
	}
	return devices
}

func (r *PostgresRepository) UpdateDevice(id string, update DeviceUpdate) (models.Device, error) {
	device, ok := r.GetDevice(id)
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

	_, err := r.pool.Exec(context.Background(), `
UPDATE devices SET name = $2, platform = $3, push_token = $4, updated_at = $5 WHERE id = $1
`, id, device.Name, device.Platform, device.PushToken, device.UpdatedAt)
	if err != nil {
		return models.Device{}, fmt.Errorf("update device: %w", err)
	}
	return device, nil
}

func (r *PostgresRepository) DeleteDevice(id string) error {
	tag, err := r.pool.Exec(context.Background(), "DELETE FROM devices WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("device %s: %w", id, ErrNotFound)
	}
	return nil
}

const mediaColumns = "id, owner_id, path, content_type, era, locket, links, emotions, created_at, updated_at"

func scanMediaRow(row pgx.Row) (models.Media, error) {
	var media models.Media
	var era, locket string
	err := row.Scan(&media.ID, &media.OwnerID, &media.Path, &media.ContentType, &era, &locket, &media.Links, &media.Emotions, &media.CreatedAt, &media.UpdatedAt)
	if err != nil {
		return models.Media{}, err
	}
	media.Era = models.Era(era)
	media.Locket = models.Locket(locket)
	if media.Links == nil {
		media.Links = []string{}
	}
	return media, nil
}

func (r *PostgresRepository) CreateMedia(params CreateMediaParams) (models.Media, error) {
	ctx := context.Background()
	if strings.TrimSpace(params.Path) == "" {
		return models.Media{}, Validationf("media path is required")
	}
	// No FK from media to users: records outlive their owner so blobs can be
	// reconciled by operator tooling. Owner existence is checked up front.
	var ownerExists bool
	if err := r.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)", params.OwnerID).Scan(&ownerExists); err != nil {
		return models.Media{}, fmt.Errorf("check media owner: %w", err)
	}
	if !ownerExists {
		return models.Media{}, fmt.Errorf("owner %s: %w", params.OwnerID, ErrNotFound)
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
	emotions := media.Emotions
	if emotions == nil {
		emotions = []string{}
	}
	_, err = r.pool.Exec(ctx, `
INSERT INTO media (id, owner_id, path, content_type, era, locket, links, emotions, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
`, media.ID, media.OwnerID, media.Path, media.ContentType, string(media.Era), string(media.Locket), media.Links, emotions, now)
	if err != nil {
		return models.Media{}, fmt.Errorf("insert media: %w", err)
	}
	return media, nil
}

func (r *PostgresRepository) GetMedia(id string) (models.Media, bool) {
	row := r.pool.QueryRow(context.Background(),
		"SELECT "+mediaColumns+" FROM media WHERE id = $1", id)
	media, err := scanMediaRow(row)
	if err != nil {
		return models.Media{}, false
	}
	return media, true
}

func (r *PostgresRepository) ListMedia(ownerID string) []models.Media {
	query := "SELECT " + mediaColumns + " FROM media ORDER BY created_at"
	args := []any{}
	if ownerID != "" {
		query = "SELECT " + mediaColumns + " FROM media WHERE owner_id = $1 ORDER BY created_at"
		args = append(args, ownerID)
	}
	rows, err := r.pool.Query(context.Background(), query, args...)
	if err != nil {
		return nil
	}
	defer rows.Close()

	items := make([]models.Media, 0)
	for rows.Next() {
		media, err := scanMediaRow(rows)
		if err != nil {
			return nil
		}
		items = append(items, media)
	}
	return items
}

func (r *PostgresRepository) DeleteMedia(id string) error {
	tag, err := r.pool.Exec(context.Background(), "DELETE FROM media WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete media: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("media %s: %w", id, ErrNotFound)
	}
	return nil
}

// AttachLink appends the link in a single conditional UPDATE: the cross-era
// and duplicate checks are part of the statement, so concurrent callers
// cannot both append the same edge. When no row changes, the outcome is
// classified after the fact.
func (r *PostgresRepository) AttachLink(sourceID, targetID string) (LinkOutcome, error) {
	ctx := context.Background()
	tag, err := r.pool.Exec(ctx, `
UPDATE media AS source
SET links = array_append(source.links, $2), updated_at = $3
FROM media AS target
WHERE source.id = $1
  AND target.id = $2
  AND target.era <> source.era
  AND NOT (source.links @> ARRAY[$2])
`, sourceID, targetID, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("attach link: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return LinkCreated, nil
	}

	source, ok := r.GetMedia(sourceID)
	if !ok {
		return "", fmt.Errorf("media %s: %w", sourceID, ErrNotFound)
	}
	target, ok := r.GetMedia(targetID)
	if !ok {
		return LinkMissingTarget, nil
	}
	if target.Era == source.Era {
		return LinkRejected, nil
	}
	return LinkDuplicate, nil
}

// PickPresent draws a present-era record and inserts the view event inside
// one transaction, so a successful draw is always recorded exactly once.
func (r *PostgresRepository) PickPresent(userID string) (models.Media, bool, error) {
	ctx := context.Background()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return models.Media{}, false, fmt.Errorf("begin draw: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	row := tx.QueryRow(ctx, `
SELECT `+mediaColumns+`
FROM media
WHERE owner_id = $1 AND era = $2
ORDER BY random()
LIMIT 1
`, userID, string(models.EraPresent))
	media, err := scanMediaRow(row)
	if isNoRows(err) {
		return models.Media{}, false, nil
	}
	if err != nil {
		return models.Media{}, false, fmt.Errorf("draw media: %w", err)
	}

	eventID, err := generateID()
	if err != nil {
		return models.Media{}, false, err
	}
	_, err = tx.Exec(ctx, `
INSERT INTO view_events (id, media_id, user_id, created_at)
VALUES ($1, $2, $3, $4)
`, eventID, media.ID, userID, time.Now().UTC())
	if err != nil {
		return models.Media{}, false, fmt.Errorf("record view event: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Media{}, false, fmt.Errorf("commit draw: %w", err)
	}
	return media, true, nil
}

func (r *PostgresRepository) ViewEventsForUser(userID string) []models.ViewEvent {
	rows, err := r.pool.Query(context.Background(), `
SELECT id, media_id, user_id, created_at
FROM view_events
WHERE user_id = $1
ORDER BY created_at
`, userID)
	if err != nil {
		return nil
	}
	defer rows.Close()

	events := make([]models.ViewEvent, 0)
	for rows.Next() {
		var event models.ViewEvent
		if err := rows.Scan(&event.ID, &event.MediaID, &event.UserID, &event.CreatedAt); err != nil {
			return nil
		}
		events = append(events, event)
	}
	return events
}

var _ Repository = (*PostgresRepository)(nil)
