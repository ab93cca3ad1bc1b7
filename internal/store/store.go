// Package store persists deployment documents in Postgres and fronts hot
// reads with a short-TTL Redis read-through cache.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/visgate-ai/deploy-orchestrator/pkg/cache"
	"github.com/visgate-ai/deploy-orchestrator/pkg/database"
)

// LogEntry is one append-only log line on a deployment record.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// Deployment is the durable deployment record described by the data model.
type Deployment struct {
	DeploymentID     string     `json:"deployment_id"`
	Status           string     `json:"status"`
	HFModelID        string     `json:"hf_model_id"`
	UserWebhookURL   string     `json:"user_webhook_url"`
	GPUTier          string     `json:"gpu_tier,omitempty"`
	Region           string     `json:"region,omitempty"`
	RunpodEndpointID string     `json:"runpod_endpoint_id,omitempty"`
	EndpointURL      string     `json:"endpoint_url,omitempty"`
	GPUAllocated     string     `json:"gpu_allocated,omitempty"`
	ModelVRAMGB      int        `json:"model_vram_gb,omitempty"`
	Logs             []LogEntry `json:"logs"`
	Error            string     `json:"error,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	ReadyAt          *time.Time `json:"ready_at,omitempty"`
	UserHash         string     `json:"user_hash"`
	Provider         string     `json:"provider"`
	EndpointName     string     `json:"endpoint_name,omitempty"`
	PoolPolicy       string     `json:"pool_policy,omitempty"`
}

// Status values a deployment moves through.
const (
	StatusValidating       = "validating"
	StatusSelectingGPU     = "selecting_gpu"
	StatusCreatingEndpoint = "creating_endpoint"
	StatusDownloadingModel = "downloading_model"
	StatusLoadingModel     = "loading_model"
	StatusReady            = "ready"
	StatusFailed           = "failed"
	StatusWebhookFailed    = "webhook_failed"
	StatusDeleted          = "deleted"
)

// IsTerminal reports whether status admits no further state work besides
// delete.
func IsTerminal(status string) bool {
	switch status {
	case StatusReady, StatusFailed, StatusWebhookFailed, StatusDeleted:
		return true
	default:
		return false
	}
}

// NormalizeRunURL rewrites an endpoint root URL to the `/run`-suffixed
// invocation form.
func NormalizeRunURL(url string) string {
	if url == "" {
		return url
	}
	if strings.HasSuffix(url, "/run") {
		return url
	}
	return strings.TrimRight(url, "/") + "/run"
}

// Update is a partial set of fields to merge into an existing record.
// Nil-vs-zero is significant: only non-nil fields are applied, so callers
// only touch what they changed.
type Update struct {
	Status           *string
	RunpodEndpointID *string
	EndpointURL      *string
	GPUAllocated     *string
	ModelVRAMGB      *int
	Error            *string
	ReadyAt          *time.Time
	Provider         *string
}

// Store is the deployment document collection.
type Store interface {
	Get(ctx context.Context, id string) (*Deployment, error)
	Set(ctx context.Context, d *Deployment) error
	Update(ctx context.Context, id string, u Update) error
	AppendLog(ctx context.Context, id string, level, message string) error
	// FindReusable returns a ready deployment whose endpoint a new request
	// for the same (userHash, hfModelID) could warm-reuse, or nil.
	FindReusable(ctx context.Context, userHash, hfModelID string) (*Deployment, error)
	// CountByStatus returns the current number of records in each status,
	// deleted ones included, for the dashboard gauge.
	CountByStatus(ctx context.Context) (map[string]int, error)
}

// PostgresStore is the durable backing store. Logs are kept as a JSONB
// array column; AppendLog uses `logs = logs || $1::jsonb` so concurrent
// appends union rather than clobber each other.
type PostgresStore struct {
	db *database.Database
}

func NewPostgresStore(db *database.Database) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Deployment, error) {
	var d Deployment
	var logsJSON []byte
	var readyAt *time.Time
	err := s.db.Pool.QueryRow(ctx, `
		SELECT deployment_id, status, hf_model_id, user_webhook_url, gpu_tier, region,
		       runpod_endpoint_id, endpoint_url, gpu_allocated, model_vram_gb, logs, error,
		       created_at, ready_at, user_hash, provider, endpoint_name, pool_policy
		FROM deployments WHERE deployment_id = $1
	`, id).Scan(
		&d.DeploymentID, &d.Status, &d.HFModelID, &d.UserWebhookURL, &d.GPUTier, &d.Region,
		&d.RunpodEndpointID, &d.EndpointURL, &d.GPUAllocated, &d.ModelVRAMGB, &logsJSON, &d.Error,
		&d.CreatedAt, &readyAt, &d.UserHash, &d.Provider, &d.EndpointName, &d.PoolPolicy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	d.ReadyAt = readyAt
	if len(logsJSON) > 0 {
		if err := json.Unmarshal(logsJSON, &d.Logs); err != nil {
			return nil, fmt.Errorf("decode logs: %w", err)
		}
	}
	return &d, nil
}

func (s *PostgresStore) Set(ctx context.Context, d *Deployment) error {
	logsJSON, err := json.Marshal(d.Logs)
	if err != nil {
		return fmt.Errorf("encode logs: %w", err)
	}
	_, err = s.db.Pool.Exec(ctx, `
		INSERT INTO deployments (
			deployment_id, status, hf_model_id, user_webhook_url, gpu_tier, region,
			runpod_endpoint_id, endpoint_url, gpu_allocated, model_vram_gb, logs, error,
			created_at, ready_at, user_hash, provider, endpoint_name, pool_policy
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		ON CONFLICT (deployment_id) DO UPDATE SET
			status = EXCLUDED.status, hf_model_id = EXCLUDED.hf_model_id,
			user_webhook_url = EXCLUDED.user_webhook_url, gpu_tier = EXCLUDED.gpu_tier,
			region = EXCLUDED.region, runpod_endpoint_id = EXCLUDED.runpod_endpoint_id,
			endpoint_url = EXCLUDED.endpoint_url, gpu_allocated = EXCLUDED.gpu_allocated,
			model_vram_gb = EXCLUDED.model_vram_gb, logs = EXCLUDED.logs, error = EXCLUDED.error,
			ready_at = EXCLUDED.ready_at, provider = EXCLUDED.provider,
			endpoint_name = EXCLUDED.endpoint_name, pool_policy = EXCLUDED.pool_policy
	`,
		d.DeploymentID, d.Status, d.HFModelID, d.UserWebhookURL, d.GPUTier, d.Region,
		d.RunpodEndpointID, d.EndpointURL, d.GPUAllocated, d.ModelVRAMGB, logsJSON, d.Error,
		d.CreatedAt, d.ReadyAt, d.UserHash, d.Provider, d.EndpointName, d.PoolPolicy,
	)
	return err
}

func (s *PostgresStore) Update(ctx context.Context, id string, u Update) error {
	sets := make([]string, 0, 8)
	args := make([]any, 0, 8)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if u.Status != nil {
		sets = append(sets, "status = "+arg(*u.Status))
	}
	if u.RunpodEndpointID != nil {
		sets = append(sets, "runpod_endpoint_id = "+arg(*u.RunpodEndpointID))
	}
	if u.EndpointURL != nil {
		sets = append(sets, "endpoint_url = "+arg(*u.EndpointURL))
	}
	if u.GPUAllocated != nil {
		sets = append(sets, "gpu_allocated = "+arg(*u.GPUAllocated))
	}
	if u.ModelVRAMGB != nil {
		sets = append(sets, "model_vram_gb = "+arg(*u.ModelVRAMGB))
	}
	if u.Error != nil {
		sets = append(sets, "error = "+arg(*u.Error))
	}
	if u.ReadyAt != nil {
		sets = append(sets, "ready_at = "+arg(*u.ReadyAt))
	}
	if u.Provider != nil {
		sets = append(sets, "provider = "+arg(*u.Provider))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE deployments SET %s WHERE deployment_id = $%d", strings.Join(sets, ", "), len(args))
	_, err := s.db.Pool.Exec(ctx, query, args...)
	return err
}

func (s *PostgresStore) AppendLog(ctx context.Context, id string, level, message string) error {
	entry := LogEntry{Timestamp: time.Now().UTC(), Level: level, Message: message}
	entryJSON, err := json.Marshal([]LogEntry{entry})
	if err != nil {
		return err
	}
	_, err = s.db.Pool.Exec(ctx, `
		UPDATE deployments SET logs = logs || $1::jsonb WHERE deployment_id = $2
	`, entryJSON, id)
	return err
}

func (s *PostgresStore) FindReusable(ctx context.Context, userHash, hfModelID string) (*Deployment, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT deployment_id, status, hf_model_id, user_webhook_url, gpu_tier, region,
		       runpod_endpoint_id, endpoint_url, gpu_allocated, model_vram_gb, logs, error,
		       created_at, ready_at, user_hash, provider, endpoint_name, pool_policy
		FROM deployments
		WHERE hf_model_id = $1 AND status = 'ready' AND endpoint_url IS NOT NULL AND endpoint_url != ''
		  AND (user_hash = $2 OR pool_policy != '')
		ORDER BY created_at DESC
		LIMIT 20
	`, hfModelID, userHash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var d Deployment
		var logsJSON []byte
		var readyAt *time.Time
		if err := rows.Scan(
			&d.DeploymentID, &d.Status, &d.HFModelID, &d.UserWebhookURL, &d.GPUTier, &d.Region,
			&d.RunpodEndpointID, &d.EndpointURL, &d.GPUAllocated, &d.ModelVRAMGB, &logsJSON, &d.Error,
			&d.CreatedAt, &readyAt, &d.UserHash, &d.Provider, &d.EndpointName, &d.PoolPolicy,
		); err != nil {
			return nil, err
		}
		d.ReadyAt = readyAt
		return &d, nil
	}
	return nil, rows.Err()
}

func (s *PostgresStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.Pool.Query(ctx, `SELECT status, count(*) FROM deployments GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// CachedStore wraps a Store with a short-TTL Redis read-through cache for
// the hot GET path. Writes invalidate rather than update the cached copy.
type CachedStore struct {
	inner Store
	cache *cache.Cache
	ttl   time.Duration
}

func NewCachedStore(inner Store, c *cache.Cache, ttl time.Duration) *CachedStore {
	return &CachedStore{inner: inner, cache: c, ttl: ttl}
}

func cacheKey(id string) string { return "deployment:" + id }

func (s *CachedStore) Get(ctx context.Context, id string) (*Deployment, error) {
	if cached, err := s.cache.Get(ctx, cacheKey(id)); err == nil && cached != "" {
		var d Deployment
		if err := json.Unmarshal([]byte(cached), &d); err == nil && d.DeploymentID != "" {
			return &d, nil
		}
	}
	d, err := s.inner.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, nil
	}
	if data, err := json.Marshal(d); err == nil {
		_ = s.cache.Set(ctx, cacheKey(id), string(data), s.ttl)
	}
	return d, nil
}

func (s *CachedStore) Set(ctx context.Context, d *Deployment) error {
	if err := s.inner.Set(ctx, d); err != nil {
		return err
	}
	_ = s.cache.Delete(ctx, cacheKey(d.DeploymentID))
	return nil
}

func (s *CachedStore) Update(ctx context.Context, id string, u Update) error {
	if err := s.inner.Update(ctx, id, u); err != nil {
		return err
	}
	_ = s.cache.Delete(ctx, cacheKey(id))
	return nil
}

func (s *CachedStore) AppendLog(ctx context.Context, id string, level, message string) error {
	if err := s.inner.AppendLog(ctx, id, level, message); err != nil {
		return err
	}
	_ = s.cache.Delete(ctx, cacheKey(id))
	return nil
}

func (s *CachedStore) FindReusable(ctx context.Context, userHash, hfModelID string) (*Deployment, error) {
	return s.inner.FindReusable(ctx, userHash, hfModelID)
}

func (s *CachedStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	return s.inner.CountByStatus(ctx)
}

// GenerateID produces a deployment id shaped dep_<year>_<8hex>.
func GenerateID(now time.Time, hex8 string) string {
	return fmt.Sprintf("dep_%d_%s", now.UTC().Year(), hex8)
}
