/**
 * Client identity store for the recognition service
 *
 * Clients are registered out of band; the orchestration core only consults
 * their limits, permissions and enabled flag. Backed by PostgreSQL when a
 * DATABASE_URL is configured, otherwise an in-memory registry.
 */

package identity

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/docsight/recognition-service/internal/logging"
)

// ErrClientNotFound is returned for unknown client IDs
var ErrClientNotFound = fmt.Errorf("client not found")

// Client is a calling identity
type Client struct {
	ID             string
	Name           string
	Permissions    []string
	PerMinuteLimit int
	PerHourLimit   int
	Enabled        bool
	LastUsed       time.Time
}

// HasPermission reports whether the client carries the named permission.
// An empty permission set grants everything.
func (c *Client) HasPermission(perm string) bool {
	if len(c.Permissions) == 0 {
		return true
	}
	for _, p := range c.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// Store looks up calling identities
type Store interface {
	GetClient(ctx context.Context, id string) (*Client, error)
	TouchLastUsed(ctx context.Context, id string) error
	Close() error
}

// NewStore picks the backend: PostgreSQL when databaseURL is set,
// in-memory otherwise.
func NewStore(databaseURL string) (Store, error) {
	if databaseURL == "" {
		return NewMemoryStore(), nil
	}
	return NewPostgresStore(databaseURL)
}

// PostgresStore reads clients from a PostgreSQL table
type PostgresStore struct {
	db     *sql.DB
	logger *logging.Logger
}

// NewPostgresStore creates a PostgreSQL-backed client store
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{
		db:     db,
		logger: logging.NewLogger("ClientStore"),
	}, nil
}

// GetClient loads one client by ID
func (s *PostgresStore) GetClient(ctx context.Context, id string) (*Client, error) {
	query := `
		SELECT
			id,
			name,
			permissions,
			per_minute_limit,
			per_hour_limit,
			enabled,
			last_used
		FROM recognition.clients
		WHERE id = $1
	`

	var (
		client   Client
		perms    []byte
		lastUsed sql.NullTime
	)

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&client.ID,
		&client.Name,
		&perms,
		&client.PerMinuteLimit,
		&client.PerHourLimit,
		&client.Enabled,
		&lastUsed,
	)

	if err == sql.ErrNoRows {
		return nil, ErrClientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query client: %w", err)
	}

	client.Permissions = parsePermissions(perms)
	if lastUsed.Valid {
		client.LastUsed = lastUsed.Time
	}

	return &client, nil
}

// TouchLastUsed records the client's most recent request time
func (s *PostgresStore) TouchLastUsed(ctx context.Context, id string) error {
	query := `UPDATE recognition.clients SET last_used = NOW() WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to update last_used: %w", err)
	}
	return nil
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// parsePermissions decodes the comma-separated permissions column
func parsePermissions(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var perms []string
	for _, p := range strings.Split(string(raw), ",") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			perms = append(perms, trimmed)
		}
	}
	return perms
}

// MemoryStore is the in-process client registry used without a database
type MemoryStore struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewMemoryStore creates an empty in-memory client registry
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{clients: make(map[string]*Client)}
}

// Register adds or replaces a client
func (s *MemoryStore) Register(client *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client.ID] = client
}

// GetClient loads one client by ID
func (s *MemoryStore) GetClient(ctx context.Context, id string) (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[id]
	if !ok {
		return nil, ErrClientNotFound
	}
	copied := *client
	return &copied, nil
}

// TouchLastUsed records the client's most recent request time
func (s *MemoryStore) TouchLastUsed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	client, ok := s.clients[id]
	if !ok {
		return ErrClientNotFound
	}
	client.LastUsed = time.Now()
	return nil
}

// Close is a no-op for the in-memory registry
func (s *MemoryStore) Close() error {
	return nil
}
