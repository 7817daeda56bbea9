package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"phone-auth-service/internal/config"
	"phone-auth-service/internal/util"
)

// CQL used by the user directory. Kept together so the schema and the queries
// change in one place.
const (
	stmtCreateUsersTable = `
		CREATE TABLE IF NOT EXISTS users (
			user_bucket int,
			user_id text,
			phone_hash text,
			phone_encrypted blob,
			phone_key_id text,
			device_fingerprint text,
			is_blocked boolean,
			created_at timestamp,
			last_login timestamp,
			updated_at timestamp,
			PRIMARY KEY ((user_bucket), user_id)
		)`

	stmtCreateCredentialsTable = `
		CREATE TABLE IF NOT EXISTS phone_auth_credentials (
			phone_hash text PRIMARY KEY,
			user_bucket int,
			user_id text,
			provider text,
			created_at timestamp,
			updated_at timestamp
		)`

	stmtInsertUser = `
		INSERT INTO users (
			user_bucket, user_id, phone_hash, phone_encrypted, phone_key_id,
			device_fingerprint, is_blocked, created_at, last_login, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	stmtGetUser = `
		SELECT user_bucket, user_id, phone_hash, phone_encrypted, phone_key_id,
			device_fingerprint, is_blocked, created_at, last_login, updated_at
		FROM users WHERE user_bucket = ? AND user_id = ?`

	stmtDeleteUser = `DELETE FROM users WHERE user_bucket = ? AND user_id = ?`

	stmtUpdateLastLogin = `
		UPDATE users SET last_login = ?, updated_at = ?
		WHERE user_bucket = ? AND user_id = ?`

	stmtInsertCredential = `
		INSERT INTO phone_auth_credentials (
			phone_hash, user_bucket, user_id, provider, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?) IF NOT EXISTS`

	stmtGetCredential = `
		SELECT phone_hash, user_bucket, user_id, provider, created_at, updated_at
		FROM phone_auth_credentials WHERE phone_hash = ?`

	stmtTouchCredential = `
		UPDATE phone_auth_credentials SET updated_at = ?
		WHERE phone_hash = ? IF user_id = ?`
)

type ScyllaClient struct {
	Session *gocql.Session
	config  *config.ScyllaConfig
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
		NumRetries: 3,
	}

	if scyllaConfig.CAPath != "" {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 scyllaConfig.CAPath,
			EnableHostVerification: true,
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := client.EnsureSchema(ctx); err != nil {
		session.Close()
		return nil, err
	}

	logger.Info("ScyllaDB client initialized",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace),
		zap.Bool("tls_enabled", cluster.SslOpts != nil))

	return client, nil
}

// EnsureSchema creates the user directory tables when they are missing.
func (s *ScyllaClient) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{stmtCreateUsersTable, stmtCreateCredentialsTable} {
		if err := s.Session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("failed to apply scylla schema: %w", err)
		}
	}
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(ctx context.Context, stmt string, values ...any) *gocql.Query {
	return s.Session.Query(stmt, values...).WithContext(ctx)
}

func (s *ScyllaClient) HealthCheck(ctx context.Context) error {
	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}
	return nil
}

// ScanWithRetry retries transient read failures. gocql.ErrNotFound is
// returned immediately.
func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...any) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		err := query.Scan(dest...)
		if err == nil || err == gocql.ErrNotFound {
			return err
		}
		lastErr = err
		if i < 2 {
			time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
		}
	}
	return lastErr
}
