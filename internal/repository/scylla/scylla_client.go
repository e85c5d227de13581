package scylla

import (
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"hr-auth-service/internal/config"
	"hr-auth-service/internal/util"
)

// PreparedStatements holds the statements the account repository binds.
type PreparedStatements struct {
	CreateAccount      *gocql.Query
	CreateIDToEmail    *gocql.Query
	GetAccountByEmail  *gocql.Query
	GetEmailHashByID   *gocql.Query
	UpdateSecurity     *gocql.Query
	UpdatePassword     *gocql.Query
	UpdateStatus       *gocql.Query
	UpdateLastLogin    *gocql.Query
	DeleteAccount      *gocql.Query
	DeleteIDToEmail    *gocql.Query
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.Mutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if !cfg.IsDevelopment() {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 util.GetEnv("SCYLLA_TLS_CA_FILE", "/root/certs/ca.pem"),
			CertPath:               util.GetEnv("SCYLLA_TLS_CERT_FILE", "/root/certs/server.pem"),
			KeyPath:                util.GetEnv("SCYLLA_TLS_KEY_FILE", "/root/certs/server.key"),
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

	if err := client.prepareStatements(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	util.Info("ScyllaDB client initialized with prepared statements",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) prepareStatements() error {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return nil
	}

	s.Prepared = &PreparedStatements{
		CreateAccount: s.Session.Query(`
			INSERT INTO accounts_by_email (
				email_hash, user_bucket, account_id, email_encrypted, email_key_id,
				password_hash, role, is_active, suspended, mfa_enabled,
				failed_login_attempts, locked_until, last_login,
				last_password_change, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		CreateIDToEmail: s.Session.Query(`
			INSERT INTO email_hash_by_id (account_id, email_hash) VALUES (?, ?)`),
		GetAccountByEmail: s.Session.Query(`
			SELECT email_hash, user_bucket, account_id, email_encrypted, email_key_id,
				password_hash, role, is_active, suspended, mfa_enabled,
				failed_login_attempts, locked_until, last_login,
				last_password_change, created_at, updated_at
			FROM accounts_by_email WHERE email_hash = ?`),
		GetEmailHashByID: s.Session.Query(`
			SELECT email_hash FROM email_hash_by_id WHERE account_id = ?`),
		UpdateSecurity: s.Session.Query(`
			UPDATE accounts_by_email
			SET failed_login_attempts = ?, locked_until = ?, updated_at = ?
			WHERE email_hash = ?`),
		UpdatePassword: s.Session.Query(`
			UPDATE accounts_by_email
			SET password_hash = ?, last_password_change = ?,
				failed_login_attempts = ?, locked_until = ?, updated_at = ?
			WHERE email_hash = ?`),
		UpdateStatus: s.Session.Query(`
			UPDATE accounts_by_email
			SET is_active = ?, suspended = ?, updated_at = ?
			WHERE email_hash = ?`),
		UpdateLastLogin: s.Session.Query(`
			UPDATE accounts_by_email SET last_login = ?, updated_at = ?
			WHERE email_hash = ?`),
		DeleteAccount: s.Session.Query(`
			DELETE FROM accounts_by_email WHERE email_hash = ?`),
		DeleteIDToEmail: s.Session.Query(`
			DELETE FROM email_hash_by_id WHERE account_id = ?`),
	}

	s.isPrepared = true
	return nil
}

// ExecuteWithRetry runs a bound statement, retrying transient failures.
func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query, retries int) error {
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if err = query.Exec(); err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
	}
	return err
}

// ScanWithRetry scans a single row, retrying transient failures.
// gocql.ErrNotFound is returned as-is.
func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var err error
	for attempt := 0; attempt <= 2; attempt++ {
		if err = query.Scan(dest...); err == nil || err == gocql.ErrNotFound {
			return err
		}
		if !isRetryable(err) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
	}
	return err
}

func isRetryable(err error) bool {
	switch err {
	case gocql.ErrTimeoutNoResponse, gocql.ErrConnectionClosed, gocql.ErrNoConnections:
		return true
	}
	return false
}

func (s *ScyllaClient) HealthCheck() error {
	return s.Session.Query(`SELECT release_version FROM system.local`).Exec()
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB session closed")
	}
}
