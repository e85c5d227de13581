package service

import (
	"hr-auth-service/internal/bucketing"
	"hr-auth-service/internal/config"
	"hr-auth-service/internal/encryption"
	"hr-auth-service/internal/events"
	"hr-auth-service/internal/hashing"
	"hr-auth-service/internal/mail"
	"hr-auth-service/internal/repository/clickhouse"
	"hr-auth-service/internal/repository/elastic"
	redisrepo "hr-auth-service/internal/repository/redis"
	"hr-auth-service/internal/repository/scylla"
)

// ServiceFactory creates service singletons from shared dependencies.
type ServiceFactory struct {
	accountRepo   scylla.AccountRepository
	codeStore     redisrepo.PendingCodeStore
	auditRepo     clickhouse.AuditRepository
	auditIndex    elastic.AuditIndex
	hasher        *hashing.Hasher
	encryptionMgr *encryption.EncryptionManager
	bucketingMgr  *bucketing.BucketingManager
	sender        mail.Sender
	emitter       events.Emitter
	cfg           *config.Config

	gateService  *GateService
	authService  *AuthService
	auditService *AuditService
}

func NewServiceFactory(
	accountRepo scylla.AccountRepository,
	codeStore redisrepo.PendingCodeStore,
	auditRepo clickhouse.AuditRepository,
	auditIndex elastic.AuditIndex,
	hasher *hashing.Hasher,
	encryptionMgr *encryption.EncryptionManager,
	bucketingMgr *bucketing.BucketingManager,
	sender mail.Sender,
	emitter events.Emitter,
	cfg *config.Config,
) *ServiceFactory {
	return &ServiceFactory{
		accountRepo:   accountRepo,
		codeStore:     codeStore,
		auditRepo:     auditRepo,
		auditIndex:    auditIndex,
		hasher:        hasher,
		encryptionMgr: encryptionMgr,
		bucketingMgr:  bucketingMgr,
		sender:        sender,
		emitter:       emitter,
		cfg:           cfg,
	}
}

// GateService returns the OTP gate instance (singleton).
func (f *ServiceFactory) GateService() *GateService {
	if f.gateService == nil {
		f.gateService = NewGateService(
			f.codeStore,
			f.hasher,
			f.sender,
			f.emitter,
			f.encryptionMgr,
			f.cfg,
		)
	}
	return f.gateService
}

// AuthService returns the credential/lifecycle service (singleton).
func (f *ServiceFactory) AuthService() *AuthService {
	if f.authService == nil {
		f.authService = NewAuthService(
			f.accountRepo,
			f.GateService(),
			f.hasher,
			f.emitter,
			f.bucketingMgr,
			f.encryptionMgr,
			f.sender,
			f.cfg,
		)
	}
	return f.authService
}

// AuditService returns the audit trail service (singleton).
func (f *ServiceFactory) AuditService() *AuditService {
	if f.auditService == nil {
		f.auditService = NewAuditService(
			f.auditRepo,
			f.auditIndex,
			f.bucketingMgr,
			f.emitter,
		)
	}
	return f.auditService
}
