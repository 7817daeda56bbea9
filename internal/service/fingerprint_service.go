package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"go.uber.org/zap"

	cache "phone-auth-service/internal/repository/redis"
)

const (
	SuspicionThreshold = 3
	SuspicionTTL       = 24 * time.Hour
)

// FingerprintInput is the request metadata a fingerprint is derived from.
// IP must already be resolved through proxy headers.
type FingerprintInput struct {
	IP             string
	UserAgent      string
	AcceptLanguage string
	AcceptEncoding string
}

// FingerprintService tracks advisory suspicion per client fingerprint. It
// never blocks a request and swallows store failures.
type FingerprintService struct {
	cache  *cache.FingerprintCache
	logger *zap.Logger
}

func NewFingerprintService(fpCache *cache.FingerprintCache, logger *zap.Logger) *FingerprintService {
	return &FingerprintService{cache: fpCache, logger: logger}
}

// Generate returns the hex SHA-256 of the pipe-joined metadata.
func (s *FingerprintService) Generate(in FingerprintInput) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		in.IP, in.UserAgent, in.AcceptLanguage, in.AcceptEncoding,
	}, "|")))
	return hex.EncodeToString(sum[:])
}

func (s *FingerprintService) IsSuspicious(ctx context.Context, fingerprint string) bool {
	if s.cache.SuspicionCount(ctx, fingerprint) < SuspicionThreshold {
		return false
	}
	s.cache.EnsureTTL(ctx, fingerprint, SuspicionTTL)
	return true
}

func (s *FingerprintService) MarkSuspicious(ctx context.Context, fingerprint string) {
	if n := s.cache.IncrementSuspicion(ctx, fingerprint, SuspicionTTL); n == 0 {
		s.logger.Debug("Failed to mark fingerprint suspicious", zap.String("fingerprint", fingerprint))
	}
}
