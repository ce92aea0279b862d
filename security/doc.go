// Package security provides security-related functionality for the grant engine:
// audit logging, rate limiting of security events, payload encryption at rest,
// and clock-skew aware time checks.
//
// # Audit Logging
//
// The Auditor writes structured security events through log/slog. Subject
// identifiers are hashed before they are logged. Attach a RateLimiter to stop a
// single client from flooding the audit trail:
//
//	auditor := security.NewAuditor(logger, true)
//	limiter := security.NewRateLimiter(10, 20, logger)
//	defer limiter.Stop()
//	auditor.SetRateLimiter(limiter)
//
// # Encryption at Rest
//
// The Encryptor seals persisted grant payloads with AES-256-GCM, binding each
// ciphertext to its grant handle as associated data so payloads cannot be
// swapped between handles:
//
//	key, _ := security.GenerateKey()
//	enc, _ := security.NewEncryptor(key)
//	sealed, _ := enc.Seal(payload, []byte(handle))
package security
