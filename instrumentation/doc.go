// Package instrumentation provides OpenTelemetry (OTEL) instrumentation for the grant engine.
//
// # Quick Start
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "my-token-service",
//		ServiceVersion: "1.0.0",
//		Enabled:        true,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	srv.SetInstrumentation(inst)
//	store.SetInstrumentation(inst)
//
// Exporters are not bundled. Pass an exporter-backed MeterProvider or
// TracerProvider in Config to ship data to a collector.
//
// # Available Metrics
//
// Token endpoint:
//   - oauth.token.requests.total{grant_type, result}
//   - oauth.token.request.duration{grant_type}
//   - oauth.token.issued{client_id, token_type, token_format}
//   - oauth.refresh_token.rotated{client_id, rotated}
//
// Validation, introspection and revocation:
//   - oauth.token.validations{token_type, result}
//   - oauth.introspection.total{scope, active}
//   - oauth.revocation.total{client_id, token_type}
//
// Security:
//   - oauth.code.replay_detected
//   - oauth.pkce.validation_failed{method}
//   - oauth.cross_client.attempts{operation}
//   - oauth.audit.events.total{event_type}
//
// Storage:
//   - storage.operation.total{operation, result}
//   - storage.operation.duration{operation}
//   - storage.grants.authorization_codes, storage.grants.refresh_tokens,
//     storage.grants.reference_tokens (gauges)
//
// Key material:
//   - oauth.keys.rotated{algorithm}
package instrumentation
