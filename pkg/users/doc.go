// Package users stores user authorization records and applies every change
// to them.
//
// MemoryStore backs tests and local runs. PostgresStore keeps JSONB
// documents and RedisStore keeps JSON strings. Every backend rejects a
// Replace whose Version is stale; Service retries such writes a bounded
// number of times.
//
//	store := users.NewInstrumentedStore(users.NewPostgresStore(db), "postgres", metrics)
//	svc := users.NewService(store, catalog, users.DefaultServiceConfig(),
//		users.WithAuditLogger(auditLogger))
//
// Promoter converts records that still rely on the legacy PrimaryRole and
// TenantID fields into stored associations, either once or on a cron
// schedule. Promotion clears the legacy fields.
package users
