package security

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestSQLAuditStore_PersistAndRecent(t *testing.T) {
	store, err := NewSQLAuditStore(":memory:")
	require.NoError(t, err)

	older := &AuditEvent{ID: "e1", Timestamp: time.Now().Add(-time.Minute), EventType: AuthenticationFailure, Message: "bad password", Severity: "high"}
	newer := &AuditEvent{ID: "e2", Timestamp: time.Now(), EventType: SecurityViolation, Message: "sql injection attempt", Severity: "critical"}

	require.NoError(t, store.Persist(older))
	require.NoError(t, store.Persist(newer))

	recent, err := store.Recent(10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "e2", recent[0].ID, "expected newest event first")
	require.Equal(t, "e1", recent[1].ID)
}

func TestSQLAuditStore_RecentRespectsLimit(t *testing.T) {
	store, err := NewSQLAuditStore(":memory:")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Persist(&AuditEvent{
			ID: string(rune('a' + i)), Timestamp: time.Now(), EventType: APIKeyUsage, Message: "x", Severity: "low",
		}))
	}

	recent, err := store.Recent(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
}

func TestAuditLogger_PersistsToConfiguredStore(t *testing.T) {
	cfg := &AuditConfig{Enabled: true, BufferSize: 10, FlushInterval: time.Hour, StorePath: ":memory:"}
	auditor := NewAuditLogger(cfg, logrus.New())

	require.NotNil(t, auditor.store, "expected a persistent store wired from store_path")

	auditor.LogSecurityViolation(context.Background(), "test", "probe", nil)
	// Stop() forces the final flush that writes buffered events to the store.
	auditor.Stop()

	recent, err := auditor.store.Recent(10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, string(SecurityViolation), string(recent[0].EventType))
}
