package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/LambdaTest/janitor/pkg/core"
	"github.com/LambdaTest/janitor/pkg/db"
	errs "github.com/LambdaTest/janitor/pkg/errors"
	"github.com/LambdaTest/janitor/pkg/lumber"
	"github.com/LambdaTest/janitor/pkg/metrics"
	"github.com/LambdaTest/janitor/pkg/store/cleanupflight"
	"github.com/LambdaTest/janitor/pkg/store/resourcelabel"
	"github.com/LambdaTest/janitor/pkg/store/trackedresource"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	namespaceKey      = `k8s_namespace:{"namespace":"ci-77"}`
	namespaceIdentity = `{"namespace":"ci-77"}`
	lockedLookup      = `resource_key = \? AND state NOT IN \(\?, \?\) ORDER BY expiration, id FOR UPDATE`
	labelLookup       = `SELECT resource_id, label_key, label_value FROM resource_label`
)

var resourceColumns = []string{
	"id", "resource_type", "resource_key", "resource_identity",
	"state", "creation", "expiration", "metadata",
}

func newSQLService(t *testing.T) (core.ResourceLifecycleService, sqlmock.Sqlmock) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	logger, err := lumber.NewLogger(&lumber.LoggingConfig{EnableConsole: true, ConsoleLevel: lumber.Error}, false, lumber.InstanceZapLogger)
	require.NoError(t, err)
	database := db.New(sqlx.NewDb(conn, "mysql"), logger)
	store := trackedresource.New(database, resourcelabel.New(logger), cleanupflight.New(database, logger), logger)
	return New(database, store, metrics.New(prometheus.NewRegistry()), logger), mock
}

func TestCreateResourceLocksIdentity(t *testing.T) {
	svc, mock := newSQLService(t)
	mock.ExpectBegin()
	mock.ExpectQuery(lockedLookup).
		WithArgs(namespaceKey, "DONE", "DUPLICATED").
		WillReturnRows(sqlmock.NewRows(resourceColumns))
	mock.ExpectExec("INSERT\\s+INTO\\s+tracked_resource").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO resource_label").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	created, err := svc.CreateResource(context.Background(),
		request(t, core.KubernetesNamespace{Namespace: "ci-77"}, base.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, core.ResourceReady, created.State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A concurrent registration of the same identity surfaces as a deadlock on the locked
// range; the retry observes the committed winner and resolves against it.
func TestCreateResourceRetriesLockConflict(t *testing.T) {
	svc, mock := newSQLService(t)
	mock.ExpectBegin()
	mock.ExpectQuery(lockedLookup).
		WithArgs(namespaceKey, "DONE", "DUPLICATED").
		WillReturnError(&mysql.MySQLError{Number: 1213})
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectQuery(lockedLookup).
		WithArgs(namespaceKey, "DONE", "DUPLICATED").
		WillReturnRows(sqlmock.NewRows(resourceColumns).AddRow(
			"winner", "k8s_namespace", namespaceKey, namespaceIdentity,
			"READY", base, base.Add(2*time.Hour), nil))
	mock.ExpectQuery(labelLookup).WillReturnRows(sqlmock.NewRows([]string{"resource_id", "label_key", "label_value"}))
	mock.ExpectExec("INSERT\\s+INTO\\s+tracked_resource").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO resource_label").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	created, err := svc.CreateResource(context.Background(),
		request(t, core.KubernetesNamespace{Namespace: "ci-77"}, base.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, core.ResourceDuplicated, created.State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBumpResourceLocksIdentity(t *testing.T) {
	svc, mock := newSQLService(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`resource_key = \? AND state IN \(\?, \?\) ORDER BY expiration, id FOR UPDATE`).
		WithArgs(namespaceKey, "ABANDONED", "ERROR").
		WillReturnRows(sqlmock.NewRows(resourceColumns).AddRow(
			"r1", "k8s_namespace", namespaceKey, namespaceIdentity,
			"ABANDONED", base, base.Add(time.Hour), nil))
	mock.ExpectQuery(labelLookup).WillReturnRows(sqlmock.NewRows([]string{"resource_id", "label_key", "label_value"}))
	mock.ExpectExec("UPDATE tracked_resource SET state").
		WithArgs("READY", "r1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, svc.BumpResource(context.Background(), core.KubernetesNamespace{Namespace: "ci-77"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAbandonResourceLocksIdentity(t *testing.T) {
	svc, mock := newSQLService(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`resource_key = \? AND state IN \(\?, \?, \?\) ORDER BY expiration, id FOR UPDATE`).
		WithArgs(namespaceKey, "READY", "CLEANING", "ERROR").
		WillReturnRows(sqlmock.NewRows(resourceColumns))
	mock.ExpectRollback()

	err := svc.AbandonResource(context.Background(), core.KubernetesNamespace{Namespace: "ci-77"})
	assert.True(t, errors.Is(err, errs.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}
