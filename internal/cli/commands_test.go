package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/Domenick1991/airbooking-payments/internal/domain"
	"github.com/Domenick1991/airbooking-payments/internal/repository"
	"github.com/Domenick1991/airbooking-payments/internal/service/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seed writes a config pointing at a fresh sqlite file holding one approved
// payment whose booking was never settled.
func seed(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "payments.db")

	ctx := context.Background()
	store, err := repository.OpenSQLite(ctx, dbPath)
	require.NoError(t, err)
	require.NoError(t, store.InsertBooking(ctx, &domain.Booking{
		ID: "B1", PassengerName: "Abebe Kebede", Email: "abebe@example.com", FlightID: 1,
		Amount: 20000, Currency: "USD", Status: domain.BookingStatusPending,
	}))
	require.NoError(t, store.InsertPayment(ctx, &domain.Payment{
		ID: "P1", TransactionRef: "tx-1", BookingID: "B1", Amount: 20000, Currency: "USD",
		Status: domain.PaymentStatusApproved,
	}))
	require.NoError(t, store.Close())

	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
database:
  driver: sqlite
  path: `+dbPath+`
gateway:
  base_url: http://127.0.0.1:1
log:
  level: error
`), 0o600))
	return cfgPath
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCommand()
	root.SetArgs(args)
	root.SetOut(&out)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSweepRepairsAndIsIdempotent(t *testing.T) {
	cfgPath := seed(t)

	out, err := run(t, "sweep", "--repair-only", "--config", cfgPath)
	require.NoError(t, err)
	var report reconcile.SweepReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 1, report.Repaired)

	out, err = run(t, "sweep", "--repair-only", "--config", cfgPath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 0, report.Repaired)

	out, err = run(t, "payment", "tx-1", "--config", cfgPath)
	require.NoError(t, err)
	var view paymentView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "approved", view.BookingStatus)
	assert.True(t, view.Paid)
	assert.Equal(t, "200.00", view.Amount)
}

func TestRejectApprovedIsRefused(t *testing.T) {
	cfgPath := seed(t)

	_, err := run(t, "reject", "P1", "--config", cfgPath, "--actor", "ops-7")
	assert.ErrorIs(t, err, domain.ErrReconciliationConflict)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("PAYCTL_CONFIG", seed(t))

	_, err := run(t, "payment", "tx-missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMissingConfig(t *testing.T) {
	_, err := run(t, "payment", "tx-1", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
