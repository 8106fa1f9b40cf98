package notify

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/medassist-go/internal/db"
	"github.com/strefethen/medassist-go/internal/gateway"
)

const testDay = "2026-02-14"

type fakeGateway struct {
	mu       sync.Mutex
	fail     bool
	smsCalls []string
	smsCount atomic.Int32
}

func (g *fakeGateway) SendSMS(_ context.Context, to, body string) gateway.Result {
	g.smsCount.Add(1)
	g.mu.Lock()
	g.smsCalls = append(g.smsCalls, to+"|"+body)
	g.mu.Unlock()
	if g.fail {
		return gateway.Result{Provider: gateway.ProviderTwilio, Status: gateway.StatusFailed, Message: "boom"}
	}
	return gateway.Result{OK: true, Provider: gateway.ProviderTwilio, Status: "queued", Reference: "SM1"}
}

func (g *fakeGateway) PlaceCall(context.Context, string, gateway.CallContext) gateway.Result {
	return gateway.Result{OK: true, Provider: gateway.ProviderTwilio, Status: "queued"}
}

func setupDedup(t *testing.T, gw gateway.Gateway) (*Deduplicator, *Repository, *db.DBPair) {
	t.Helper()
	dbPair, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dbPair.Close() })
	require.NoError(t, db.SeedDemo(dbPair, "hash", time.Now()))

	repo := NewRepository(dbPair)
	return NewDeduplicator(repo, gw, nil), repo, dbPair
}

func countRecords(t *testing.T, dbPair *db.DBPair) int {
	t.Helper()
	var count int
	require.NoError(t, dbPair.Reader().QueryRow("SELECT COUNT(*) FROM notifications").Scan(&count))
	return count
}

func request(eventType EventType, recipient string) SendRequest {
	return SendRequest{
		ScheduleID: db.DemoScheduleID,
		DateKey:    testDay,
		EventType:  eventType,
		Recipient:  recipient,
		Message:    func() string { return "Reminder: Take Paracetamol (500 mg) at 08:00 AM." },
	}
}

func TestSendOnce_SendsAndRecords(t *testing.T) {
	gw := &fakeGateway{}
	dedup, repo, _ := setupDedup(t, gw)
	ctx := context.Background()

	result, err := dedup.SendOnce(ctx, request(EventDuePatient, " +91 99887 76655 "))
	require.NoError(t, err)
	require.True(t, result.Sent)
	require.False(t, result.Skipped)
	require.Equal(t, "queued", result.Result.Status)

	stored, err := repo.Get(ctx, db.DemoScheduleID, testDay, EventDuePatient, "+91 99887 76655")
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, "patient", stored.RecipientRole)
	require.Equal(t, "twilio", stored.Provider)
	require.Equal(t, "SM1", stored.ProviderReference)
	require.Equal(t, "queued", stored.DeliveryStatus)
	require.Contains(t, stored.Message, "Paracetamol")
}

func TestSendOnce_SecondCallSkipped(t *testing.T) {
	gw := &fakeGateway{}
	dedup, _, dbPair := setupDedup(t, gw)
	ctx := context.Background()

	_, err := dedup.SendOnce(ctx, request(EventMissedCaretaker, "+911"))
	require.NoError(t, err)

	built := false
	req := request(EventMissedCaretaker, "+911")
	req.Message = func() string {
		built = true
		return "again"
	}
	second, err := dedup.SendOnce(ctx, req)
	require.NoError(t, err)
	require.True(t, second.Skipped)
	require.False(t, second.Sent)
	require.Equal(t, ReasonAlreadySent, second.Reason)
	require.NotNil(t, second.Record)
	require.False(t, built)

	require.Equal(t, int32(1), gw.smsCount.Load())
	require.Equal(t, 1, countRecords(t, dbPair))
}

func TestSendOnce_DistinctKeysAreIndependent(t *testing.T) {
	gw := &fakeGateway{}
	dedup, _, dbPair := setupDedup(t, gw)
	ctx := context.Background()

	for _, req := range []SendRequest{
		request(EventDuePatient, "+911"),
		request(EventDueCaretaker, "+911"),
		request(EventDuePatient, "+912"),
	} {
		result, err := dedup.SendOnce(ctx, req)
		require.NoError(t, err)
		require.True(t, result.Sent)
	}

	next := request(EventDuePatient, "+911")
	next.DateKey = "2026-02-15"
	result, err := dedup.SendOnce(ctx, next)
	require.NoError(t, err)
	require.True(t, result.Sent)

	require.Equal(t, 4, countRecords(t, dbPair))
}

func TestSendOnce_MissingPhone(t *testing.T) {
	gw := &fakeGateway{}
	dedup, _, dbPair := setupDedup(t, gw)

	result, err := dedup.SendOnce(context.Background(), request(EventTakenCaretaker, "   "))
	require.NoError(t, err)
	require.True(t, result.Skipped)
	require.Equal(t, ReasonMissingPhone, result.Reason)
	require.Equal(t, int32(0), gw.smsCount.Load())
	require.Equal(t, 0, countRecords(t, dbPair))
}

func TestSendOnce_FailureIsRecordedOnce(t *testing.T) {
	gw := &fakeGateway{fail: true}
	dedup, repo, dbPair := setupDedup(t, gw)
	ctx := context.Background()

	first, err := dedup.SendOnce(ctx, request(EventMissedPatient, "+911"))
	require.NoError(t, err)
	require.False(t, first.Sent)
	require.False(t, first.Skipped)
	require.Equal(t, gateway.StatusFailed, first.Record.DeliveryStatus)

	second, err := dedup.SendOnce(ctx, request(EventMissedPatient, "+911"))
	require.NoError(t, err)
	require.True(t, second.Skipped)
	require.Equal(t, ReasonAlreadySent, second.Reason)

	records, err := repo.ListForSchedule(ctx, db.DemoScheduleID, testDay)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, gateway.StatusFailed, records[0].DeliveryStatus)
	require.Equal(t, 1, countRecords(t, dbPair))
	require.Equal(t, int32(1), gw.smsCount.Load())
}

func TestSendOnce_ConcurrentCallersReachGatewayOnce(t *testing.T) {
	gw := &fakeGateway{}
	dedup, _, dbPair := setupDedup(t, gw)

	var sent atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := dedup.SendOnce(context.Background(), request(EventDueCaretaker, "+911"))
			assert.NoError(t, err)
			if result.Sent {
				sent.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), sent.Load())
	require.Equal(t, int32(1), gw.smsCount.Load())
	require.Equal(t, 1, countRecords(t, dbPair))
}

func TestSendOnce_RejectsUnknownEvent(t *testing.T) {
	dedup, _, _ := setupDedup(t, &fakeGateway{})

	_, err := dedup.SendOnce(context.Background(), request("weekly_digest", "+911"))
	require.Error(t, err)
}

func TestListForOwnerAndPatient(t *testing.T) {
	dedup, repo, _ := setupDedup(t, &fakeGateway{})
	ctx := context.Background()

	_, err := dedup.SendOnce(ctx, request(EventDuePatient, "+911"))
	require.NoError(t, err)
	_, err = dedup.SendOnce(ctx, request(EventDueCaretaker, "+912"))
	require.NoError(t, err)

	owned, err := repo.ListForOwner(ctx, db.DemoGuardianID, 0)
	require.NoError(t, err)
	require.Len(t, owned, 2)
	require.Equal(t, "Paracetamol", owned[0].MedicineName)
	require.Equal(t, "08:00", owned[0].TimeOfDay)

	limited, err := repo.ListForPatient(ctx, db.DemoPatientEmail, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
}
