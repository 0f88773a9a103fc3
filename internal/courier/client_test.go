package courier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/h2non/gock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const baseURL = "https://courier.test/v1/external"

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c := New(Config{
		BaseURL:        baseURL,
		Email:          "ops@example.com",
		Password:       "secret",
		Timeout:        2 * time.Second,
		TokenTTL:       8 * time.Hour,
		PickupLocation: "Primary",
		RetryMax:       1,
	}, zap.NewNop().Sugar())
	gock.InterceptClient(c.HTTPClient())
	t.Cleanup(func() {
		gock.RestoreClient(c.HTTPClient())
		gock.Off()
	})
	return c
}

func mockLogin(token string) *gock.Response {
	return gock.New(baseURL).
		Post("/auth/login").
		MatchType("json").
		JSON(map[string]string{"email": "ops@example.com", "password": "secret"}).
		Reply(200).
		JSON(map[string]string{"token": token})
}

func mockAssign(token string, times int) *gock.Response {
	return gock.New(baseURL).
		Post("/courier/assign/awb").
		MatchHeader("Authorization", "Bearer "+token).
		Times(times).
		Reply(200).
		JSON(map[string]any{
			"awb_assign_status": 1,
			"response": map[string]any{"data": map[string]any{
				"awb_code": "AWB123", "courier_name": "Delhivery", "shipment_id": 991, "order_id": 551,
			}},
		})
}

func TestTokenIsCachedAcrossCalls(t *testing.T) {
	c := newTestClient(t)
	mockLogin("tok-1")
	mockAssign("tok-1", 2)

	for i := 0; i < 2; i++ {
		got, err := c.AssignAWB(context.Background(), "991")
		require.NoError(t, err)
		assert.Equal(t, "AWB123", got.AWBCode)
		assert.Equal(t, "Delhivery", got.CourierName)
		assert.Equal(t, ID("991"), got.ShipmentID)
	}
	assert.True(t, gock.IsDone())
}

func TestTokenExpiryTriggersLogin(t *testing.T) {
	c := newTestClient(t)
	clock := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	mockLogin("tok-1")
	_, err := c.Token(context.Background())
	require.NoError(t, err)

	// still valid just before the early-refresh margin
	clock = clock.Add(8*time.Hour - refreshEarly - time.Minute)
	tok, err := c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	clock = clock.Add(2 * time.Minute)
	mockLogin("tok-2")
	tok, err = c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
	assert.True(t, gock.IsDone())
}

func TestUnauthorizedRefreshesTokenOnce(t *testing.T) {
	c := newTestClient(t)
	mockLogin("stale")
	gock.New(baseURL).
		Post("/courier/assign/awb").
		MatchHeader("Authorization", "Bearer stale").
		Reply(401).
		JSON(map[string]string{"message": "Token has expired"})
	mockLogin("fresh")
	mockAssign("fresh", 1)

	got, err := c.AssignAWB(context.Background(), "991")
	require.NoError(t, err)
	assert.Equal(t, "AWB123", got.AWBCode)
	assert.True(t, gock.IsDone())
}

func TestConcurrentCallersShareOneLogin(t *testing.T) {
	c := newTestClient(t)
	gock.New(baseURL).
		Post("/auth/login").
		Reply(200).
		Delay(50 * time.Millisecond).
		JSON(map[string]string{"token": "tok-1"})

	var wg sync.WaitGroup
	tokens := make([]string, 10)
	errs := make([]error, 10)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = c.Token(context.Background())
		}(i)
	}
	wg.Wait()

	for i := range tokens {
		require.NoError(t, errs[i])
		assert.Equal(t, "tok-1", tokens[i])
	}
	assert.True(t, gock.IsDone())
}

func TestProviderErrorKeepsBody(t *testing.T) {
	c := newTestClient(t)
	mockLogin("tok-1")
	gock.New(baseURL).
		Post("/courier/generate/pickup").
		Reply(422).
		BodyString(`{"message":"Pickup already generated"}`)

	_, err := c.GeneratePickup(context.Background(), "991")
	var ce *Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "generate_pickup", ce.Op)
	assert.Equal(t, http.StatusUnprocessableEntity, ce.StatusCode)
	assert.JSONEq(t, `{"message":"Pickup already generated"}`, string(ce.Body))
}

func TestServerErrorIsRetried(t *testing.T) {
	c := newTestClient(t)
	mockLogin("tok-1")
	gock.New(baseURL).Get("/courier/track/awb/AWB123").Reply(503)
	gock.New(baseURL).
		Get("/courier/track/awb/AWB123").
		Reply(200).
		JSON(map[string]any{"tracking_data": map[string]any{
			"track_status": 1,
			"shipment_track": []map[string]any{{"awb_code": "AWB123", "current_status": "IN TRANSIT"}},
			"shipment_track_activities": []map[string]any{
				{"date": "2025-03-01 10:00:00", "activity": "Bag received", "location": "Mumbai", "sr-status-label": "IN TRANSIT"},
			},
		}})

	tr, err := c.TrackByAWB(context.Background(), "AWB123")
	require.NoError(t, err)
	assert.Equal(t, "IN TRANSIT", tr.Status())
	require.Len(t, tr.Activities, 1)
	assert.Equal(t, "Mumbai", tr.Activities[0].Location)
	assert.True(t, gock.IsDone())
}

func TestLabelManifestAndDetail(t *testing.T) {
	c := newTestClient(t)
	mockLogin("tok-1")
	gock.New(baseURL).Post("/courier/generate/label").Reply(200).
		JSON(map[string]any{"label_created": 1, "label_url": "https://cdn.test/label.pdf"})
	gock.New(baseURL).Post("/manifests/generate").Reply(200).
		JSON(map[string]any{"status": 1, "manifest_url": "https://cdn.test/manifest.pdf"})
	gock.New(baseURL).Get("/orders/show/551").Reply(200).
		JSON(map[string]any{"data": map[string]any{
			"id": 551, "status": "PICKUP SCHEDULED",
			"shipments": map[string]any{"id": 991, "awb": "AWB123", "pickup_scheduled_date": "2025-03-02 11:00:00"},
		}})

	ctx := context.Background()
	label, err := c.GenerateLabel(ctx, "991")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/label.pdf", label)

	manifest, err := c.GenerateManifest(ctx, "991")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/manifest.pdf", manifest)

	d, err := c.OrderDetail(ctx, "551")
	require.NoError(t, err)
	assert.True(t, d.PickupScheduled())
	assert.Equal(t, ID("551"), d.ID)
	assert.True(t, gock.IsDone())
}

func TestIDMarshalling(t *testing.T) {
	b, err := ID("991").MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "991", string(b))

	b, err = ID("SR-1").MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"SR-1"`, string(b))

	var id ID
	require.NoError(t, id.UnmarshalJSON([]byte(`"abc"`)))
	assert.Equal(t, ID("abc"), id)
	require.NoError(t, id.UnmarshalJSON([]byte(`123`)))
	assert.Equal(t, ID("123"), id)
}

func TestRejected(t *testing.T) {
	assert.True(t, Rejected(&Error{Op: "create_shipment", StatusCode: 422}))
	assert.True(t, Rejected(fmt.Errorf("ship: %w", &Error{Op: "assign_awb", StatusCode: 400})))
	assert.False(t, Rejected(&Error{Op: "assign_awb", StatusCode: 401}))
	assert.False(t, Rejected(&Error{Op: "assign_awb", StatusCode: 429}))
	assert.False(t, Rejected(&Error{Op: "assign_awb", StatusCode: 502}))
	assert.False(t, Rejected(errors.New("dial tcp: connection refused")))
}

func TestCancelledWaiterDoesNotFailSharedLogin(t *testing.T) {
	c := newTestClient(t)
	mockLogin("tok-1").Delay(100 * time.Millisecond)

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Token(first)
		firstErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	second := make(chan string, 1)
	go func() {
		tok, err := c.Token(context.Background())
		assert.NoError(t, err)
		second <- tok
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-firstErr, context.Canceled)
	assert.Equal(t, "tok-1", <-second)
	assert.True(t, gock.IsDone())
}
