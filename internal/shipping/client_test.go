package shipping

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consultation/internal/config"
	"consultation/internal/models"
	"consultation/internal/parcel"
)

func testClient(url string) *Client {
	return NewClient(config.CarrierConfig{
		BaseURL:     url,
		Token:       "secret",
		Name:        "royal_mail",
		ServiceCode: "TPN24",
		Timeout:     2 * time.Second,
		MaxRetries:  2,
		RetryBase:   time.Millisecond,
	})
}

func testShipment() Shipment {
	return Shipment{
		OrderReference: "R1",
		Recipient: Recipient{
			Address: models.Address{Name: "Jane Doe", Line1: "1 Test St", Postcode: "AB1 2CD", Country: "GB"},
			Contact: models.Contact{Email: "jane@example.com"},
		},
		WeightGrams:   100,
		PackageFormat: parcel.FormatLetter,
	}
}

func TestCreateOrderSendsRequest(t *testing.T) {
	var got createOrdersRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/orders", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"successCount":1,"createdOrders":[{"orderIdentifier":7,"trackingNumber":"TN123","label":"` +
			base64.StdEncoding.EncodeToString([]byte("%PDF-1.4")) + `"}]}`))
	}))
	defer srv.Close()

	b, err := testClient(srv.URL).CreateOrder(context.Background(), testShipment())
	require.NoError(t, err)
	assert.Equal(t, "TN123", b.TrackingNumber)
	assert.Equal(t, 7, b.CarrierOrderID)
	assert.Equal(t, []byte("%PDF-1.4"), b.Label)

	require.Len(t, got.Items, 1)
	item := got.Items[0]
	assert.Equal(t, "R1", item.OrderReference)
	assert.Equal(t, "1 Test St", item.Recipient.Address.AddressLine1)
	assert.Equal(t, "GB", item.Recipient.Address.CountryCode)
	assert.Equal(t, "TPN24", item.PostageDetails.ServiceCode)
	assert.Equal(t, []packageItem{{WeightInGrams: 100, PackageFormatIdentifier: "letter"}}, item.Packages)
	assert.True(t, item.Label.IncludeLabelInResponse)
}

func TestCreateOrderRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"createdOrders":[{"trackingNumber":"TN9"}]}`))
	}))
	defer srv.Close()

	b, err := testClient(srv.URL).CreateOrder(context.Background(), testShipment())
	require.NoError(t, err)
	assert.Equal(t, "TN9", b.TrackingNumber)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestCreateOrderGivesUpAfterRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).CreateOrder(context.Background(), testShipment())
	var de *DispatchError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, http.StatusServiceUnavailable, de.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestCreateOrderDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"bad token"}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).CreateOrder(context.Background(), testShipment())
	var de *DispatchError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, http.StatusUnauthorized, de.StatusCode)
	assert.Contains(t, de.Error(), "bad token")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCreateOrderWithoutCreatedOrderFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errorsCount":1,"failedOrders":[{"errors":[{"errorCode":12,"errorMessage":"postcode invalid"}]}]}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).CreateOrder(context.Background(), testShipment())
	var de *DispatchError
	require.True(t, errors.As(err, &de))
	assert.Contains(t, de.Error(), "postcode invalid")
}

func TestCreateOrderKeepsBookingWhenLabelIsCorrupt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"successCount":1,"createdOrders":[{"orderIdentifier":9,"trackingNumber":"TN9","label":"!!not-base64!!"}]}`))
	}))
	defer srv.Close()

	b, err := testClient(srv.URL).CreateOrder(context.Background(), testShipment())
	require.NoError(t, err)
	assert.Equal(t, "TN9", b.TrackingNumber)
	assert.Empty(t, b.Label)
	assert.ErrorContains(t, b.LabelErr, "decode label")
}
