package shipping

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"consultation/internal/config"
	"consultation/internal/parcel"
)

// Shipment is the request assembled for one order.
type Shipment struct {
	OrderReference string
	Recipient      Recipient
	WeightGrams    int
	PackageFormat  parcel.FormatType
	OrderDate      time.Time
}

// Booking is what the carrier returned for a created order.
type Booking struct {
	CarrierOrderID int
	TrackingNumber string
	Label          []byte
	// LabelErr is set when the order was created but the returned label could not be decoded.
	LabelErr error
}

type Carrier interface {
	Name() string
	CreateOrder(ctx context.Context, s Shipment) (*Booking, error)
}

// Client talks to a Click & Drop style order-creation API.
type Client struct {
	baseURL     string
	token       string
	name        string
	serviceCode string
	maxRetries  uint64
	retryBase   time.Duration
	http        *http.Client
}

func NewClient(cfg config.CarrierConfig) *Client {
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 100 * time.Millisecond
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		token:       cfg.Token,
		name:        cfg.Name,
		serviceCode: cfg.ServiceCode,
		maxRetries:  uint64(max(cfg.MaxRetries, 0)),
		retryBase:   cfg.RetryBase,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (c *Client) Name() string {
	return c.name
}

type createOrdersRequest struct {
	Items []orderItem `json:"items"`
}

type orderItem struct {
	OrderReference string         `json:"orderReference"`
	Recipient      recipient      `json:"recipient"`
	OrderDate      string         `json:"orderDate"`
	Packages       []packageItem  `json:"packages"`
	PostageDetails postageDetails `json:"postageDetails"`
	Label          labelOptions   `json:"label"`
}

type recipient struct {
	Address      recipientAddress `json:"address"`
	EmailAddress string           `json:"emailAddress,omitempty"`
	PhoneNumber  string           `json:"phoneNumber,omitempty"`
}

type recipientAddress struct {
	FullName     string `json:"fullName"`
	AddressLine1 string `json:"addressLine1"`
	AddressLine2 string `json:"addressLine2,omitempty"`
	City         string `json:"city"`
	County       string `json:"county,omitempty"`
	Postcode     string `json:"postcode"`
	CountryCode  string `json:"countryCode"`
}

type packageItem struct {
	WeightInGrams           int    `json:"weightInGrams"`
	PackageFormatIdentifier string `json:"packageFormatIdentifier"`
}

type postageDetails struct {
	ServiceCode string `json:"serviceCode,omitempty"`
}

type labelOptions struct {
	IncludeLabelInResponse bool   `json:"includeLabelInResponse"`
	IncludeCN              bool   `json:"includeCN"`
	IncludeReturnsLabel    bool   `json:"includeReturnsLabel"`
	LabelFormat            string `json:"labelFormat,omitempty"`
}

type createOrdersResponse struct {
	SuccessCount  int            `json:"successCount"`
	ErrorsCount   int            `json:"errorsCount"`
	CreatedOrders []createdOrder `json:"createdOrders"`
	FailedOrders  []failedOrder  `json:"failedOrders"`
}

type createdOrder struct {
	OrderIdentifier int    `json:"orderIdentifier"`
	OrderReference  string `json:"orderReference"`
	TrackingNumber  string `json:"trackingNumber"`
	Label           string `json:"label"`
}

type failedOrder struct {
	Errors []struct {
		ErrorCode    int    `json:"errorCode"`
		ErrorMessage string `json:"errorMessage"`
	} `json:"errors"`
}

func (c *Client) buildRequest(s Shipment) createOrdersRequest {
	a := s.Recipient.Address
	return createOrdersRequest{Items: []orderItem{{
		OrderReference: s.OrderReference,
		Recipient: recipient{
			Address: recipientAddress{
				FullName:     a.Name,
				AddressLine1: a.Line1,
				AddressLine2: a.Line2,
				City:         a.City,
				County:       a.County,
				Postcode:     a.Postcode,
				CountryCode:  a.Country,
			},
			EmailAddress: s.Recipient.Contact.Email,
			PhoneNumber:  s.Recipient.Contact.Phone,
		},
		OrderDate: s.OrderDate.UTC().Format(time.RFC3339),
		Packages: []packageItem{{
			WeightInGrams:           s.WeightGrams,
			PackageFormatIdentifier: string(s.PackageFormat),
		}},
		PostageDetails: postageDetails{ServiceCode: c.serviceCode},
		Label:          labelOptions{IncludeLabelInResponse: true, LabelFormat: "PDF"},
	}}}
}

// CreateOrder posts one order. Transport errors, 429 and 5xx are retried with exponential backoff;
// any other non-2xx fails at once.
func (c *Client) CreateOrder(ctx context.Context, s Shipment) (*Booking, error) {
	body, err := json.Marshal(c.buildRequest(s))
	if err != nil {
		return nil, fmt.Errorf("encode carrier request: %w", err)
	}

	var booking *Booking
	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(c.retryBase))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		b, err := c.post(ctx, body)
		if err != nil {
			var de *DispatchError
			if errors.As(err, &de) && retryable(de) {
				return retry.RetryableError(err)
			}
			return err
		}
		booking = b
		return nil
	})
	if err != nil {
		var de *DispatchError
		if errors.As(err, &de) {
			return nil, de
		}
		return nil, &DispatchError{Err: err}
	}
	return booking, nil
}

func retryable(e *DispatchError) bool {
	if e.StatusCode == 0 {
		return true
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func (c *Client) post(ctx context.Context, body []byte) (*Booking, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return nil, &DispatchError{Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &DispatchError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, &DispatchError{StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &DispatchError{StatusCode: resp.StatusCode, Body: truncate(string(raw), 512)}
	}

	var out createOrdersResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &DispatchError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode carrier response: %w", err)}
	}
	if len(out.CreatedOrders) == 0 {
		msg := "no order created"
		if len(out.FailedOrders) > 0 && len(out.FailedOrders[0].Errors) > 0 {
			msg = out.FailedOrders[0].Errors[0].ErrorMessage
		}
		return nil, &DispatchError{StatusCode: resp.StatusCode, Err: errors.New(msg)}
	}

	created := out.CreatedOrders[0]
	b := &Booking{CarrierOrderID: created.OrderIdentifier, TrackingNumber: created.TrackingNumber}
	if created.Label != "" {
		label, err := base64.StdEncoding.DecodeString(created.Label)
		if err != nil {
			b.LabelErr = fmt.Errorf("decode label: %w", err)
		} else {
			b.Label = label
		}
	}
	return b, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
