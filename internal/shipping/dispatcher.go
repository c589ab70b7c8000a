package shipping

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"consultation/internal/models"
	"consultation/internal/parcel"
	"consultation/internal/repository"
)

// Result describes a dispatched shipment.
type Result struct {
	Carrier        string
	TrackingNumber string
	LabelPath      string
	WeightGrams    int
	PackageFormat  parcel.FormatType
	Recipient      Recipient
	// AlreadyDispatched is set when the order carried a tracking number and the carrier was not called.
	AlreadyDispatched bool
}

type Dispatcher struct {
	store   *repository.Store
	carrier Carrier
	labels  LabelStore
	parcels parcel.Service
	log     logrus.FieldLogger
	now     func() time.Time
}

func NewDispatcher(store *repository.Store, carrier Carrier, labels LabelStore, parcels parcel.Service, log logrus.FieldLogger) *Dispatcher {
	return &Dispatcher{
		store:   store,
		carrier: carrier,
		labels:  labels,
		parcels: parcels,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch books a shipment for the order and records the carrier, tracking number and label path
// on the order metadata, filling only fields that are still empty. It must not run inside the
// completion transaction. A *RecordError comes with a non-nil Result: the carrier holds the
// shipment and the caller must not dispatch again.
func (d *Dispatcher) Dispatch(ctx context.Context, orderID string, override *models.ShippingMeta) (*Result, error) {
	order, err := d.store.Orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("dispatch: order %s not found", orderID)
	}
	if sm := order.Meta.Shipping; sm != nil && sm.TrackingNumber != "" {
		return &Result{
			Carrier:           sm.Carrier,
			TrackingNumber:    sm.TrackingNumber,
			LabelPath:         sm.LabelPath,
			AlreadyDispatched: true,
		}, nil
	}

	customer, err := d.store.Customers.GetByUserID(ctx, order.UserID)
	if err != nil {
		return nil, err
	}

	recipient := ResolveRecipient(override, order, customer)
	if recipient.AddressSource == SourceNone {
		return nil, &DispatchError{Err: fmt.Errorf("order %s has no shipping address", orderID)}
	}
	weight := d.parcels.Weight(order.Meta.PackageWeightGrams())
	format, err := d.parcels.Select(weight)
	if err != nil {
		return nil, &DispatchError{Err: err}
	}

	reference := order.Reference
	if reference == "" {
		reference = order.ID
	}
	booking, err := d.carrier.CreateOrder(ctx, Shipment{
		OrderReference: reference,
		Recipient:      recipient,
		WeightGrams:    weight,
		PackageFormat:  format.Type(),
		OrderDate:      order.CreatedAt,
	})
	if err != nil {
		return nil, err
	}

	res := &Result{
		Carrier:        d.carrier.Name(),
		TrackingNumber: booking.TrackingNumber,
		WeightGrams:    weight,
		PackageFormat:  format.Type(),
		Recipient:      recipient,
	}
	if booking.LabelErr != nil {
		d.log.WithError(booking.LabelErr).WithFields(logrus.Fields{
			"order_id": order.ID,
			"tracking": booking.TrackingNumber,
		}).Warn("label not decoded")
	}
	if len(booking.Label) > 0 && d.labels != nil {
		path, err := d.labels.Save(order.ID, booking.TrackingNumber, booking.Label)
		if err != nil {
			d.log.WithError(err).WithField("order_id", order.ID).Warn("label not stored")
		} else {
			res.LabelPath = path
		}
	}

	err = d.store.Tx.WithinOrderLock(ctx, order.ID, func(ctx context.Context) error {
		fresh, err := d.store.Orders.GetByID(ctx, order.ID)
		if err != nil {
			return err
		}
		if fresh == nil {
			return fmt.Errorf("order %s disappeared", order.ID)
		}
		mergeDispatch(&fresh.Meta, res, d.now())
		return d.store.Orders.Update(ctx, fresh)
	})
	if err != nil {
		d.log.WithError(err).WithFields(logrus.Fields{
			"order_id": order.ID,
			"tracking": res.TrackingNumber,
		}).Error("shipment booked but not recorded")
		return res, &RecordError{OrderID: order.ID, Err: err}
	}
	return res, nil
}

func mergeDispatch(meta *models.OrderMeta, res *Result, at time.Time) {
	if meta.Shipping == nil {
		meta.Shipping = &models.ShippingMeta{}
	}
	sm := meta.Shipping
	if sm.Carrier == "" {
		sm.Carrier = res.Carrier
	}
	if sm.TrackingNumber == "" {
		sm.TrackingNumber = res.TrackingNumber
	}
	if sm.LabelPath == "" {
		sm.LabelPath = res.LabelPath
	}
	if sm.DispatchedAt == nil {
		t := at
		sm.DispatchedAt = &t
	}
}

// RetryPayload is stored with a queued shipping task.
type RetryPayload struct {
	Override *models.ShippingMeta `json:"override,omitempty"`
	Reason   string               `json:"reason,omitempty"`
}
