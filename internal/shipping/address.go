package shipping

import (
	"strings"

	"consultation/internal/models"
)

type Source string

const (
	SourceOverride        Source = "override"
	SourceOrderMeta       Source = "order_meta"
	SourceProfileShipping Source = "profile_shipping"
	SourceProfileHome     Source = "profile_home"
	SourceNone            Source = "none"
)

// Recipient is the resolved destination of a shipment.
type Recipient struct {
	Address       models.Address
	Contact       models.Contact
	AddressSource Source
	ContactSource Source
}

// ResolveRecipient picks the address and the contact independently. Each comes whole from the first
// source that has any field set: override, order metadata, the profile's shipping fields, the profile's
// home fields. The country is normalized. Only a profile address takes the profile's full name;
// an override or order address is used as given.
func ResolveRecipient(override *models.ShippingMeta, order *models.Order, customer *models.Customer) Recipient {
	var r Recipient

	type addressTier struct {
		source Source
		addr   models.Address
	}
	var addrTiers []addressTier
	if override != nil {
		addrTiers = append(addrTiers, addressTier{SourceOverride, override.Address()})
	}
	if order != nil && order.Meta.Shipping != nil {
		addrTiers = append(addrTiers, addressTier{SourceOrderMeta, order.Meta.Shipping.Address()})
	}
	if customer != nil {
		addrTiers = append(addrTiers,
			addressTier{SourceProfileShipping, customer.Shipping},
			addressTier{SourceProfileHome, customer.Home},
		)
	}
	r.AddressSource = SourceNone
	for _, t := range addrTiers {
		if t.addr.IsBlank() {
			continue
		}
		r.Address = t.addr
		r.AddressSource = t.source
		break
	}

	type contactTier struct {
		source  Source
		contact models.Contact
	}
	var contactTiers []contactTier
	if override != nil {
		contactTiers = append(contactTiers, contactTier{SourceOverride, override.Contact()})
	}
	if order != nil && order.Meta.Shipping != nil {
		contactTiers = append(contactTiers, contactTier{SourceOrderMeta, order.Meta.Shipping.Contact()})
	}
	if customer != nil {
		contactTiers = append(contactTiers,
			contactTier{SourceProfileShipping, customer.ShippingContact},
			contactTier{SourceProfileHome, models.Contact{Email: customer.Email, Phone: customer.Phone}},
		)
	}
	r.ContactSource = SourceNone
	for _, t := range contactTiers {
		if t.contact.IsBlank() {
			continue
		}
		r.Contact = t.contact
		r.ContactSource = t.source
		break
	}

	// profile addresses carry no name of their own; the profile's name belongs to the same record
	profileTier := r.AddressSource == SourceProfileShipping || r.AddressSource == SourceProfileHome
	if profileTier && strings.TrimSpace(r.Address.Name) == "" {
		r.Address.Name = customer.FullName()
	}
	r.Address.Country = NormalizeCountry(r.Address.Country)
	return r
}
