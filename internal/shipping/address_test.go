package shipping

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"consultation/internal/models"
)

func TestNormalizeCountry(t *testing.T) {
	cases := map[string]string{
		"United Kingdom":  "GB",
		"united  kingdom": "GB",
		"England":         "GB",
		"uk":              "GB",
		"fr":              "FR",
		"GB":              "GB",
		"":                "GB",
		"   ":             "GB",
		"Narnia":          "GB",
		"Ireland":         "IE",
		"f1":              "GB",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeCountry(in), in)
	}
}

func profile() *models.Customer {
	return &models.Customer{
		UserID:    "u1",
		FirstName: "Jane",
		LastName:  "Doe",
		Email:     "home@example.com",
		Phone:     "0700",
		Home: models.Address{
			Line1: "9 Home Rd", City: "Leeds", Postcode: "LS1 1AA", Country: "England",
		},
		Shipping: models.Address{
			Line1: "5 Ship Ln", City: "York", Postcode: "YO1 1AA", Country: "United Kingdom",
		},
		ShippingContact: models.Contact{Email: "ship@example.com"},
	}
}

func TestOverrideIgnoresProfileAddress(t *testing.T) {
	override := &models.ShippingMeta{Address1: "1 Test St", Postcode: "AB1 2CD", CountryCode: ""}

	r := ResolveRecipient(override, &models.Order{}, profile())

	assert.Equal(t, SourceOverride, r.AddressSource)
	assert.Equal(t, "1 Test St", r.Address.Line1)
	assert.Equal(t, "AB1 2CD", r.Address.Postcode)
	assert.Equal(t, "GB", r.Address.Country)
	assert.Empty(t, r.Address.City)
	assert.Empty(t, r.Address.Line2)
	assert.Empty(t, r.Address.Name)
	// contact resolves independently
	assert.Equal(t, SourceProfileShipping, r.ContactSource)
	assert.Equal(t, "ship@example.com", r.Contact.Email)
}

func TestOrderMetaBeatsProfile(t *testing.T) {
	order := &models.Order{Meta: models.OrderMeta{Shipping: &models.ShippingMeta{
		Name: "J Doe", City: "Bath", Country: "fr", Phone: "0800",
	}}}

	r := ResolveRecipient(nil, order, profile())
	assert.Equal(t, SourceOrderMeta, r.AddressSource)
	assert.Equal(t, models.Address{Name: "J Doe", City: "Bath", Country: "FR"}, r.Address)
	assert.Equal(t, SourceOrderMeta, r.ContactSource)
	assert.Equal(t, models.Contact{Phone: "0800"}, r.Contact)
}

func TestProfileShippingThenHome(t *testing.T) {
	c := profile()
	r := ResolveRecipient(nil, &models.Order{}, c)
	assert.Equal(t, SourceProfileShipping, r.AddressSource)
	assert.Equal(t, "5 Ship Ln", r.Address.Line1)
	assert.Equal(t, "GB", r.Address.Country)
	assert.Equal(t, "Jane Doe", r.Address.Name)

	c.Shipping = models.Address{}
	c.ShippingContact = models.Contact{}
	r = ResolveRecipient(nil, &models.Order{}, c)
	assert.Equal(t, SourceProfileHome, r.AddressSource)
	assert.Equal(t, "9 Home Rd", r.Address.Line1)
	assert.Equal(t, SourceProfileHome, r.ContactSource)
	assert.Equal(t, "home@example.com", r.Contact.Email)
}

func TestLegacyMetaKeys(t *testing.T) {
	var meta models.OrderMeta
	err := meta.UnmarshalJSON([]byte(`{"shipping": {"address_line1": "2 Old St", "postal_code": "ZZ1 1ZZ", "email_address": "x@y.z"}}`))
	assert.NoError(t, err)

	r := ResolveRecipient(nil, &models.Order{Meta: meta}, nil)
	assert.Equal(t, SourceOrderMeta, r.AddressSource)
	assert.Equal(t, "2 Old St", r.Address.Line1)
	assert.Equal(t, "ZZ1 1ZZ", r.Address.Postcode)
	assert.Equal(t, "x@y.z", r.Contact.Email)
}

func TestNoAddressAnywhere(t *testing.T) {
	r := ResolveRecipient(nil, &models.Order{}, nil)
	assert.Equal(t, SourceNone, r.AddressSource)
	assert.Equal(t, SourceNone, r.ContactSource)
	assert.Equal(t, "GB", r.Address.Country)
}
