package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"consultation/internal/models"
)

type PgCustomerRepository struct {
	db *sql.DB
}

func NewCustomerRepository(db *sql.DB) *PgCustomerRepository {
	return &PgCustomerRepository{db: db}
}

func (r *PgCustomerRepository) GetByUserID(ctx context.Context, userID string) (*models.Customer, error) {
	if userID == "" {
		return nil, nil
	}
	query := `SELECT
			id, user_id, first_name, last_name, email, phone,
			address1, address2, city, county, postcode, country,
			shipping_name, shipping_address1, shipping_address2, shipping_city,
			shipping_county, shipping_postcode, shipping_country,
			shipping_email, shipping_phone
		FROM customers WHERE user_id=$1`

	c := &models.Customer{}
	err := conn(ctx, r.db).QueryRowContext(ctx, query, userID).Scan(
		&c.ID, &c.UserID, &c.FirstName, &c.LastName, &c.Email, &c.Phone,
		&c.Home.Line1, &c.Home.Line2, &c.Home.City, &c.Home.County, &c.Home.Postcode, &c.Home.Country,
		&c.Shipping.Name, &c.Shipping.Line1, &c.Shipping.Line2, &c.Shipping.City,
		&c.Shipping.County, &c.Shipping.Postcode, &c.Shipping.Country,
		&c.ShippingContact.Email, &c.ShippingContact.Phone,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get customer by user id: %w", err)
	}
	return c, nil
}
