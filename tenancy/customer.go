package tenancy

import (
	"context"
	"strings"
	"time"
)

// =============================================================================
// CUSTOMER SERVICE - Upsert by external identity
// =============================================================================

// CustomerService registers tenants. A customer is identified by the
// external chat identity; resubmitting updates the stored record in place.
type CustomerService struct {
	*engine
}

// Register creates the customer for in.ExternalID or updates the existing
// one with the non-empty fields of in.
func (s *CustomerService) Register(ctx context.Context, in CustomerInput) (*Customer, error) {
	const op = "customer.register"
	if strings.TrimSpace(in.ExternalID) == "" {
		return nil, invalid(op, "external identity is required")
	}
	var customer *Customer
	err := s.tx(ctx, op, func(st Store) error {
		var err error
		customer, err = upsertCustomer(ctx, st, in, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return customer, nil
}

func (s *CustomerService) Get(ctx context.Context, id CustomerID) (*Customer, error) {
	const op = "customer.get"
	var c *Customer
	err := s.read(ctx, op, func(st Store) error {
		var err error
		c, err = loadCustomer(ctx, st, op, id)
		return err
	})
	return c, err
}

// GetByExternalID resolves a chat identity to a customer.
func (s *CustomerService) GetByExternalID(ctx context.Context, externalID string) (*Customer, error) {
	const op = "customer.get"
	var c *Customer
	err := s.read(ctx, op, func(st Store) error {
		var err error
		c, err = customerByExternalID(ctx, st, externalID)
		if err == nil && c == nil {
			return notFound(op, "customer", externalID)
		}
		return err
	})
	return c, err
}

// upsertCustomer must run inside a transaction.
func upsertCustomer(ctx context.Context, st Store, in CustomerInput, now time.Time) (*Customer, error) {
	existing, err := customerByExternalID(ctx, st, in.ExternalID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		c := &Customer{
			ID:         CustomerID(newID()),
			ExternalID: in.ExternalID,
			CreatedAt:  now,
		}
		c.apply(in, now)
		if err := st.InsertCustomer(ctx, c); err != nil {
			return nil, err
		}
		return c, nil
	}
	if existing.apply(in, now) {
		if err := st.UpdateCustomer(ctx, existing); err != nil {
			return nil, err
		}
	}
	return existing, nil
}

// apply copies the non-empty fields of in and reports whether anything
// changed.
func (c *Customer) apply(in CustomerInput, now time.Time) bool {
	changed := false
	set := func(dst *string, v string) {
		v = strings.TrimSpace(v)
		if v != "" && *dst != v {
			*dst = v
			changed = true
		}
	}
	set(&c.DisplayName, in.DisplayName)
	set(&c.Title, in.Title)
	set(&c.FirstName, in.FirstName)
	set(&c.LastName, in.LastName)
	set(&c.Phone, in.Phone)
	set(&c.NationalID, in.NationalID)

	if legal := LegalName(c.Title, c.FirstName, c.LastName); legal != c.LegalName {
		c.LegalName = legal
		changed = true
	}
	if changed || c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
	return changed
}

// LegalName joins the title prefix with the first and last names. The title
// is written without a separator, as Thai honorifics are.
func LegalName(title, first, last string) string {
	return strings.TrimSpace(strings.TrimSpace(title+first) + " " + last)
}
