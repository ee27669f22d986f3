package domain

import (
	"net/mail"
	"strings"
	"unicode/utf8"
)

const (
	maxNameLength            = 100
	maxEmailLength           = 100
	maxShippingAddressLength = 200
	maxPhoneLength           = 20
	maxNotesLength           = 500
	maxPaymentMethodLength   = 50
)

// ShippingInfo is what the buyer enters on the checkout form.
type ShippingInfo struct {
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	Email         string `json:"email"`
	PhoneNumber   string `json:"phone_number"`
	Address       string `json:"address"`
	City          string `json:"city"`
	Notes         string `json:"notes,omitempty"`
	PaymentMethod string `json:"payment_method"`
}

// ShippingAddress is the single-line address stored on the order.
func (s ShippingInfo) ShippingAddress() string {
	return strings.TrimSpace(s.Address) + ", " + strings.TrimSpace(s.City)
}

// Validate reports every failing field at once, or nil.
func (s ShippingInfo) Validate() error {
	var errs ValidationErrors
	required := func(field, value string, max int) {
		v := strings.TrimSpace(value)
		switch {
		case v == "":
			errs = append(errs, ValidationError{Field: field, Message: "is required"})
		case utf8.RuneCountInString(v) > max:
			errs = append(errs, ValidationError{Field: field, Message: "is too long"})
		}
	}

	required("first_name", s.FirstName, maxNameLength)
	required("last_name", s.LastName, maxNameLength)
	required("email", s.Email, maxEmailLength)
	required("phone_number", s.PhoneNumber, maxPhoneLength)
	required("address", s.Address, maxShippingAddressLength)
	required("city", s.City, maxShippingAddressLength)
	required("payment_method", s.PaymentMethod, maxPaymentMethodLength)

	if email := strings.TrimSpace(s.Email); email != "" {
		if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
			errs = append(errs, ValidationError{Field: "email", Message: "is not a valid email address"})
		}
	}
	if strings.TrimSpace(s.Address) != "" && strings.TrimSpace(s.City) != "" &&
		utf8.RuneCountInString(s.ShippingAddress()) > maxShippingAddressLength {
		errs = append(errs, ValidationError{Field: "address", Message: "address and city are too long together"})
	}
	if utf8.RuneCountInString(s.Notes) > maxNotesLength {
		errs = append(errs, ValidationError{Field: "notes", Message: "is too long"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
