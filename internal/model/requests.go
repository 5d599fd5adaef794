package model

import "strings"

// CreateCustomerRequest is the intake form.
type CreateCustomerRequest struct {
	Name       string `json:"name"       validate:"required,max=200"`
	Address    string `json:"address"    validate:"required,max=500"`
	Phone      string `json:"phone"      validate:"required,max=32"`
	Email      string `json:"email"      validate:"omitempty,email"`
	Gutter     string `json:"gutter"     validate:"service"`
	Ceiling    string `json:"ceiling"    validate:"service"`
	Roof       string `json:"roof"       validate:"service"`
	TotalValue Amount `json:"totalValue"`
	Status     string `json:"status"     validate:"crmstatus"`
	Notes      string `json:"notes"`
}

// Customer validates the request and returns the normalized record. Identity
// fields are left for the store to allocate.
func (r CreateCustomerRequest) Customer() (Customer, error) {
	r.Name = strings.TrimSpace(r.Name)
	r.Address = strings.TrimSpace(r.Address)
	r.Phone = strings.TrimSpace(r.Phone)
	if err := Validate(r); err != nil {
		return Customer{}, err
	}
	if r.TotalValue < 0 {
		return Customer{}, invalid("totalValue", "must not be negative")
	}

	gutter, _ := ParseServiceOption(r.Gutter)
	ceiling, _ := ParseServiceOption(r.Ceiling)
	roof, _ := ParseServiceOption(r.Roof)
	status, _ := ParseStatus(r.Status)

	c := Customer{
		Name:       r.Name,
		Address:    r.Address,
		Phone:      r.Phone,
		Email:      strPtr(r.Email),
		Gutter:     gutter,
		Ceiling:    ceiling,
		Roof:       roof,
		Status:     status,
		Notes:      strPtr(r.Notes),
		TotalValue: ParseAmount(r.TotalValue),
	}
	c.Services = c.ServicesSummary()
	return c, nil
}

// EditCustomerRequest overwrites only the fields that are present. Paid
// amount is deliberately absent: only payments move it.
type EditCustomerRequest struct {
	CustomerID string  `json:"customerId" validate:"required"`
	Name       *string `json:"name"       validate:"omitempty,min=1,max=200"`
	Address    *string `json:"address"    validate:"omitempty,max=500"`
	Phone      *string `json:"phone"      validate:"omitempty,max=32"`
	Email      *string `json:"email"      validate:"omitempty"`
	Gutter     *string `json:"gutter"     validate:"omitempty,service"`
	Ceiling    *string `json:"ceiling"    validate:"omitempty,service"`
	Roof       *string `json:"roof"       validate:"omitempty,service"`
	TotalValue *Amount `json:"totalValue"`
	Status     *string `json:"status"     validate:"omitempty,crmstatus"`
	Notes      *string `json:"notes"`
}

func (r EditCustomerRequest) Validate() error {
	if err := Validate(r); err != nil {
		return err
	}
	if r.Name != nil && strings.TrimSpace(*r.Name) == "" {
		return invalid("name", "is required")
	}
	if r.TotalValue != nil && *r.TotalValue < 0 {
		return invalid("totalValue", "must not be negative")
	}
	if r.Email != nil && strings.TrimSpace(*r.Email) != "" {
		if err := validate.Var(strings.TrimSpace(*r.Email), "email"); err != nil {
			return invalid("email", "must be a valid email address")
		}
	}
	return nil
}

// Apply merges the present fields into c. Status changes are accepted as-is:
// an edit may move a customer to any legal status.
func (r EditCustomerRequest) Apply(c *Customer) {
	if r.Name != nil {
		c.Name = strings.TrimSpace(*r.Name)
	}
	if r.Address != nil {
		c.Address = strings.TrimSpace(*r.Address)
	}
	if r.Phone != nil {
		c.Phone = strings.TrimSpace(*r.Phone)
	}
	if r.Email != nil {
		c.Email = strPtr(*r.Email)
	}
	if r.Gutter != nil {
		c.Gutter, _ = ParseServiceOption(*r.Gutter)
	}
	if r.Ceiling != nil {
		c.Ceiling, _ = ParseServiceOption(*r.Ceiling)
	}
	if r.Roof != nil {
		c.Roof, _ = ParseServiceOption(*r.Roof)
	}
	if r.TotalValue != nil {
		c.TotalValue = ParseAmount(*r.TotalValue)
	}
	if r.Status != nil {
		c.Status, _ = ParseStatus(*r.Status)
	}
	if r.Notes != nil {
		c.Notes = strPtr(*r.Notes)
	}
	c.Services = c.ServicesSummary()
}

// AddPaymentRequest posts a payment against a customer.
type AddPaymentRequest struct {
	CustomerID string `json:"customerId" validate:"required"`
	Amount     Amount `json:"amount"     validate:"gt=0"`
	Method     string `json:"method"     validate:"paymethod"`
	Notes      string `json:"notes"`
}

// Payment validates the request and returns the payment to record.
func (r AddPaymentRequest) Payment() (Payment, error) {
	r.CustomerID = strings.TrimSpace(r.CustomerID)
	r.Amount = Amount(ParseAmount(r.Amount))
	if err := Validate(r); err != nil {
		return Payment{}, err
	}
	method, _ := ParsePaymentMethod(r.Method)
	return Payment{
		CustomerID: r.CustomerID,
		Amount:     r.Amount.Float64(),
		Method:     method,
		Notes:      strPtr(r.Notes),
	}, nil
}

// Operation results, mirroring the {result, ...} envelope of the API.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

type CreateResult struct {
	Result  string `json:"result"`
	ID      string `json:"id"`
	Message string `json:"message"`
	Backend string `json:"backend,omitempty"`
}

type PaymentResult struct {
	Result        string  `json:"result"`
	Message       string  `json:"message"`
	NewPaidAmount float64 `json:"newPaidAmount"`
	NewStatus     Status  `json:"newStatus"`
	PaymentID     string  `json:"paymentId,omitempty"`
	Backend       string  `json:"backend,omitempty"`
}

type OpResult struct {
	Result  string `json:"result"`
	Message string `json:"message"`
	Backend string `json:"backend,omitempty"`
}

type ErrorResult struct {
	Result  string `json:"result"`
	Message string `json:"message"`
}
