package checkout

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"matchapos/backend/internal/apperror"
	"matchapos/backend/internal/domain"
)

// Capabilities describes what differs between sales channels. The
// checkout algorithm itself is shared.
type Capabilities struct {
	Channel                  domain.Channel
	RequiresImmediatePayment bool
	HasCashier               bool
	OrderPrefix              string
	PaymentMethods           []string
}

var (
	POS = Capabilities{
		Channel:                  domain.ChannelPOS,
		RequiresImmediatePayment: true,
		HasCashier:               true,
		OrderPrefix:              "ORD",
		PaymentMethods:           []string{"cash", "transfer", "card"},
	}
	Web = Capabilities{
		Channel:                  domain.ChannelWeb,
		RequiresImmediatePayment: false,
		HasCashier:               false,
		OrderPrefix:              "WEB",
		PaymentMethods:           []string{"transfer", "cod"},
	}
)

func (c Capabilities) AcceptsPayment(method string) bool {
	for _, m := range c.PaymentMethods {
		if m == method {
			return true
		}
	}
	return false
}

// InitialStatus is empty for channels without a status workflow.
func (c Capabilities) InitialStatus(paymentMethod string) domain.OrderStatus {
	if c.Channel != domain.ChannelWeb {
		return ""
	}
	if paymentMethod == "cod" {
		return domain.StatusNew
	}
	return domain.StatusWaitingPayment
}

type Request struct {
	Capabilities  Capabilities
	Cart          domain.Cart
	ActorID       string
	CustomerID    string
	CustomerName  string
	Phone         string
	Address       string
	PaymentMethod string
	Tendered      decimal.Decimal
	Discount      decimal.Decimal
}

// Normalize trims free-text fields. Cart lines are kept as given so that
// Validate can reject a bad line instead of selling the rest of the cart.
func (r Request) Normalize() Request {
	r.CustomerID = strings.TrimSpace(r.CustomerID)
	r.CustomerName = strings.TrimSpace(r.CustomerName)
	r.Phone = strings.TrimSpace(r.Phone)
	r.Address = strings.TrimSpace(r.Address)
	r.PaymentMethod = strings.ToLower(strings.TrimSpace(r.PaymentMethod))
	return r
}

// Validate runs the checks that need no stock data, so callers can reject
// a request before opening a transaction.
func (r Request) Validate() error {
	if len(r.Cart) == 0 {
		return apperror.NewEmptyCart()
	}
	for _, id := range slices.Sorted(maps.Keys(r.Cart)) {
		if strings.TrimSpace(id) == "" {
			return apperror.NewValidation("cart line has no variant id").WithDetail("field", "cart")
		}
		if qty := r.Cart[id]; qty < 1 || qty > domain.MaxLineQty {
			return apperror.NewValidation(fmt.Sprintf("quantity per line must be between 1 and %d", domain.MaxLineQty)).
				WithDetail("field", "qty").
				WithDetail("variant_id", id)
		}
	}
	caps := r.Capabilities
	if !caps.Channel.Valid() {
		return apperror.NewValidation("unknown sales channel")
	}
	if !caps.AcceptsPayment(r.PaymentMethod) {
		return apperror.NewValidation("payment method must be one of " + strings.Join(caps.PaymentMethods, ", ")).
			WithDetail("field", "payment_method")
	}
	if caps.HasCashier && r.ActorID == "" {
		return apperror.NewValidation("cashier is required")
	}
	if caps.Channel == domain.ChannelWeb {
		if r.CustomerName == "" {
			return apperror.NewValidation("customer name is required").WithDetail("field", "customer_name")
		}
		if r.Phone == "" {
			return apperror.NewValidation("phone is required").WithDetail("field", "phone")
		}
	}
	if r.Tendered.IsNegative() {
		return apperror.NewValidation("paid amount must not be negative").WithDetail("field", "paid_amount")
	}
	if err := ValidateAmount("paid_amount", r.Tendered); err != nil {
		return err
	}
	return ValidateAmount("discount", r.Discount)
}
