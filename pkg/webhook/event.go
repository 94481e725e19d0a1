package webhook

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/subfold/subfold/pkg/subfold"
)

// Recognized provider event types. Anything else is accepted and ignored so
// the endpoint tolerates provider vocabulary growth.
const (
	EventCustomerCreated      = "customer.created"
	EventInvoicePaid          = "invoice.paid"
	EventInvoicePaymentFailed = "invoice.payment_failed"
	EventSubscriptionUpdated  = "customer.subscription.updated"
	EventSubscriptionDeleted  = "customer.subscription.deleted"
)

// Envelope is the outer shape of every provider notification.
type Envelope struct {
	Type string `json:"type"`
	Data struct {
		Object map[string]interface{} `json:"object"`
	} `json:"data"`
}

// ValidationError reports a missing or mistyped field in a provider
// payload, identified by its lookup path. Required lookups never silently
// default: they fail closed with this error.
type ValidationError struct {
	Path string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing or invalid `%s`", e.Path)
}

// pathTable declares, per event type, where each normalized field lives in
// the payload. Paths are slash-separated with numeric array indices
// (e.g. "lines/data/0/price/id"). An empty path means the field does not
// apply to that event type. Fields are required unless noted otherwise.
type pathTable struct {
	customer      string
	email         string
	subscription  string
	price         string
	product       string
	periodEnd     string
	billingReason string
	amountPaid    string
	status        string

	// Optional: defaults to false when absent.
	cancelAtPeriodEnd string

	// Optional: left unset when absent.
	canceledAt string
}

// eventPaths is the static lookup table driving the normalizer. Keeping it
// declarative lets the normalizer be tested exhaustively without the
// reconciler.
var eventPaths = map[string]pathTable{
	EventCustomerCreated: {
		customer: "id",
		email:    "email",
	},
	EventInvoicePaid: {
		customer:      "customer",
		subscription:  "subscription",
		price:         "lines/data/0/price/id",
		product:       "lines/data/0/price/product",
		periodEnd:     "lines/data/0/period/end",
		billingReason: "billing_reason",
		amountPaid:    "amount_paid",
	},
	EventInvoicePaymentFailed: {
		customer: "customer",
	},
	EventSubscriptionUpdated: {
		customer:          "customer",
		subscription:      "subscription",
		price:             "lines/data/0/price/id",
		product:           "lines/data/0/price/product",
		status:            "status",
		cancelAtPeriodEnd: "cancel_at_period_end",
	},
	EventSubscriptionDeleted: {
		customer:     "customer",
		subscription: "subscription",
		price:        "lines/data/0/price/id",
		product:      "lines/data/0/price/product",
		canceledAt:   "canceled_at",
	},
}

// Supported reports whether the event type has a normalization rule.
func Supported(eventType string) bool {
	_, ok := eventPaths[eventType]
	return ok
}

// ParseEnvelope decodes the outer event envelope. The raw bytes must
// already have passed signature verification.
func ParseEnvelope(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &ValidationError{Path: "type"}
	}
	if env.Type == "" {
		return nil, &ValidationError{Path: "type"}
	}
	return &env, nil
}

// Normalize projects a loosely-typed provider payload onto a
// subfold.NormalizedEvent using the event type's path table. Unrecognized
// event types return nil without error.
func Normalize(object map[string]interface{}, eventType string) (*subfold.NormalizedEvent, error) {
	paths, ok := eventPaths[eventType]
	if !ok {
		return nil, nil
	}
	if object == nil {
		return nil, &ValidationError{Path: "data/object"}
	}

	ev := &subfold.NormalizedEvent{}
	var err error

	if ev.CustomerRef, err = extractString(object, paths.customer); err != nil {
		return nil, err
	}
	if paths.email != "" {
		if ev.Email, err = extractString(object, paths.email); err != nil {
			return nil, err
		}
	}
	if paths.subscription != "" {
		if ev.SubscriptionRef, err = extractString(object, paths.subscription); err != nil {
			return nil, err
		}
	}
	if paths.price != "" {
		if ev.PriceRef, err = extractString(object, paths.price); err != nil {
			return nil, err
		}
	}
	if paths.product != "" {
		if ev.ProductRef, err = extractString(object, paths.product); err != nil {
			return nil, err
		}
	}
	if paths.periodEnd != "" {
		end, err := extractTimestamp(object, paths.periodEnd)
		if err != nil {
			return nil, err
		}
		ev.CurrentPeriodEnd = &end
	}
	if paths.billingReason != "" {
		if ev.BillingReason, err = extractString(object, paths.billingReason); err != nil {
			return nil, err
		}
	}
	if paths.amountPaid != "" {
		if ev.AmountPaid, err = extractInt(object, paths.amountPaid); err != nil {
			return nil, err
		}
	}
	if paths.status != "" {
		if ev.ProviderStatus, err = extractString(object, paths.status); err != nil {
			return nil, err
		}
	}
	if paths.cancelAtPeriodEnd != "" {
		flag, ok, err := extractOptionalBool(object, paths.cancelAtPeriodEnd)
		if err != nil {
			return nil, err
		}
		if ok {
			ev.CancelAtPeriodEnd = flag
		}
	}
	if paths.canceledAt != "" {
		at, ok, err := extractOptionalTimestamp(object, paths.canceledAt)
		if err != nil {
			return nil, err
		}
		if ok {
			ev.CanceledAt = &at
		}
	}

	return ev, nil
}

// lookup walks a slash-separated path through nested maps and arrays.
func lookup(root interface{}, path string) (interface{}, bool) {
	current := root
	for _, part := range strings.Split(path, "/") {
		switch node := current.(type) {
		case map[string]interface{}:
			next, ok := node[part]
			if !ok {
				return nil, false
			}
			current = next
		case []interface{}:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

func extractString(object map[string]interface{}, path string) (string, error) {
	v, ok := lookup(object, path)
	if !ok {
		return "", &ValidationError{Path: path}
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", &ValidationError{Path: path}
	}
	return s, nil
}

// extractInt accepts any JSON number with an integral value. encoding/json
// decodes numbers as float64, which is exact for the minor-unit amounts and
// Unix timestamps the provider sends.
func extractInt(object map[string]interface{}, path string) (int64, error) {
	v, ok := lookup(object, path)
	if !ok {
		return 0, &ValidationError{Path: path}
	}
	f, ok := v.(float64)
	if !ok || f != float64(int64(f)) {
		return 0, &ValidationError{Path: path}
	}
	return int64(f), nil
}

func extractTimestamp(object map[string]interface{}, path string) (time.Time, error) {
	n, err := extractInt(object, path)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(n, 0).UTC(), nil
}

func extractOptionalBool(object map[string]interface{}, path string) (bool, bool, error) {
	v, ok := lookup(object, path)
	if !ok || v == nil {
		return false, false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, false, &ValidationError{Path: path}
	}
	return b, true, nil
}

func extractOptionalTimestamp(object map[string]interface{}, path string) (time.Time, bool, error) {
	v, ok := lookup(object, path)
	if !ok || v == nil {
		return time.Time{}, false, nil
	}
	f, ok := v.(float64)
	if !ok || f != float64(int64(f)) {
		return time.Time{}, false, &ValidationError{Path: path}
	}
	return time.Unix(int64(f), 0).UTC(), true, nil
}
