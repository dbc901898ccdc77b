package payment

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Field is a parameter name of the processor's redirect / notification vocabulary.
type Field string

// Redirect request fields, in the processor's documented order.
const (
	FieldMerchantID          Field = "merchant_id"
	FieldMerchantKey         Field = "merchant_key"
	FieldReturnURL           Field = "return_url"
	FieldCancelURL           Field = "cancel_url"
	FieldNotifyURL           Field = "notify_url"
	FieldNameFirst           Field = "name_first"
	FieldNameLast            Field = "name_last"
	FieldEmailAddress        Field = "email_address"
	FieldCellNumber          Field = "cell_number"
	FieldPaymentRef          Field = "m_payment_id"
	FieldAmount              Field = "amount"
	FieldItemName            Field = "item_name"
	FieldItemDescription     Field = "item_description"
	FieldCustomInt1          Field = "custom_int1"
	FieldCustomInt2          Field = "custom_int2"
	FieldCustomInt3          Field = "custom_int3"
	FieldCustomInt4          Field = "custom_int4"
	FieldCustomInt5          Field = "custom_int5"
	FieldCustomStr1          Field = "custom_str1"
	FieldCustomStr2          Field = "custom_str2"
	FieldCustomStr3          Field = "custom_str3"
	FieldCustomStr4          Field = "custom_str4"
	FieldCustomStr5          Field = "custom_str5"
	FieldEmailConfirmation   Field = "email_confirmation"
	FieldConfirmationAddress Field = "confirmation_address"
	FieldPaymentMethod       Field = "payment_method"
	FieldSubscriptionType    Field = "subscription_type"
	FieldBillingDate         Field = "billing_date"
	FieldRecurringAmount     Field = "recurring_amount"
	FieldFrequency           Field = "frequency"
	FieldCycles              Field = "cycles"
)

// Notification-only fields.
const (
	FieldProcessorPaymentID Field = "pf_payment_id"
	FieldPaymentStatus      Field = "payment_status"
	FieldSubscriptionStatus Field = "subscription_status"
	FieldAmountGross        Field = "amount_gross"
	FieldAmountFee          Field = "amount_fee"
	FieldAmountNet          Field = "amount_net"
	FieldToken              Field = "token"
)

// Never part of a canonical string.
const (
	FieldSignature  Field = "signature"
	FieldPassphrase Field = "passphrase"
)

// FieldUserRef carries the owning user id on both legs of the protocol.
const FieldUserRef = FieldCustomStr1

// RequestOrder is the canonical order of a redirect request.
var RequestOrder = []Field{
	FieldMerchantID, FieldMerchantKey, FieldReturnURL, FieldCancelURL, FieldNotifyURL,
	FieldNameFirst, FieldNameLast, FieldEmailAddress, FieldCellNumber,
	FieldPaymentRef, FieldAmount, FieldItemName, FieldItemDescription,
	FieldCustomInt1, FieldCustomInt2, FieldCustomInt3, FieldCustomInt4, FieldCustomInt5,
	FieldCustomStr1, FieldCustomStr2, FieldCustomStr3, FieldCustomStr4, FieldCustomStr5,
	FieldEmailConfirmation, FieldConfirmationAddress, FieldPaymentMethod,
	FieldSubscriptionType, FieldBillingDate, FieldRecurringAmount, FieldFrequency, FieldCycles,
}

// NotificationOrder is the canonical order of an inbound notification.
var NotificationOrder = []Field{
	FieldPaymentRef, FieldProcessorPaymentID, FieldPaymentStatus, FieldItemName, FieldItemDescription,
	FieldAmountGross, FieldAmountFee, FieldAmountNet,
	FieldCustomStr1, FieldCustomStr2, FieldCustomStr3, FieldCustomStr4, FieldCustomStr5,
	FieldCustomInt1, FieldCustomInt2, FieldCustomInt3, FieldCustomInt4, FieldCustomInt5,
	FieldNameFirst, FieldNameLast, FieldEmailAddress, FieldMerchantID, FieldToken, FieldBillingDate,
	FieldSubscriptionStatus,
}

var knownFields = func() map[Field]struct{} {
	m := make(map[Field]struct{}, len(RequestOrder)+len(NotificationOrder)+2)
	for _, f := range RequestOrder {
		m[f] = struct{}{}
	}
	for _, f := range NotificationOrder {
		m[f] = struct{}{}
	}
	m[FieldSignature] = struct{}{}
	m[FieldPassphrase] = struct{}{}
	return m
}()

// Known reports whether f belongs to the processor vocabulary.
func (f Field) Known() bool {
	_, ok := knownFields[f]
	return ok
}

// Fields is a set of present, non-empty parameter values. The zero value is
// ready to use. Values are stored trimmed; empty values are never stored.
type Fields struct {
	values map[Field]string
}

// NewFields builds a set from name/value pairs, see Set for coercion rules.
func NewFields(kv map[Field]any) Fields {
	var f Fields
	for k, v := range kv {
		f.Set(k, v)
	}
	return f
}

// Set stores v under name after coercing it to a trimmed string. nil, empty
// and whitespace-only values remove the field.
func (f *Fields) Set(name Field, v any) {
	s := coerce(v)
	if s == "" {
		if f.values != nil {
			delete(f.values, name)
		}
		return
	}
	if f.values == nil {
		f.values = make(map[Field]string)
	}
	f.values[name] = s
}

func (f Fields) Get(name Field) string { return f.values[name] }

func (f Fields) Has(name Field) bool {
	_, ok := f.values[name]
	return ok
}

func (f Fields) Len() int { return len(f.values) }

// Clone returns an independent copy.
func (f Fields) Clone() Fields {
	out := Fields{values: make(map[Field]string, len(f.values))}
	for k, v := range f.values {
		out.values[k] = v
	}
	return out
}

// Without returns a copy minus names.
func (f Fields) Without(names ...Field) Fields {
	out := f.Clone()
	for _, n := range names {
		delete(out.values, n)
	}
	return out
}

// Ordered lists present field names: those in order first, in that order,
// then the remaining ones lexicographically.
func (f Fields) Ordered(order []Field) []Field {
	out := make([]Field, 0, len(f.values))
	seen := make(map[Field]struct{}, len(order))
	for _, name := range order {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if f.Has(name) {
			out = append(out, name)
		}
	}
	extra := make([]Field, 0)
	for name := range f.values {
		if _, ok := seen[name]; !ok {
			extra = append(extra, name)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(out, extra...)
}

// Equal reports whether both sets hold the same names and values.
func (f Fields) Equal(o Fields) bool {
	if len(f.values) != len(o.values) {
		return false
	}
	for k, v := range f.values {
		if ov, ok := o.values[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// ParseFields reads an inbound form body. The first value of each key wins.
func ParseFields(form url.Values) Fields {
	var f Fields
	for k, vs := range form {
		if len(vs) == 0 {
			continue
		}
		f.Set(Field(k), vs[0])
	}
	return f
}

func coerce(v any) string {
	var s string
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		s = x
	case *string:
		if x == nil {
			return ""
		}
		s = *x
	case int:
		s = strconv.Itoa(x)
	case int32:
		s = strconv.FormatInt(int64(x), 10)
	case int64:
		s = strconv.FormatInt(x, 10)
	case uint:
		s = strconv.FormatUint(uint64(x), 10)
	case uint64:
		s = strconv.FormatUint(x, 10)
	case float64:
		s = strconv.FormatFloat(x, 'f', -1, 64)
	case decimal.Decimal:
		s = x.StringFixed(2)
	case bool:
		if x {
			s = "1"
		} else {
			s = "0"
		}
	case time.Time:
		if x.IsZero() {
			return ""
		}
		s = x.Format("2006-01-02")
	case fmt.Stringer:
		s = x.String()
	default:
		s = fmt.Sprint(x)
	}
	return strings.TrimSpace(s)
}
