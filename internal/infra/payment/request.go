package payment

import (
	"encoding/json"
	"html/template"
	"io"
)

// Mode selects the processor environment.
type Mode string

const (
	ModeSandbox Mode = "sandbox"
	ModeLive    Mode = "live"
)

func (m Mode) Valid() bool { return m == ModeSandbox || m == ModeLive }

func (m Mode) baseURL() string {
	if m == ModeLive {
		return "https://www.payfast.co.za"
	}
	return "https://sandbox.payfast.co.za"
}

// ProcessURL is where the browser posts the signed redirect form.
func (m Mode) ProcessURL() string { return m.baseURL() + "/eng/process" }

// ValidateURL is the processor's notification confirmation endpoint.
func (m Mode) ValidateURL() string { return m.baseURL() + "/eng/query/validate" }

// Pair is one rendered form field.
type Pair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// SignedRequest is an outbound redirect: ordered fields, their signature and
// the target URL. It must reach the processor byte-for-byte unchanged.
type SignedRequest struct {
	Action    string
	Fields    Fields
	Signature string
}

// NewSignedRequest signs f in request order.
func NewSignedRequest(action string, f Fields, secret string) *SignedRequest {
	f = f.Without(FieldSignature, FieldPassphrase)
	return &SignedRequest{
		Action:    action,
		Fields:    f,
		Signature: Sign(f, RequestOrder, secret),
	}
}

// Pairs lists the form fields in canonical order with signature last. The
// processor recomputes the digest in the order it receives them.
func (r *SignedRequest) Pairs() []Pair {
	names := r.Fields.Ordered(RequestOrder)
	out := make([]Pair, 0, len(names)+1)
	for _, name := range names {
		out = append(out, Pair{Name: string(name), Value: r.Fields.Get(name)})
	}
	return append(out, Pair{Name: string(FieldSignature), Value: r.Signature})
}

func (r *SignedRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Action    string `json:"action"`
		Method    string `json:"method"`
		Fields    []Pair `json:"fields"`
		Signature string `json:"signature"`
	}{
		Action:    r.Action,
		Method:    "POST",
		Fields:    r.Pairs(),
		Signature: r.Signature,
	})
}

// html/template escapes attribute values; the browser decodes them back to
// the signed bytes before submitting.
var redirectForm = template.Must(template.New("redirect").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8" />
<meta name="viewport" content="width=device-width,initial-scale=1" />
<title>Redirecting to payment…</title>
</head>
<body onload="document.forms[0].submit()">
<form action="{{.Action}}" method="post">
{{range .Pairs}}<input type="hidden" name="{{.Name}}" value="{{.Value}}" />
{{end}}<noscript><button type="submit">Continue to payment</button></noscript>
</form>
</body>
</html>`))

// RenderForm writes an auto-submitting HTML form for the request.
func (r *SignedRequest) RenderForm(w io.Writer) error {
	return redirectForm.Execute(w, struct {
		Action string
		Pairs  []Pair
	}{
		Action: r.Action,
		Pairs:  r.Pairs(),
	})
}
