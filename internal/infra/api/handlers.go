package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"net/http"
	"net/url"

	"github.com/go-playground/validator/v10"

	"premium-subscription-gateway/internal/domain"
	"premium-subscription-gateway/internal/infra/logging"
	"premium-subscription-gateway/internal/infra/payment"
	"premium-subscription-gateway/internal/usecase"
)

// maxNotifyBody caps what we read from the processor.
const maxNotifyBody = 64 << 10

var validate = validator.New()

type initiateRequest struct {
	Plan      string `json:"plan" validate:"required,max=64"`
	NameFirst string `json:"name_first" validate:"max=100"`
	NameLast  string `json:"name_last" validate:"max=100"`
	Email     string `json:"email" validate:"omitempty,email,max=100"`
}

func (r initiateRequest) toUseCase(userID string) usecase.InitiateRequest {
	return usecase.InitiateRequest{
		UserID:    userID,
		PlanCode:  r.Plan,
		NameFirst: r.NameFirst,
		NameLast:  r.NameLast,
		Email:     r.Email,
	}
}

type initiateResponse struct {
	SubscriptionID string                 `json:"subscription_id"`
	Status         string                 `json:"status"`
	Checkout       *payment.SignedRequest `json:"checkout"`
}

func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 16<<10)).Decode(&req); err != nil {
		writeError(w, domain.ErrInvalidArgument)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, domain.ErrInvalidArgument)
		return
	}

	co, err := s.subUC.Initiate(r.Context(), req.toUseCase(logging.UserIDFrom(r.Context())))
	if err != nil {
		s.logFailure(r, err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, initiateResponse{
		SubscriptionID: co.Subscription.ID,
		Status:         string(co.Subscription.Status),
		Checkout:       co.Request,
	})
}

// handleCheckout is the browser flavour of initiation: a form post answered by
// an auto-submitting form aimed at the processor.
func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 16<<10)
	if err := r.ParseForm(); err != nil {
		writeError(w, domain.ErrInvalidArgument)
		return
	}
	req := initiateRequest{
		Plan:      r.PostForm.Get("plan"),
		NameFirst: r.PostForm.Get("name_first"),
		NameLast:  r.PostForm.Get("name_last"),
		Email:     r.PostForm.Get("email"),
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, domain.ErrInvalidArgument)
		return
	}

	co, err := s.subUC.Initiate(r.Context(), req.toUseCase(logging.UserIDFrom(r.Context())))
	if err != nil {
		s.logFailure(r, err)
		writeError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := co.Request.RenderForm(&buf); err != nil {
		s.logFailure(r, err)
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleEntitlement(w http.ResponseWriter, r *http.Request) {
	userID := logging.UserIDFrom(r.Context())
	premium, err := s.entUC.IsPremium(r.Context(), userID)
	if err != nil {
		s.logFailure(r, err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		UserID  string `json:"user_id"`
		Premium bool   `json:"premium"`
	}{UserID: userID, Premium: premium})
}

// handleNotify always answers 200 OK. The processor retries anything else,
// and every rejection is final on our side.
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	defer func() {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}()

	l := logging.With(r.Context(), s.log)
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxNotifyBody))
	if err != nil {
		l.Warn().Err(err).Str("source_ip", r.RemoteAddr).Msg("unreadable notification body")
		return
	}
	form, err := url.ParseQuery(string(raw))
	if err != nil {
		l.Warn().Err(err).Str("source_ip", r.RemoteAddr).Msg("malformed notification body")
		return
	}

	s.notifyUC.Handle(r.Context(), usecase.Notification{
		Raw:      string(raw),
		Fields:   payment.ParseFields(form),
		SourceIP: r.RemoteAddr,
	})
}

var resultPage = template.Must(template.New("result").Parse(`<!doctype html>
<html lang="{{.Lang}}">
<head>
<meta charset="utf-8" />
<meta name="viewport" content="width=device-width,initial-scale=1" />
<title>{{.Title}}</title>
<style>
body{font-family:system-ui,Arial,sans-serif;margin:2rem;}
.card{max-width:560px;border:1px solid #ddd;border-radius:12px;padding:24px;}
.ok{color:#057a55} .fail{color:#b00020}
</style>
</head>
<body>
<div class="card">
  <h2 class="{{if .OK}}ok{{else}}fail{{end}}">{{.Title}}</h2>
  <p>{{.Msg}}</p>
</div>
</body>
</html>`))

// handleResultPage renders the page the processor sends the browser back to.
// It never changes state; only notifications do.
func (s *Server) handleResultPage(ok bool) http.HandlerFunc {
	prefix := "result.return."
	if !ok {
		prefix = "result.cancel."
	}
	return func(w http.ResponseWriter, r *http.Request) {
		tr := s.i18n.For(r.Header.Get("Accept-Language"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Content-Language", tr.Lang())
		w.WriteHeader(http.StatusOK)
		_ = resultPage.Execute(w, struct {
			Lang  string
			OK    bool
			Title string
			Msg   string
		}{Lang: tr.Lang(), OK: ok, Title: tr.T(prefix + "title"), Msg: tr.T(prefix + "message")})
	}
}

func (s *Server) logFailure(r *http.Request, err error) {
	l := logging.With(r.Context(), s.log)
	if statusFor(err) >= http.StatusInternalServerError {
		l.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		return
	}
	l.Debug().Err(err).Str("path", r.URL.Path).Msg("request rejected")
}

func statusFor(err error) int {
	var cerr *domain.ConfigurationError
	switch {
	case errors.As(err, &cerr):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeError never leaks internal detail; the status carries the meaning.
func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	writeJSON(w, code, struct {
		Error string `json:"error"`
	}{Error: http.StatusText(code)})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
