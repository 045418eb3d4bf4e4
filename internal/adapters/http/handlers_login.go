package http

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gatekit/portal/internal/application"
	"github.com/gatekit/portal/internal/domain"
)

func (h *Handler) loginForm(w http.ResponseWriter, r *http.Request) {
	if identityFromContext(r.Context()) != nil {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	flash := ""
	if sid, ok := readSessionID(r); ok {
		msg, err := h.service.PopFlash(r.Context(), sid)
		if err != nil {
			httpLogger().WarnContext(r.Context(), "flash read failed",
				"operation", "login_form",
				"outcome", "failure",
				"request_id", requestIDFromContext(r.Context()),
				"error", err.Error(),
			)
		}
		flash = msg
	}

	h.render(w, r, "login", viewData{
		Flash: flash,
		Next:  r.URL.Query().Get("next"),
	})
}

func (h *Handler) loginSubmit(w http.ResponseWriter, r *http.Request) {
	if identityFromContext(r.Context()) != nil {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	if err := r.ParseForm(); err != nil {
		h.render(w, r, "login", viewData{Error: "Malformed form submission."})
		return
	}

	locator := r.PostFormValue("locator")
	remember := r.PostFormValue("remember") == "on"
	next := r.PostFormValue("next")
	sid := h.ensureSessionID(w, r)

	res, err := h.service.BeginLogin(r.Context(), application.BeginLoginRequest{
		SessionID: sid,
		Locator:   locator,
		Remember:  remember,
		Next:      next,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			h.render(w, r, "login", viewData{
				Error:   formMessage(err),
				Locator: locator,
				Next:    next,
			})
			return
		}
		logHandlerError(r, "login_submit", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, res.AuthorizeURL, http.StatusFound)
}

func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	sid, ok := readSessionID(r)
	if !ok {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	res, err := h.service.CompleteLogin(r.Context(), application.CompleteLoginRequest{
		SessionID: sid,
		Code:      r.URL.Query().Get("code"),
		State:     r.URL.Query().Get("state"),
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrIdentityIncomplete),
			errors.Is(err, domain.ErrUnauthorized),
			errors.Is(err, domain.ErrInvalidInput):
			http.Redirect(w, r, "/login", http.StatusFound)
		default:
			logHandlerError(r, "login_callback", err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
		return
	}

	if res.Remember {
		h.extendSessionCookie(w, sid, h.rememberTTL)
	}
	http.Redirect(w, r, res.RedirectURL, http.StatusFound)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if sid, ok := readSessionID(r); ok {
		if err := h.service.Logout(r.Context(), sid); err != nil {
			logHandlerError(r, "logout", err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
	}
	h.clearSessionCookie(w)
	http.Redirect(w, r, "/", http.StatusFound)
}

func (h *Handler) home(w http.ResponseWriter, r *http.Request) {
	user := identityFromContext(r.Context())
	if user == nil {
		http.Redirect(w, r, "/login?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusFound)
		return
	}
	h.render(w, r, "index", viewData{User: user})
}

// formMessage strips the sentinel prefix so the form shows only the
// human-readable part.
func formMessage(err error) string {
	msg := err.Error()
	prefix := domain.ErrInvalidInput.Error() + ": "
	if strings.HasPrefix(msg, prefix) {
		return strings.TrimPrefix(msg, prefix)
	}
	return msg
}

func logHandlerError(r *http.Request, operation string, err error) {
	httpLogger().ErrorContext(r.Context(), "http operation failed",
		"operation", operation,
		"outcome", "failure",
		"request_id", requestIDFromContext(r.Context()),
		"error", err.Error(),
	)
}
