package httpapi

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"payerbook.org/internal/account"
	"payerbook.org/internal/audit"
	"payerbook.org/internal/auth"
	"payerbook.org/internal/obs"
)

const (
	refreshCookieName = "refreshToken"

	msgLoginOK    = "Login successful"
	msgSignupOK   = "Signup successful"
	msgLogoutOK   = "Logout successful"
	msgNoRefresh  = "Refresh Token is required"
	msgBadRefresh = "Invalid Refresh Token!"
)

type sessionResponse struct {
	Message     string `json:"message"`
	AccessToken string `json:"accessToken"`
}

type refreshResponse struct {
	AccessToken string `json:"accessToken"`
}

func (a *API) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req account.SignupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	user, pair, err := a.accounts.Signup(r.Context(), req)
	if err != nil {
		obs.RecordAuthEvent("signup", "failure")
		handleAccountError(w, r, err)
		return
	}
	obs.RecordAuthEvent("signup", "success")
	_ = audit.LogEvent(r.Context(), "auth.signup", map[string]any{"user_id": user.ID})

	a.setRefreshCookie(w, pair)
	writeSuccess(w, http.StatusCreated, sessionResponse{Message: msgSignupOK, AccessToken: pair.AccessToken})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds account.Credentials
	if err := decodeJSON(r, &creds); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	user, pair, err := a.accounts.Login(r.Context(), creds)
	if err != nil {
		obs.RecordAuthEvent("login", "failure")
		handleAccountError(w, r, err)
		return
	}
	obs.RecordAuthEvent("login", "success")
	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{"user_id": user.ID})

	a.setRefreshCookie(w, pair)
	writeSuccess(w, http.StatusOK, sessionResponse{Message: msgLoginOK, AccessToken: pair.AccessToken})
}

// handleLogout clears the refresh cookie and, when revocation is enabled,
// invalidates the presented refresh token. It always succeeds.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(refreshCookieName); err == nil && c.Value != "" {
		if err := a.tokens.RevokeRefresh(r.Context(), c.Value); err != nil && !errors.Is(err, auth.ErrInvalidRefreshToken) {
			obs.Logger().Warn("refresh revocation failed",
				zap.String("request_id", RequestIDFromContext(r.Context())),
				zap.Error(err))
		}
	}
	obs.RecordAuthEvent("logout", "success")
	_ = audit.LogEvent(r.Context(), "auth.logout", nil)

	a.clearRefreshCookie(w)
	writeSuccess(w, http.StatusOK, msgLogoutOK)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(refreshCookieName)
	if err != nil || c.Value == "" {
		obs.RecordAuthEvent("refresh", "missing")
		writeError(w, r, http.StatusUnauthorized, msgNoRefresh)
		return
	}
	pair, err := a.tokens.RotateRefresh(r.Context(), c.Value)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidRefreshToken) {
			obs.RecordAuthEvent("refresh", "rejected")
			writeError(w, r, http.StatusForbidden, msgBadRefresh)
			return
		}
		obs.RecordAuthEvent("refresh", "failure")
		serverError(w, r, err)
		return
	}
	obs.RecordAuthEvent("refresh", "success")

	a.setRefreshCookie(w, pair)
	writeJSON(w, http.StatusOK, refreshResponse{AccessToken: pair.AccessToken})
}

func (a *API) setRefreshCookie(w http.ResponseWriter, pair auth.TokenPair) {
	maxAge := int(pair.RefreshTTL.Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    pair.RefreshToken,
		Path:     "/",
		Expires:  pair.RefreshExpiresAt,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   a.secureCookie,
		SameSite: http.SameSiteStrictMode,
	})
}

func (a *API) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.secureCookie,
		SameSite: http.SameSiteStrictMode,
	})
}

func handleAccountError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, account.ErrAccountNotFound):
		writeError(w, r, http.StatusNotFound, "Account not found")
	case errors.Is(err, account.ErrIncorrectPassword):
		writeError(w, r, http.StatusUnauthorized, "Incorrect password")
	case errors.Is(err, account.ErrAllFieldsRequired):
		writeError(w, r, http.StatusBadRequest, "All fields must be filled")
	case errors.Is(err, account.ErrInvalidEmail):
		writeError(w, r, http.StatusBadRequest, "Invalid email address")
	case errors.Is(err, account.ErrPasswordMismatch):
		writeError(w, r, http.StatusBadRequest, "Passwords need to match")
	case errors.Is(err, account.ErrEmailInUse):
		writeError(w, r, http.StatusBadRequest, "Account already associated with this email")
	default:
		serverError(w, r, err)
	}
}

// serverError logs the cause and answers with the generic 500 message.
func serverError(w http.ResponseWriter, r *http.Request, err error) {
	obs.Logger().Error("request failed",
		zap.String("request_id", RequestIDFromContext(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Error(err))
	writeError(w, r, http.StatusInternalServerError, msgServerError)
}
