package api

import (
	"log/slog"
	"net/http"

	"github.com/jmcleod/chorus/auth"
	"github.com/jmcleod/chorus/internal/util"
)

// Register handles POST /register.
func (a *API) Register(w http.ResponseWriter, r *http.Request) {
	if ok, retry := a.limiter.allow(a.clientIP(r)); !ok {
		a.audit.logFailure(AuditRegisterRateLimited, r, "rate_limited")
		writeRateLimited(w, retry)
		return
	}

	req, ok := decodeJSON[CredentialsRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}

	userID, err := a.svc.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		a.audit.logFailure(AuditRegisterFailure, r, auth.ErrorCode(err))
		mapError(w, err)
		return
	}

	a.audit.logUser(AuditRegister, r, util.NormalizeName(req.Username), slog.String("user_id", userID))
	writeJSON(w, http.StatusCreated, RegisterResponse{
		Success: true,
		Message: "registration successful",
		UserID:  userID,
	})
}

// Login handles POST /login. On success the client receives the bearer
// token in the body and a sealed session cookie for the same identity.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	if ok, retry := a.limiter.allow(a.clientIP(r)); !ok {
		a.audit.logFailure(AuditLoginRateLimited, r, "rate_limited")
		writeRateLimited(w, retry)
		return
	}

	req, ok := decodeJSON[CredentialsRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}

	res, err := a.svc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		a.audit.logFailure(AuditLoginFailure, r, auth.ErrorCode(err))
		mapError(w, err)
		return
	}

	value, err := a.cookies.Encode(auth.CookieSession{
		UserID:   res.UserID,
		Username: res.Username,
		Token:    res.Token,
		IssuedAt: a.now().UTC(),
	})
	if err != nil {
		// Revoke the session that was never handed out.
		a.logger.ErrorContext(r.Context(), "sealing session cookie failed", "error", err)
		a.svc.Logout(r.Context(), auth.BearerToken{Token: res.Token})
		writeError(w, http.StatusInternalServerError, "login failed, please try again later")
		return
	}
	writeSessionCookie(w, value)

	a.audit.logUser(AuditLoginSuccess, r, res.Username, slog.String("user_id", res.UserID))
	writeJSON(w, http.StatusOK, LoginResponse{
		Success:      true,
		Message:      "login successful",
		Username:     res.Username,
		SessionToken: res.Token,
	})
}

// Logout handles POST /logout. It always succeeds: the bearer session, if
// any, is deleted and the cookie is cleared.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	sources := a.authSources(r)
	id := a.svc.CheckAuth(r.Context(), sources...)
	a.svc.Logout(r.Context(), sources...)
	clearSessionCookie(w)

	if id.Authenticated {
		a.audit.logUser(AuditLogout, r, id.Username, slog.String("source", id.Source))
	} else {
		a.audit.log(AuditLogout, r)
	}
	writeJSON(w, http.StatusOK, StatusResponse{Success: true, Message: "logged out"})
}

// CheckAuth handles GET /check-auth.
func (a *API) CheckAuth(w http.ResponseWriter, r *http.Request) {
	id := a.svc.CheckAuth(r.Context(), a.authSources(r)...)
	resp := CheckAuthResponse{Authenticated: id.Authenticated}
	if id.Authenticated {
		resp.Username = id.Username
	}
	writeJSON(w, http.StatusOK, resp)
}
