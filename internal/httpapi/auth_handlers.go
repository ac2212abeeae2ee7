package httpapi

import (
	"net/http"
	"strings"
	"time"

	"booky.app/internal/auth"
	"booky.app/internal/registration"
	"booky.app/internal/session"
	"booky.app/internal/users"
)

type registerRequest struct {
	Email           string  `json:"email"`
	Password        string  `json:"password"`
	Username        string  `json:"username"`
	FirstName       string  `json:"first_name"`
	LastName        string  `json:"last_name"`
	Gender          string  `json:"gender"`
	WeeklyReadTime  *int    `json:"weekly_read_time"`
	YearlyReadCount *int    `json:"yearly_read_count"`
	CategoryIDs     []int64 `json:"category_ids"`
}

type completeRequest struct {
	Token           string  `json:"token"`
	Username        string  `json:"username"`
	FirstName       string  `json:"first_name"`
	LastName        string  `json:"last_name"`
	Gender          string  `json:"gender"`
	WeeklyReadTime  *int    `json:"weekly_read_time"`
	YearlyReadCount *int    `json:"yearly_read_count"`
	CategoryIDs     []int64 `json:"category_ids"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

type userView struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	Username        string    `json:"username"`
	FirstName       string    `json:"first_name"`
	LastName        string    `json:"last_name"`
	Gender          string    `json:"gender"`
	WeeklyReadTime  *int      `json:"weekly_read_time"`
	YearlyReadCount *int      `json:"yearly_read_count"`
	CategoryIDs     []int64   `json:"category_ids"`
	CreatedAt       time.Time `json:"created_at"`
}

func viewOf(u *users.User) *userView {
	cats := u.CategoryIDs
	if cats == nil {
		cats = []int64{}
	}
	return &userView{
		ID:              u.ID,
		Email:           u.Email,
		Username:        u.Username,
		FirstName:       u.FirstName,
		LastName:        u.LastName,
		Gender:          u.Gender,
		WeeklyReadTime:  u.WeeklyReadTime,
		YearlyReadCount: u.YearlyReadCount,
		CategoryIDs:     cats,
		CreatedAt:       u.CreatedAt,
	}
}

type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	RefreshExpiresIn int64     `json:"refresh_expires_in,omitempty"`
	User             *userView `json:"user,omitempty"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	_, err := a.reg.Register(r.Context(), registration.Request{
		Email:    req.Email,
		Password: req.Password,
		Profile: registration.Profile{
			Username:        strings.TrimSpace(req.Username),
			FirstName:       req.FirstName,
			LastName:        req.LastName,
			Gender:          req.Gender,
			WeeklyReadTime:  req.WeeklyReadTime,
			YearlyReadCount: req.YearlyReadCount,
			CategoryIDs:     req.CategoryIDs,
		},
	}, requestContext(r))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":  "pending",
		"message": "confirmation email sent",
	})
}

func (a *API) handleResend(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.reg.Resend(r.Context(), req.Email); err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":  "pending",
		"message": "if a registration is pending, the email was sent again",
	})
}

func (a *API) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		writeError(w, r, http.StatusBadRequest, "token is required")
		return
	}
	already, err := a.reg.Verify(r.Context(), token, requestContext(r))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "verified",
		"already_verified": already,
	})
}

func (a *API) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	u, err := a.reg.Complete(r.Context(), req.Token, registration.Profile{
		Username:        req.Username,
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		Gender:          req.Gender,
		WeeklyReadTime:  req.WeeklyReadTime,
		YearlyReadCount: req.YearlyReadCount,
		CategoryIDs:     req.CategoryIDs,
	}, requestContext(r))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user_id": u.ID})
}

func (a *API) handleUsernameAvailable(w http.ResponseWriter, r *http.Request) {
	available, err := a.reg.UsernameAvailable(r.Context(), r.URL.Query().Get("username"))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"available": available})
}

// writeGrant renders a login or refresh outcome. In cookie mode the refresh
// token stays server-side and only the session id reaches the client.
func (a *API) writeGrant(w http.ResponseWriter, grant session.Grant, u *users.User) {
	now := time.Now()
	resp := tokenResponse{
		AccessToken: grant.Access.Raw,
		TokenType:   "Bearer",
		ExpiresIn:   int64(grant.Access.Remaining(now).Seconds()),
	}
	if u != nil {
		resp.User = viewOf(u)
	}
	if a.cookieMode() {
		// Re-set on every refresh so the cookie tracks the server-side session.
		if grant.SessionID != "" && grant.SessionTTL > 0 {
			a.cookie.set(w, grant.SessionID, grant.SessionTTL)
		}
	} else if grant.Refresh.Raw != "" {
		resp.RefreshToken = grant.Refresh.Raw
		resp.RefreshExpiresIn = int64(grant.Refresh.Remaining(now).Seconds())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.auth.Login(r.Context(), req.Email, req.Password, requestContext(r))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	a.writeGrant(w, res.Grant, res.User)
}

func (a *API) credentials(r *http.Request) session.Credentials {
	creds := session.Credentials{SessionID: a.cookie.read(r)}
	if !a.cookieMode() && r.ContentLength != 0 {
		var req refreshRequest
		if err := decodeJSON(nil, r, &req); err == nil {
			creds.RefreshToken = strings.TrimSpace(req.RefreshToken)
		}
	}
	return creds
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	grant, err := a.auth.Refresh(r.Context(), a.credentials(r), requestContext(r))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	a.writeGrant(w, grant, nil)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	access, _ := extractBearerToken(r.Header.Get(authHeader))
	creds := a.credentials(r)
	if a.cookieMode() {
		a.cookie.clear(w)
	}
	if err := a.auth.Logout(r.Context(), access, creds, requestContext(r)); err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	u, err := a.auth.Me(r.Context(), p)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(u))
}

func (a *API) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, _ := auth.PrincipalFrom(r.Context())
	creds := session.Credentials{SessionID: a.cookie.read(r)}
	if err := a.auth.DeleteAccount(r.Context(), p, req.Password, creds, requestContext(r)); err != nil {
		writeAuthError(w, r, err)
		return
	}
	if a.cookieMode() {
		a.cookie.clear(w)
	}
	w.WriteHeader(http.StatusNoContent)
}
