package api

// CredentialsRequest is the body of POST /register and POST /login.
type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegisterResponse is returned by a successful registration.
type RegisterResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	UserID  string `json:"user_id"`
}

// LoginResponse is returned by a successful login. SessionToken is the
// bearer token for clients that cannot keep cookies.
type LoginResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	Username     string `json:"username"`
	SessionToken string `json:"session_token"`
}

// StatusResponse carries a bare outcome: every failure, and logout.
type StatusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// CheckAuthResponse is returned by GET /check-auth.
type CheckAuthResponse struct {
	Authenticated bool   `json:"authenticated"`
	Username      string `json:"username,omitempty"`
}
