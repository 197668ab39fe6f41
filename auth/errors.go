package auth

import "github.com/samber/oops"

// Error codes carried by the oops errors this package returns.
const (
	CodeInvalidInput       = "AUTH_INVALID_INPUT"
	CodeUsernameTaken      = "AUTH_USERNAME_TAKEN"
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeInternal           = "AUTH_INTERNAL"
)

// Messages shown to callers.
const (
	msgFieldsRequired     = "username and password are required"
	msgUsernameTooShort   = "username must be at least 3 characters"
	msgPasswordTooShort   = "password must be at least 6 characters"
	msgUsernameTaken      = "username already exists"
	msgInvalidCredentials = "invalid username or password"
	msgRegisterFailed     = "registration failed, please try again later"
	msgLoginFailed        = "login failed, please try again later"
)

func invalidInput(msg string) error {
	return oops.Code(CodeInvalidInput).Public(msg).New(msg)
}

func usernameTaken(username string) error {
	return oops.Code(CodeUsernameTaken).
		Public(msgUsernameTaken).
		With("username", username).
		New(msgUsernameTaken)
}

func invalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Public(msgInvalidCredentials).New(msgInvalidCredentials)
}

func internal(public, operation string, err error) error {
	return oops.Code(CodeInternal).
		Public(public).
		With("operation", operation).
		Wrap(err)
}

// ErrorCode returns the code of an error produced by this package, or ""
// when err carries none.
func ErrorCode(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := oopsErr.Code().(string)
	return code
}

// PublicMessage returns the caller-safe message attached to err. Errors
// without one yield a generic message so store details never leak.
func PublicMessage(err error) string {
	if oopsErr, ok := oops.AsOops(err); ok {
		if msg := oopsErr.Public(); msg != "" {
			return msg
		}
	}
	return "an internal error occurred"
}
