package middleware

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/laniot/laniot-signer/pkg/logging"
	"github.com/laniot/laniot-signer/pkg/webservice/response"
)

var (
	ErrAuthorizationHeaderRequired = errors.New("middleware/auth: bearer authorization header required")
	ErrInvalidToken                = errors.New("middleware/auth: invalid token")
	ErrNoCredentials               = errors.New("middleware/auth: no credentials configured")
)

// Authenticator guards a route. Verify calls next only when the request
// carries valid credentials and answers 401 otherwise.
type Authenticator interface {
	Verify(w http.ResponseWriter, r *http.Request, next http.HandlerFunc)
}

type AuthParams struct {
	Logger         *logging.Logger
	ResponseWriter response.HttpWriter
	// Shared static bearer token. Empty rejects every request.
	Token string
	// HS256 secret. When set, bearer tokens are verified as JSON Web Tokens
	// and Token is ignored.
	JWTSecret string
	Audience  string
	Issuer    string
	// Resolves the client address recorded in security logs
	ClientAddress func(r *http.Request) string
}

// Returns a JWT authenticator when a JWT secret is configured, otherwise
// a static bearer token authenticator.
func NewAuthenticator(params *AuthParams) Authenticator {
	logger := params.Logger
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	writer := params.ResponseWriter
	if writer == nil {
		writer = response.NewResponseWriter(logger)
	}
	clientAddress := params.ClientAddress
	if clientAddress == nil {
		clientAddress = func(r *http.Request) string { return r.RemoteAddr }
	}
	base := authenticator{
		logger:        logger,
		writer:        writer,
		clientAddress: clientAddress,
	}
	if params.JWTSecret != "" {
		return &JsonWebTokenMiddleware{
			authenticator: base,
			secret:        []byte(params.JWTSecret),
			audience:      params.Audience,
			issuer:        params.Issuer,
		}
	}
	return &BearerTokenMiddleware{
		authenticator: base,
		token:         []byte(params.Token),
	}
}

type authenticator struct {
	logger        *logging.Logger
	writer        response.HttpWriter
	clientAddress func(r *http.Request) string
}

func (a authenticator) unauthorized(w http.ResponseWriter, r *http.Request, err error) {
	a.logger.Security(logging.SecurityLogEntry{
		Severity:        logging.SeverityMedium,
		Category:        logging.CategoryAuthentication,
		Description:     "rejected signing request credentials",
		Details:         err.Error(),
		Source:          logging.SourceAuthentication,
		OffenderAddress: a.clientAddress(r),
	})
	a.writer.Error(w, r, http.StatusUnauthorized, response.ErrorUnauthorized, nil)
}

// BearerTokenMiddleware compares the bearer token against a shared secret
// in constant time.
type BearerTokenMiddleware struct {
	authenticator
	token []byte
}

func (m *BearerTokenMiddleware) Verify(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	if len(m.token) == 0 {
		m.unauthorized(w, r, ErrNoCredentials)
		return
	}
	presented, err := BearerToken(r)
	if err != nil {
		m.unauthorized(w, r, err)
		return
	}
	if subtle.ConstantTimeCompare([]byte(presented), m.token) != 1 {
		m.unauthorized(w, r, ErrInvalidToken)
		return
	}
	next(w, r)
}

// JsonWebTokenMiddleware verifies HS256 signed tokens with a required
// expiration and, when configured, audience and issuer.
type JsonWebTokenMiddleware struct {
	authenticator
	secret   []byte
	audience string
	issuer   string
}

func (m *JsonWebTokenMiddleware) Verify(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	tokenString, err := BearerToken(r)
	if err != nil {
		m.unauthorized(w, r, err)
		return
	}
	claims, err := m.ParseTokenString(tokenString)
	if err != nil {
		m.unauthorized(w, r, err)
		return
	}
	m.logger.Debug("middleware/auth: token accepted", "subject", claims.Subject)
	next(w, r)
}

func (m *JsonWebTokenMiddleware) ParseTokenString(tokenString string) (*jwt.RegisteredClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.NewParser(opts...).ParseWithClaims(tokenString, claims, m.KeyFunc)
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (m *JsonWebTokenMiddleware) KeyFunc(token *jwt.Token) (interface{}, error) {
	return m.secret, nil
}

// Returns the credentials of a "Bearer <token>" Authorization header
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrAuthorizationHeaderRequired
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrAuthorizationHeaderRequired
	}
	return token, nil
}
