package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/MarcoPoloResearchLab/signin/internal/auth"
	"github.com/MarcoPoloResearchLab/signin/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultProvider = "google"
	indexDocument   = "index.html"

	errorMissingIDToken = "Missing ID token"
	errorInvalidIDToken = "Invalid ID token"
)

var (
	errMissingVerifier    = errors.New("token verifier dependency required")
	errMissingUserService = errors.New("user service dependency required")
)

// TokenVerifier checks a provider ID token against the configured audience.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (auth.Claims, error)
}

// UserService performs the login upsert and the phone update.
type UserService interface {
	Login(ctx context.Context, claims auth.Claims) (users.User, error)
	AddPhone(ctx context.Context, id string, phone *string) (*users.User, error)
}

// Dependencies wires the collaborators served by NewHTTPHandler.
type Dependencies struct {
	Verifier    TokenVerifier
	UserService UserService
	Provider    string
	StaticDir   string
	Logger      *zap.Logger
}

// NewHTTPHandler builds the gin router for the login, add-phone and static routes.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Verifier == nil {
		return nil, errMissingVerifier
	}
	if deps.UserService == nil {
		return nil, errMissingUserService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	provider := strings.TrimSpace(deps.Provider)
	if provider == "" {
		provider = defaultProvider
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(requestLogMiddleware(logger))
	router.Use(corsMiddleware())

	handler := &httpHandler{
		verifier: deps.Verifier,
		users:    deps.UserService,
		logger:   logger,
	}

	router.POST("/auth/"+provider+"/idtoken", handler.handleIDTokenLogin)
	// The caller is trusted to own userId; no verified identity is tied to this route.
	router.POST("/auth/add-phone", handler.handleAddPhone)

	if staticDir := strings.TrimSpace(deps.StaticDir); staticDir != "" {
		router.StaticFile("/", filepath.Join(staticDir, indexDocument))
		router.NoRoute(staticFiles(staticDir))
	}

	return router, nil
}

type httpHandler struct {
	verifier TokenVerifier
	users    UserService
	logger   *zap.Logger
}

type loginRequestPayload struct {
	IDToken json.RawMessage `json:"idToken"`
}

// presentedToken reports the token to verify. Absent, null, empty, false and zero values count as missing;
// any other non-string value is passed through as its JSON text and fails verification.
func (p loginRequestPayload) presentedToken() (string, bool) {
	var value any
	if len(p.IDToken) == 0 || json.Unmarshal(p.IDToken, &value) != nil {
		return "", false
	}
	switch typed := value.(type) {
	case nil:
		return "", false
	case string:
		return typed, typed != ""
	case bool:
		if !typed {
			return "", false
		}
	case float64:
		if typed == 0 {
			return "", false
		}
	}
	return string(p.IDToken), true
}

type loginResponsePayload struct {
	User loginUserPayload `json:"user"`
}

type loginUserPayload struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Email   string  `json:"email"`
	Picture string  `json:"picture"`
	Phone   *string `json:"phone"`
}

func (h *httpHandler) handleIDTokenLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorMissingIDToken})
		return
	}
	token, present := request.presentedToken()
	if !present {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorMissingIDToken})
		return
	}

	claims, err := h.verifier.Verify(c.Request.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrMissingToken) {
			c.JSON(http.StatusBadRequest, gin.H{"error": errorMissingIDToken})
			return
		}
		h.logger.Warn("id token verification failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": errorInvalidIDToken})
		return
	}

	user, err := h.users.Login(c.Request.Context(), claims)
	if err != nil {
		h.logger.Error("failed to persist user", zap.Error(err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	c.JSON(http.StatusOK, loginResponsePayload{
		User: loginUserPayload{
			ID:      user.ID,
			Name:    user.DisplayName,
			Email:   user.Email,
			Picture: user.PictureURL,
			Phone:   user.Phone,
		},
	})
}

type addPhoneRequestPayload struct {
	UserID string  `json:"userId"`
	Phone  *string `json:"phone"`
}

type addPhoneResponsePayload struct {
	Success bool                 `json:"success"`
	User    *userDocumentPayload `json:"user"`
}

type userDocumentPayload struct {
	ID         string  `json:"id"`
	ExternalID string  `json:"externalId"`
	Email      string  `json:"email"`
	Name       string  `json:"name"`
	Picture    string  `json:"picture"`
	Phone      *string `json:"phone"`
	Provider   string  `json:"provider"`
}

func (h *httpHandler) handleAddPhone(c *gin.Context) {
	var request addPhoneRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	user, err := h.users.AddPhone(c.Request.Context(), request.UserID, request.Phone)
	if err != nil {
		h.logger.Error("failed to update phone", zap.Error(err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	response := addPhoneResponsePayload{Success: true}
	if user != nil {
		response.User = &userDocumentPayload{
			ID:         user.ID,
			ExternalID: user.ExternalID,
			Email:      user.Email,
			Name:       user.DisplayName,
			Picture:    user.PictureURL,
			Phone:      user.Phone,
			Provider:   user.Provider,
		}
	}
	c.JSON(http.StatusOK, response)
}

func staticFiles(dir string) gin.HandlerFunc {
	fileServer := http.FileServer(gin.Dir(dir, false))
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		fileServer.ServeHTTP(c.Writer, c.Request)
	}
}
