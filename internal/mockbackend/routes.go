package mockbackend

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/storefront/pkg/sessionvalidator"
	"go.uber.org/zap"
)

type registerRequest struct {
	Name     string `json:"name" binding:"required,max=255"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=128"`
	Role     string `json:"role" binding:"omitempty,oneof=customer admin"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

type purchaseRequest struct {
	Quantity int `json:"quantity" binding:"required,gt=0"`
}

type userPayload struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at"`
}

type loginPayload struct {
	User         userPayload `json:"user"`
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
}

type paginationPayload struct {
	CurrentPage     int  `json:"currentPage"`
	Limit           int  `json:"limit"`
	TotalPages      int  `json:"totalPages"`
	HasNextPage     bool `json:"hasNextPage"`
	HasPreviousPage bool `json:"hasPreviousPage"`
}

type sweetListPayload struct {
	Items      []Sweet           `json:"items"`
	Total      int               `json:"total"`
	Pagination paginationPayload `json:"pagination"`
}

func newUserPayload(record UserRecord) userPayload {
	return userPayload{
		ID:        record.ID,
		Name:      record.Name,
		Email:     record.Email,
		Role:      record.Role,
		IsActive:  record.IsActive,
		CreatedAt: record.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func (server *Server) mountRoutes(router gin.IRouter) {
	router.POST("/auth/register", server.handleRegister)
	router.POST("/auth/login", server.handleLogin)
	router.POST("/auth/refresh", server.handleRefresh)

	protected := router.Group("")
	protected.Use(server.validator.GinMiddleware(claimsContextKey, server.rejectSession))
	protected.POST("/auth/logout", server.handleLogout)
	protected.GET("/auth/me", server.handleMe)
	protected.GET("/sweets", server.handleListSweets)
	protected.GET("/sweets/search", server.handleSearchSweets)
	protected.POST("/sweets/:id/purchase", server.handlePurchase)
	protected.POST("/sweets/:id/restock", sessionvalidator.RequireRole(claimsContextKey, server.rejectRole, RoleAdmin), server.handleRestock)
	protected.GET("/sweet/category", server.handleAllCategories)
	protected.GET("/sweet/category/active/list", server.handleCategories)
	protected.GET("/purchases/user/:userId", server.handleUserPurchases)
	protected.GET("/users", sessionvalidator.RequireRole(claimsContextKey, server.rejectRole, RoleAdmin), server.handleListUsers)
}

func (server *Server) rejectSession(contextGin *gin.Context, validateErr error) {
	switch {
	case errors.Is(validateErr, sessionvalidator.ErrMissingBearer):
		fail(contextGin, http.StatusUnauthorized, codeTokenMissing, "Access token is required")
	case errors.Is(validateErr, sessionvalidator.ErrTokenExpired):
		fail(contextGin, http.StatusUnauthorized, codeTokenExpired, "Access token has expired")
	default:
		fail(contextGin, http.StatusUnauthorized, codeTokenInvalid, "Access token is invalid")
	}
}

func (server *Server) rejectRole(contextGin *gin.Context, _ error) {
	fail(contextGin, http.StatusForbidden, codeForbidden, "Insufficient permissions")
}

func (server *Server) handleRegister(contextGin *gin.Context) {
	var inbound registerRequest
	if bindErr := contextGin.ShouldBindJSON(&inbound); bindErr != nil {
		fail(contextGin, http.StatusBadRequest, codeValidation, "Validation failed", bindFailure(&inbound, bindErr)...)
		return
	}
	record, registerErr := server.users.Register(contextGin, inbound.Name, inbound.Email, inbound.Password, inbound.Role)
	if registerErr != nil {
		if errors.Is(registerErr, ErrEmailTaken) {
			fail(contextGin, http.StatusConflict, codeUserExists, "User already exists", fieldError{Field: "email", Message: "Email is already registered"})
			return
		}
		server.internalError(contextGin, "api.register.failure", registerErr)
		return
	}
	respond(contextGin, http.StatusCreated, "User registered successfully", newUserPayload(record))
}

func (server *Server) handleLogin(contextGin *gin.Context) {
	var inbound loginRequest
	if bindErr := contextGin.ShouldBindJSON(&inbound); bindErr != nil {
		fail(contextGin, http.StatusBadRequest, codeValidation, "Validation failed", bindFailure(&inbound, bindErr)...)
		return
	}
	record, authErr := server.users.Authenticate(contextGin, inbound.Email, inbound.Password)
	if authErr != nil {
		fail(contextGin, http.StatusUnauthorized, codeInvalidCredentials, "Invalid email or password")
		return
	}
	accessToken, _, mintErr := MintAccessToken(record, server.configuration.Issuer, server.configuration.SigningKey, server.configuration.Clock.Now(), server.configuration.AccessTTL)
	if mintErr != nil {
		server.internalError(contextGin, "api.login.mint", mintErr)
		return
	}
	_, refreshOpaque, issueErr := server.refreshTokens.Issue(contextGin, record.ID, server.configuration.RefreshTTL)
	if issueErr != nil {
		server.internalError(contextGin, "api.login.issue_refresh", issueErr)
		return
	}
	respond(contextGin, http.StatusOK, "Login successful", loginPayload{
		User:         newUserPayload(record),
		AccessToken:  accessToken,
		RefreshToken: refreshOpaque,
	})
}

func (server *Server) handleRefresh(contextGin *gin.Context) {
	var inbound refreshRequest
	if bindErr := contextGin.ShouldBindJSON(&inbound); bindErr != nil {
		fail(contextGin, http.StatusUnauthorized, codeTokenMissing, "Refresh token is required")
		return
	}
	userID, _, validateErr := server.refreshTokens.Validate(contextGin, inbound.RefreshToken)
	if validateErr != nil {
		code := codeTokenInvalid
		if errors.Is(validateErr, ErrRefreshTokenExpired) {
			code = codeTokenExpired
		}
		fail(contextGin, http.StatusUnauthorized, code, "Refresh token is invalid or expired")
		return
	}
	record, userErr := server.users.Get(contextGin, userID)
	if userErr != nil {
		fail(contextGin, http.StatusUnauthorized, codeUserNotFound, "User not found")
		return
	}
	accessToken, _, mintErr := MintAccessToken(record, server.configuration.Issuer, server.configuration.SigningKey, server.configuration.Clock.Now(), server.configuration.AccessTTL)
	if mintErr != nil {
		server.internalError(contextGin, "api.refresh.mint", mintErr)
		return
	}
	respond(contextGin, http.StatusOK, "Token refreshed successfully", gin.H{"accessToken": accessToken})
}

func (server *Server) handleLogout(contextGin *gin.Context) {
	claims, _ := sessionvalidator.ClaimsFromContext(contextGin, claimsContextKey)
	revoked := server.refreshTokens.RevokeUser(contextGin, claims.GetUserID())
	server.configuration.Logger.Debug("refresh tokens revoked",
		zap.String("code", "api.logout.revoked"),
		zap.Int64("user_id", claims.GetUserID()),
		zap.Int("count", revoked))
	respond(contextGin, http.StatusOK, "Logout successful", nil)
}

func (server *Server) handleMe(contextGin *gin.Context) {
	claims, _ := sessionvalidator.ClaimsFromContext(contextGin, claimsContextKey)
	record, userErr := server.users.Get(contextGin, claims.GetUserID())
	if userErr != nil {
		fail(contextGin, http.StatusNotFound, codeUserNotFound, "User not found")
		return
	}
	respond(contextGin, http.StatusOK, "User profile retrieved", newUserPayload(record))
}

func (server *Server) handleListSweets(contextGin *gin.Context) {
	query := SweetQuery{
		Page:      queryInt(contextGin, "page"),
		Limit:     queryInt(contextGin, "limit"),
		SortBy:    contextGin.Query("sortBy"),
		SortOrder: contextGin.Query("sortOrder"),
		Name:      strings.TrimSpace(contextGin.Query("name")),
		Category:  strings.TrimSpace(contextGin.Query("category")),
		MinPrice:  queryFloat(contextGin, "minPrice"),
		MaxPrice:  queryFloat(contextGin, "maxPrice"),
	}
	if query.Limit > 100 {
		query.Limit = 100
	}
	if inStock, parseErr := strconv.ParseBool(contextGin.Query("inStock")); parseErr == nil {
		query.InStock = &inStock
	}
	page := server.catalog.ListSweets(query)
	respond(contextGin, http.StatusOK, "Sweets retrieved successfully", sweetListPayload{
		Items: page.Items,
		Total: page.Total,
		Pagination: paginationPayload{
			CurrentPage:     page.Page,
			Limit:           page.Limit,
			TotalPages:      page.TotalPages,
			HasNextPage:     page.Page < page.TotalPages,
			HasPreviousPage: page.Page > 1,
		},
	})
}

func (server *Server) handlePurchase(contextGin *gin.Context) {
	sweetID, parseErr := strconv.ParseInt(contextGin.Param("id"), 10, 64)
	if parseErr != nil || sweetID <= 0 {
		fail(contextGin, http.StatusBadRequest, codeValidation, "Validation failed", fieldError{Field: "id", Message: "id must be a positive integer"})
		return
	}
	var inbound purchaseRequest
	if bindErr := contextGin.ShouldBindJSON(&inbound); bindErr != nil {
		fail(contextGin, http.StatusBadRequest, codeValidation, "Validation failed", bindFailure(&inbound, bindErr)...)
		return
	}
	claims, _ := sessionvalidator.ClaimsFromContext(contextGin, claimsContextKey)
	purchase, purchaseErr := server.catalog.Purchase(claims.GetUserID(), sweetID, inbound.Quantity)
	switch {
	case errors.Is(purchaseErr, ErrSweetNotFound):
		fail(contextGin, http.StatusNotFound, codeNotFound, "Sweet not found")
	case errors.Is(purchaseErr, ErrInsufficientStock):
		fail(contextGin, http.StatusUnprocessableEntity, codeInsufficientStock, "Insufficient stock", fieldError{Field: "quantity", Message: "Requested quantity exceeds stock"})
	case purchaseErr != nil:
		server.internalError(contextGin, "api.purchase.failure", purchaseErr)
	default:
		respond(contextGin, http.StatusCreated, "Purchase completed", purchase)
	}
}

func (server *Server) handleRestock(contextGin *gin.Context) {
	sweetID, parseErr := strconv.ParseInt(contextGin.Param("id"), 10, 64)
	if parseErr != nil || sweetID <= 0 {
		fail(contextGin, http.StatusBadRequest, codeValidation, "Validation failed", fieldError{Field: "id", Message: "id must be a positive integer"})
		return
	}
	var inbound purchaseRequest
	if bindErr := contextGin.ShouldBindJSON(&inbound); bindErr != nil {
		fail(contextGin, http.StatusBadRequest, codeValidation, "Validation failed", bindFailure(&inbound, bindErr)...)
		return
	}
	sweet, restockErr := server.catalog.Restock(sweetID, inbound.Quantity)
	switch {
	case errors.Is(restockErr, ErrSweetNotFound):
		fail(contextGin, http.StatusNotFound, codeNotFound, "Sweet not found")
	case restockErr != nil:
		server.internalError(contextGin, "api.restock.failure", restockErr)
	default:
		respond(contextGin, http.StatusOK, "Sweet restocked successfully", sweet)
	}
}

func (server *Server) handleSearchSweets(contextGin *gin.Context) {
	query := SweetQuery{
		Name:     strings.TrimSpace(contextGin.Query("q")),
		Category: strings.TrimSpace(contextGin.Query("category")),
		MinPrice: queryFloat(contextGin, "minPrice"),
		MaxPrice: queryFloat(contextGin, "maxPrice"),
	}
	if inStock, parseErr := strconv.ParseBool(contextGin.Query("inStock")); parseErr == nil {
		query.InStock = &inStock
	}
	respond(contextGin, http.StatusOK, "Search completed successfully", server.catalog.Search(query))
}

func (server *Server) handleCategories(contextGin *gin.Context) {
	respond(contextGin, http.StatusOK, "Categories retrieved successfully", server.catalog.ActiveCategories())
}

func (server *Server) handleAllCategories(contextGin *gin.Context) {
	respond(contextGin, http.StatusOK, "Categories retrieved successfully", server.catalog.Categories())
}

// handleUserPurchases serves the caller's own history; admins may read anyone's.
func (server *Server) handleUserPurchases(contextGin *gin.Context) {
	userID, parseErr := strconv.ParseInt(contextGin.Param("userId"), 10, 64)
	if parseErr != nil || userID <= 0 {
		fail(contextGin, http.StatusBadRequest, codeValidation, "Validation failed", fieldError{Field: "userId", Message: "userId must be a positive integer"})
		return
	}
	claims, _ := sessionvalidator.ClaimsFromContext(contextGin, claimsContextKey)
	if claims.GetUserID() != userID && !strings.EqualFold(claims.GetRole(), RoleAdmin) {
		server.rejectRole(contextGin, sessionvalidator.ErrForbiddenRole)
		return
	}
	respond(contextGin, http.StatusOK, "Purchases retrieved successfully", server.catalog.PurchasesByUser(userID))
}

func (server *Server) handleListUsers(contextGin *gin.Context) {
	records := server.users.List(contextGin)
	payloads := make([]userPayload, 0, len(records))
	for _, record := range records {
		payloads = append(payloads, newUserPayload(record))
	}
	respond(contextGin, http.StatusOK, "Users retrieved successfully", payloads)
}

func (server *Server) internalError(contextGin *gin.Context, code string, cause error) {
	server.configuration.Logger.Error("request failed", zap.String("code", code), zap.Error(cause))
	fail(contextGin, http.StatusInternalServerError, codeInternal, "Internal server error")
}

func queryInt(contextGin *gin.Context, name string) int {
	value, parseErr := strconv.Atoi(contextGin.Query(name))
	if parseErr != nil {
		return 0
	}
	return value
}

func queryFloat(contextGin *gin.Context, name string) float64 {
	value, parseErr := strconv.ParseFloat(contextGin.Query(name), 64)
	if parseErr != nil {
		return 0
	}
	return value
}
