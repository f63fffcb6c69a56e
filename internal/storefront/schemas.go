package storefront

import (
	"strings"
	"unicode"

	"github.com/tyemirov/storefront/pkg/schema"
)

// Roles accepted by the backend.
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

const passwordSymbols = `!@#$%^&*()_+-=[]{};':"\|,.<>/?`

// LoginRequestSchema validates the login body.
func LoginRequestSchema() schema.Schema {
	return schema.Object(
		schema.Required("email", schema.String().Email("Invalid email format")),
		schema.Required("password", schema.String().Min(8, "Password must be at least 8 characters")),
	)
}

// RegisterRequestSchema validates the registration body.
func RegisterRequestSchema() schema.Schema {
	return schema.Object(
		schema.Required("name", schema.String().
			Min(1, "Name is required").
			Max(255, "Name must be 255 characters or fewer")),
		schema.Required("email", schema.String().
			Email("Please provide a valid email address").
			Max(255, "Email must be 255 characters or fewer")),
		schema.Required("password", schema.String().
			Min(8, "Password must be at least 8 characters").
			Max(128, "Password must be 128 characters or fewer").
			Refine(isComplexPassword, "Password must contain uppercase, lowercase, number, and special character")),
		schema.Optional("role", schema.String().OneOf(RoleCustomer, RoleAdmin)),
	)
}

// PurchaseRequestSchema validates the purchase body.
func PurchaseRequestSchema() schema.Schema {
	return schema.Object(
		schema.Required("quantity", schema.Number().Int().Positive("Quantity must be at least 1")),
	)
}

// RestockRequestSchema validates the restock body.
func RestockRequestSchema() schema.Schema {
	return schema.Object(
		schema.Required("quantity", schema.Number().Int().Positive("Quantity must be at least 1")),
	)
}

func isComplexPassword(password string) bool {
	var hasLower, hasUpper, hasDigit, hasSymbol bool
	for _, character := range password {
		switch {
		case unicode.IsLower(character):
			hasLower = true
		case unicode.IsUpper(character):
			hasUpper = true
		case unicode.IsDigit(character):
			hasDigit = true
		case strings.ContainsRune(passwordSymbols, character):
			hasSymbol = true
		}
	}
	return hasLower && hasUpper && hasDigit && hasSymbol
}

// apiResponse wraps data in the strict success envelope.
func apiResponse(data schema.Schema) schema.Schema {
	return schema.Object(
		schema.Required("statusCode", schema.Number().Int()),
		schema.Required("data", data),
		schema.Required("message", schema.String()),
		schema.Required("success", schema.Boolean()),
	).Strict()
}

func userDataSchema() schema.Schema {
	return schema.Object(
		schema.Required("id", schema.Number().Int().Positive()),
		schema.Required("name", schema.String()),
		schema.Required("email", schema.String().Email()),
		schema.Required("role", schema.String().OneOf(RoleCustomer, RoleAdmin)),
		schema.Optional("is_active", schema.Boolean()),
		schema.Optional("created_at", schema.String()),
		schema.Optional("updated_at", schema.String()),
	)
}

func sweetSchema() schema.Schema {
	return schema.Object(
		schema.Required("id", schema.Number().Int().Positive()),
		schema.Required("name", schema.String()),
		schema.Required("categoryId", schema.Number().Int()),
		schema.Required("price", schema.Number().NonNegative()),
		schema.Required("quantity", schema.Number().Int().NonNegative()),
		schema.Required("isActive", schema.Boolean()),
		schema.Optional("category", schema.Object(
			schema.Required("id", schema.Number().Int()),
			schema.Required("name", schema.String()),
		)),
	)
}

func categorySchema() schema.Schema {
	return schema.Object(
		schema.Required("id", schema.Number().Int().Positive()),
		schema.Required("name", schema.String()),
		schema.Required("isActive", schema.Boolean()),
	)
}

// LoginResponseSchema validates the login envelope.
func LoginResponseSchema() schema.Schema {
	return apiResponse(schema.Object(
		schema.Required("user", userDataSchema()),
		schema.Required("accessToken", schema.String()),
		schema.Required("refreshToken", schema.String()),
	))
}

// RefreshResponseSchema validates the refresh envelope.
func RefreshResponseSchema() schema.Schema {
	return apiResponse(schema.Object(
		schema.Required("accessToken", schema.String()),
	))
}

// SweetListResponseSchema validates the paginated sweet listing.
func SweetListResponseSchema() schema.Schema {
	return apiResponse(schema.Object(
		schema.Required("items", schema.Array(sweetSchema())),
		schema.Required("total", schema.Number().Int().NonNegative()),
		schema.Required("pagination", schema.Object(
			schema.Required("currentPage", schema.Number().Int().Positive()),
			schema.Required("limit", schema.Number().Int().Positive()),
			schema.Required("totalPages", schema.Number().Int().Positive()),
			schema.Required("hasNextPage", schema.Boolean()),
			schema.Required("hasPreviousPage", schema.Boolean()),
		)),
	))
}

func purchaseSchema() schema.Schema {
	return schema.Object(
		schema.Required("id", schema.Number().Int().Positive()),
		schema.Required("userId", schema.Number().Int().Positive()),
		schema.Required("sweetId", schema.Number().Int().Positive()),
		schema.Required("quantity", schema.Number().Int().Positive()),
		schema.Required("totalPrice", schema.Number().NonNegative()),
		schema.Required("createdAt", schema.String().DateTime()),
	)
}

// PurchaseResponseSchema validates a completed purchase.
func PurchaseResponseSchema() schema.Schema {
	return apiResponse(purchaseSchema())
}

// Schemas returns the registry of every storefront endpoint.
func Schemas() *schema.Registry {
	return schema.NewRegistry().
		RegisterRequest("POST "+EndpointLogin, LoginRequestSchema()).
		RegisterRequest("POST "+EndpointRegister, RegisterRequestSchema()).
		RegisterRequest("POST "+EndpointRefreshToken, schema.Object(
			schema.Required("refreshToken", schema.String().Min(1, "Refresh token is required")),
		)).
		RegisterRequest("POST /sweets/{id}/purchase", PurchaseRequestSchema()).
		RegisterRequest("POST /sweets/{id}/restock", RestockRequestSchema()).
		RegisterResponse("POST "+EndpointLogin, LoginResponseSchema()).
		RegisterResponse("POST "+EndpointRegister, apiResponse(userDataSchema())).
		RegisterResponse("POST "+EndpointRefreshToken, RefreshResponseSchema()).
		RegisterResponse("POST "+EndpointLogout, apiResponse(schema.Null())).
		RegisterResponse("GET "+EndpointMe, apiResponse(userDataSchema())).
		RegisterResponse("GET "+EndpointSweets, SweetListResponseSchema()).
		RegisterResponse("GET "+EndpointSweetsSearch, apiResponse(schema.Array(sweetSchema()))).
		RegisterResponse("POST /sweets/{id}/purchase", PurchaseResponseSchema()).
		RegisterResponse("POST /sweets/{id}/restock", apiResponse(sweetSchema())).
		RegisterResponse("GET "+EndpointPurchases+"/user/{id}", apiResponse(schema.Array(purchaseSchema()))).
		RegisterResponse("GET "+EndpointUsers, apiResponse(schema.Array(userDataSchema()))).
		RegisterResponse("GET "+EndpointActiveCategories, apiResponse(schema.Array(categorySchema()))).
		RegisterResponse("GET "+EndpointCategories, apiResponse(schema.Array(categorySchema())))
}
