package handlers

import (
	"errors"

	"toko-catalog/internal/apperror"
	"toko-catalog/internal/models"
	"toko-catalog/internal/services"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// AuthHandler handles HTTP requests for authentication.
type AuthHandler struct {
	authService *services.AuthService
	validate    *validator.Validate
	log         *zap.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authService *services.AuthService, log *zap.Logger) *AuthHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthHandler{
		authService: authService,
		validate:    validator.New(),
		log:         log.Named("http"),
	}
}

// RegisterRoutes registers the authentication routes with the Fiber app.
func (h *AuthHandler) RegisterRoutes(router fiber.Router) {
	authRoutes := router.Group("/auth")
	authRoutes.Post("/register", h.HandleRegister)
	authRoutes.Post("/login", h.HandleLogin)
}

// HandleRegister handles new administrator registration.
func (h *AuthHandler) HandleRegister(c *fiber.Ctx) error {
	var user models.User
	if err := c.BodyParser(&user); err != nil {
		return fail(c, h.log, apperror.Validation(err, "invalid request body"))
	}

	if err := h.validateStruct(user); err != nil {
		return fail(c, h.log, err)
	}

	if err := h.authService.RegisterUser(c.UserContext(), &user); err != nil {
		return fail(c, h.log, err)
	}

	// Never echo the password hash.
	user.Password = ""
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "User registered successfully",
		"user":    user,
	})
}

// LoginRequest represents the request body for login.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// HandleLogin handles user login and issues a JWT token.
func (h *AuthHandler) HandleLogin(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, h.log, apperror.Validation(err, "invalid request body"))
	}

	if err := h.validateStruct(req); err != nil {
		return fail(c, h.log, err)
	}

	token, err := h.authService.LoginUser(c.UserContext(), req.Username, req.Password)
	if err != nil {
		if apperror.HasCode(err, services.CodeInvalidCredentials) {
			h.log.Info("login rejected", zap.String("username", req.Username))
			return failWith(c, StatusOf(err), "Authentication failed")
		}
		return fail(c, h.log, err)
	}

	return c.JSON(fiber.Map{
		"message": "Login successful",
		"token":   token,
	})
}

func (h *AuthHandler) validateStruct(v any) error {
	err := h.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		e := verrs[0]
		return apperror.Validation(err, "Field '%s' failed on the '%s' tag", e.Field(), e.Tag())
	}
	return apperror.Validation(err, "validation failed")
}
