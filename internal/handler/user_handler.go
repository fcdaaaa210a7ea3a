package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/everimpact/coverage-service/internal/apperr"
	"github.com/everimpact/coverage-service/internal/auth"
	"github.com/everimpact/coverage-service/internal/model"
	"github.com/everimpact/coverage-service/pkg/database"
	"github.com/everimpact/coverage-service/pkg/jwtutil"
	"github.com/everimpact/coverage-service/pkg/logger"
	"github.com/everimpact/coverage-service/prometheus"
)

// CreateUser handles user signup
func CreateUser(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.RegisterCounter.Inc()

	// Parse request
	var req struct {
		Email      string `json:"email"`
		Password   string `json:"password"`
		IsAdmin    bool   `json:"is_admin"`
		CoverageID string `json:"coverage_id"`
	}
	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse signup request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	if req.Email == "" || req.Password == "" {
		return respondError(c, apperr.Validationf("email and password are required"))
	}
	if !req.IsAdmin && req.CoverageID == "" {
		return respondError(c, apperr.Validationf("coverage_id is required for non-admin users"))
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())
	db := database.GetDB().WithContext(c.Request().Context())

	// Reject duplicate emails up front for a clean conflict message
	var count int64
	if err := db.Model(&model.User{}).Where("email = ?", req.Email).Count(&count).Error; err != nil {
		log.Error("Email lookup failed", zap.Error(err))
		return respondError(c, apperr.Infrastructure("looking up user failed", err))
	}
	if count > 0 {
		return respondError(c, apperr.Conflictf("a user with email %q already exists", req.Email))
	}

	user := model.User{Email: req.Email, IsAdmin: req.IsAdmin}
	if !req.IsAdmin {
		// The referenced coverage must exist
		var cov model.Coverage
		if err := db.Where("id = ?", req.CoverageID).First(&cov).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return respondError(c, apperr.NotFoundf("coverage %q does not exist", req.CoverageID))
			}
			log.Error("Coverage lookup failed", zap.Error(err))
			return respondError(c, apperr.Infrastructure("looking up coverage failed", err))
		}
		user.CoverageID = &cov.ID
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		log.Error("Password hashing failed", zap.Error(err))
		return respondError(c, apperr.Infrastructure("password hashing failed", err))
	}
	user.Password = string(hash)

	if err := db.Create(&user).Error; err != nil {
		log.Error("Failed to create user", zap.Error(err))
		return respondError(c, apperr.Infrastructure("creating user failed", err))
	}

	token, err := jwtutil.GenerateToken(user.ID)
	if err != nil {
		log.Error("Failed to generate token", zap.Error(err))
		prometheus.RecordAuthError("token_generation_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "token error"})
	}

	log.Info("User registered", zap.String("email", user.Email), zap.Bool("is_admin", user.IsAdmin))

	return c.JSON(http.StatusCreated, echo.Map{
		"token": token,
		"user":  user,
	})
}

// Login verifies credentials and issues a token
func Login(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.LoginCounter.Inc()

	// Parse request
	var req struct {
		Email    string `json:"email" query:"email"`
		Password string `json:"password" query:"password"`
	}
	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse login request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())

	var user model.User
	result := database.GetDB().WithContext(c.Request().Context()).
		Where("email = ?", req.Email).First(&user)
	if result.Error != nil {
		log.Error("User not found", zap.String("email", req.Email))
		prometheus.RecordAuthError("login_failure")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}

	// Verify password
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		log.Error("Invalid password", zap.String("email", req.Email))
		prometheus.RecordAuthError("login_failure")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}

	token, err := jwtutil.GenerateToken(user.ID)
	if err != nil {
		log.Error("Failed to generate token", zap.Error(err))
		prometheus.RecordAuthError("token_generation_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "token error"})
	}

	log.Info("User logged in", zap.String("email", user.Email))

	return c.JSON(http.StatusOK, echo.Map{
		"token": token,
		"user":  user,
	})
}

// Me returns the authenticated user's identity, never the password
func Me(c echo.Context) error {
	log := logger.FromEcho(c)

	userID, ok := c.Get("user_id").(string)
	if !ok || userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())

	var user model.User
	if err := database.GetDB().WithContext(c.Request().Context()).
		Where("id = ?", userID).First(&user).Error; err != nil {
		log.Error("Failed to load user", zap.String("user_id", userID), zap.Error(err))
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	return c.JSON(http.StatusOK, user)
}

// ListUsers returns all non-admin users
func ListUsers(c echo.Context) error {
	log := logger.FromEcho(c)

	p, err := currentPrincipal(c)
	if err != nil {
		return respondError(c, err)
	}
	if err := auth.Authorize(p, "", auth.ActionManageIdentity); err != nil {
		prometheus.RecordAuthError("user_listing_denied")
		return respondError(c, err)
	}

	defer prometheus.TrackDBOperation("query")(time.Now())

	var users []model.User
	if err := database.GetDB().WithContext(c.Request().Context()).
		Where("is_admin = ?", false).Find(&users).Error; err != nil {
		log.Error("Failed to list users", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}

	return c.JSON(http.StatusOK, users)
}

// UpdateUserPermission promotes a user to admin or reassigns their coverage.
// Promotion clears the coverage binding; assignment clears the admin flag.
func UpdateUserPermission(c echo.Context) error {
	log := logger.FromEcho(c)

	p, err := currentPrincipal(c)
	if err != nil {
		return respondError(c, err)
	}
	if err := auth.Authorize(p, "", auth.ActionManageIdentity); err != nil {
		prometheus.RecordAuthError("user_update_denied")
		return respondError(c, err)
	}

	// Parse request
	var req struct {
		IsAdmin    *bool   `json:"is_admin"`
		CoverageID *string `json:"coverage_id"`
	}
	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse permission update request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	defer prometheus.TrackDBOperation("update")(time.Now())
	db := database.GetDB().WithContext(c.Request().Context())

	var user model.User
	if err := db.Where("id = ?", c.Param("id")).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return respondError(c, apperr.NotFoundf("user %q does not exist", c.Param("id")))
		}
		log.Error("Failed to load user", zap.Error(err))
		return respondError(c, apperr.Infrastructure("loading user failed", err))
	}

	var updates map[string]interface{}
	switch {
	case req.IsAdmin != nil && *req.IsAdmin:
		// Admins hold no coverage binding
		updates = map[string]interface{}{"is_admin": true, "coverage_id": nil}
	case req.CoverageID != nil && *req.CoverageID != "":
		var cov model.Coverage
		if err := db.Where("id = ?", *req.CoverageID).First(&cov).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return respondError(c, apperr.NotFoundf("coverage %q does not exist", *req.CoverageID))
			}
			log.Error("Coverage lookup failed", zap.Error(err))
			return respondError(c, apperr.Infrastructure("looking up coverage failed", err))
		}
		updates = map[string]interface{}{"is_admin": false, "coverage_id": cov.ID}
	default:
		return respondError(c, apperr.Validationf("either is_admin or coverage_id must be provided"))
	}

	if err := db.Model(&user).Updates(updates).Error; err != nil {
		log.Error("Failed to update user permissions", zap.Error(err))
		return respondError(c, apperr.Infrastructure("updating user failed", err))
	}

	log.Info("User permissions updated",
		zap.String("user_id", user.ID),
		zap.Bool("is_admin", user.IsAdmin))

	return c.JSON(http.StatusOK, user)
}

// DeleteUser removes a user account
func DeleteUser(c echo.Context) error {
	log := logger.FromEcho(c)

	p, err := currentPrincipal(c)
	if err != nil {
		return respondError(c, err)
	}
	if err := auth.Authorize(p, "", auth.ActionManageIdentity); err != nil {
		prometheus.RecordAuthError("user_deletion_denied")
		return respondError(c, err)
	}

	defer prometheus.TrackDBOperation("delete")(time.Now())
	db := database.GetDB().WithContext(c.Request().Context())

	var user model.User
	if err := db.Where("id = ?", c.Param("id")).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return respondError(c, apperr.NotFoundf("user %q does not exist", c.Param("id")))
		}
		log.Error("Failed to load user", zap.Error(err))
		return respondError(c, apperr.Infrastructure("loading user failed", err))
	}

	if err := db.Delete(&user).Error; err != nil {
		log.Error("Failed to delete user", zap.String("user_id", user.ID), zap.Error(err))
		return respondError(c, apperr.Infrastructure("deleting user failed", err))
	}

	log.Info("User deleted", zap.String("user_id", user.ID), zap.String("email", user.Email))

	return c.JSON(http.StatusOK, echo.Map{"message": "User deleted successfully"})
}
