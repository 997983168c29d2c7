package models

import "time"

// User is the public view of a registered account.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=32,alphanum"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=72"`
	Role     string `json:"role" binding:"required,oneof=teacher student"`
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents the login response
type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required,min=8,max=72"`
}

// Font sizes offered by the accessibility settings.
const (
	FontSmall  = "small"
	FontMedium = "medium"
	FontLarge  = "large"
	FontXLarge = "x-large"
)

// AccessibilitySettings are per-user display preferences.
type AccessibilitySettings struct {
	HighContrast       bool   `json:"highContrast" redis:"highContrast"`
	FontSize           string `json:"fontSize" redis:"fontSize" binding:"omitempty,oneof=small medium large x-large"`
	EnableScreenReader bool   `json:"enableScreenReader" redis:"enableScreenReader"`
}

// DefaultAccessibility is what a user sees before saving any settings.
func DefaultAccessibility() AccessibilitySettings {
	return AccessibilitySettings{FontSize: FontMedium}
}

type AccessibilityResponse struct {
	Message  string                `json:"message"`
	Settings AccessibilitySettings `json:"settings"`
}

// AssignStudentsRequest replaces every student assigned to a teacher.
type AssignStudentsRequest struct {
	StudentIDs []string `json:"studentIds" binding:"required"`
}
