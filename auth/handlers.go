package auth

import (
	"net/http"

	"teamspace/apperr"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) HandleSendOTP(c *gin.Context) {
	var json struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&json); err != nil {
		apperr.Respond(c, apperr.Validation("Invalid request data"))
		return
	}

	if err := h.svc.SendLoginCode(c.Request.Context(), json.Email); err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "OTP sent"})
}

func (h *Handler) HandleVerifyOTP(c *gin.Context) {
	var json struct {
		Email string `json:"email"`
		OTP   string `json:"otp"`
	}
	if err := c.ShouldBindJSON(&json); err != nil {
		apperr.Respond(c, apperr.Validation("Invalid request data"))
		return
	}

	token, user, err := h.svc.VerifyLoginCode(c.Request.Context(), json.Email, json.OTP)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

func (h *Handler) HandleGoogle(c *gin.Context) {
	var json struct {
		Token string `json:"token"`
	}
	if err := c.ShouldBindJSON(&json); err != nil {
		apperr.Respond(c, apperr.Validation("Invalid request data"))
		return
	}

	token, user, err := h.svc.GoogleSignIn(c.Request.Context(), json.Token)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

func (h *Handler) HandleMe(c *gin.Context) {
	user, err := h.svc.User(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) HandleUpdateProfile(c *gin.Context) {
	var json struct {
		Name      *string `json:"name"`
		AvatarURL *string `json:"avatarUrl"`
	}
	if err := c.ShouldBindJSON(&json); err != nil {
		apperr.Respond(c, apperr.Validation("Invalid request data"))
		return
	}

	user, err := h.svc.UpdateProfile(c.Request.Context(), CurrentUserID(c), json.Name, json.AvatarURL)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) HandleRequestEmailChange(c *gin.Context) {
	var json struct {
		NewEmail string `json:"newEmail"`
	}
	if err := c.ShouldBindJSON(&json); err != nil {
		apperr.Respond(c, apperr.Validation("Invalid request data"))
		return
	}

	if err := h.svc.RequestEmailChange(c.Request.Context(), CurrentUserID(c), json.NewEmail); err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Verification code sent to new email"})
}

func (h *Handler) HandleConfirmEmailChange(c *gin.Context) {
	var json struct {
		OTP string `json:"otp"`
	}
	if err := c.ShouldBindJSON(&json); err != nil {
		apperr.Respond(c, apperr.Validation("Invalid request data"))
		return
	}

	user, err := h.svc.ConfirmEmailChange(c.Request.Context(), CurrentUserID(c), json.OTP)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}
