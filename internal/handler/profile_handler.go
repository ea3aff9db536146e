package handler

import (
	"errors"
	"net/http"

	"github.com/hitoshi/studyhub/internal/auth"
	"github.com/hitoshi/studyhub/internal/middleware"
	"github.com/hitoshi/studyhub/internal/model"
)

// ProfileHandler は本人のプロフィール取得・更新のHTTPハンドラー。
type ProfileHandler struct{}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler() *ProfileHandler {
	return &ProfileHandler{}
}

type profilePatchRequest struct {
	Name      *string `json:"name"`
	AvatarURL *string `json:"avatar_url"`
	Phone     *string `json:"phone"`
	Bio       *string `json:"bio"`
	Address   *string `json:"address"`
}

// Get はログイン中ユーザーのプロフィールを返す。
// GET /api/profile
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, ok := requireClient(w, r)
	if !ok {
		return
	}
	st := c.Auth.State()
	if st.Identity == nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewNotAuthenticatedError())
		return
	}
	if st.Profile == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewUserNotFoundError())
		return
	}
	writeJSON(w, http.StatusOK, toProfileView(st.Profile))
}

// Update はプロフィールの指定されたフィールドのみを更新する。
// PATCH /api/profile
func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	c, ok := requireClient(w, r)
	if !ok {
		return
	}
	var req profilePatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	patch := model.ProfilePatch{
		Name:      req.Name,
		AvatarURL: req.AvatarURL,
		Phone:     req.Phone,
		Bio:       req.Bio,
		Address:   req.Address,
	}
	if patch.Empty() {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("no fields to update"))
		return
	}

	if err := c.Auth.UpdateProfile(r.Context(), patch); err != nil {
		if errors.Is(err, auth.ErrNotAuthenticated) {
			middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewNotAuthenticatedError())
			return
		}
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toProfileView(c.Auth.State().Profile))
}
