package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/studyhub/internal/middleware"
	"github.com/hitoshi/studyhub/internal/model"
)

const msgCoursePurchased = "Course purchased successfully"

// BillingServiceInterface は購入ハンドラーが必要とするサービスインターフェース。
type BillingServiceInterface interface {
	PurchaseCourse(ctx context.Context, userID, courseID string) (*model.Purchase, error)
	Subscribe(ctx context.Context, userID, tier string) error
}

// BillingHandler はコース購入とプラン変更のHTTPハンドラー。
// 変更後はプロフィールを読み直し、ガードの判定に反映させる。
type BillingHandler struct {
	service BillingServiceInterface
}

// NewBillingHandler はBillingHandlerを生成する。
func NewBillingHandler(service BillingServiceInterface) *BillingHandler {
	return &BillingHandler{service: service}
}

type subscribeRequest struct {
	Tier string `json:"tier"`
}

// PurchaseCourse はコースを購入する。
// POST /api/courses/{id}/purchase
func (h *BillingHandler) PurchaseCourse(w http.ResponseWriter, r *http.Request) {
	c, ok := requireClient(w, r)
	if !ok {
		return
	}
	userID, ok := requireUserID(w, c)
	if !ok {
		return
	}

	purchase, err := h.service.PurchaseCourse(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	c.Auth.RefreshProfile(r.Context())
	c.Notifications.Success(msgCoursePurchased)

	writeJSON(w, http.StatusCreated, map[string]any{
		"purchase": toPurchaseView(purchase),
		"profile":  toProfileView(c.Auth.State().Profile),
	})
}

// Subscribe はプランを変更する。
// POST /api/subscription
func (h *BillingHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	c, ok := requireClient(w, r)
	if !ok {
		return
	}
	userID, ok := requireUserID(w, c)
	if !ok {
		return
	}
	var req subscribeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.Subscribe(r.Context(), userID, req.Tier); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	c.Auth.RefreshProfile(r.Context())

	writeJSON(w, http.StatusOK, map[string]any{
		"profile": toProfileView(c.Auth.State().Profile),
	})
}
