package handler

import (
	"time"

	"github.com/hitoshi/studyhub/internal/auth"
	"github.com/hitoshi/studyhub/internal/model"
)

type identityView struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	EmailConfirmed bool   `json:"email_confirmed"`
}

type progressView struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Percentage int `json:"percentage"`
}

type profileView struct {
	ID                 string       `json:"id"`
	Name               string       `json:"name"`
	Role               string       `json:"role"`
	SubscriptionTier   string       `json:"subscription_tier"`
	PurchasedCourseIDs []string     `json:"purchased_course_ids"`
	AvatarURL          string       `json:"avatar_url,omitempty"`
	Phone              string       `json:"phone,omitempty"`
	Bio                string       `json:"bio,omitempty"`
	Address            string       `json:"address,omitempty"`
	Progress           progressView `json:"progress"`
	Degraded           bool         `json:"degraded,omitempty"`
}

type stateView struct {
	Phase         string        `json:"phase"`
	IsLoading     bool          `json:"is_loading"`
	Authenticated bool          `json:"authenticated"`
	IsAdmin       bool          `json:"is_admin"`
	IsPremium     bool          `json:"is_premium"`
	Identity      *identityView `json:"identity"`
	Profile       *profileView  `json:"profile"`
}

type purchaseView struct {
	ID        string    `json:"id"`
	CourseID  string    `json:"course_id"`
	Amount    float64   `json:"amount"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func toIdentityView(i *model.Identity) *identityView {
	if i == nil {
		return nil
	}
	return &identityView{ID: i.ID, Email: i.Email, EmailConfirmed: i.EmailConfirmed()}
}

func toProfileView(p *model.Profile) *profileView {
	if p == nil {
		return nil
	}
	purchased := p.PurchasedCourseIDs
	if purchased == nil {
		purchased = []string{}
	}
	return &profileView{
		ID:                 p.ID,
		Name:               p.Name,
		Role:               string(p.Role),
		SubscriptionTier:   string(p.SubscriptionTier),
		PurchasedCourseIDs: purchased,
		AvatarURL:          p.AvatarURL,
		Phone:              p.Phone,
		Bio:                p.Bio,
		Address:            p.Address,
		Progress: progressView{
			Total:      p.Progress.Total,
			Completed:  p.Progress.Completed,
			Percentage: p.Progress.Percentage,
		},
		Degraded: p.Degraded,
	}
}

func toStateView(st auth.State) stateView {
	return stateView{
		Phase:         st.Phase().String(),
		IsLoading:     st.IsLoading,
		Authenticated: st.IsAuthenticated(),
		IsAdmin:       st.IsAdmin(),
		IsPremium:     st.IsPremiumUser(),
		Identity:      toIdentityView(st.Identity),
		Profile:       toProfileView(st.Profile),
	}
}

func toPurchaseView(p *model.Purchase) purchaseView {
	return purchaseView{
		ID:        p.ID,
		CourseID:  p.CourseID,
		Amount:    p.Amount,
		Status:    p.Status,
		CreatedAt: p.CreatedAt,
	}
}
