package application

import (
	"time"

	"github.com/nationdex/promostore/internal/domain/promocode"
)

// CreateCodeRequest holds data to create a promocode. Expiry (RFC3339) wins
// over ExpiryDays; with neither set the code expires 30 days from creation.
type CreateCodeRequest struct {
	Code           string `json:"code" binding:"required"`
	Uses           int    `json:"uses" binding:"required"`
	Expiry         string `json:"expiry"`
	ExpiryDays     int    `json:"expiry_days"`
	SpecificBallID *int64 `json:"specific_ball"`
	SpecialID      *int64 `json:"special"`
	MaxUsesPerUser int    `json:"max_uses_per_user"`
	Description    string `json:"description"`
	Hidden         bool   `json:"is_hidden"`
}

// AdjustUsesRequest holds the delta applied to a code's remaining budget.
type AdjustUsesRequest struct {
	Delta int `json:"delta" binding:"required"`
}

// RedeemRequest holds data to redeem a promocode.
type RedeemRequest struct {
	Code string `json:"code" binding:"required"`
}

// ListFilter selects and orders codes for listing.
type ListFilter struct {
	IncludeExpired  bool   `form:"include_expired"`
	IncludeDepleted bool   `form:"include_depleted"`
	IncludeHidden   bool   `form:"include_hidden"`
	SortBy          string `form:"sort_by"`
	SpecificBallID  *int64 `form:"specific_ball"`
	SpecialID       *int64 `form:"special"`
}

// RewardDTO mirrors the reward spec of a code.
type RewardDTO struct {
	SpecificBall *int64 `json:"specific_ball"`
	Special      *int64 `json:"special"`
}

// PromoCodeDTO is the API representation of a promocode.
type PromoCodeDTO struct {
	Code             string     `json:"code"`
	Expiry           time.Time  `json:"expiry"`
	UsesLeft         int        `json:"uses_left"`
	MaxUsesPerUser   int        `json:"max_uses_per_user"`
	Rewards          RewardDTO  `json:"rewards"`
	Status           string     `json:"status"`
	UniqueRedeemers  int        `json:"unique_redeemers"`
	TotalRedemptions int        `json:"total_redemptions"`
	Description      string     `json:"description,omitempty"`
	IsHidden         bool       `json:"is_hidden"`
	CreatedAt        *time.Time `json:"created_at,omitempty"`
	CreatedBy        string     `json:"created_by,omitempty"`
	LastUsed         *time.Time `json:"last_used,omitempty"`
}

func toDTO(p *promocode.PromoCode, now time.Time) PromoCodeDTO {
	status := "active"
	switch {
	case p.IsExpired(now):
		status = "expired"
	case p.IsDepleted():
		status = "depleted"
	}

	dto := PromoCodeDTO{
		Code:           p.Code(),
		Expiry:         p.Expiry(),
		UsesLeft:       p.UsesLeft(),
		MaxUsesPerUser: p.MaxUsesPerUser(),
		Rewards: RewardDTO{
			SpecificBall: p.Rewards().SpecificBallID,
			Special:      p.Rewards().SpecialID,
		},
		Status:           status,
		UniqueRedeemers:  len(p.UsedBy()),
		TotalRedemptions: p.TotalRedemptions(),
		Description:      p.Description(),
		IsHidden:         p.Hidden(),
		CreatedBy:        p.CreatedBy(),
	}
	if t := p.CreatedAt(); !t.IsZero() {
		dto.CreatedAt = &t
	}
	if t := p.LastUsed(); !t.IsZero() {
		dto.LastUsed = &t
	}
	return dto
}
