package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dom/pickup-match/internal/domain"
)

var (
	ErrInvalidKakaoToken    = domain.NewError(domain.KindUnauthorized, "kakao token could not be verified")
	ErrKakaoEmailUnverified = domain.NewError(domain.KindUnauthorized, "kakao email is not verified")
)

// KakaoProvider resolves a Kakao access token through the user info API.
type KakaoProvider struct {
	userInfoURL string
	client      *http.Client
}

func NewKakaoProvider(userInfoURL string, client *http.Client) *KakaoProvider {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &KakaoProvider{userInfoURL: userInfoURL, client: client}
}

func (p *KakaoProvider) Name() string {
	return domain.ProviderKakao
}

type kakaoUser struct {
	ID      int64 `json:"id"`
	Account struct {
		Email           string `json:"email"`
		IsEmailVerified bool   `json:"is_email_verified"`
		Profile         struct {
			Nickname        string `json:"nickname"`
			ProfileImageURL string `json:"profile_image_url"`
		} `json:"profile"`
	} `json:"kakao_account"`
}

func (p *KakaoProvider) Verify(ctx context.Context, accessToken string) (domain.ExternalClaims, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return domain.ExternalClaims{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return domain.ExternalClaims{}, fmt.Errorf("kakao user info: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest:
		return domain.ExternalClaims{}, ErrInvalidKakaoToken
	case resp.StatusCode != http.StatusOK:
		return domain.ExternalClaims{}, fmt.Errorf("kakao user info: status %d", resp.StatusCode)
	}

	var user kakaoUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return domain.ExternalClaims{}, fmt.Errorf("decode kakao user info: %w", err)
	}
	if user.ID == 0 {
		return domain.ExternalClaims{}, fmt.Errorf("kakao user info: missing id")
	}
	if user.Account.Email == "" {
		return domain.ExternalClaims{}, domain.NewValidationError("kakao account does not share an email address")
	}
	if !user.Account.IsEmailVerified {
		return domain.ExternalClaims{}, ErrKakaoEmailUnverified
	}

	name := user.Account.Profile.Nickname
	if name == "" {
		name = displayNameFromEmail(user.Account.Email)
	}

	return domain.ExternalClaims{
		Provider:    domain.ProviderKakao,
		ProviderID:  strconv.FormatInt(user.ID, 10),
		Email:       user.Account.Email,
		DisplayName: name,
		AvatarURL:   user.Account.Profile.ProfileImageURL,
	}, nil
}
