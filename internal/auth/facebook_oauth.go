package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/waterballsa/academy/internal/model"
)

const (
	defaultFacebookAuthURL  = "https://www.facebook.com/v19.0/dialog/oauth"
	defaultFacebookTokenURL = "https://graph.facebook.com/v19.0/oauth/access_token"
	defaultFacebookMeURL    = "https://graph.facebook.com/v19.0/me"
)

// FacebookOAuthConfig はFacebookログインの設定。
type FacebookOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL  string
	TokenURL string
	MeURL    string
}

// FacebookOAuthProvider はFacebookログインによる認証を提供する。
// アカウントIDはGraph APIの/meが返すidを用いる。
type FacebookOAuthProvider struct {
	config FacebookOAuthConfig
	client *http.Client
}

// NewFacebookOAuthProvider はFacebookOAuthProviderを生成する。
func NewFacebookOAuthProvider(config FacebookOAuthConfig) *FacebookOAuthProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultFacebookAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultFacebookTokenURL
	}
	if config.MeURL == "" {
		config.MeURL = defaultFacebookMeURL
	}
	return &FacebookOAuthProvider{config: config, client: newOAuthHTTPClient()}
}

// Kind はIdP種別を返す。
func (p *FacebookOAuthProvider) Kind() model.ProviderKind {
	return model.ProviderFacebook
}

// GetLoginURL はFacebookログインの認証URLを生成する。
func (p *FacebookOAuthProvider) GetLoginURL(state string) string {
	params := url.Values{
		"client_id":     {p.config.ClientID},
		"redirect_uri":  {p.config.RedirectURL},
		"response_type": {"code"},
		"scope":         {"email,public_profile"},
		"state":         {state},
	}
	return p.config.AuthURL + "?" + params.Encode()
}

// facebookMe はGraph API /me のレスポンス。
// ユーザーがメールアドレスの共有を拒否した場合emailは含まれない。
type facebookMe struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// ExchangeCode は認可コードをアクセストークンに交換し、ユーザー情報を取得する。
func (p *FacebookOAuthProvider) ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error) {
	tokenResp, err := postTokenForm(ctx, p.client, p.config.TokenURL, url.Values{
		"code":          {code},
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"redirect_uri":  {p.config.RedirectURL},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	meURL := p.config.MeURL + "?" + url.Values{"fields": {"id,name,email"}}.Encode()
	var me facebookMe
	if err := getWithBearer(ctx, p.client, meURL, tokenResp.AccessToken, &me); err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}

	return &OAuthUserInfo{
		Provider: model.ProviderFacebook,
		Subject:  me.ID,
		Email:    me.Email,
		Name:     me.Name,
	}, nil
}

// compile-time interface check
var _ OAuthProvider = (*FacebookOAuthProvider)(nil)
