package login

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/qmx/internal/models"
	"github.com/desertthunder/qmx/internal/services"
	"github.com/desertthunder/qmx/internal/shared"
)

const (
	qqAppID    = "716027609"
	qqDaid     = "383"
	qqThirdAID = "100497308"

	qqShowURL      = "https://ssl.ptlogin2.qq.com/ptqrshow"
	qqPollURL      = "https://ssl.ptlogin2.qq.com/ptqrlogin"
	qqCheckSigURL  = "https://ssl.ptlogin2.graph.qq.com/check_sig"
	qqAuthorizeURL = "https://graph.qq.com/oauth2.0/authorize"
	qqLoginJump    = "https://graph.qq.com/oauth2.0/login_jump"
	qqRedirectURI  = "https://y.qq.com/portal/wx_redirect.html?login_type=1&surl=https://y.qq.com/"
	qqReferer      = "https://xui.ptlogin2.qq.com/"

	hashSeedCSRF = 5381
)

var (
	ptuiCBPattern = regexp.MustCompile(`ptuiCB\((.*?)\)`)
	sigxPattern   = regexp.MustCompile(`&ptsigx=(.+?)&s_url`)
	uinPattern    = regexp.MustCompile(`&uin=(.+?)&service`)
	codePattern   = regexp.MustCompile(`code=([^&]+)&`)
)

func (f *Flow) qqQRCode(ctx context.Context) (*models.QRArtifact, error) {
	resp, err := f.session.Fetch(ctx, services.HTTPRequest{
		URL: qqShowURL,
		Query: url.Values{
			"appid":      {qqAppID},
			"e":          {"2"},
			"l":          {"M"},
			"s":          {"3"},
			"d":          {"72"},
			"v":          {"4"},
			"t":          {strconv.FormatFloat(rand.Float64(), 'f', -1, 64)},
			"daid":       {qqDaid},
			"pt_3rd_aid": {qqThirdAID},
		},
		Header: http.Header{"Referer": {qqReferer}},
	})
	if err != nil {
		return nil, err
	}

	qrsig := resp.Cookie("qrsig")
	if qrsig == "" {
		return nil, loginError(ProviderQQ, "failed to fetch QR code", nil)
	}
	return &models.QRArtifact{Data: resp.Body, MimeType: "image/png", Type: models.QRLoginQQ, Identifier: qrsig}, nil
}

func (f *Flow) checkQQ(ctx context.Context, qrsig string) (models.LoginEvent, *models.Credential, error) {
	resp, err := f.session.Fetch(ctx, services.HTTPRequest{
		URL: qqPollURL,
		Query: url.Values{
			"u1":         {qqLoginJump},
			"ptqrtoken":  {strconv.FormatUint(uint64(shared.Hash33(qrsig, 0)), 10)},
			"ptredirect": {"0"},
			"h":          {"1"},
			"t":          {"1"},
			"g":          {"1"},
			"from_ui":    {"1"},
			"ptlang":     {"2052"},
			"action":     {"0-0-" + strconv.FormatInt(time.Now().UnixMilli(), 10)},
			"js_ver":     {"20102616"},
			"js_type":    {"1"},
			"pt_uistyle": {"40"},
			"aid":        {qqAppID},
			"daid":       {qqDaid},
			"pt_3rd_aid": {qqThirdAID},
			"has_onekey": {"1"},
		},
		Header: http.Header{"Referer": {qqReferer}, "Cookie": {"qrsig=" + qrsig}},
	})
	if err != nil {
		if errors.Is(err, shared.ErrAPIRequest) {
			return models.Unknown, nil, loginError(ProviderQQ, "invalid qrsig", err)
		}
		return models.Unknown, nil, err
	}

	m := ptuiCBPattern.FindStringSubmatch(resp.Text())
	if m == nil {
		return models.Unknown, nil, loginError(ProviderQQ, "failed to fetch QR status", nil)
	}

	parts := strings.Split(m[1], ",")
	for i := range parts {
		parts[i] = strings.Trim(strings.TrimSpace(parts[i]), "'")
	}

	code, err := strconv.Atoi(parts[0])
	if err != nil {
		return models.Unknown, nil, nil
	}

	event := ClassifyCode(code)
	f.logger.Debug("qq qr status", "code", code, "event", event)
	if event != models.Confirmed {
		return event, nil, nil
	}

	if len(parts) < 3 {
		return models.Unknown, nil, loginError(ProviderQQ, "malformed success payload", nil)
	}
	sigx := sigxPattern.FindStringSubmatch(parts[2])
	uin := uinPattern.FindStringSubmatch(parts[2])
	if sigx == nil || uin == nil {
		return models.Unknown, nil, loginError(ProviderQQ, "missing ptsigx or uin in redirect", nil)
	}

	cred, err := f.authorizeQQ(ctx, uin[1], sigx[1])
	if err != nil {
		return models.Unknown, nil, err
	}
	return models.Confirmed, cred, nil
}

// authorizeQQ trades the scan signature for p_skey, then p_skey for an OAuth code, then the
// code for the credential.
func (f *Flow) authorizeQQ(ctx context.Context, uin, sigx string) (*models.Credential, error) {
	resp, err := f.session.Fetch(ctx, services.HTTPRequest{
		URL: qqCheckSigURL,
		Query: url.Values{
			"uin":            {uin},
			"pttype":         {"1"},
			"service":        {"ptqrlogin"},
			"nodirect":       {"0"},
			"ptsigx":         {sigx},
			"s_url":          {qqLoginJump},
			"ptlang":         {"2052"},
			"ptredirect":     {"100"},
			"aid":            {qqAppID},
			"daid":           {qqDaid},
			"j_later":        {"0"},
			"low_login_hour": {"0"},
			"regmaster":      {"0"},
			"pt_login_type":  {"3"},
			"pt_aid":         {"0"},
			"pt_aaid":        {"16"},
			"pt_light":       {"0"},
			"pt_3rd_aid":     {qqThirdAID},
		},
		Header:     http.Header{"Referer": {qqReferer}},
		NoRedirect: true,
	})
	if err != nil {
		return nil, err
	}

	pSkey := resp.Cookie("p_skey")
	if pSkey == "" {
		return nil, loginError(ProviderQQ, "failed to obtain p_skey", nil)
	}

	resp, err = f.session.Fetch(ctx, services.HTTPRequest{
		Method: http.MethodPost,
		URL:    qqAuthorizeURL,
		Form: url.Values{
			"response_type": {"code"},
			"client_id":     {qqThirdAID},
			"redirect_uri":  {qqRedirectURI},
			"scope":         {"get_user_info,get_app_friends"},
			"state":         {"state"},
			"switch":        {""},
			"from_ptlogin":  {"1"},
			"src":           {"1"},
			"update_auth":   {"1"},
			"openapi":       {"1010_1030"},
			"g_tk":          {strconv.FormatUint(uint64(shared.Hash33(pSkey, hashSeedCSRF)), 10)},
			"auth_time":     {strconv.FormatInt(time.Now().Unix()*1000, 10)},
			"ui":            {shared.GenerateID()},
		},
		NoRedirect: true,
	})
	if err != nil {
		return nil, err
	}

	code := codePattern.FindStringSubmatch(resp.Header.Get("Location"))
	if code == nil {
		return nil, loginError(ProviderQQ, "failed to obtain code", nil)
	}

	f.logger.Debug("exchanging qq code", "provider", ProviderQQ)
	return exchange(ctx, f.session, ProviderQQ, "QQConnectLogin.LoginServer", "QQLogin", models.LoginTypeQQ,
		map[string]any{"code": code[1]})
}
