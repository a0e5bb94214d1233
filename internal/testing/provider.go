package testing

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"
)

// WXHang makes the fake WX status endpoint block until the client gives up.
const WXHang = "<hang>"

// PNG is a tiny image body served for QR codes.
var PNG = []byte("\x89PNG\r\n\x1a\nfake-qr")

// RPCCall is one module/method call decoded from a signed request envelope.
type RPCCall struct {
	Key    string
	Module string
	Method string
	Param  map[string]any
	Comm   map[string]any
}

// RPCHandler answers one RPC call with a result code and data.
type RPCHandler func(call RPCCall) (code int, data any)

// ProviderServer fakes the QQ, WeChat and music RPC hosts behind one httptest server.
//
// Point a session's HTTP client at [ProviderServer.Client]; requests keep their production
// URLs and are routed by original host and path.
type ProviderServer struct {
	Server    *httptest.Server
	Transport *RewriteTransport

	mu       sync.Mutex
	qqStatus []string
	wxStatus []string
	rpc      map[string]RPCHandler
	calls    []RPCCall
	authForm url.Values

	QRSig    string // qrsig cookie for ptqrshow, "" omits it
	PSkey    string // p_skey cookie for check_sig, "" omits it
	Location string // authorize redirect Location
	WXUUID   string // uuid embedded in the qrconnect page, "" omits it
}

// NewProviderServer starts a fake provider with working defaults for every step.
func NewProviderServer(t *testing.T) *ProviderServer {
	t.Helper()
	p := &ProviderServer{
		rpc:      map[string]RPCHandler{},
		QRSig:    "qrsig-value",
		PSkey:    "pskey-value",
		Location: "https://y.qq.com/portal/wx_redirect.html?login_type=1&code=AUTHCODE&state=state",
		WXUUID:   "061abcDEF",
	}
	p.Server = httptest.NewServer(http.HandlerFunc(p.serve))
	p.Transport = NewRewriteTransport(p.Server.URL)
	t.Cleanup(p.Server.Close)
	return p
}

// Client returns an HTTP client whose transport routes to the fake provider.
func (p *ProviderServer) Client() *http.Client {
	return &http.Client{Transport: p.Transport}
}

// QQStatus scripts the ptqrlogin responses in order; the last one repeats.
func (p *ProviderServer) QQStatus(bodies ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.qqStatus = bodies
}

// WXStatus scripts the WX long-poll responses in order; the last one repeats.
func (p *ProviderServer) WXStatus(bodies ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.wxStatus = bodies
}

// HandleRPC registers the answer to module.method.
func (p *ProviderServer) HandleRPC(module, method string, h RPCHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rpc[module+"."+method] = h
}

// Calls returns the RPC calls received so far.
func (p *ProviderServer) Calls() []RPCCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]RPCCall(nil), p.calls...)
}

// CallCount counts RPC calls to module.method.
func (p *ProviderServer) CallCount(module, method string) int {
	n := 0
	for _, c := range p.Calls() {
		if c.Module == module && c.Method == method {
			n++
		}
	}
	return n
}

// AuthorizeForm returns the last form posted to the QQ authorize endpoint.
func (p *ProviderServer) AuthorizeForm() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.authForm
}

// Count counts HTTP requests to an original host and path.
func (p *ProviderServer) Count(host, path string) int {
	return p.Transport.Count(host, path)
}

func (p *ProviderServer) next(script *[]string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(*script) == 0 {
		return ""
	}
	body := (*script)[0]
	if len(*script) > 1 {
		*script = (*script)[1:]
	}
	return body
}

func (p *ProviderServer) serve(w http.ResponseWriter, r *http.Request) {
	host := r.Header.Get(OriginalHostHeader)
	switch host + r.URL.Path {
	case "ssl.ptlogin2.qq.com/ptqrshow":
		if p.QRSig != "" {
			http.SetCookie(w, &http.Cookie{Name: "qrsig", Value: p.QRSig})
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(PNG)
	case "ssl.ptlogin2.qq.com/ptqrlogin":
		if c, err := r.Cookie("qrsig"); err != nil || c.Value == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		io.WriteString(w, p.next(&p.qqStatus))
	case "ssl.ptlogin2.graph.qq.com/check_sig":
		if p.PSkey != "" {
			http.SetCookie(w, &http.Cookie{Name: "p_skey", Value: p.PSkey})
		}
		w.Header().Set("Location", "https://graph.qq.com/oauth2.0/login_jump")
		w.WriteHeader(http.StatusFound)
	case "graph.qq.com/oauth2.0/authorize":
		r.ParseForm()
		p.mu.Lock()
		p.authForm = r.PostForm
		p.mu.Unlock()
		if p.Location != "" {
			w.Header().Set("Location", p.Location)
		}
		w.WriteHeader(http.StatusFound)
	case "open.weixin.qq.com/connect/qrconnect":
		if p.WXUUID == "" {
			io.WriteString(w, `<html><body>no code</body></html>`)
			return
		}
		io.WriteString(w, `<img class="qrcode" src="/connect/qrcode/`+p.WXUUID+`" /><script>var fordevtool = "https://long.open.weixin.qq.com/connect/l/qrconnect?uuid=`+p.WXUUID+`";</script>`)
	case "open.weixin.qq.com/connect/qrcode/" + p.WXUUID:
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("fake-jpeg"))
	case "lp.open.weixin.qq.com/connect/l/qrconnect":
		body := p.next(&p.wxStatus)
		if body == WXHang {
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
			return
		}
		io.WriteString(w, body)
	case "u.y.qq.com/cgi-bin/musicu.fcg", "u.y.qq.com/cgi-bin/musics.fcg":
		p.serveRPC(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (p *ProviderServer) serveRPC(w http.ResponseWriter, r *http.Request) {
	var env map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var comm map[string]any
	json.Unmarshal(env["comm"], &comm)

	out := map[string]any{"code": 0}
	for key, raw := range env {
		if key == "comm" {
			continue
		}
		var body struct {
			Module string         `json:"module"`
			Method string         `json:"method"`
			Param  map[string]any `json:"param"`
		}
		json.Unmarshal(raw, &body)
		call := RPCCall{Key: key, Module: body.Module, Method: body.Method, Param: body.Param, Comm: comm}

		p.mu.Lock()
		p.calls = append(p.calls, call)
		h := p.rpc[body.Module+"."+body.Method]
		p.mu.Unlock()

		code, data := 500001, any(nil)
		if h != nil {
			code, data = h(call)
		}
		out[key] = map[string]any{"code": code, "data": data}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// QQStatusBody renders a ptqrlogin callback for code. Success bodies carry a check_sig URL.
func QQStatusBody(code int, uin, sigx string) string {
	target := ""
	if code == 0 {
		target = "https://ssl.ptlogin2.graph.qq.com/check_sig?pttype=1&uin=" + uin + "&service=ptqrlogin&nodirect=0&ptsigx=" + sigx + "&s_url=https%3A%2F%2Fgraph.qq.com%2Foauth2.0%2Flogin_jump&f_url=&ptlang=2052"
	}
	return "ptuiCB('" + strconv.Itoa(code) + "','0','" + target + "','0','msg', 'nick')"
}

// WXStatusBody renders a WX long-poll answer.
func WXStatusBody(code int, wxCode string) string {
	return "window.wx_errcode=" + strconv.Itoa(code) + ";window.wx_code='" + wxCode + "';"
}

// LoginData is a login-service data block with a complete, refreshable credential.
func LoginData(musicID int64, musicKey string) map[string]any {
	return map[string]any{
		"musicid":       musicID,
		"musickey":      musicKey,
		"refresh_key":   "refresh-key-" + musicKey,
		"refresh_token": "refresh-token-" + musicKey,
		"openid":        "openid",
		"expired_at":    1900000000,
		"encryptUin":    "enc-uin",
	}
}
