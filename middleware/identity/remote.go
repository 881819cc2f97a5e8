package identity

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RemoteResolver pergunta ao provedor de identidade quem é o usuário da sessão.
//
// O valor do cookie de sessão vai como Bearer token para GET {URL}; 200 com
// {"id": "..."} identifica o usuário, 401/403 significa sessão inválida (anônimo).
// Set-Cookie devolvido pelo provedor (renovação de sessão) é repassado para o cliente.
type RemoteResolver struct {
	client        *http.Client
	url           string
	sessionCookie string
	apiKey        string
}

type RemoteConfig struct {
	URL           string
	SessionCookie string
	APIKey        string
	Timeout       time.Duration
}

func NewRemoteResolver(cfg RemoteConfig) *RemoteResolver {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	name := cfg.SessionCookie
	if name == "" {
		name = "session"
	}
	return &RemoteResolver{
		client:        &http.Client{Timeout: timeout},
		url:           cfg.URL,
		sessionCookie: name,
		apiKey:        cfg.APIKey,
	}
}

type userResponse struct {
	ID string `json:"id"`
}

func (rr *RemoteResolver) Resolve(w http.ResponseWriter, r *http.Request) (Principal, bool, error) {
	c, err := r.Cookie(rr.sessionCookie)
	if err != nil || strings.TrimSpace(c.Value) == "" {
		return Principal{}, false, nil
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, rr.url, nil)
	if err != nil {
		return Principal{}, false, fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.Value)
	req.Header.Set("Accept", "application/json")
	if rr.apiKey != "" {
		req.Header.Set("apikey", rr.apiKey)
	}

	resp, err := rr.client.Do(req)
	if err != nil {
		return Principal{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	for _, sc := range resp.Header.Values("Set-Cookie") {
		w.Header().Add("Set-Cookie", sc)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Principal{}, false, nil
	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Principal{}, false, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var u userResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&u); err != nil {
		return Principal{}, false, fmt.Errorf("%w: decode user: %v", ErrUnavailable, err)
	}
	if u.ID == "" {
		return Principal{}, false, nil
	}
	return Principal{ID: u.ID}, true, nil
}
