// Package identity resolve o principal (usuário autenticado) de uma request
// consultando o provedor de identidade externo.
//
// O gateway não emite nem valida tokens: ele só pergunta "quem é o dono desta sessão?"
// e usa a resposta para derivar a chave de rate limit.
package identity

import (
	"context"
	"errors"
	"net/http"
)

// ErrUnavailable indica que o provedor não respondeu de forma utilizável.
// Quem chama deve seguir como anônimo.
var ErrUnavailable = errors.New("identity: provider unavailable")

type Principal struct {
	ID string
}

// Resolver consulta o colaborador de identidade.
//
// ok=false significa request anônima. Resolve pode escrever cookies de sessão
// renovados em w; eles precisam sobreviver mesmo se a request for rejeitada depois.
type Resolver interface {
	Resolve(w http.ResponseWriter, r *http.Request) (p Principal, ok bool, err error)
}

type ResolverFunc func(w http.ResponseWriter, r *http.Request) (Principal, bool, error)

func (f ResolverFunc) Resolve(w http.ResponseWriter, r *http.Request) (Principal, bool, error) {
	return f(w, r)
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// PrincipalFrom devolve o principal resolvido para esta request, se houver.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok && p.ID != ""
}
