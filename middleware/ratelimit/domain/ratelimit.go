package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig indica uma configuração de classe que não pode admitir nada
// (janela ou limite <= 0). O limiter trata isso como bloqueio, nunca como pânico.
var ErrInvalidConfig = errors.New("ratelimit: invalid config")

type Key string

// Class é a categoria de endpoint que compartilha uma mesma Config.
type Class string

const (
	ClassAI      Class = "ai"
	ClassAuth    Class = "auth"
	ClassUpload  Class = "upload"
	ClassDefault Class = "default"
)

// PrincipalKind diz se a chave foi derivada de um usuário autenticado ou do IP.
type PrincipalKind string

const (
	PrincipalUser PrincipalKind = "user"
	PrincipalIP   PrincipalKind = "ip"
)

// NewKey monta a chave composta no formato {classe}:{tipo}:{id}.
func NewKey(class Class, kind PrincipalKind, id string) Key {
	return Key(string(class) + ":" + string(kind) + ":" + id)
}

// Config é a configuração (imutável) de uma classe de endpoint.
type Config struct {
	Window      time.Duration
	MaxRequests int
}

// Validate exige janela de pelo menos 1ms (a granularidade dos timestamps) e limite > 0.
func (c Config) Validate() error {
	if c.Window < time.Millisecond {
		return fmt.Errorf("%w: window must be >= 1ms, got %s", ErrInvalidConfig, c.Window)
	}
	if c.MaxRequests <= 0 {
		return fmt.Errorf("%w: max requests must be > 0, got %d", ErrInvalidConfig, c.MaxRequests)
	}
	return nil
}

type Decision struct {
	Allowed bool
	// RetryAfter é o tempo restante até liberar uma vaga na janela.
	// Só tem significado quando Allowed=false.
	RetryAfter time.Duration
}

// RetryAfterSeconds arredonda RetryAfter para cima em segundos.
// Um bloqueio nunca anuncia menos que 1s.
func (d Decision) RetryAfterSeconds() int {
	if d.Allowed {
		return 0
	}
	secs := int((d.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// FailClosed é a decisão para uma configuração inválida: bloqueia sempre.
// O Retry-After acompanha a janela configurada (mínimo 1s).
func FailClosed(cfg Config) Decision {
	retry := cfg.Window
	if retry < time.Second {
		retry = time.Second
	}
	return Decision{Allowed: false, RetryAfter: retry}
}
