// Package ratelimit fornece adapters HTTP (net/http) para rate limit e limite de concorrência.
//
// Visão geral (camadas):
//
//   - domain: contratos, tipos e o algoritmo de janela deslizante (sem net/http)
//   - application: casos de uso (decisão allow/deny, varredura, acquire/timeout) sem net/http
//   - infra: stores concretos (memória particionada, Redis, estatísticas), semáforo
//   - ratelimit (este pacote): classificação da request, derivação de chave, middlewares
//
// Fluxo por request:
//
//  1. Classifier escolhe a regra (ai → auth → upload → default; a primeira que casa vence)
//  2. KeyFunc deriva o principal: user:{id} se houver sessão, senão ip:{endereço}
//  3. Limiter.Check consulta a camada application com a chave {classe}:{tipo}:{id}
//  4. Se bloqueado, responde 429 com Retry-After; se permitido, segue para o próximo handler
//
// O gate (middleware/gate) usa o Limiter diretamente para compor com CSRF;
// Middleware existe para quem quer só o rate limit.
package ratelimit
