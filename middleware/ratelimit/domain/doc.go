// Package domain define contratos e tipos de domínio para rate limit e concorrência.
//
// Este pacote não depende de net/http nem de implementações concretas de armazenamento.
// O algoritmo de janela deslizante (Slide) é uma função pura: recebe a entrada atual,
// a configuração da classe e o instante, e devolve a decisão e a nova entrada.
// Quem persiste o resultado é a camada de infra.
package domain
