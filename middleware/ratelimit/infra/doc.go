// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - MemoryWindowStore: janela deslizante em memória, particionada por hash da chave
//   - RedisWindowStore: janela deslizante compartilhada entre instâncias (sorted set + Lua)
//   - MemoryStatsStore / RedisStatsStore / SQLiteStatsStore: estatísticas de decisão
//   - ChanPool: semáforo simples para limite de concorrência
package infra
