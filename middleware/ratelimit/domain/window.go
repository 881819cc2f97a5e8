package domain

import "time"

// Entry guarda os instantes (unix ms) das requisições admitidas para uma chave.
//
// Window é a janela usada na última admissão; a varredura global usa esse valor
// para saber o que já expirou sem precisar conhecer a tabela de regras.
type Entry struct {
	Timestamps []int64
	Window     time.Duration
}

// Empty informa se não resta nenhum timestamp (a chave pode ser removida).
func (e Entry) Empty() bool { return len(e.Timestamps) == 0 }

// Expire devolve a entrada apenas com timestamps em [now-Window, now].
// Uma entrada sem janela conhecida é considerada totalmente expirada.
func (e Entry) Expire(now time.Time) Entry {
	if e.Window <= 0 {
		return Entry{}
	}
	return Entry{
		Timestamps: keepSince(e.Timestamps, now.UnixMilli()-e.Window.Milliseconds()),
		Window:     e.Window,
	}
}

// Slide aplica a janela deslizante (log de timestamps) para uma requisição em `now`.
//
// Função pura: não altera `e`. A entrada devolvida já vem podada e, se admitida,
// com `now` anexado. Requisições bloqueadas não consomem vaga.
func Slide(e Entry, cfg Config, now time.Time) (Decision, Entry) {
	if err := cfg.Validate(); err != nil {
		return FailClosed(cfg), e
	}

	nowMs := now.UnixMilli()
	windowMs := cfg.Window.Milliseconds()
	kept := keepSince(e.Timestamps, nowMs-windowMs)

	if len(kept) >= cfg.MaxRequests {
		wait := time.Duration(oldest(kept)+windowMs-nowMs) * time.Millisecond
		return Decision{Allowed: false, RetryAfter: wait}, Entry{Timestamps: kept, Window: cfg.Window}
	}

	kept = append(kept, nowMs)
	return Decision{Allowed: true}, Entry{Timestamps: kept, Window: cfg.Window}
}

func keepSince(ts []int64, cutoffMs int64) []int64 {
	kept := make([]int64, 0, len(ts)+1)
	for _, t := range ts {
		if t >= cutoffMs {
			kept = append(kept, t)
		}
	}
	return kept
}

// oldest não assume ordenação: o relógio de parede pode voltar.
func oldest(ts []int64) int64 {
	low := ts[0]
	for _, t := range ts[1:] {
		if t < low {
			low = t
		}
	}
	return low
}
