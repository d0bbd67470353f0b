// Package breakroom содержит доменную модель наблюдения за break-комнатами:
// отслеживание задержавшихся пользователей и частоты заходов на перерыв.
// Чистый доменный слой без внешних зависимостей.
package breakroom

import (
	"time"
)

// Watch - одно наблюдение за парой (пользователь, комната). Существует,
// пока пользователь непрерывно находится в этой break-комнате.
type Watch struct {
	// UserID - идентификатор пользователя.
	UserID string

	// RoomID - идентификатор break-комнаты.
	RoomID string

	// JoinedAt - момент захода в комнату.
	JoinedAt time.Time
}

// Key возвращает ключ наблюдения в таблице монитора.
func (w Watch) Key() WatchKey {
	return WatchKey{UserID: w.UserID, RoomID: w.RoomID}
}

// Dwell возвращает, сколько пользователь уже находится в комнате.
func (w Watch) Dwell(now time.Time) time.Duration {
	return now.Sub(w.JoinedAt)
}

// WatchKey - составной ключ (пользователь, комната).
type WatchKey struct {
	UserID string
	RoomID string
}

// ══════════════════════════════════════════════════════════════════════════════
// JOIN HISTORY
// ══════════════════════════════════════════════════════════════════════════════

// JoinWindow - размер скользящего окна для подсчёта заходов на перерыв.
const JoinWindow = 60 * time.Minute

// JoinHistory - скользящее окно заходов пользователя в break-комнаты.
// Записи старше JoinWindow отбрасываются лениво при каждом новом заходе.
type JoinHistory struct {
	joins []time.Time // отсортированы по возрастанию
	// nagged отмечает, что в текущем окне уже отправлен nag; сбрасывается,
	// когда окно прокатывается мимо первых трёх заходов.
	naggedAt time.Time
}

// RecordJoin регистрирует заход и возвращает число заходов в текущем окне
// (включая этот).
func (h *JoinHistory) RecordJoin(now time.Time) int {
	cutoff := now.Add(-JoinWindow)
	idx := 0
	for idx < len(h.joins) && h.joins[idx].Before(cutoff) {
		idx++
	}
	h.joins = append(h.joins[idx:], now)
	if !h.naggedAt.IsZero() && h.naggedAt.Before(cutoff) {
		h.naggedAt = time.Time{}
	}
	return len(h.joins)
}

// ShouldNag возвращает true, если порог достигнут и nag в этом окне ещё не
// отправлялся. Вызывается после RecordJoin.
func (h *JoinHistory) ShouldNag(threshold int) bool {
	return len(h.joins) >= threshold && h.naggedAt.IsZero()
}

// MarkNagged фиксирует отправку nag в текущем окне.
func (h *JoinHistory) MarkNagged(now time.Time) {
	h.naggedAt = now
}

// Count возвращает число заходов в окне на момент now, без мутации.
func (h *JoinHistory) Count(now time.Time) int {
	cutoff := now.Add(-JoinWindow)
	n := 0
	for _, t := range h.joins {
		if !t.Before(cutoff) {
			n++
		}
	}
	return n
}
