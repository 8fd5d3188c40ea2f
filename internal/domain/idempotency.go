package domain

import "time"

// IdempotencyStatus — состояние запроса, повторённого с тем же Idempotency-Key.
type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	IdempotencyStatusDone       IdempotencyStatus = "done"
	// IdempotencyStatusFailed — ответ с ошибкой сохранён и отдаётся повторно,
	// кроме серверных ошибок (см. Reclaimable).
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// DefaultIdempotencyTTL — срок хранения ответа на оформление заказа.
const DefaultIdempotencyTTL = 24 * time.Hour

// IdempotencyRecord — сохранённый ответ на запрос покупателя.
type IdempotencyRecord struct {
	// Key уже включает пользователя, см. ScopedIdempotencyKey.
	Key          string
	RequestHash  string
	ResponseBody []byte
	HTTPStatus   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}

// ScopedIdempotencyKey изолирует клиентский ключ по пользователю: одинаковые
// ключи двух покупателей не видят ответов друг друга.
func ScopedIdempotencyKey(userID, key string) string {
	return userID + ":" + key
}

// Expired сообщает, что срок хранения записи истёк.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.TTLAt.After(now)
}

// Reclaimable сообщает, может ли новый запрос занять ключ заново. Это
// допустимо для просроченной записи и для повтора того же запроса, который
// завершился серверной ошибкой: оформление при этом не выполнилось.
func (r IdempotencyRecord) Reclaimable(requestHash string, now time.Time) bool {
	if r.Expired(now) {
		return true
	}
	return r.Status == IdempotencyStatusFailed &&
		r.HTTPStatus >= 500 &&
		r.RequestHash == requestHash
}
