package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/athebyme/catalog-sync/pkg/interfaces"
)

// feedLockTTL срок действия блокировки загрузки снимка фида
const feedLockTTL = 30 * time.Second

// awaitOrLock захватывает блокировку загрузки по ключу кэша.
// Если блокировку держит другой процесс, перечитывает кэш, давая ему
// закончить загрузку. Возвращает тело из кэша, если оно появилось,
// и признак того, что блокировка захвачена текущим процессом
func awaitOrLock(ctx context.Context, cache interfaces.CachePort, key string) ([]byte, bool) {
	locked, err := cache.Lock(ctx, key, feedLockTTL)
	if err != nil || locked {
		// при ошибке блокировки грузим сами, кэш остается лучшей попыткой
		return nil, locked
	}

	for i := 0; i < 10; i++ {
		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(200 * time.Millisecond):
		}
		if cached, err := cache.Get(ctx, key); err == nil && cached != nil {
			return cached, false
		}
	}

	// сосед не успел, забираем снимок сами без блокировки
	return nil, false
}

// flexNumber разбирает числовые поля фидов, которые приходят
// то числом, то строкой
type flexNumber float64

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(bytes.Trim(bytes.TrimSpace(data), `"`)))
	if raw == "" || raw == "null" {
		*n = 0
		return nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("invalid numeric value %q: %w", raw, err)
	}
	*n = flexNumber(value)
	return nil
}

func (n flexNumber) Float64() float64 { return float64(n) }

// flexString разбирает текстовые поля фидов, которые приходят
// то строкой, то числом, и сразу обрезает пробелы
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if string(data) == "null" {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var value string
		if err := json.Unmarshal(data, &value); err != nil {
			return err
		}
		*s = flexString(strings.TrimSpace(value))
		return nil
	}
	*s = flexString(string(data))
	return nil
}

func (s flexString) String() string { return string(s) }

// round2 округляет денежные значения до двух знаков
func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

// decodeJSON разбирает тело ответа фида
func decodeJSON(data []byte, target interface{}) error {
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to decode feed payload: %w", err)
	}
	return nil
}
