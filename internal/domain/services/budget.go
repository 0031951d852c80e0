package services

import "time"

// Budget кооперативный ограничитель длительности запуска импорта.
// Момент старта фиксируется при создании, Exceeded сравнивает
// прошедшее время с потолком за вычетом запаса. Проверка выполняется
// только между единицами работы, прерывания записи посреди нет
type Budget struct {
	start   time.Time
	ceiling time.Duration
	margin  time.Duration
	now     func() time.Time
}

// NewBudget создает бюджет с заданным потолком и запасом
func NewBudget(ceiling, margin time.Duration) *Budget {
	return newBudgetWithClock(ceiling, margin, time.Now)
}

// newBudgetWithClock позволяет подменить часы в тестах
func newBudgetWithClock(ceiling, margin time.Duration, now func() time.Time) *Budget {
	return &Budget{
		start:   now(),
		ceiling: ceiling,
		margin:  margin,
		now:     now,
	}
}

// Exceeded сообщает, что пора корректно останавливаться
func (b *Budget) Exceeded() bool {
	return b.now().Sub(b.start) >= b.ceiling-b.margin
}

// Elapsed возвращает время, прошедшее со старта
func (b *Budget) Elapsed() time.Duration {
	return b.now().Sub(b.start)
}
