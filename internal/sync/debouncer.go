package sync

import (
	"sync"
	"time"
)

// Debouncer откладывает действие до периода затишья длиной delay.
// Каждый Trigger отменяет ожидающий таймер и ставит новый, поэтому
// серия вызовов даёт ровно одно срабатывание после последнего из них.
type Debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	fn      func()
	timer   *time.Timer
	gen     uint64 // поколение таймера: устаревший таймер ничего не делает
	stopped bool
}

// NewDebouncer создаёт Debouncer для fn
func NewDebouncer(delay time.Duration, fn func()) *Debouncer {
	return &Debouncer{delay: delay, fn: fn}
}

// Trigger (пере)запускает отсчёт задержки
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen) })
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	// Таймер мог сработать одновременно с Trigger/Flush/Stop
	if gen != d.gen || d.timer == nil {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()

	d.fn()
}

// Pending сообщает, ожидает ли действие запуска
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Flush немедленно выполняет ожидающее действие в вызывающей горутине.
// Возвращает false, если ничего не ожидало.
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	if d.timer == nil {
		d.mu.Unlock()
		return false
	}
	d.timer.Stop()
	d.timer = nil
	d.gen++
	d.mu.Unlock()

	d.fn()
	return true
}

// Stop отменяет ожидающее действие; последующие Trigger игнорируются
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
}
