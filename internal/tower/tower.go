package tower

import (
	"errors"
	"fmt"
	"sync"

	"github.com/annel0/voxel-tower/internal/vec"
)

const (
	DefaultDimension     = 5
	DefaultMaximumLevels = 100
	DefaultHeight        = 10
)

// ErrInvalidSnapshot возвращается, если снимок невозможно разместить в сетке
var ErrInvalidSnapshot = errors.New("invalid tower snapshot")

// Config задаёт параметры новой башни
type Config struct {
	DefaultHeight int `yaml:"default_height"` // maxHeight стартовой колонны
	Dimension     int `yaml:"dimension"`      // сторона уровня, нечётная
	MaximumLevels int `yaml:"maximum_levels"` // окно хранимых уровней
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		DefaultHeight: DefaultHeight,
		Dimension:     DefaultDimension,
		MaximumLevels: DefaultMaximumLevels,
	}
}

func (c Config) withDefaults() Config {
	if c.Dimension <= 0 {
		c.Dimension = DefaultDimension
	}
	if c.MaximumLevels <= 0 {
		c.MaximumLevels = DefaultMaximumLevels
	}
	if c.DefaultHeight < 0 {
		c.DefaultHeight = 0
	}
	return c
}

// Tower хранит авторитетное состояние общей башни.
//
// Уровни хранятся плотно: кольцевой буфер из capacity слотов по
// dimension*dimension клеток. Высота y живёт в слоте mod(y, capacity).
// Слоты высот вне [minHeight, maxHeight] всегда пусты.
type Tower struct {
	mu sync.RWMutex

	minHeight     int
	maxHeight     int
	dimension     int
	halfDimension int
	maximumLevels int

	capacity int
	cells    []bool
}

// New создаёт башню со сплошной колонной уровней [0, DefaultHeight]
func New(cfg Config) *Tower {
	cfg = cfg.withDefaults()

	t := newEmpty(0, cfg.DefaultHeight, cfg.Dimension, cfg.MaximumLevels)
	for y := t.minHeight; y <= t.maxHeight; y++ {
		t.fillLevel(y)
	}
	return t
}

// FromSnapshot восстанавливает башню из снимка, принимая его границы как есть.
// maximumLevels: локальная настройка процесса, в снимке её нет.
func FromSnapshot(snap *Snapshot, maximumLevels int) (*Tower, error) {
	if snap == nil {
		return nil, fmt.Errorf("%w: nil snapshot", ErrInvalidSnapshot)
	}
	if snap.Dimension <= 0 || snap.Dimension%2 == 0 {
		return nil, fmt.Errorf("%w: dimension %d must be odd and positive", ErrInvalidSnapshot, snap.Dimension)
	}
	if snap.MinHeight > snap.MaxHeight {
		return nil, fmt.Errorf("%w: minHeight %d > maxHeight %d", ErrInvalidSnapshot, snap.MinHeight, snap.MaxHeight)
	}
	if maximumLevels <= 0 {
		maximumLevels = DefaultMaximumLevels
	}

	t := newEmpty(snap.MinHeight, snap.MaxHeight, snap.Dimension, maximumLevels)
	for y, level := range snap.Levels {
		for x, row := range level {
			for z, filled := range row {
				if filled && t.storesCoordinate(x, y, z) {
					t.cells[t.index(x, y, z)] = true
				}
			}
		}
	}
	return t, nil
}

func newEmpty(minHeight, maxHeight, dimension, maximumLevels int) *Tower {
	// Окно из снимка может быть шире maximumLevels: храним его целиком,
	// при следующем росте оно ужмётся до maximumLevels.
	capacity := maximumLevels
	if span := maxHeight - minHeight; span > capacity {
		capacity = span
	}
	capacity++

	return &Tower{
		minHeight:     minHeight,
		maxHeight:     maxHeight,
		dimension:     dimension,
		halfDimension: (dimension - 1) / 2,
		maximumLevels: maximumLevels,
		capacity:      capacity,
		cells:         make([]bool, capacity*dimension*dimension),
	}
}

// MinHeight возвращает нижний хранимый уровень
func (t *Tower) MinHeight() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.minHeight
}

// MaxHeight возвращает верхний хранимый уровень
func (t *Tower) MaxHeight() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.maxHeight
}

// Dimension возвращает сторону уровня
func (t *Tower) Dimension() int { return t.dimension }

// HalfDimension возвращает (dimension-1)/2
func (t *Tower) HalfDimension() int { return t.halfDimension }

// MaximumLevels возвращает размер окна уровней
func (t *Tower) MaximumLevels() int { return t.maximumLevels }

// StoresCoordinate проверяет, что координата лежит в текущих границах
func (t *Tower) StoresCoordinate(x, y, z int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.storesCoordinate(x, y, z)
}

// GetItem возвращает состояние клетки. materialized == false означает, что
// клетка вне хранимых границ; для вызывающего это то же самое, что пустая.
func (t *Tower) GetItem(x, y, z int) (filled bool, materialized bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.storesCoordinate(x, y, z) {
		return false, false
	}
	return t.cells[t.index(x, y, z)], true
}

// Filled сокращает GetItem, когда важен только флаг заполнения
func (t *Tower) Filled(x, y, z int) bool {
	filled, _ := t.GetItem(x, y, z)
	return filled
}

// SetItem записывает значение клетки. Возвращает false без изменений,
// если координата вне границ.
func (t *Tower) SetItem(x, y, z int, value bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.setItem(x, y, z, value)
}

// AddBlock обрабатывает установку блока игроком.
//
// Любой блок ровно на уровень выше вершины поднимает maxHeight и вытесняет
// нижние уровни, пока окно не станет не шире maximumLevels. Запись клетки
// проверяет границы уже после роста: блок с x или z вне плоскости отклоняется,
// но новый уровень остаётся. Всё остальное вне границ (в том числе «висящие»
// блоки выше maxHeight+1) отклоняется без изменений.
func (t *Tower) AddBlock(x, y, z int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if y == t.maxHeight+1 {
		t.maxHeight = y
		for t.maxHeight-t.minHeight > t.maximumLevels {
			t.clearLevel(t.minHeight)
			t.minHeight++
		}
	}

	return t.setItem(x, y, z, true)
}

// Place вызывает AddBlock для vec.Vec3
func (t *Tower) Place(pos vec.Vec3) bool {
	return t.AddBlock(pos.X, pos.Y, pos.Z)
}

// Export возвращает снимок текущего состояния (только заполненные клетки)
func (t *Tower) Export() *Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := &Snapshot{
		MinHeight: t.minHeight,
		MaxHeight: t.maxHeight,
		Dimension: t.dimension,
		Levels:    make(Levels, t.maxHeight-t.minHeight+1),
	}

	for y := t.minHeight; y <= t.maxHeight; y++ {
		for x := -t.halfDimension; x <= t.halfDimension; x++ {
			for z := -t.halfDimension; z <= t.halfDimension; z++ {
				if t.cells[t.index(x, y, z)] {
					snap.Levels.set(x, y, z)
				}
			}
		}
	}
	return snap
}

// FilledCount возвращает количество заполненных клеток в окне
func (t *Tower) FilledCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	count := 0
	for _, filled := range t.cells {
		if filled {
			count++
		}
	}
	return count
}

func (t *Tower) storesCoordinate(x, y, z int) bool {
	if y < t.minHeight || y > t.maxHeight {
		return false
	}
	return t.inPlane(x, z)
}

func (t *Tower) inPlane(x, z int) bool {
	return x >= -t.halfDimension && x <= t.halfDimension &&
		z >= -t.halfDimension && z <= t.halfDimension
}

func (t *Tower) setItem(x, y, z int, value bool) bool {
	if !t.storesCoordinate(x, y, z) {
		return false
	}
	t.cells[t.index(x, y, z)] = value
	return true
}

// slot отображает высоту в слот кольцевого буфера (y может быть отрицательным)
func (t *Tower) slot(y int) int {
	s := y % t.capacity
	if s < 0 {
		s += t.capacity
	}
	return s
}

func (t *Tower) index(x, y, z int) int {
	area := t.dimension * t.dimension
	return t.slot(y)*area + (x+t.halfDimension)*t.dimension + (z + t.halfDimension)
}

func (t *Tower) levelRange(y int) (int, int) {
	area := t.dimension * t.dimension
	start := t.slot(y) * area
	return start, start + area
}

func (t *Tower) fillLevel(y int) {
	start, end := t.levelRange(y)
	for i := start; i < end; i++ {
		t.cells[i] = true
	}
}

func (t *Tower) clearLevel(y int) {
	start, end := t.levelRange(y)
	for i := start; i < end; i++ {
		t.cells[i] = false
	}
}
