package tower

import (
	"sort"

	"github.com/annel0/voxel-tower/internal/vec"
)

// Levels хранит уровни разреженно: y -> x -> z -> заполнено.
// В JSON ключи становятся десятичными строками: {"0": {"-2": {"1": true}}}.
type Levels map[int]map[int]map[int]bool

// Snapshot описывает экспортируемое состояние башни. Это и полезная нагрузка
// onstart, и то, что сохраняется в хранилище.
type Snapshot struct {
	MinHeight int    `json:"minHeight" bson:"minHeight"`
	MaxHeight int    `json:"maxHeight" bson:"maxHeight"`
	Dimension int    `json:"dimension" bson:"dimension"`
	Levels    Levels `json:"levels" bson:"levels"`
}

func (l Levels) set(x, y, z int) {
	level, ok := l[y]
	if !ok {
		level = make(map[int]map[int]bool)
		l[y] = level
	}
	row, ok := level[x]
	if !ok {
		row = make(map[int]bool)
		level[x] = row
	}
	row[z] = true
}

// Filled сообщает, заполнена ли клетка; отсутствующий путь читается как пусто
func (l Levels) Filled(x, y, z int) bool {
	return l[y][x][z]
}

// Cells возвращает заполненные клетки снимка, упорядоченные по y, x, z
func (s *Snapshot) Cells() []vec.Vec3 {
	var cells []vec.Vec3
	for y, level := range s.Levels {
		for x, row := range level {
			for z, filled := range row {
				if filled {
					cells = append(cells, vec.Vec3{X: x, Y: y, Z: z})
				}
			}
		}
	}
	sort.Slice(cells, func(i, j int) bool { return cells[i].Less(cells[j]) })
	return cells
}

// HalfDimension возвращает (dimension-1)/2
func (s *Snapshot) HalfDimension() int {
	return (s.Dimension - 1) / 2
}
