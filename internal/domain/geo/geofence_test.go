package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var square = Polygon{
	{X: 0, Y: 0},
	{X: 10, Y: 0},
	{X: 10, Y: 10},
	{X: 0, Y: 10},
}

func TestContainsInside(t *testing.T) {
	assert.True(t, Contains(Point{X: 5, Y: 5}, square))
	assert.True(t, Contains(Point{X: 1, Y: 9}, square))
}

func TestContainsOutside(t *testing.T) {
	assert.False(t, Contains(Point{X: 15, Y: 5}, square))
	assert.False(t, Contains(Point{X: -1, Y: 5}, square))
	assert.False(t, Contains(Point{X: 5, Y: 11}, square))
	assert.False(t, Contains(Point{X: 5, Y: -1}, square))
}

func TestContainsBoundary(t *testing.T) {
	// граница принадлежит полигону
	assert.True(t, Contains(Point{X: 0, Y: 5}, square), "вертикальное ребро")
	assert.True(t, Contains(Point{X: 5, Y: 0}, square), "горизонтальное ребро")
	assert.True(t, Contains(Point{X: 0, Y: 0}, square), "вершина")
	assert.True(t, Contains(Point{X: 10, Y: 10}, square), "вершина")
}

func TestContainsConcave(t *testing.T) {
	// полигон с выемкой: точка в выемке снаружи
	concave := Polygon{
		{X: 0, Y: 0},
		{X: 10, Y: 0},
		{X: 10, Y: 10},
		{X: 6, Y: 10},
		{X: 6, Y: 4},
		{X: 4, Y: 4},
		{X: 4, Y: 10},
		{X: 0, Y: 10},
	}

	assert.True(t, Contains(Point{X: 2, Y: 8}, concave))
	assert.True(t, Contains(Point{X: 8, Y: 8}, concave))
	assert.False(t, Contains(Point{X: 5, Y: 8}, concave), "точка в выемке")
	assert.True(t, Contains(Point{X: 5, Y: 2}, concave))
}

func TestContainsDegenerate(t *testing.T) {
	// полигон из менее чем трех вершин ничего не содержит
	assert.False(t, Contains(Point{X: 0, Y: 0}, Polygon{}))
	assert.False(t, Contains(Point{X: 0, Y: 0}, Polygon{{X: 0, Y: 0}, {X: 1, Y: 1}}))
}

func TestContainsClosedRing(t *testing.T) {
	// явное замыкание кольца не меняет результат
	closed := append(Polygon{}, square...)
	closed = append(closed, square[0])

	assert.Equal(t, Contains(Point{X: 5, Y: 5}, square), Contains(Point{X: 5, Y: 5}, closed))
	assert.Equal(t, Contains(Point{X: 15, Y: 5}, square), Contains(Point{X: 15, Y: 5}, closed))
}
