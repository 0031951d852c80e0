package geo

// Point представляет точку в географических координатах.
// X соответствует долготе, Y соответствует широте.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Polygon представляет упорядоченное кольцо вершин границы зоны.
// Кольцо замыкается автоматически: последняя вершина соединяется
// с первой, дублировать первую вершину в конце не нужно.
type Polygon []Point

// Contains проверяет принадлежность точки полигону методом трассировки
// луча с подсчетом пересечений (even-odd). Граница считается внутренней
// областью: попадание в вершину, на горизонтальное ребро или точное
// совпадение с пересечением луча дают true.
func Contains(p Point, poly Polygon) bool {
	n := len(poly)
	if n < 3 {
		return false
	}

	inside := false
	for i := 0; i < n; i++ {
		a := poly[i]
		b := poly[(i+1)%n]

		if p == a || p == b {
			return true
		}

		if a.Y == b.Y && p.Y == a.Y {
			// точка на горизонтальном ребре
			if p.X > min(a.X, b.X) && p.X < max(a.X, b.X) {
				return true
			}
			continue
		}

		// полуоткрытый диапазон по Y исключает двойной счет вершин
		if p.Y > min(a.Y, b.Y) && p.Y <= max(a.Y, b.Y) && p.X <= max(a.X, b.X) {
			xIntersect := (p.Y-a.Y)*(b.X-a.X)/(b.Y-a.Y) + a.X
			if p.X == xIntersect {
				return true
			}
			if a.X == b.X || p.X <= xIntersect {
				inside = !inside
			}
		}
	}

	return inside
}
