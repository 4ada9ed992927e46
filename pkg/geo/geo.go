package geo

import "math"

// 地球平均半径（米）
const earthRadiusMeters = 6371000

// DistanceMeters 计算两点之间的大圆距离（Haversine 公式），单位米
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	deltaPhi := (lat2 - lat1) * math.Pi / 180
	deltaLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaPhi/2)*math.Sin(deltaPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*
			math.Sin(deltaLambda/2)*math.Sin(deltaLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// DistanceKm 计算两点之间的大圆距离，单位公里
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	return DistanceMeters(lat1, lon1, lat2, lon2) / 1000
}

// WithinMeters 判断两点距离是否严格小于 threshold 米
// 边界值（恰好等于阈值）视为未到达
func WithinMeters(lat1, lon1, lat2, lon2, threshold float64) bool {
	return DistanceMeters(lat1, lon1, lat2, lon2) < threshold
}
