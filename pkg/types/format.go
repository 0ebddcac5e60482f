package types

import "strconv"

// FormatPoints renders points in their canonical shortest form
func FormatPoints(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

func FormatRank(r int) string {
	return strconv.Itoa(r)
}
