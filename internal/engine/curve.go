package engine

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"openfan_micro/internal/models"
)

// Curve is a piecewise-linear temperature to duty mapping, strictly ascending
// by temperature.
type Curve []models.CurvePoint

// NewCurve validates points and returns them as a Curve.
func NewCurve(points []models.CurvePoint) (Curve, error) {
	for i, p := range points {
		if p.Duty < 0 || p.Duty > 100 {
			return nil, fmt.Errorf("%w: point %d duty %d outside 0..100", ErrInvalidCurve, i, p.Duty)
		}
		if math.IsNaN(p.Temperature) || math.IsInf(p.Temperature, 0) {
			return nil, fmt.Errorf("%w: point %d has no finite temperature", ErrInvalidCurve, i)
		}
		if i > 0 && p.Temperature <= points[i-1].Temperature {
			return nil, fmt.Errorf("%w: temperatures must be strictly ascending (%.2f after %.2f)",
				ErrInvalidCurve, p.Temperature, points[i-1].Temperature)
		}
	}
	out := make(Curve, len(points))
	copy(out, points)
	return out, nil
}

// ParseCurve reads the "temp=pct, temp=pct" text form, e.g. "45=25, 65=55, 70=100".
// Duties are clamped to 0..100. Empty text yields an empty curve.
func ParseCurve(text string) (Curve, error) {
	var points []models.CurvePoint
	for _, part := range strings.Split(text, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		tStr, pctStr, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("%w: %q is not temp=pct", ErrInvalidCurve, part)
		}
		temp, err := strconv.ParseFloat(strings.TrimSpace(tStr), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: temperature %q: %v", ErrInvalidCurve, tStr, err)
		}
		pct, err := strconv.Atoi(strings.TrimSpace(pctStr))
		if err != nil {
			return nil, fmt.Errorf("%w: duty %q: %v", ErrInvalidCurve, pctStr, err)
		}
		points = append(points, models.CurvePoint{Temperature: temp, Duty: min(100, max(0, pct))})
	}
	return NewCurve(points)
}

// String renders the curve in the form accepted by ParseCurve.
func (c Curve) String() string {
	parts := make([]string, 0, len(c))
	for _, p := range c {
		parts = append(parts, strconv.FormatFloat(p.Temperature, 'f', -1, 64)+"="+strconv.Itoa(p.Duty))
	}
	return strings.Join(parts, ", ")
}

// Interpolate maps a temperature to a duty. Temperatures outside the curve
// take the nearest end point's duty. Panics on an empty curve.
func (c Curve) Interpolate(temp float64) int {
	first, last := c[0], c[len(c)-1]
	if temp <= first.Temperature {
		return first.Duty
	}
	if temp >= last.Temperature {
		return last.Duty
	}
	for i := 0; i < len(c)-1; i++ {
		p1, p2 := c[i], c[i+1]
		if temp < p1.Temperature || temp > p2.Temperature {
			continue
		}
		if p2.Temperature == p1.Temperature {
			return max(p1.Duty, p2.Duty)
		}
		ratio := (temp - p1.Temperature) / (p2.Temperature - p1.Temperature)
		return int(math.Round(float64(p1.Duty) + float64(p2.Duty-p1.Duty)*ratio))
	}
	return last.Duty
}
