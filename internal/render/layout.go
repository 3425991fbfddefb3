package render

import (
	"math"

	"github.com/jetsetgo/group-checkout/internal/textfmt"
)

const (
	minHero       = 200
	heroFillRatio = 0.98
	heroCapRatio  = 0.92
	sheetChrome   = 24 + 32 + 52 // gaps, padding, button row
	titleLineH    = 24
	descLineH     = 20
	charsPerLine  = 38
	defaultViewVH = 720
)

// HeroHeight sizes the detail image so image, text and buttons together
// take about 98% of the viewport, never below 200px and never above 92%
// of the viewport.
func HeroHeight(viewport, nonImage float64) int {
	if viewport <= 0 {
		viewport = defaultViewVH
	}
	target := math.Max(minHero, math.Min(viewport*heroFillRatio-nonImage, viewport*heroCapRatio))
	return int(math.Floor(target))
}

// EstimateNonImage approximates the sheet height taken by everything but
// the image, from the wrapped line counts of name and description.
func EstimateNonImage(name, desc string) float64 {
	return float64(sheetChrome + lines(name)*titleLineH + lines(desc)*descLineH)
}

func lines(s string) int {
	n := textfmt.Len(s)
	if n == 0 {
		return 0
	}
	return (n + charsPerLine - 1) / charsPerLine
}
