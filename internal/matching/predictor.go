package matching

import (
	"math"

	"github.com/helixir/docmatch-service/internal/domain"
)

// DefaultDOIBoost is added to the confidence when the DOIs match.
const DefaultDOIBoost = 0.2

// DefaultConfidenceDigits is the number of decimal places kept in a
// confidence value.
const DefaultConfidenceDigits = 7

// Predictor maps a score vector to a match probability in [0, 1]. The DOI
// marker is not an input; it is applied by Confidence.
type Predictor interface {
	Predict(v domain.ScoreVector) float64
}

// Coefficients are the parameters of one logistic model. Every weight is
// positive so the prediction never decreases when a component increases.
type Coefficients struct {
	Bias     float64
	Abstract float64
	Title    float64
	Author   float64
	Year     float64
}

// LogisticPredictor chooses between a four-component model, used when an
// abstract score is present, and a three-component model otherwise.
type LogisticPredictor struct {
	WithAbstract    Coefficients
	WithoutAbstract Coefficients
}

// NewLogisticPredictor returns the predictor with the calibrated defaults.
func NewLogisticPredictor() *LogisticPredictor {
	return &LogisticPredictor{
		WithAbstract: Coefficients{
			Bias:     -15.1151,
			Abstract: 6,
			Title:    6,
			Author:   4,
			Year:     2,
		},
		WithoutAbstract: Coefficients{
			Bias:   -12.125,
			Title:  7,
			Author: 5,
			Year:   2,
		},
	}
}

// Predict implements Predictor.
func (p *LogisticPredictor) Predict(v domain.ScoreVector) float64 {
	c := p.WithoutAbstract
	z := c.Bias
	if v.Abstract != nil {
		c = p.WithAbstract
		z = c.Bias + c.Abstract*(*v.Abstract)
	}
	z += c.Title*v.Title + c.Author*v.Author + c.Year*v.Year
	return sigmoid(z)
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

// Confidence combines a predicted probability with the refereed factor and
// the DOI boost, capped at 1 and rounded to digits decimal places.
func Confidence(p, refereedFactor float64, doiMatch bool, boost float64, digits int) float64 {
	c := p * refereedFactor
	if doiMatch {
		c = math.Min(1, c+boost)
	}
	return RoundTo(c, digits)
}

// RoundTo rounds x to the given number of decimal places.
func RoundTo(x float64, digits int) float64 {
	scale := math.Pow(10, float64(digits))
	return math.Round(x*scale) / scale
}
