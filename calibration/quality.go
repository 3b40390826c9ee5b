package calibration

import (
	"encoding/json"
	"math"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"

	"github.com/protolight/armarker/transform"
)

// QualityTier orders calibration fits by reprojection error, worst first so
// tiers compare with plain <.
type QualityTier int

// Tiers from unusable to excellent.
const (
	TierPoor QualityTier = iota
	TierFair
	TierGood
	TierExcellent
)

func (qt QualityTier) String() string {
	switch qt {
	case TierExcellent:
		return "excellent"
	case TierGood:
		return "good"
	case TierFair:
		return "fair"
	case TierPoor:
		return "poor"
	default:
		return "unknown"
	}
}

// MarshalJSON serializes the tier by name so snapshots stay readable.
func (qt QualityTier) MarshalJSON() ([]byte, error) {
	return json.Marshal(qt.String())
}

// UnmarshalJSON parses a tier name.
func (qt *QualityTier) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "excellent":
		*qt = TierExcellent
	case "good":
		*qt = TierGood
	case "fair":
		*qt = TierFair
	case "poor":
		*qt = TierPoor
	default:
		return errors.Errorf("unknown quality tier %q", name)
	}
	return nil
}

// QualityConfig holds the acceptance thresholds of the evaluator.
type QualityConfig struct {
	// ExcellentMaxPx, GoodMaxPx, FairMaxPx bound the mean reprojection error of
	// each tier; anything at or above FairMaxPx is poor.
	ExcellentMaxPx float64 `json:"excellent_max_px"`
	GoodMaxPx      float64 `json:"good_max_px"`
	FairMaxPx      float64 `json:"fair_max_px"`
	// MinDeterminant is the conditioning floor on |det(H)|.
	MinDeterminant float64 `json:"min_determinant"`
	// MinCoverage is the minimum fraction of the frame area the correspondence
	// bounding box must span.
	MinCoverage float64 `json:"min_coverage"`
}

// DefaultQualityConfig returns the standard thresholds.
func DefaultQualityConfig() QualityConfig {
	return QualityConfig{
		ExcellentMaxPx: 2.0,
		GoodMaxPx:      5.0,
		FairMaxPx:      10.0,
		MinDeterminant: 1e-8,
		MinCoverage:    0.10,
	}
}

func (cfg QualityConfig) applyDefaults() QualityConfig {
	def := DefaultQualityConfig()
	if cfg.ExcellentMaxPx <= 0 {
		cfg.ExcellentMaxPx = def.ExcellentMaxPx
	}
	if cfg.GoodMaxPx <= 0 {
		cfg.GoodMaxPx = def.GoodMaxPx
	}
	if cfg.FairMaxPx <= 0 {
		cfg.FairMaxPx = def.FairMaxPx
	}
	if cfg.MinDeterminant <= 0 {
		cfg.MinDeterminant = def.MinDeterminant
	}
	if cfg.MinCoverage <= 0 {
		cfg.MinCoverage = def.MinCoverage
	}
	return cfg
}

// QualityReport is the structured verdict of one evaluation.
type QualityReport struct {
	MeanReprojectionErrPx float64     `json:"mean_reprojection_err_px"`
	MaxReprojectionErrPx  float64     `json:"max_reprojection_err_px"`
	Tier                  QualityTier `json:"tier"`
	WellConditioned       bool        `json:"well_conditioned"`
	Coverage              float64     `json:"coverage"`
	CoverageOK            bool        `json:"coverage_ok"`
	// Usable means tier at least fair with conditioning and coverage both passing.
	Usable bool `json:"usable"`
}

// EvaluateQuality scores a fitted homography against the correspondence pairs it
// came from (or a held-out validation set): mean and max Euclidean reprojection
// error of the mapped reference points against the observed image points, a
// conditioning check on the determinant, and the fraction of the frame the image
// points cover. Pure; session state is the caller's to mutate.
func EvaluateQuality(
	h *transform.Homography,
	pairs []transform.Correspondence2D,
	frameWidth, frameHeight int,
	cfg QualityConfig,
) (QualityReport, error) {
	if h == nil {
		return QualityReport{}, errors.New("no homography to evaluate")
	}
	if len(pairs) == 0 {
		return QualityReport{}, errors.Wrap(transform.ErrInsufficientCorrespondences, "no pairs to evaluate against")
	}
	if frameWidth <= 0 || frameHeight <= 0 {
		return QualityReport{}, errors.Errorf("frame dimensions must be positive, got %dx%d", frameWidth, frameHeight)
	}
	cfg = cfg.applyDefaults()

	residuals := make([]float64, len(pairs))
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for i, pair := range pairs {
		residuals[i] = h.Apply(pair.Reference).Sub(pair.Image).Norm()
		minX = math.Min(minX, pair.Image.X)
		minY = math.Min(minY, pair.Image.Y)
		maxX = math.Max(maxX, pair.Image.X)
		maxY = math.Max(maxY, pair.Image.Y)
	}
	meanErr, err := stats.Mean(residuals)
	if err != nil {
		return QualityReport{}, err
	}
	maxErr, err := stats.Max(residuals)
	if err != nil {
		return QualityReport{}, err
	}

	report := QualityReport{
		MeanReprojectionErrPx: meanErr,
		MaxReprojectionErrPx:  maxErr,
		WellConditioned:       math.Abs(h.Det()) > cfg.MinDeterminant,
		Coverage:              ((maxX - minX) * (maxY - minY)) / (float64(frameWidth) * float64(frameHeight)),
	}
	report.CoverageOK = report.Coverage >= cfg.MinCoverage
	switch {
	case meanErr < cfg.ExcellentMaxPx:
		report.Tier = TierExcellent
	case meanErr < cfg.GoodMaxPx:
		report.Tier = TierGood
	case meanErr < cfg.FairMaxPx:
		report.Tier = TierFair
	default:
		report.Tier = TierPoor
	}
	report.Usable = report.Tier >= TierFair && report.WellConditioned && report.CoverageOK
	return report, nil
}
