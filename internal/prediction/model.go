// Package prediction trains and serves the delay regression model. Training
// fits a least-squares linear model over calendar and category features;
// the artifact carries its encoders and held-out metrics and is swapped
// into the store's single active-model slot.
package prediction

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/buswatch/buswatch_core/internal/models"
)

// MinTrainingRecords is the qualifying-record floor below which training
// fails with ErrInsufficientData.
const MinTrainingRecords = 100

// testFraction of records is held out for the R2/MAE evaluation
const testFraction = 0.2

// splitSeed makes the train/test shuffle reproducible
const splitSeed = 42

// Fit trains a model on historical records. Pure function: no store access,
// deterministic for a given record set.
func Fit(records []models.ArrivalRecord, trainedAt time.Time) (*models.TrainedModel, error) {
	if len(records) < MinTrainingRecords {
		return nil, fmt.Errorf("%w: %d records, need %d",
			models.ErrInsufficientData, len(records), MinTrainingRecords)
	}

	stops := make([]string, len(records))
	routes := make([]string, len(records))
	loads := make([]string, len(records))
	for i, r := range records {
		stops[i] = r.StopCode
		routes[i] = r.ServiceNo
		loads[i] = string(r.Load)
	}

	model := &models.TrainedModel{
		TrainedAt: trainedAt,
		StopCodes: buildEncoder(stops),
		Routes:    buildEncoder(routes),
		Loads:     buildEncoder(loads),
	}

	trainIdx, testIdx := split(len(records))

	weights, err := solve(model, records, trainIdx)
	if err != nil {
		return nil, fmt.Errorf("fit delay model: %w", err)
	}
	model.Weights = weights

	trainEst, trainObs := evaluate(model, records, trainIdx)
	testEst, testObs := evaluate(model, records, testIdx)

	mae, rmse := errorStats(testEst, testObs)

	model.Metrics = models.TrainingMetrics{
		TrainingRecords:   len(records),
		TrainRecords:      len(trainIdx),
		TestRecords:       len(testIdx),
		TrainR2:           stat.RSquaredFrom(trainEst, trainObs, nil),
		TestR2:            stat.RSquaredFrom(testEst, testObs, nil),
		MeanAbsoluteError: mae,
		RMSE:              rmse,
	}

	// Confidence is fixed per model, derived from the held-out error bound:
	// the tighter the MAE, the closer to the 0.95 cap.
	model.Confidence = clamp(1-mae/20, 0.5, 0.95)

	return model, nil
}

// PredictOne applies a trained model to a single arrival at the given
// instant. Categories unseen during training encode to the reserved unknown
// code rather than failing.
func PredictOne(m *models.TrainedModel, stopCode, serviceNo string, load models.LoadStatus, at time.Time) float64 {
	x := featureVector(m, stopCode, serviceNo, load, at)

	// Intercept is the last weight.
	y := m.Weights[len(m.Weights)-1]
	for i, v := range x {
		y += m.Weights[i] * v
	}
	return y
}

// split shuffles record indices reproducibly and carves off the test set
func split(n int) (train, test []int) {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}

	rng := rand.New(rand.NewSource(splitSeed))
	rng.Shuffle(n, func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

	testN := int(float64(n) * testFraction)
	if testN < 1 {
		testN = 1
	}
	return idx[testN:], idx[:testN]
}

// ridgeLambda is the regularization strength of the fit. Young datasets
// routinely carry constant feature columns (a single day of records has one
// day-of-week value and no weekend samples), which makes the plain design
// matrix rank deficient; the ridge term keeps the system solvable.
const ridgeLambda = 1e-3

// solve fits the weight vector by ridge-regularized least squares over the
// training rows. The design matrix is augmented with sqrt(lambda) diagonal
// rows, so the factorization has full column rank for any record set.
func solve(m *models.TrainedModel, records []models.ArrivalRecord, trainIdx []int) ([]float64, error) {
	rows := len(trainIdx)
	cols := featureCount + 1 // intercept column of ones

	X := mat.NewDense(rows+cols, cols, nil)
	y := mat.NewVecDense(rows+cols, nil)

	for row, i := range trainIdx {
		r := records[i]
		x := featureVector(m, r.StopCode, r.ServiceNo, r.Load, r.RecordedAt)
		for col, v := range x {
			X.Set(row, col, v)
		}
		X.Set(row, featureCount, 1)
		y.SetVec(row, r.DelayMinutes)
	}

	penalty := math.Sqrt(ridgeLambda)
	for i := 0; i < cols; i++ {
		X.Set(rows+i, i, penalty)
	}

	var qr mat.QR
	qr.Factorize(X)

	weights := mat.NewVecDense(cols, nil)
	if err := qr.SolveVecTo(weights, false, y); err != nil {
		// mat.Condition is a conditioning warning, not a failure; the ridge
		// term bounds how far an ill-conditioned solve can drift.
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, err
		}
	}

	out := make([]float64, cols)
	for i := range out {
		out[i] = weights.AtVec(i)
	}
	return out, nil
}

// evaluate returns estimates and observations for a set of record indices
func evaluate(m *models.TrainedModel, records []models.ArrivalRecord, idx []int) (estimates, observed []float64) {
	estimates = make([]float64, len(idx))
	observed = make([]float64, len(idx))
	for i, j := range idx {
		r := records[j]
		estimates[i] = PredictOne(m, r.StopCode, r.ServiceNo, r.Load, r.RecordedAt)
		observed[i] = r.DelayMinutes
	}
	return estimates, observed
}

func errorStats(estimates, observed []float64) (mae, rmse float64) {
	if len(observed) == 0 {
		return 0, 0
	}
	var absSum, sqSum float64
	for i := range observed {
		diff := observed[i] - estimates[i]
		absSum += math.Abs(diff)
		sqSum += diff * diff
	}
	n := float64(len(observed))
	return absSum / n, math.Sqrt(sqSum / n)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
