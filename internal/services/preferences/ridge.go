package preferences

import (
	"fmt"

	"github.com/ternarybob/jobsift/internal/models"
)

// defaultLambda is the ridge regularization strength. Heavy on purpose:
// with one or two scenarios the prior does most of the work.
const defaultLambda = 1.0

// trainRidge fits the regularized linear model in closed form. The
// intercept is the acceptance mean and is not regularized; coefficients
// solve (X'X + lambda*I) w = X'(y - mean).
func trainRidge(rows [][]float64, targets []float64, lambda float64) (*models.RidgeParams, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("ridge training requires at least one scenario")
	}
	dim := len(rows[0])

	var mean float64
	for _, y := range targets {
		mean += y
	}
	mean /= float64(len(targets))

	// Normal equations on centered targets
	gram := make([][]float64, dim)
	for i := range gram {
		gram[i] = make([]float64, dim)
		gram[i][i] = lambda
	}
	rhs := make([]float64, dim)

	for r, row := range rows {
		centered := targets[r] - mean
		for i := 0; i < dim; i++ {
			rhs[i] += row[i] * centered
			for j := 0; j < dim; j++ {
				gram[i][j] += row[i] * row[j]
			}
		}
	}

	coefs, err := solveLinearSystem(gram, rhs)
	if err != nil {
		return nil, err
	}

	return &models.RidgeParams{
		Intercept:    mean,
		Coefficients: coefs,
		Lambda:       lambda,
	}, nil
}

// predictRidge evaluates the linear model on one feature vector
func predictRidge(params *models.RidgeParams, vec []float64) float64 {
	score := params.Intercept
	for i, c := range params.Coefficients {
		if i < len(vec) {
			score += c * vec[i]
		}
	}
	return score
}

// ridgeImportances normalizes absolute coefficients over the recognized
// variables. Missing-indicator weight folds onto its base variable.
func ridgeImportances(params *models.RidgeParams) map[string]float64 {
	raw := make(map[string]float64, len(models.PreferenceVariables))
	for i, c := range params.Coefficients {
		name := baseVariable(i)
		if c < 0 {
			c = -c
		}
		raw[name] += c
	}
	return normalizeImportances(raw)
}

// normalizeImportances scales weights to sum to 1.0, falling back to the
// uniform distribution when the model learned nothing
func normalizeImportances(raw map[string]float64) map[string]float64 {
	var total float64
	for _, v := range raw {
		total += v
	}

	out := make(map[string]float64, len(models.PreferenceVariables))
	if total == 0 {
		uniform := 1.0 / float64(len(models.PreferenceVariables))
		for _, name := range models.PreferenceVariables {
			out[name] = uniform
		}
		return out
	}
	for _, name := range models.PreferenceVariables {
		out[name] = raw[name] / total
	}
	return out
}

// solveLinearSystem runs Gaussian elimination with partial pivoting.
// The ridge diagonal guarantees the system is well conditioned.
func solveLinearSystem(a [][]float64, b []float64) ([]float64, error) {
	n := len(b)

	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if abs(a[r][col]) > abs(a[pivot][col]) {
				pivot = r
			}
		}
		if abs(a[pivot][col]) < 1e-12 {
			return nil, fmt.Errorf("singular system at column %d", col)
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]

		for r := col + 1; r < n; r++ {
			factor := a[r][col] / a[col][col]
			for c := col; c < n; c++ {
				a[r][c] -= factor * a[col][c]
			}
			b[r] -= factor * b[col]
		}
	}

	x := make([]float64, n)
	for r := n - 1; r >= 0; r-- {
		sum := b[r]
		for c := r + 1; c < n; c++ {
			sum -= a[r][c] * x[c]
		}
		x[r] = sum / a[r][r]
	}
	return x, nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
