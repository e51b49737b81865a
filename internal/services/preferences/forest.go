package preferences

import (
	"math"
	"math/rand"
	"sort"

	"github.com/ternarybob/jobsift/internal/models"
)

// Forest shape. Small and deep enough for a handful of scenarios; every
// tree is deterministic given the seed.
const (
	forestTrees    = 50
	forestMaxDepth = 4
	forestMinLeaf  = 1
)

// trainForest fits the random-forest-style ensemble: each tree is built on
// a bootstrap resample with a random feature subset considered per split
func trainForest(rows [][]float64, targets []float64, seed int64) *models.ForestParams {
	trees := make([]models.RegressionTree, forestTrees)
	for t := 0; t < forestTrees; t++ {
		rng := rand.New(rand.NewSource(seed + int64(t)))

		sampleRows := make([][]float64, len(rows))
		sampleTargets := make([]float64, len(rows))
		for i := range rows {
			pick := rng.Intn(len(rows))
			sampleRows[i] = rows[pick]
			sampleTargets[i] = targets[pick]
		}

		builder := &treeBuilder{rng: rng}
		builder.grow(sampleRows, sampleTargets, 0)
		trees[t] = builder.tree
	}

	return &models.ForestParams{Trees: trees, Seed: seed}
}

// predictForest averages the trees' predictions
func predictForest(params *models.ForestParams, vec []float64) float64 {
	if len(params.Trees) == 0 {
		return 0
	}
	var sum float64
	for i := range params.Trees {
		sum += predictTree(&params.Trees[i], vec)
	}
	return sum / float64(len(params.Trees))
}

func predictTree(tree *models.RegressionTree, vec []float64) float64 {
	node := 0
	for tree.Feature[node] >= 0 {
		if vec[tree.Feature[node]] <= tree.Threshold[node] {
			node = tree.Left[node]
		} else {
			node = tree.Right[node]
		}
	}
	return tree.Value[node]
}

// forestImportances computes permutation importance on the training set:
// the mean squared error increase when one feature column is shuffled,
// averaged over repeats, folded onto recognized variables and normalized
func forestImportances(params *models.ForestParams, rows [][]float64, targets []float64) map[string]float64 {
	const repeats = 5
	rng := rand.New(rand.NewSource(params.Seed))

	baseline := forestMSE(params, rows, targets)
	raw := make(map[string]float64, len(models.PreferenceVariables))

	dim := 0
	if len(rows) > 0 {
		dim = len(rows[0])
	}

	for f := 0; f < dim; f++ {
		var increase float64
		for r := 0; r < repeats; r++ {
			perm := rng.Perm(len(rows))
			shuffled := make([][]float64, len(rows))
			for i, row := range rows {
				copied := make([]float64, len(row))
				copy(copied, row)
				copied[f] = rows[perm[i]][f]
				shuffled[i] = copied
			}
			delta := forestMSE(params, shuffled, targets) - baseline
			if delta > 0 {
				increase += delta
			}
		}
		raw[baseVariable(f)] += increase / repeats
	}

	return normalizeImportances(raw)
}

func forestMSE(params *models.ForestParams, rows [][]float64, targets []float64) float64 {
	if len(rows) == 0 {
		return 0
	}
	var sum float64
	for i, row := range rows {
		diff := predictForest(params, row) - targets[i]
		sum += diff * diff
	}
	return sum / float64(len(rows))
}

// treeBuilder grows one tree recursively and flattens it into the node
// arrays the portable serialization requires
type treeBuilder struct {
	tree models.RegressionTree
	rng  *rand.Rand
}

// grow appends the subtree for the given sample and returns its node index
func (b *treeBuilder) grow(rows [][]float64, targets []float64, depth int) int {
	node := b.appendNode()

	if depth >= forestMaxDepth || len(rows) <= forestMinLeaf || variance(targets) == 0 {
		b.tree.Value[node] = meanOf(targets)
		return node
	}

	feature, threshold, ok := b.bestSplit(rows, targets)
	if !ok {
		b.tree.Value[node] = meanOf(targets)
		return node
	}

	var leftRows, rightRows [][]float64
	var leftTargets, rightTargets []float64
	for i, row := range rows {
		if row[feature] <= threshold {
			leftRows = append(leftRows, row)
			leftTargets = append(leftTargets, targets[i])
		} else {
			rightRows = append(rightRows, row)
			rightTargets = append(rightTargets, targets[i])
		}
	}

	b.tree.Feature[node] = feature
	b.tree.Threshold[node] = threshold
	b.tree.Left[node] = b.grow(leftRows, leftTargets, depth+1)
	b.tree.Right[node] = b.grow(rightRows, rightTargets, depth+1)
	return node
}

func (b *treeBuilder) appendNode() int {
	b.tree.Feature = append(b.tree.Feature, -1)
	b.tree.Threshold = append(b.tree.Threshold, 0)
	b.tree.Left = append(b.tree.Left, -1)
	b.tree.Right = append(b.tree.Right, -1)
	b.tree.Value = append(b.tree.Value, 0)
	return len(b.tree.Feature) - 1
}

// bestSplit searches a random feature subset for the split minimizing the
// sum of squared errors. Candidate thresholds are midpoints between
// adjacent distinct feature values.
func (b *treeBuilder) bestSplit(rows [][]float64, targets []float64) (int, float64, bool) {
	dim := len(rows[0])
	subset := int(math.Ceil(math.Sqrt(float64(dim))))

	bestSSE := math.Inf(1)
	bestFeature, bestThreshold := -1, 0.0

	// Prefer the random subset; when nothing in it varies, widen to every
	// feature so tiny samples still split
	order := b.rng.Perm(dim)
	candidates := order[:subset]
	if !anyVaries(rows, candidates) {
		candidates = order
	}

	for _, f := range candidates {
		for _, threshold := range splitCandidates(rows, f) {
			var left, right []float64
			for j, row := range rows {
				if row[f] <= threshold {
					left = append(left, targets[j])
				} else {
					right = append(right, targets[j])
				}
			}
			if len(left) == 0 || len(right) == 0 {
				continue
			}

			sse := sumSquares(left) + sumSquares(right)
			if sse < bestSSE {
				bestSSE = sse
				bestFeature = f
				bestThreshold = threshold
			}
		}
	}

	return bestFeature, bestThreshold, bestFeature >= 0
}

func anyVaries(rows [][]float64, features []int) bool {
	for _, f := range features {
		for _, row := range rows[1:] {
			if row[f] != rows[0][f] {
				return true
			}
		}
	}
	return false
}

func splitCandidates(rows [][]float64, feature int) []float64 {
	values := make([]float64, len(rows))
	for i, row := range rows {
		values[i] = row[feature]
	}
	sort.Float64s(values)

	var midpoints []float64
	for i := 1; i < len(values); i++ {
		if values[i] != values[i-1] {
			midpoints = append(midpoints, (values[i]+values[i-1])/2)
		}
	}
	return midpoints
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func variance(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := meanOf(values)
	var sum float64
	for _, v := range values {
		sum += (v - mean) * (v - mean)
	}
	return sum / float64(len(values))
}

func sumSquares(values []float64) float64 {
	mean := meanOf(values)
	var sum float64
	for _, v := range values {
		sum += (v - mean) * (v - mean)
	}
	return sum
}
